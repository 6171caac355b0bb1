package ai

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Direction 是信号方向。
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// TradeSignal 是模型给出的交易建议。构造后不再修改，校验结果通过 Annotate 得到新副本。
type TradeSignal struct {
	Direction  Direction       `json:"direction"`
	Lot        decimal.Decimal `json:"lot"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Rationale  string          `json:"rationale"`
	RiskReward *float64        `json:"risk_reward,omitempty"`
	Valid      *bool           `json:"valid,omitempty"`
}

// Annotate 返回附带盈亏比与校验结果的副本。
func (s TradeSignal) Annotate(ratio float64, valid bool) TradeSignal {
	out := s
	out.RiskReward = &ratio
	out.Valid = &valid
	return out
}

// Analysis 是一次模型调用的结果。Signal 为空时 Problem 说明原因。
type Analysis struct {
	Raw     string       `json:"raw"`
	Signal  *TradeSignal `json:"signal,omitempty"`
	Problem string       `json:"problem,omitempty"`
}

// 字段别名，兼容模型按旧版意大利语模板作答。
var fieldAliases = []struct {
	name    string
	aliases []string
}{
	{"direction", []string{"direction", "operazione"}},
	{"lot", []string{"lot", "lotto"}},
	{"stop_loss", []string{"stop_loss", "stopLoss"}},
	{"take_profit", []string{"take_profit", "takeProfit"}},
	{"rationale", []string{"rationale", "spiegazione"}},
}

const signalSchema = `{
  "type": "object",
  "required": ["direction", "lot", "stop_loss", "take_profit", "rationale"],
  "properties": {
    "direction":   {"type": "string", "minLength": 1},
    "lot":         {"type": ["number", "string"]},
    "stop_loss":   {"type": ["number", "string"]},
    "take_profit": {"type": ["number", "string"]},
    "rationale":   {"type": "string"}
  }
}`

var compiledSignalSchema = mustCompileSchema(signalSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("signal.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("signal.json")
}

// ExtractPayload 从模型输出中截取 JSON 对象文本。
// 存在代码块标记时取第一对标记之间的内容，再取第一个 '{' 到最后一个 '}'。
func ExtractPayload(text string) string {
	body := strings.TrimSpace(text)

	if start := strings.Index(body, "```"); start >= 0 {
		rest := body[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{}") {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		body = rest
	}

	open := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if open == -1 || end <= open {
		return strings.TrimSpace(body)
	}
	return body[open : end+1]
}

// ParseSignal 解析模型输出。失败时返回的错误包装 ErrMalformedResponse。
func ParseSignal(text string) (TradeSignal, error) {
	payload := ExtractPayload(text)
	if payload == "" {
		return TradeSignal{}, fmt.Errorf("%w: 输出为空", ErrMalformedResponse)
	}
	if !gjson.Valid(payload) {
		return TradeSignal{}, fmt.Errorf("%w: json 格式无效", ErrMalformedResponse)
	}
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return TradeSignal{}, fmt.Errorf("%w: 根节点必须是 JSON 对象", ErrMalformedResponse)
	}

	fields := make(map[string]gjson.Result, len(fieldAliases))
	doc := make(map[string]interface{}, len(fieldAliases))
	for _, f := range fieldAliases {
		for _, alias := range f.aliases {
			if r := root.Get(alias); r.Exists() {
				fields[f.name] = r
				doc[f.name] = r.Value()
				break
			}
		}
	}
	if err := compiledSignalSchema.Validate(doc); err != nil {
		return TradeSignal{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var sig TradeSignal
	switch strings.ToLower(strings.TrimSpace(fields["direction"].String())) {
	case "buy":
		sig.Direction = DirectionBuy
	case "sell":
		sig.Direction = DirectionSell
	default:
		return TradeSignal{}, fmt.Errorf("%w: direction 取值非法: %s", ErrMalformedResponse, fields["direction"].String())
	}

	var err error
	if sig.Lot, err = decimalField(fields["lot"]); err != nil {
		return TradeSignal{}, fmt.Errorf("%w: lot %v", ErrMalformedResponse, err)
	}
	if !sig.Lot.IsPositive() {
		return TradeSignal{}, fmt.Errorf("%w: lot 必须大于0", ErrMalformedResponse)
	}
	if sig.StopLoss, err = decimalField(fields["stop_loss"]); err != nil {
		return TradeSignal{}, fmt.Errorf("%w: stop_loss %v", ErrMalformedResponse, err)
	}
	if sig.TakeProfit, err = decimalField(fields["take_profit"]); err != nil {
		return TradeSignal{}, fmt.Errorf("%w: take_profit %v", ErrMalformedResponse, err)
	}
	sig.Rationale = strings.TrimSpace(fields["rationale"].String())

	return sig, nil
}

func decimalField(r gjson.Result) (decimal.Decimal, error) {
	raw := r.Raw
	if r.Type == gjson.String {
		raw = strings.TrimSpace(r.String())
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("无法解析数值 %q", raw)
	}
	return d, nil
}
