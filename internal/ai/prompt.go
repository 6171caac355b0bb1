package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const analysisTemplate = `
请分析随附的 {{ .Symbol }} 行情截图（周期：{{ join .Timeframes "、" }}）。每张图已加载 EMA 9、MACD(12,26,9) 与 RSI(14)。

第一步：读出各周期指标
1. EMA 9：价格位于均线上方还是下方，均线方向；
2. MACD：快慢线位置、交叉与背离、相对零轴的位置；
3. RSI：超买(>70)、超卖(<30)或中性，是否与价格背离。

第二步：综合判断
- 价格行为：支撑、阻力与形态；
- 各周期指标是否共振；
- 以最短周期判断即时动量，较长周期确认趋势与整体背景。

本次信号必须在 5 分钟内结束：止盈与止损都应在 5 分钟内可达，盈亏比至少 1:1.5。
手数按 1000 USD 账户计算。

请严格输出唯一的 JSON 对象，不要附加其他文字：
{
  "direction": "buy|sell",
  "lot": 0.01,
  "stop_loss": 0.0,
  "take_profit": 0.0,
  "rationale": "各周期 EMA 9、MACD、RSI 的读数，价格行为分析，以及选择该方向的理由"
}
{{- if .Price }}

当前价格: {{ .Price }}
{{- end }}
`

var promptTmpl = template.Must(template.New("analysis").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(analysisTemplate))

// PromptContext 用于渲染分析提示词。
type PromptContext struct {
	Symbol     string
	Timeframes []string
	Price      string
}

// BuildPrompt 渲染提示词；价格已知时在末尾附加一行当前价格。
func BuildPrompt(ctx PromptContext) (string, error) {
	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
