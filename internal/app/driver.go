package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chart-signal/internal/ai"
	"chart-signal/internal/chart"
	"chart-signal/internal/monitor"
	"chart-signal/internal/risk"
)

// Outcome 是单个周期的结果分类。
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeNoSignal       Outcome = "no_signal"
	OutcomeError          Outcome = "error"
)

// Cycle 记录一次 截图 → 分析 → 校验 → 上报 的过程，只在当前迭代内有效。
type Cycle struct {
	Seq        int64               `json:"seq"`
	ID         string              `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Symbol     string              `json:"symbol"`
	Venue      string              `json:"venue"`
	Outcome    Outcome             `json:"outcome"`
	Missing    []chart.Timeframe   `json:"missing,omitempty"`
	Price      *chart.PriceReading `json:"price,omitempty"`
	Signal     *ai.TradeSignal     `json:"signal,omitempty"`
	Validation *risk.Result        `json:"validation,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Err        error               `json:"-"`
}

type capturer interface {
	CaptureAll(ctx context.Context, outputDir string) (chart.Capture, error)
	Close() error
}

type analyzer interface {
	Analyze(ctx context.Context, images map[chart.Timeframe]string, price *decimal.Decimal, symbol string) (ai.Analysis, error)
}

type validator interface {
	Validate(sig ai.TradeSignal, ref *decimal.Decimal) risk.Result
}

// DriverConfig 描述分析标的与节奏。
type DriverConfig struct {
	Symbol   string
	Venue    string
	WorkDir  string
	Interval time.Duration
}

// Driver 串联截图、分析与校验，每个调度周期执行一次。
type Driver struct {
	cfg       DriverConfig
	capturer  capturer
	analyzer  analyzer
	validator validator
	sink      monitor.Sink
	state     *State
	logger    *zap.Logger

	seq   int64
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDriver 创建周期驱动器。
func NewDriver(cfg DriverConfig, c capturer, a analyzer, v validator, sink monitor.Sink, state *State, logger *zap.Logger) (*Driver, error) {
	if c == nil || a == nil || v == nil {
		return nil, errors.New("driver: capturer/analyzer/validator 不能为空")
	}
	if sink == nil {
		return nil, errors.New("driver: sink 不能为空")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if state == nil {
		state = NewState(cfg.Symbol, cfg.Venue, cfg.Interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:       cfg,
		capturer:  c,
		analyzer:  a,
		validator: v,
		sink:      sink,
		state:     state,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// RunOnce 执行一个完整周期并返回其结果。下游的任何错误或 panic 都在此转换为 OutcomeError，
// 上报渠道每个周期恰好收到一条结果记录。周期内不响应取消。
func (d *Driver) RunOnce(ctx context.Context) (cycle Cycle) {
	ctx = context.WithoutCancel(ctx)

	d.seq++
	cycle = Cycle{
		Seq:       d.seq,
		ID:        uuid.NewString(),
		StartedAt: d.now(),
		Symbol:    d.cfg.Symbol,
		Venue:     d.cfg.Venue,
	}
	d.state.beginCycle(cycle.Seq)
	monitor.Info(ctx, d.sink, fmt.Sprintf("开始第 %d 轮分析 %s:%s", cycle.Seq, d.cfg.Venue, d.cfg.Symbol), map[string]interface{}{
		"cycle":    cycle.Seq,
		"cycle_id": cycle.ID,
	})

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("分析周期发生异常", zap.Any("panic", r), zap.Stack("stack"))
			cycle.Outcome = OutcomeError
			cycle.Err = fmt.Errorf("周期内部异常: %v", r)
			cycle.Signal = nil
		}
		cycle.FinishedAt = d.now()
		d.state.finishCycle(cycle)
		d.report(ctx, cycle)
	}()
	defer func() {
		if err := d.capturer.Close(); err != nil {
			d.logger.Warn("释放渲染会话失败", zap.Error(err))
		}
	}()

	d.execute(ctx, &cycle)
	return cycle
}

func (d *Driver) execute(ctx context.Context, cycle *Cycle) {
	capture, err := d.capturer.CaptureAll(ctx, d.cfg.WorkDir)
	if err != nil {
		cycle.Outcome = OutcomeError
		cycle.Err = fmt.Errorf("截图失败: %w", err)
		return
	}
	cycle.Missing = capture.Missing
	cycle.Price = capture.Price

	for _, tf := range capture.Missing {
		monitor.Warn(ctx, d.sink, fmt.Sprintf("%s 周期截图缺失", tf), map[string]interface{}{
			"cycle":     cycle.Seq,
			"timeframe": tf.String(),
		})
	}
	for _, tf := range chart.Timeframes {
		if snap, ok := capture.Snapshots[tf]; ok {
			monitor.Info(ctx, d.sink, fmt.Sprintf("%s 截图就绪 (%s)", tf, snap.Origin), map[string]interface{}{
				"cycle":     cycle.Seq,
				"timeframe": tf.String(),
				"path":      snap.Path,
			})
		}
	}

	var ref *decimal.Decimal
	if capture.Price != nil {
		value := capture.Price.Value
		ref = &value
		monitor.Info(ctx, d.sink, fmt.Sprintf("当前价格: %s", value), map[string]interface{}{"cycle": cycle.Seq})
	} else {
		monitor.Warn(ctx, d.sink, "未能读取当前价格，跳过价格校验", map[string]interface{}{"cycle": cycle.Seq})
	}

	analysis, err := d.analyzer.Analyze(ctx, capture.Paths(), ref, d.cfg.Symbol)
	if err != nil {
		cycle.Outcome = OutcomeError
		cycle.Err = fmt.Errorf("模型分析失败: %w", err)
		return
	}
	if analysis.Signal == nil {
		cycle.Outcome = OutcomeNoSignal
		cycle.Reason = analysis.Problem
		return
	}

	sig := *analysis.Signal
	result := d.validator.Validate(sig, ref)
	cycle.Validation = &result
	if result.Checked {
		sig = sig.Annotate(result.Ratio, result.Accepted)
	}
	if !result.Accepted {
		cycle.Outcome = OutcomeNoSignal
		cycle.Reason = strings.Join(result.Reasons, "; ")
		return
	}
	for _, reason := range result.Reasons {
		monitor.Warn(ctx, d.sink, reason, map[string]interface{}{"cycle": cycle.Seq})
	}

	cycle.Signal = &sig
	if len(cycle.Missing) > 0 {
		cycle.Outcome = OutcomePartialFailure
	} else {
		cycle.Outcome = OutcomeSuccess
	}
}

// report 为每个周期写入唯一一条结果记录。
func (d *Driver) report(ctx context.Context, cycle Cycle) {
	fields := map[string]interface{}{
		"cycle":    cycle.Seq,
		"cycle_id": cycle.ID,
		"outcome":  string(cycle.Outcome),
		"elapsed":  cycle.FinishedAt.Sub(cycle.StartedAt).Round(time.Millisecond).String(),
	}

	switch cycle.Outcome {
	case OutcomeSuccess, OutcomePartialFailure:
		sig := cycle.Signal
		fields["direction"] = string(sig.Direction)
		fields["lot"] = sig.Lot.String()
		fields["stop_loss"] = sig.StopLoss.String()
		fields["take_profit"] = sig.TakeProfit.String()
		fields["rationale"] = sig.Rationale

		msg := fmt.Sprintf("第 %d 轮信号: %s %s 手 | 止损 %s | 止盈 %s",
			cycle.Seq, strings.ToUpper(string(sig.Direction)), sig.Lot, sig.StopLoss, sig.TakeProfit)
		if sig.RiskReward != nil {
			msg += fmt.Sprintf(" | 盈亏比 %.2f", *sig.RiskReward)
			fields["risk_reward"] = *sig.RiskReward
		}
		if cycle.Outcome == OutcomePartialFailure {
			missing := make([]string, 0, len(cycle.Missing))
			for _, tf := range cycle.Missing {
				missing = append(missing, tf.String())
			}
			fields["missing"] = missing
			msg += fmt.Sprintf(" (缺失周期: %s)", strings.Join(missing, ", "))
			monitor.Warn(ctx, d.sink, msg, fields)
			return
		}
		monitor.Info(ctx, d.sink, msg, fields)
	case OutcomeNoSignal:
		if cycle.Reason != "" {
			fields["reason"] = cycle.Reason
		}
		monitor.Warn(ctx, d.sink, fmt.Sprintf("第 %d 轮无有效信号: %s", cycle.Seq, cycle.Reason), fields)
	default:
		err := cycle.Err
		if err == nil {
			err = errors.New("未知错误")
		}
		monitor.RecordError(ctx, d.sink, fmt.Sprintf("第 %d 轮失败", cycle.Seq), err, fields)
	}
}

// RunForever 循环执行周期，每轮结束后等待 Interval 再开始下一轮。
// 只在两轮之间检查 stop 与 ctx；周期执行中不会被打断。
func (d *Driver) RunForever(ctx context.Context, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return d.exitErr(ctx)
		default:
		}

		d.RunOnce(ctx)

		next := d.now().Add(d.cfg.Interval)
		monitor.Info(ctx, d.sink, fmt.Sprintf("下次分析时间 %s (%s 后)", next.Format("15:04:05"), d.cfg.Interval), nil)

		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-stop:
				cancel()
			case <-waitCtx.Done():
			}
		}()
		err := d.sleep(waitCtx, d.cfg.Interval)
		cancel()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			return d.exitErr(ctx)
		}
	}
}

func (d *Driver) exitErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("分析循环异常退出: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
