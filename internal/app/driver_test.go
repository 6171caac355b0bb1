package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-signal/internal/ai"
	"chart-signal/internal/chart"
	"chart-signal/internal/config"
	"chart-signal/internal/monitor"
	"chart-signal/internal/risk"
)

type fakeCapturer struct {
	capture chart.Capture
	err     error

	calls  int
	closes int
	ctxErr error
}

func (f *fakeCapturer) CaptureAll(ctx context.Context, _ string) (chart.Capture, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	return f.capture, f.err
}

func (f *fakeCapturer) Close() error {
	f.closes++
	return nil
}

type fakeAnalyzer struct {
	analysis ai.Analysis
	err      error
	panicMsg string

	calls  int
	images map[chart.Timeframe]string
	price  *decimal.Decimal
}

func (f *fakeAnalyzer) Analyze(_ context.Context, images map[chart.Timeframe]string, price *decimal.Decimal, _ string) (ai.Analysis, error) {
	f.calls++
	f.images = images
	f.price = price
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.analysis, f.err
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func fullCapture(price string) chart.Capture {
	c := chart.Capture{Snapshots: map[chart.Timeframe]chart.Snapshot{}}
	for _, tf := range chart.Timeframes {
		c.Snapshots[tf] = chart.Snapshot{Timeframe: tf, Path: fmt.Sprintf("/tmp/%s.png", tf), Origin: chart.OriginFresh}
	}
	if price != "" {
		c.Price = &chart.PriceReading{Value: dec(price), ExtractedAt: time.Now()}
	}
	return c
}

func buySignal(sl, tp string) *ai.TradeSignal {
	return &ai.TradeSignal{
		Direction:  ai.DirectionBuy,
		Lot:        dec("0.05"),
		StopLoss:   dec(sl),
		TakeProfit: dec(tp),
		Rationale:  "MACD 金叉",
	}
}

type driverFixture struct {
	driver   *Driver
	capturer *fakeCapturer
	analyzer *fakeAnalyzer
	events   *monitor.Service
	state    *State
}

func newDriverFixture(t *testing.T, capture chart.Capture, analysis ai.Analysis) *driverFixture {
	t.Helper()
	events, err := monitor.NewService(nil, 200, nil)
	require.NoError(t, err)

	fx := &driverFixture{
		capturer: &fakeCapturer{capture: capture},
		analyzer: &fakeAnalyzer{analysis: analysis},
		events:   events,
		state:    NewState("XAUUSD", "EIGHTCAP", time.Minute),
	}
	validator := risk.NewValidator(config.ValidationConfig{MinRiskReward: 1.5}, nil)
	fx.driver, err = NewDriver(DriverConfig{
		Symbol:   "XAUUSD",
		Venue:    "EIGHTCAP",
		WorkDir:  t.TempDir(),
		Interval: time.Minute,
	}, fx.capturer, fx.analyzer, validator, events, fx.state, nil)
	require.NoError(t, err)
	return fx
}

func (fx *driverFixture) outcomeEvents(t *testing.T) []monitor.Event {
	t.Helper()
	all, err := fx.events.History(context.Background(), 200)
	require.NoError(t, err)
	var out []monitor.Event
	for _, ev := range all {
		if _, ok := ev.Fields["outcome"]; ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunOnce_Success(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{Signal: buySignal("2653.50", "2656.00")})

	cycle := fx.driver.RunOnce(context.Background())

	assert.Equal(t, OutcomeSuccess, cycle.Outcome)
	assert.Equal(t, int64(1), cycle.Seq)
	assert.NotEmpty(t, cycle.ID)
	require.NotNil(t, cycle.Signal)
	require.NotNil(t, cycle.Signal.RiskReward)
	assert.Equal(t, 1.5, *cycle.Signal.RiskReward)
	require.NotNil(t, cycle.Signal.Valid)
	assert.True(t, *cycle.Signal.Valid)
	assert.NoError(t, cycle.Err)

	assert.Len(t, fx.analyzer.images, 3)
	require.NotNil(t, fx.analyzer.price)
	assert.True(t, fx.analyzer.price.Equal(dec("2654.5")))
	assert.Equal(t, 1, fx.capturer.closes)

	outcomes := fx.outcomeEvents(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, monitor.LevelInfo, outcomes[0].Level)
	assert.Equal(t, "success", outcomes[0].Fields["outcome"])

	status := fx.state.Snapshot()
	assert.Equal(t, int64(1), status.Cycle)
	assert.Equal(t, OutcomeSuccess, status.LastOutcome)
	require.NotNil(t, status.LastPrice)
	require.NotNil(t, status.LastSignal)
	assert.Equal(t, ai.DirectionBuy, status.LastSignal.Direction)
}

func TestRunOnce_OnlyOneTimeframeIsPartialFailure(t *testing.T) {
	capture := chart.Capture{
		Snapshots: map[chart.Timeframe]chart.Snapshot{
			chart.Minute15: {Timeframe: chart.Minute15, Path: "/tmp/15min.png", Origin: chart.OriginFresh},
		},
		Missing: []chart.Timeframe{chart.Minute1, chart.Minute60},
	}
	fx := newDriverFixture(t, capture, ai.Analysis{Signal: buySignal("2653.50", "2656.00")})

	cycle := fx.driver.RunOnce(context.Background())

	assert.Equal(t, OutcomePartialFailure, cycle.Outcome)
	assert.Equal(t, 1, fx.analyzer.calls)
	assert.Equal(t, map[chart.Timeframe]string{chart.Minute15: "/tmp/15min.png"}, fx.analyzer.images)
	assert.Nil(t, fx.analyzer.price)
	require.NotNil(t, cycle.Signal)
	assert.Nil(t, cycle.Signal.RiskReward, "signal is not annotated without a reference price")

	outcomes := fx.outcomeEvents(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, monitor.LevelWarn, outcomes[0].Level)
	assert.Equal(t, []string{"1min", "60min"}, outcomes[0].Fields["missing"])
}

func TestRunOnce_CaptureExhausted(t *testing.T) {
	fx := newDriverFixture(t, chart.Capture{Missing: chart.Timeframes}, ai.Analysis{})
	fx.capturer.err = chart.ErrCaptureExhausted

	cycle := fx.driver.RunOnce(context.Background())

	assert.Equal(t, OutcomeError, cycle.Outcome)
	assert.ErrorIs(t, cycle.Err, chart.ErrCaptureExhausted)
	assert.Equal(t, 0, fx.analyzer.calls)
	assert.Equal(t, 1, fx.capturer.closes)

	outcomes := fx.outcomeEvents(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, monitor.LevelError, outcomes[0].Level)
}

func TestRunOnce_ServiceFailureIsError(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{})
	fx.analyzer.err = fmt.Errorf("%w: 重试 3 次后仍失败", ai.ErrServiceUnavailable)

	cycle := fx.driver.RunOnce(context.Background())

	assert.Equal(t, OutcomeError, cycle.Outcome)
	assert.ErrorIs(t, cycle.Err, ai.ErrServiceUnavailable)
	assert.Nil(t, fx.state.Snapshot().LastSignal)

	outcomes := fx.outcomeEvents(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, monitor.LevelError, outcomes[0].Level)
	assert.Equal(t, "error", outcomes[0].Fields["outcome"])
	assert.Equal(t, cycle.Err.Error(), outcomes[0].Fields["error"])
	assert.Equal(t, "第 1 轮失败: "+cycle.Err.Error(), outcomes[0].Message)
}

func TestRunOnce_MalformedIsNoSignal(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{Raw: "观望", Problem: "malformed completion payload: json 格式无效"})

	cycle := fx.driver.RunOnce(context.Background())

	assert.Equal(t, OutcomeNoSignal, cycle.Outcome)
	assert.Nil(t, cycle.Signal)
	assert.Contains(t, cycle.Reason, "json 格式无效")
	assert.NoError(t, cycle.Err)
}

func TestRunOnce_RejectedSignalIsNoSignal(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{Signal: buySignal("2655.00", "2656.00")})

	cycle := fx.driver.RunOnce(context.Background())

	assert.Equal(t, OutcomeNoSignal, cycle.Outcome)
	assert.Nil(t, cycle.Signal)
	require.NotNil(t, cycle.Validation)
	assert.False(t, cycle.Validation.Accepted)
	assert.Contains(t, cycle.Reason, risk.ReasonStopLossWrongSide)

	outcomes := fx.outcomeEvents(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "no_signal", outcomes[0].Fields["outcome"])
}

func TestRunOnce_LowRatioStillSucceeds(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("100"), ai.Analysis{Signal: buySignal("99", "100.5")})

	cycle := fx.driver.RunOnce(context.Background())

	assert.Equal(t, OutcomeSuccess, cycle.Outcome)
	require.NotNil(t, cycle.Validation)
	assert.Len(t, cycle.Validation.Reasons, 1)
}

func TestRunOnce_PanicIsContained(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{})
	fx.analyzer.panicMsg = "boom"

	cycle := fx.driver.RunOnce(context.Background())
	assert.Equal(t, OutcomeError, cycle.Outcome)
	require.Error(t, cycle.Err)
	assert.Contains(t, cycle.Err.Error(), "boom")
	assert.Equal(t, 1, fx.capturer.closes)

	fx.analyzer.panicMsg = ""
	fx.analyzer.analysis = ai.Analysis{Signal: buySignal("2653.50", "2656.00")}
	next := fx.driver.RunOnce(context.Background())
	assert.Equal(t, int64(2), next.Seq)
	assert.Equal(t, OutcomeSuccess, next.Outcome)

	assert.Len(t, fx.outcomeEvents(t), 2)
}

func TestRunOnce_IgnoresCancellation(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{Signal: buySignal("2653.50", "2656.00")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cycle := fx.driver.RunOnce(ctx)
	assert.Equal(t, OutcomeSuccess, cycle.Outcome)
	assert.NoError(t, fx.capturer.ctxErr)
}

func TestRunForever_StopsAtTickBoundary(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{Signal: buySignal("2653.50", "2656.00")})
	stop := make(chan struct{})

	var waits []time.Duration
	fx.driver.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 2 {
			close(stop)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	err := fx.driver.RunForever(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, 2, fx.capturer.calls)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, waits)
	assert.Len(t, fx.outcomeEvents(t), 2)
}

func TestRunForever_KeepsGoingAfterErrors(t *testing.T) {
	fx := newDriverFixture(t, fullCapture("2654.50"), ai.Analysis{})
	fx.analyzer.err = errors.New("unauthorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := 0
	fx.driver.sleep = func(ctx context.Context, _ time.Duration) error {
		ticks++
		if ticks == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	err := fx.driver.RunForever(ctx, make(chan struct{}))
	require.NoError(t, err)
	assert.Equal(t, 3, fx.analyzer.calls)
	assert.Equal(t, OutcomeError, fx.state.Snapshot().LastOutcome)
}

func TestRunForever_StopBeforeFirstTick(t *testing.T) {
	fx := newDriverFixture(t, fullCapture(""), ai.Analysis{})
	stop := make(chan struct{})
	close(stop)

	require.NoError(t, fx.driver.RunForever(context.Background(), stop))
	assert.Equal(t, 0, fx.capturer.calls)
}
