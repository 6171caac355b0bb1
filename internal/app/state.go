package app

import (
	"sync/atomic"
	"time"

	"chart-signal/internal/ai"
	"chart-signal/internal/chart"
)

// Status 是供展示层读取的运行状态快照。
type Status struct {
	State       string              `json:"status"`
	Running     bool                `json:"running"`
	Symbol      string              `json:"symbol"`
	Venue       string              `json:"venue"`
	Interval    string              `json:"interval"`
	Cycle       int64               `json:"cycle"`
	LastPrice   *chart.PriceReading `json:"last_price,omitempty"`
	LastOutcome Outcome             `json:"last_outcome,omitempty"`
	LastSignal  *ai.TradeSignal     `json:"last_signal,omitempty"`
	LastCycleAt *time.Time          `json:"last_cycle_at,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

type cycleSummary struct {
	outcome    Outcome
	finishedAt time.Time
}

// State 保存工作协程写入、HTTP 接口读取的共享状态。每个字段单独原子替换。
type State struct {
	symbol   string
	venue    string
	interval time.Duration

	running atomic.Bool
	cycle   atomic.Int64
	price   atomic.Pointer[chart.PriceReading]
	signal  atomic.Pointer[ai.TradeSignal]
	last    atomic.Pointer[cycleSummary]

	now func() time.Time
}

// NewState 创建共享状态。
func NewState(symbol, venue string, interval time.Duration) *State {
	return &State{
		symbol:   symbol,
		venue:    venue,
		interval: interval,
		now:      time.Now,
	}
}

func (s *State) setRunning(v bool) {
	s.running.Store(v)
}

func (s *State) beginCycle(seq int64) {
	s.cycle.Store(seq)
}

// finishCycle 记录周期结果。价格只在本轮读到时更新，信号则每轮覆盖（无信号时清空）。
func (s *State) finishCycle(c Cycle) {
	if c.Price != nil {
		price := *c.Price
		s.price.Store(&price)
	}
	if c.Signal != nil {
		sig := *c.Signal
		s.signal.Store(&sig)
	} else {
		s.signal.Store(nil)
	}
	s.last.Store(&cycleSummary{outcome: c.Outcome, finishedAt: c.FinishedAt})
}

// Snapshot 返回当前状态，不会阻塞写入方。
func (s *State) Snapshot() Status {
	status := Status{
		Running:    s.running.Load(),
		Symbol:     s.symbol,
		Venue:      s.venue,
		Interval:   s.interval.String(),
		Cycle:      s.cycle.Load(),
		LastPrice:  s.price.Load(),
		LastSignal: s.signal.Load(),
		Timestamp:  s.now(),
	}
	status.State = "stopped"
	if status.Running {
		status.State = "running"
	}
	if last := s.last.Load(); last != nil {
		status.LastOutcome = last.outcome
		at := last.finishedAt
		status.LastCycleAt = &at
	}
	return status
}
