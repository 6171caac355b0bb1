package monitor

import (
	"context"
	"fmt"
	"time"
)

// Level 表示事件级别。
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event 是推送给观察者的一条带时间戳的日志。
type Event struct {
	Seq       int64                  `json:"seq"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Line 返回人类可读的单行文本。
func (e Event) Line() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Message)
}

// Sink 只接收事件，不提供读取能力。
type Sink interface {
	Publish(ctx context.Context, event Event)
}

var _ Sink = (*Service)(nil)
