package chart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCaptureExhausted 表示所有周期的截图都失败。
var ErrCaptureExhausted = errors.New("all timeframes failed to capture")

// Timeframe 是以分钟计的图表周期。
type Timeframe int

const (
	Minute1  Timeframe = 1
	Minute15 Timeframe = 15
	Minute60 Timeframe = 60

	// Slowest 是唯一允许跨周期复用截图的周期。
	Slowest = Minute60
)

// Timeframes 为截图顺序。
var Timeframes = []Timeframe{Minute1, Minute15, Minute60}

func (t Timeframe) String() string {
	return fmt.Sprintf("%dmin", int(t))
}

// Interval 返回图表 URL 中的周期参数。
func (t Timeframe) Interval() string {
	return strconv.Itoa(int(t))
}

// MarshalText 让 Timeframe 作为 JSON map key 时输出 "15min" 形式。
func (t Timeframe) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Origin 标识截图来源。
type Origin string

const (
	OriginFresh  Origin = "fresh"
	OriginCached Origin = "cached"
)

// Snapshot 是单个周期的截图。
type Snapshot struct {
	Timeframe  Timeframe `json:"timeframe"`
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
	Origin     Origin    `json:"origin"`
}

// PriceReading 是从页面读取的当前价格。
type PriceReading struct {
	Value       decimal.Decimal `json:"value"`
	ExtractedAt time.Time       `json:"extracted_at"`
}

// Capture 汇总一次截图的结果。
type Capture struct {
	Snapshots map[Timeframe]Snapshot
	Missing   []Timeframe
	Price     *PriceReading
}

// Paths 返回可用周期到截图路径的映射。
func (c Capture) Paths() map[Timeframe]string {
	out := make(map[Timeframe]string, len(c.Snapshots))
	for tf, snap := range c.Snapshots {
		out[tf] = snap.Path
	}
	return out
}

// Renderer 抽象浏览器渲染后端。Close 必须在 Open 未成功时也可安全调用。
type Renderer interface {
	Open(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	// Settle 等待渲染稳定并关闭弹窗遮罩。
	Settle(ctx context.Context) error
	ReadText(ctx context.Context, selector string) (string, error)
	CaptureImage(ctx context.Context, path string) error
	Close() error
}
