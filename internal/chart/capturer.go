package chart

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"chart-signal/internal/config"
)

// Capturer 按周期依次截取图表，并在同一小时内复用最慢周期的截图。
// 渲染会话在首次使用时打开，由 Close 释放；Close 之后再次使用会重新打开。
type Capturer struct {
	cfg      config.CaptureConfig
	symbol   string
	venue    string
	renderer Renderer
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	acquired bool
	opened   bool
	hourly   *Snapshot
}

// NewCapturer 创建截图器。
func NewCapturer(cfg config.CaptureConfig, symbol, venue string, renderer Renderer, logger *zap.Logger) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		cfg:      cfg,
		symbol:   symbol,
		venue:    venue,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// CaptureAll 依次截取全部周期。至少一个周期成功时返回 nil 错误，缺失的周期列在 Missing 中。
func (c *Capturer) CaptureAll(ctx context.Context, outputDir string) (Capture, error) {
	result := Capture{Snapshots: make(map[Timeframe]Snapshot, len(Timeframes))}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("创建截图目录 %q 失败: %w", outputDir, err)
	}

	stamp := c.now().Format("20060102_150405")
	rendered := 0
	priceTried := false

	for _, tf := range Timeframes {
		if tf == Slowest {
			if snap, ok := c.cached(); ok {
				c.logger.Info("复用本小时截图",
					zap.Stringer("timeframe", tf),
					zap.String("path", snap.Path),
				)
				result.Snapshots[tf] = snap
				continue
			}
		}

		if rendered > 0 && c.cfg.PauseBetween > 0 {
			if err := c.sleep(ctx, c.cfg.PauseBetween); err != nil {
				return result, err
			}
		}
		rendered++

		path := filepath.Join(outputDir, fmt.Sprintf("%s_%dmin.png", stamp, int(tf)))
		snap, err := c.captureOne(ctx, tf, path)
		if err != nil {
			c.logger.Warn("周期截图失败",
				zap.Stringer("timeframe", tf),
				zap.Error(err),
			)
			result.Missing = append(result.Missing, tf)
			continue
		}
		result.Snapshots[tf] = snap
		if tf == Slowest {
			cached := snap
			c.hourly = &cached
		}

		if !priceTried {
			priceTried = true
			result.Price = c.readPrice(ctx)
		}
	}

	if len(result.Snapshots) == 0 {
		return result, ErrCaptureExhausted
	}
	return result, nil
}

// Close 释放渲染会话。未打开或重复调用时不做任何事。
func (c *Capturer) Close() error {
	if !c.acquired {
		return nil
	}
	c.acquired = false
	c.opened = false
	if err := c.renderer.Close(); err != nil {
		return fmt.Errorf("关闭渲染会话失败: %w", err)
	}
	return nil
}

func (c *Capturer) captureOne(ctx context.Context, tf Timeframe, path string) (Snapshot, error) {
	if err := c.ensureOpen(ctx); err != nil {
		return Snapshot{}, err
	}

	target := ChartURL(c.cfg.ChartURL, c.venue, c.symbol, tf, c.cfg.Studies)
	if err := c.renderer.Navigate(ctx, target); err != nil {
		return Snapshot{}, fmt.Errorf("打开图表失败: %w", err)
	}
	if err := c.renderer.Settle(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("等待图表渲染失败: %w", err)
	}
	if err := c.renderer.CaptureImage(ctx, path); err != nil {
		return Snapshot{}, fmt.Errorf("保存截图失败: %w", err)
	}

	return Snapshot{
		Timeframe:  tf,
		Path:       path,
		CapturedAt: c.now(),
		Origin:     OriginFresh,
	}, nil
}

func (c *Capturer) ensureOpen(ctx context.Context) error {
	if c.opened {
		return nil
	}
	c.acquired = true
	if err := c.renderer.Open(ctx); err != nil {
		return fmt.Errorf("启动渲染会话失败: %w", err)
	}
	c.opened = true
	return nil
}

func (c *Capturer) cached() (Snapshot, bool) {
	if c.hourly == nil {
		return Snapshot{}, false
	}
	if hourKey(c.hourly.CapturedAt) != hourKey(c.now()) {
		return Snapshot{}, false
	}
	if _, err := os.Stat(c.hourly.Path); err != nil {
		return Snapshot{}, false
	}
	snap := *c.hourly
	snap.Origin = OriginCached
	return snap, true
}

func (c *Capturer) readPrice(ctx context.Context) *PriceReading {
	selector := strings.TrimSpace(c.cfg.PriceSelector)
	if selector == "" {
		return nil
	}
	text, err := c.renderer.ReadText(ctx, selector)
	if err != nil {
		c.logger.Warn("读取页面价格失败", zap.Error(err))
		return nil
	}
	value, err := ParsePrice(text)
	if err != nil {
		c.logger.Warn("解析页面价格失败", zap.String("text", text), zap.Error(err))
		return nil
	}
	return &PriceReading{Value: value, ExtractedAt: c.now()}
}

// ChartURL 构造预加载指标的图表地址。
func ChartURL(base, venue, symbol string, tf Timeframe, studies []string) string {
	var b strings.Builder
	b.WriteString(base)
	if strings.Contains(base, "?") {
		b.WriteString("&")
	} else {
		b.WriteString("?")
	}
	b.WriteString("symbol=")
	b.WriteString(url.QueryEscape(venue + ":" + symbol))
	b.WriteString("&interval=")
	b.WriteString(tf.Interval())
	b.WriteString("&studies_overrides=%7B%7D")
	if len(studies) > 0 {
		b.WriteString("&studies=")
		b.WriteString(url.QueryEscape(strings.Join(studies, ",")))
	}
	return b.String()
}

func hourKey(t time.Time) string {
	return t.Local().Format("2006010215")
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
