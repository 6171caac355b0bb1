package chart

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"chart-signal/internal/config"
)

var errNotOpen = errors.New("渲染会话未打开")

// 移除弹窗、遮罩，保留包含画布的容器，返回移除的节点数量。
const overlayCleanupJS = `(() => {
	let removed = 0;
	document.querySelectorAll('[role="dialog"]').forEach(el => { el.remove(); removed++; });
	document.querySelectorAll('[class*="modal"]').forEach(el => {
		if (!el.querySelector('canvas')) { el.remove(); removed++; }
	});
	document.querySelectorAll('[class*="overlay"], [class*="backdrop"]').forEach(el => { el.remove(); removed++; });
	return removed;
})()`

// ChromeRenderer 基于 chromedp 驱动无头 Chrome 渲染图表。
type ChromeRenderer struct {
	cfg    config.CaptureConfig
	logger *zap.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

var _ Renderer = (*ChromeRenderer)(nil)

// NewChromeRenderer 创建渲染器，浏览器在 Open 时才会启动。
func NewChromeRenderer(cfg config.CaptureConfig, logger *zap.Logger) *ChromeRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeRenderer{cfg: cfg, logger: logger}
}

// Open 启动浏览器。已打开时直接返回。
func (r *ChromeRenderer) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(r.cfg.WindowWidth, r.cfg.WindowHeight),
	)
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}

	// 浏览器生命周期绑定在首次 Run 使用的上下文上，不能带超时。
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	r.browserCtx = browserCtx
	r.cancelBrowser = cancelBrowser
	r.cancelAlloc = cancelAlloc
	r.logger.Debug("浏览器已启动")
	return nil
}

// Navigate 打开图表地址。
func (r *ChromeRenderer) Navigate(ctx context.Context, url string) error {
	return r.run(ctx, chromedp.Navigate(url))
}

// Settle 等待图表加载后连续按下 Escape 并移除遮罩。
func (r *ChromeRenderer) Settle(ctx context.Context) error {
	actions := []chromedp.Action{chromedp.Sleep(r.cfg.SettleWait)}
	for i := 0; i < r.cfg.EscapePresses; i++ {
		actions = append(actions, chromedp.KeyEvent(kb.Escape))
	}
	var removed int
	actions = append(actions, chromedp.Evaluate(overlayCleanupJS, &removed))

	if err := r.run(ctx, actions...); err != nil {
		return err
	}
	if removed > 0 {
		r.logger.Debug("已移除页面遮罩", zap.Int("nodes", removed))
	}
	return nil
}

// ReadText 读取选择器匹配节点的文本。
func (r *ChromeRenderer) ReadText(ctx context.Context, selector string) (string, error) {
	var text string
	if err := r.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

// CaptureImage 截取当前视口并写入 path。
func (r *ChromeRenderer) CaptureImage(ctx context.Context, path string) error {
	var buf []byte
	if err := r.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	if len(buf) == 0 {
		return errors.New("截图内容为空")
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("写入截图失败: %w", err)
	}
	return nil
}

// Close 关闭浏览器。未打开时直接返回。
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(r.browserCtx)
	r.cancelBrowser()
	r.cancelAlloc()
	r.browserCtx = nil
	r.cancelBrowser = nil
	r.cancelAlloc = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("关闭浏览器失败: %w", err)
	}
	return nil
}

func (r *ChromeRenderer) run(ctx context.Context, actions ...chromedp.Action) error {
	r.mu.Lock()
	browser := r.browserCtx
	r.mu.Unlock()
	if browser == nil {
		return errNotOpen
	}

	opCtx, cancel := context.WithTimeout(browser, r.cfg.RenderTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}
