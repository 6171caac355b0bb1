package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chart-signal/internal/ai"
	"chart-signal/internal/chart"
	"chart-signal/internal/config"
	"chart-signal/internal/monitor"
	"chart-signal/internal/risk"
	"chart-signal/internal/store"
)

// ErrCycleFailed 表示单次模式下的周期以错误结束。
var ErrCycleFailed = errors.New("analysis cycle failed")

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 在单次模式下执行一个周期后返回；否则同时运行分析循环与状态接口，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("图表信号系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("symbol", a.cfg.App.Symbol),
		zap.String("venue", a.cfg.App.Venue),
		zap.Duration("interval", a.cfg.Scheduler.Interval),
		zap.Bool("once", a.cfg.App.Once),
	)

	events, err := monitor.NewService(a.store, a.cfg.Server.HistoryLimit, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	state := NewState(a.cfg.App.Symbol, a.cfg.App.Venue, a.cfg.Scheduler.Interval)
	driver, err := a.buildDriver(events, state)
	if err != nil {
		return err
	}

	if a.cfg.App.Once {
		cycle := driver.RunOnce(ctx)
		if cycle.Outcome == OutcomeError {
			return fmt.Errorf("%w: %w", ErrCycleFailed, cycle.Err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	worker := NewWorker(driver, a.logger)
	if err := worker.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-worker.Done()
		return worker.Err()
	})

	if a.cfg.Server.Enabled {
		server, err := NewServer(a.cfg.Server, state, events, a.logger)
		if err != nil {
			// 等待当前周期结束，避免调用方关闭存储时仍有事件写入。
			worker.Stop()
			<-worker.Done()
			return err
		}
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil {
		return err
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}

func (a *App) buildDriver(events *monitor.Service, state *State) (*Driver, error) {
	renderer := chart.NewChromeRenderer(a.cfg.Capture, a.logger)
	capturer := chart.NewCapturer(a.cfg.Capture, a.cfg.App.Symbol, a.cfg.App.Venue, renderer, a.logger)

	aiClient, err := ai.NewClient(a.cfg.OpenAI, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化AI客户端失败: %w", err)
	}

	validator := risk.NewValidator(a.cfg.Validation, a.logger)

	driver, err := NewDriver(DriverConfig{
		Symbol:   a.cfg.App.Symbol,
		Venue:    a.cfg.App.Venue,
		WorkDir:  a.cfg.App.WorkDir,
		Interval: a.cfg.Scheduler.Interval,
	}, capturer, aiClient, validator, events, state, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化分析驱动失败: %w", err)
	}
	return driver, nil
}
