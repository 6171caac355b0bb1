package app

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Worker 在唯一的后台协程中运行 Driver 的循环。
type Worker struct {
	driver *Driver
	logger *zap.Logger

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// NewWorker 创建后台工作者。
func NewWorker(driver *Driver, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		driver: driver,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start 启动后台循环，只能调用一次。
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("worker 已启动")
	}
	w.started = true

	w.driver.state.setRunning(true)
	go func() {
		defer close(w.done)
		defer w.driver.state.setRunning(false)

		w.logger.Info("分析循环已启动", zap.Duration("interval", w.driver.cfg.Interval))
		err := w.driver.RunForever(ctx, w.stop)

		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		w.logger.Info("分析循环已停止", zap.Error(err))
	}()
	return nil
}

// Stop 请求在当前周期结束后停止，不等待退出。
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done 在循环退出后关闭。
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err 返回循环退出的原因，仅在 Done 关闭后有意义。
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Running 报告循环是否仍在运行。
func (w *Worker) Running() bool {
	return w.driver.state.running.Load()
}
