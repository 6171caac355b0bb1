package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chart-signal/internal/app"
	"chart-signal/internal/config"
	"chart-signal/internal/log"
	"chart-signal/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath     string
		once           bool
		intervalMin    int
		symbol         string
		broker         string
		apiKey         string
		screenshotsDir string
		addr           string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.BoolVar(&once, "once", false, "只执行一个分析周期后退出")
	flag.IntVar(&intervalMin, "interval", 10, "两次分析之间的间隔（分钟）")
	flag.StringVar(&symbol, "symbol", "XAUUSD", "分析标的")
	flag.StringVar(&broker, "broker", "EIGHTCAP", "图表数据来源的经纪商")
	flag.StringVar(&apiKey, "api-key", "", "模型服务 API Key，默认读取环境变量")
	flag.StringVar(&screenshotsDir, "screenshots-dir", "screenshots", "截图保存目录")
	flag.StringVar(&addr, "addr", ":5555", "状态接口监听地址")
	flag.Parse()

	// 只有显式传入的参数才覆盖配置文件。
	var opts []config.Option
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "once":
			opts = append(opts, config.WithOverride("app.once", once))
		case "interval":
			opts = append(opts, config.WithOverride("scheduler.interval", time.Duration(intervalMin)*time.Minute))
		case "symbol":
			opts = append(opts, config.WithOverride("app.symbol", symbol))
		case "broker":
			opts = append(opts, config.WithOverride("app.venue", broker))
		case "api-key":
			opts = append(opts, config.WithOverride("openai.api_key", apiKey))
		case "screenshots-dir":
			opts = append(opts, config.WithOverride("app.work_dir", screenshotsDir))
		case "addr":
			opts = append(opts, config.WithOverride("server.addr", addr))
		}
	})

	cfg, err := config.Load(configPath, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	advisor := app.New(cfg, logger, sqliteStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := advisor.Run(ctx); err != nil {
		if errors.Is(err, app.ErrCycleFailed) {
			logger.Error("分析周期失败", zap.Error(err))
		} else {
			logger.Error("系统运行异常", zap.Error(err))
		}
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}
