package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Validation ValidationConfig `mapstructure:"validation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数与分析标的。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Symbol      string `mapstructure:"symbol"`
	Venue       string `mapstructure:"venue"`
	WorkDir     string `mapstructure:"work_dir"`
	Once        bool   `mapstructure:"once"`
}

// RetryConfig 控制模型服务不可用时的重试。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// OpenAIConfig 描述大模型调用参数，兼容 OpenAI 协议的服务均可使用。
type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Temperature  float32       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	HistoryLimit int           `mapstructure:"history_limit"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// CaptureConfig 控制图表渲染与截图。
type CaptureConfig struct {
	ChartURL      string        `mapstructure:"chart_url"`
	Studies       []string      `mapstructure:"studies"`
	Headless      bool          `mapstructure:"headless"`
	ExecPath      string        `mapstructure:"exec_path"`
	WindowWidth   int           `mapstructure:"window_width"`
	WindowHeight  int           `mapstructure:"window_height"`
	UserAgent     string        `mapstructure:"user_agent"`
	SettleWait    time.Duration `mapstructure:"settle_wait"`
	PauseBetween  time.Duration `mapstructure:"pause_between"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	PriceSelector string        `mapstructure:"price_selector"`
	EscapePresses int           `mapstructure:"escape_presses"`
}

// ValidationConfig 管理信号校验参数。
type ValidationConfig struct {
	MinRiskReward float64 `mapstructure:"min_risk_reward"`
	// HardReject 为 true 时，盈亏比低于阈值的信号直接拒绝。
	HardReject bool `mapstructure:"hard_reject"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ServerConfig 控制状态与日志查询接口。
type ServerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if strings.TrimSpace(c.App.Symbol) == "" {
		err = multierr.Append(err, errors.New("app.symbol 不能为空"))
	}
	if strings.TrimSpace(c.App.Venue) == "" {
		err = multierr.Append(err, errors.New("app.venue 不能为空"))
	}
	if strings.TrimSpace(c.App.WorkDir) == "" {
		err = multierr.Append(err, errors.New("app.work_dir 不能为空"))
	}
	if c.OpenAI.APIKey == "" {
		err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
	}
	if c.OpenAI.Model == "" {
		err = multierr.Append(err, errors.New("openai.model 不能为空"))
	}
	if c.OpenAI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		err = multierr.Append(err, errors.New("openai.temperature 必须位于[0,2]"))
	}
	if c.OpenAI.MaxTokens <= 0 {
		err = multierr.Append(err, errors.New("openai.max_tokens 必须大于0"))
	}
	if c.OpenAI.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("openai.history_limit 必须大于0"))
	}
	if c.OpenAI.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("openai.retry.max_attempts 必须大于0"))
	}
	if c.OpenAI.Retry.BaseDelay <= 0 {
		err = multierr.Append(err, errors.New("openai.retry.base_delay 必须为正"))
	}
	if c.Capture.ChartURL == "" {
		err = multierr.Append(err, errors.New("capture.chart_url 不能为空"))
	}
	if c.Capture.WindowWidth <= 0 || c.Capture.WindowHeight <= 0 {
		err = multierr.Append(err, errors.New("capture.window_width/window_height 必须大于0"))
	}
	if c.Capture.SettleWait < 0 || c.Capture.PauseBetween < 0 {
		err = multierr.Append(err, errors.New("capture.settle_wait/pause_between 不能为负"))
	}
	if c.Capture.RenderTimeout <= 0 {
		err = multierr.Append(err, errors.New("capture.render_timeout 必须大于0"))
	}
	if c.Validation.MinRiskReward < 0 {
		err = multierr.Append(err, errors.New("validation.min_risk_reward 不能为负"))
	}
	if c.Scheduler.Interval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.interval 必须大于0"))
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Server.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("server.history_limit 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
