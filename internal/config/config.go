package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "chartsignal"
)

// Option 在读取配置文件后覆盖单个配置项，通常来自命令行参数。
type Option func(v *viper.Viper)

// WithOverride 强制设置 key 对应的值。
func WithOverride(key string, value interface{}) Option {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// Load 读取配置文件并结合环境变量返回 Config。
// 未显式指定路径且默认文件不存在时，仅使用默认值与环境变量。
func Load(path string, opts ...Option) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if err := v.BindEnv("openai.api_key", "CHARTSIGNAL_OPENAI_API_KEY", "DEEPSEEK_API_KEY", "FIREWORKS_API_KEY"); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)):
		case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	for _, opt := range opts {
		opt(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.symbol", "XAUUSD")
	v.SetDefault("app.venue", "EIGHTCAP")
	v.SetDefault("app.work_dir", "screenshots")
	v.SetDefault("app.once", false)

	v.SetDefault("openai.base_url", "https://api.deepseek.com")
	v.SetDefault("openai.model", "deepseek-chat")
	v.SetDefault("openai.timeout", "120s")
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.history_limit", 10)
	v.SetDefault("openai.retry.max_attempts", 3)
	v.SetDefault("openai.retry.base_delay", "2s")

	v.SetDefault("capture.chart_url", "https://it.tradingview.com/chart/")
	v.SetDefault("capture.studies", []string{
		"STD;Moving_Average_Exponential",
		"STD;MACD",
		"STD;Relative_Strength_Index",
	})
	v.SetDefault("capture.headless", true)
	v.SetDefault("capture.exec_path", "")
	v.SetDefault("capture.window_width", 1920)
	v.SetDefault("capture.window_height", 1200)
	v.SetDefault("capture.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("capture.settle_wait", "10s")
	v.SetDefault("capture.pause_between", "2s")
	v.SetDefault("capture.render_timeout", "60s")
	v.SetDefault("capture.price_selector", "[data-name=\"legend-series-item\"] [class*=\"valueValue\"]")
	v.SetDefault("capture.escape_presses", 5)

	v.SetDefault("validation.min_risk_reward", 1.5)
	v.SetDefault("validation.hard_reject", false)

	v.SetDefault("scheduler.interval", "10m")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":5555")
	v.SetDefault("server.history_limit", 100)

	v.SetDefault("database.path", "data/chart_signal.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "0s")
	v.SetDefault("database.in_memory", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
