package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 网关运行配置
type Config struct {
	Address            string        `mapstructure:"address"`
	UpstreamURL        string        `mapstructure:"upstream_url"`
	UpstreamKeyFile    string        `mapstructure:"upstream_key_file"`
	ServiceKeyFile     string        `mapstructure:"service_key_file"`
	ModelsFile         string        `mapstructure:"models_file"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	DefaultTemperature float64       `mapstructure:"default_temperature"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`
	LogFile            string        `mapstructure:"log_file"`
	LogMaxSizeMB       int           `mapstructure:"log_max_size_mb"`
	LogMaxBackups      int           `mapstructure:"log_max_backups"`
	TelemetryURL       string        `mapstructure:"telemetry_url"`
	SecretKey          string        `mapstructure:"secret_key"`

	// Password 来自环境变量 PASSWORD（不带前缀），可为逗号分隔的多个密钥
	Password string `mapstructure:"password"`
}

// Defaults 默认值
var Defaults = map[string]interface{}{
	"address":             ":8001",
	"upstream_url":        "https://claude.talkai.info/chat/send/",
	"upstream_key_file":   "client_api_keys.json",
	"service_key_file":    "client_api_keys.json",
	"models_file":         "models.json",
	"request_timeout":     300 * time.Second,
	"idle_timeout":        60 * time.Second,
	"default_temperature": 0.7,
	"log_level":           "info",
	"log_format":          "json",
	"log_file":            "",
	"log_max_size_mb":     50,
	"log_max_backups":     1,
	"telemetry_url":       "",
	"secret_key":          "",
	"password":            "",
}

// Load 读取 config.yaml（可选）与 TALKAI_* 环境变量
func Load() (*Config, error) {
	v := viper.New()
	return load(v)
}

// LoadFile 从指定文件加载（命令行 --config）
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	for k, val := range Defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// TALKAI_ADDRESS, TALKAI_UPSTREAM_URL ...
	v.SetEnvPrefix("TALKAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("password", "PASSWORD"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失时只使用默认值和环境变量
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("upstream_url must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.LogFile != "" && c.LogMaxSizeMB <= 0 {
		return fmt.Errorf("log_max_size_mb must be positive when log_file is set, got %d", c.LogMaxSizeMB)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}
