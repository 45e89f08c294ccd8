// Package config loads the pipeline configuration from a yaml file and
// environment, with sane defaults for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Store     StoreConfig
	Provider  ProviderConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Retention RetentionConfig
	Schedule  ScheduleConfig
	Server    ServerConfig
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type StoreConfig struct {
	Path       string        `mapstructure:"path"`
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

type ProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type RetentionConfig struct {
	MinDays int `mapstructure:"min_days"`
}

type ScheduleConfig struct {
	IngestInterval time.Duration `mapstructure:"ingest_interval"`
	HourlySpec     string        `mapstructure:"hourly_spec"`
	DailySpec      string        `mapstructure:"daily_spec"`
	MonthlySpec    string        `mapstructure:"monthly_spec"`
	DailyCleanup   bool          `mapstructure:"daily_cleanup"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads config.yaml (working dir, ./config or /etc/parkpulse) and
// applies PARKPULSE_-style environment overrides. A missing file is fine;
// defaults carry a full local setup.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/parkpulse/")

	v.SetEnvPrefix("PARKPULSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "parkpulse")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("store.path", "./data/parkpulse")
	v.SetDefault("store.gc_interval", "10m")

	v.SetDefault("provider.base_url", "https://api.themeparks.wiki/v1")
	v.SetDefault("provider.timeout", "15s")
	v.SetDefault("provider.min_interval", "1500ms")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "parkpulse-runs")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("retention.min_days", 7)

	v.SetDefault("schedule.ingest_interval", "5m")
	v.SetDefault("schedule.hourly_spec", "5 * * * *")
	v.SetDefault("schedule.daily_spec", "30 4 * * *")
	v.SetDefault("schedule.monthly_spec", "0 5 1 * *")
	v.SetDefault("schedule.daily_cleanup", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
}

// overrideFromEnv maps the short deployment variable names onto config
// keys. These predate the PARKPULSE_ prefix and are kept for compose files.
func overrideFromEnv(v *viper.Viper) {
	if path := os.Getenv("STORE_PATH"); path != "" {
		v.Set("store.path", path)
	}
	if url := os.Getenv("PROVIDER_BASE_URL"); url != "" {
		v.Set("provider.base_url", url)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		list := strings.Split(brokers, ",")
		for i, b := range list {
			list[i] = strings.TrimSpace(b)
		}
		v.Set("kafka.brokers", list)
		v.Set("kafka.enabled", true)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		v.Set("redis.addr", addr)
		v.Set("redis.enabled", true)
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("redis.password", password)
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		v.Set("app.env", env)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		v.Set("app.log_level", level)
	}
}

func validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store path must not be empty")
	}
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider base url must not be empty")
	}
	if cfg.Provider.MinInterval <= 0 {
		return fmt.Errorf("provider min interval must be positive")
	}
	if cfg.Retention.MinDays < 1 {
		return fmt.Errorf("retention floor must be at least one day")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis enabled but no address configured")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port out of range")
	}
	return nil
}
