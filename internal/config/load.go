package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultGlobalCeilingPerCPU sizes the global worker ceiling when the
// configuration leaves it at zero.
const DefaultGlobalCeilingPerCPU = 4

// Load reads configuration from an optional config.yaml and from environment
// variables with the CADENZA_ prefix. Environment variables take precedence
// over values from the config file. Returns a populated Config struct or an
// error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/cadenza")

	v.SetEnvPrefix("CADENZA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	applyDerivedDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.namespace", "cadenza")

	v.SetDefault("scaling.max_cpu_percent", 85.0)
	v.SetDefault("scaling.scale_check_interval", 15*time.Second)
	v.SetDefault("scaling.global_worker_ceiling", 0)
	v.SetDefault("scaling.cleanup_interval", 10*time.Minute)
	v.SetDefault("scaling.cleanup_max_age", time.Hour)
}

// applyDerivedDefaults fills in values that depend on the host or on other
// settings and cannot be expressed as static viper defaults.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Scaling.GlobalWorkerCeiling == 0 {
		cfg.Scaling.GlobalWorkerCeiling = runtime.NumCPU() * DefaultGlobalCeilingPerCPU
	}
	for name, dom := range cfg.Domains {
		if dom.ScaleDownQueuePerWorker == 0 {
			dom.ScaleDownQueuePerWorker = dom.TargetQueuePerWorker / 2
		}
		if dom.CooldownPeriod == 0 {
			dom.CooldownPeriod = time.Minute
		}
		if dom.WorkerConcurrency == 0 {
			dom.WorkerConcurrency = 1
		}
		if dom.TaskTimeout == 0 {
			dom.TaskTimeout = 30 * time.Minute
		}
		cfg.Domains[name] = dom
	}
}
