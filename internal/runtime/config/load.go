package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ricco24/hermes/driver"
	herrors "github.com/ricco24/hermes/internal/runtime/errors"
)

// EnvPrefix is prepended to every environment override, e.g. HERMES_DRIVER.
const EnvPrefix = "HERMES"

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Driver:       "memory",
		QueueName:    "hermes",
		PollTimeout:  driver.DefaultPollTimeout,
		BatchSize:    driver.DefaultBatchSize,
		SignalStore:  SignalStoreMemory,
		RestartKey:   "hermes_restart",
		ShutdownKey:  "hermes_shutdown",
		RestartFile:  "hermes.restart",
		ShutdownFile: "hermes.shutdown",
		RedisAddr:    "localhost:6379",
		MetricsPort:  9090,
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

// Load reads configuration from path (or hermes.yaml in the working
// directory and /etc/hermes when path is empty), then applies HERMES_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("hermes")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hermes")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, herrors.NewConfigValidationError(err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("driver", d.Driver)
	v.SetDefault("queue_name", d.QueueName)
	v.SetDefault("sleep_interval", d.SleepInterval)
	v.SetDefault("poll_timeout", d.PollTimeout)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("max_items", d.MaxItems)

	v.SetDefault("signal_store", d.SignalStore)
	v.SetDefault("restart_key", d.RestartKey)
	v.SetDefault("shutdown_key", d.ShutdownKey)
	v.SetDefault("restart_file", d.RestartFile)
	v.SetDefault("shutdown_file", d.ShutdownFile)

	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("aws_region", "")
	v.SetDefault("aws_access_key_id", "")
	v.SetDefault("aws_secret_access_key", "")
	v.SetDefault("aws_endpoint", "")

	v.SetDefault("sqlite_file", "")
	v.SetDefault("postgres_url", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("rabbitmq_url", "")
	v.SetDefault("kafka_consumer_group", "")

	v.SetDefault("retry_max_retries", 0)
	v.SetDefault("retry_initial_interval", d.RetryInitialInterval)
	v.SetDefault("retry_max_interval", d.RetryMaxInterval)

	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", d.MetricsPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	// Collections have no default but still read the environment.
	_ = v.BindEnv("priority_queues")
	_ = v.BindEnv("sqs_queue_attributes")
	_ = v.BindEnv("kafka_brokers")
}
