package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ricco24/hermes/driver"
	_ "github.com/ricco24/hermes/driver/drivers"
	"github.com/ricco24/hermes/internal/runtime/config"
	herrors "github.com/ricco24/hermes/internal/runtime/errors"
	"github.com/ricco24/hermes/internal/runtime/logging"
	"github.com/ricco24/hermes/internal/runtime/metrics"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/signal"
)

// Signals holds the restart and shutdown markers built from configuration.
type Signals struct {
	Restart  signal.Signal
	Shutdown signal.Signal
	close    func() error
}

// Close releases the store connection, if any.
func (s Signals) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// BuildSignals creates both markers on the configured store.
func BuildSignals(cfg *config.Config, logger logging.Logger) (Signals, error) {
	if cfg == nil {
		return Signals{}, herrors.ErrConfigRequired
	}
	opts := []signal.Option{signal.WithLogger(logging.NewWatermillAdapter(logger))}

	switch strings.ToLower(cfg.SignalStore) {
	case "", config.SignalStoreMemory:
		return Signals{Restart: signal.NewMemory(opts...), Shutdown: signal.NewMemory(opts...)}, nil
	case config.SignalStoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		restartKey, shutdownKey := cfg.RestartKey, cfg.ShutdownKey
		if restartKey == "" {
			restartKey = signal.DefaultRestartKey
		}
		if shutdownKey == "" {
			shutdownKey = signal.DefaultShutdownKey
		}
		return Signals{
			Restart:  signal.NewRedis(client, restartKey, opts...),
			Shutdown: signal.NewRedis(client, shutdownKey, opts...),
			close:    client.Close,
		}, nil
	case config.SignalStoreFile:
		return Signals{
			Restart:  signal.NewSharedFile(cfg.RestartFile, opts...),
			Shutdown: signal.NewSharedFile(cfg.ShutdownFile, opts...),
		}, nil
	}
	return Signals{}, fmt.Errorf("%w: %q", herrors.ErrUnknownSignalStore, cfg.SignalStore)
}

// Runtime is a configured worker: one driver behind a dispatcher, governed
// by a lifecycle controller.
type Runtime struct {
	Config     *config.Config
	Dispatcher *Dispatcher
	Driver     driver.Driver
	Lifecycle  *lifecycle.Controller
	Signals    Signals
	// Metrics is nil unless enabled in the configuration.
	Metrics  *metrics.Collector
	Registry *prometheus.Registry
}

// Bootstrap validates cfg and wires signals, lifecycle, metrics, the
// configured driver and a dispatcher that routes every type to it.
func Bootstrap(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*Runtime, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, herrors.NewConfigValidationError(err)
	}
	if logger == nil {
		return nil, herrors.ErrLoggerRequired
	}

	signals, err := BuildSignals(cfg, logger)
	if err != nil {
		return nil, err
	}
	ctrl := lifecycle.New(
		lifecycle.WithRestart(signals.Restart),
		lifecycle.WithShutdown(signals.Shutdown),
		lifecycle.WithMaxItems(int64(cfg.MaxItems)),
	)

	rt := &Runtime{Config: cfg, Lifecycle: ctrl, Signals: signals}
	drvOpts := driver.Options{
		Lifecycle: ctrl,
		Logger:    logging.NewWatermillAdapter(logger),
	}
	if cfg.MetricsEnabled {
		rt.Registry = prometheus.NewRegistry()
		rt.Metrics = metrics.New(rt.Registry)
		if err := rt.Metrics.Register(); err != nil {
			_ = signals.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		drvOpts.Observer = rt.Metrics
	}

	rt.Driver, err = driver.Build(ctx, cfg, drvOpts)
	if err != nil {
		_ = signals.Close()
		return nil, err
	}

	base := []Option{
		WithLogger(logger),
		WithHooks(LoggingHooks(logger)),
		WithRetryPolicy(RetryPolicy{
			MaxRetries:      cfg.RetryMaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		}),
	}
	rt.Dispatcher = NewDispatcher(append(base, opts...)...)
	if err := rt.Dispatcher.RegisterDriver(Wildcard, rt.Driver); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close closes the driver and the signal store.
func (r *Runtime) Close() error {
	var errs []error
	if r.Dispatcher != nil {
		errs = append(errs, r.Dispatcher.Close())
	} else if c, ok := r.Driver.(driver.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, r.Signals.Close())
	return errors.Join(errs...)
}
