package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/internal/runtime"
	"github.com/ricco24/hermes/internal/runtime/logging"
	"github.com/ricco24/hermes/internal/runtime/metrics"
	"github.com/ricco24/hermes/message"
)

func newWorkerCmd(a *app) *cobra.Command {
	var priorities []string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker that logs every message it receives",
		Long: "Run a dispatch loop on the configured driver until a signal, the processing limit or an interrupt stops it.\n" +
			"The process exits with code 3 when a restart is requested or the processing limit is reached.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parsePriorities(priorities)
			if err != nil {
				return err
			}
			return a.runWorker(cmd.Context(), parsed)
		},
	}
	cmd.Flags().StringSliceVarP(&priorities, "priority", "p", nil, "priorities to consume (low, medium, high); all bound queues when empty")
	return cmd
}

func parsePriorities(names []string) ([]driver.Priority, error) {
	out := make([]driver.Priority, 0, len(names))
	for _, name := range names {
		p, err := driver.ParsePriority(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *app) runWorker(ctx context.Context, priorities []driver.Priority) error {
	logger := logging.NewZapLogger(a.zap)
	rt, err := runtime.Bootstrap(ctx, a.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			a.zap.Error("Close failed", zap.Error(err))
		}
	}()

	if err := rt.Dispatcher.RegisterNamedHandler("log", runtime.Wildcard, logHandler(a.zap)); err != nil {
		return err
	}

	if rt.Metrics != nil {
		srv := serveMetrics(a.zap, a.cfg.MetricsPort, rt.Registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a.zap.Info("Worker started",
		zap.String("driver", a.cfg.Driver),
		zap.String("queue", a.cfg.QueueName),
		zap.Int("max_items", a.cfg.MaxItems),
	)
	reason, err := rt.Dispatcher.Run(ctx, priorities...)
	if err != nil {
		return err
	}
	a.zap.Info("Worker stopped",
		zap.String("reason", reason.String()),
		zap.Int64("processed", rt.Lifecycle.Guard().Processed()),
	)
	if reason.WantsRestart() {
		return exitCodeError{code: exitRestart, reason: reason.String()}
	}
	return nil
}

func logHandler(logger *zap.Logger) driver.Handler {
	return func(ctx context.Context, msg *message.Message) error {
		priority, _ := driver.PriorityFromContext(ctx)
		logger.Info("Message received",
			zap.String("id", msg.ID()),
			zap.String("type", msg.Type()),
			zap.Stringer("priority", priority),
			zap.Time("created_at", msg.CreatedAt()),
			zap.Int("retries", msg.Retries()),
			zap.Any("payload", msg.Payload()),
			zap.Any("metadata", msg.Metadata()),
		)
		return nil
	}
}

func serveMetrics(logger *zap.Logger, port int, registry prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
