/*
Package runtime composes drivers, handlers and the lifecycle controller into
a running worker.

# Dispatcher (dispatcher.go)

The Dispatcher maps message types to drivers for sending and to handlers for
processing:
  - RegisterDriver binds a type, or "*" as the fallback, to a driver. A type
    can be bound only once.
  - RegisterHandler adds handlers per type; "*" handlers see every message.
  - Run starts one wait loop per distinct driver and returns the first
    lifecycle reason that stopped one of them.

Messages that arrive before their execute_at are re-sent instead of handled.
A RetryPolicy (retry.go) re-enqueues failed messages with exponential delay;
JobHooks (hooks.go) observe every handler call and each call runs inside an
OpenTelemetry span.

# Bootstrap (bootstrap.go)

Bootstrap turns a config.Config into a Runtime: restart and shutdown signals
on the configured store, a lifecycle controller, optional Prometheus metrics,
the registered driver and a dispatcher routing every type to it.

# Sub-packages

  - config/: configuration struct, validation and viper loading
  - errors/: sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metrics/: Prometheus driver.Observer

# Usage Example

	cfg, err := config.Load("hermes.yaml")
	if err != nil {
		return err
	}
	rt, err := runtime.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	_ = rt.Dispatcher.RegisterHandler("email", sendEmail)
	reason, err := rt.Dispatcher.Run(ctx)
*/
package runtime
