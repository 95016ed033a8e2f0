package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ricco24/hermes/driver"
	herrors "github.com/ricco24/hermes/internal/runtime/errors"
	"github.com/ricco24/hermes/internal/runtime/jsoncodec"
	"github.com/ricco24/hermes/internal/runtime/logging"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

// Wildcard registers a driver or handler for every message type.
const Wildcard = "*"

// MetadataRetryHandlers is set on a retried message to the JSON list of
// handler keys that failed on the previous attempt. Only those run again.
const MetadataRetryHandlers = "hermes_retry_handlers"

const tracerName = "github.com/ricco24/hermes"

var errLoopStopped = errors.New("hermes: loop stopped")

type namedHandler struct {
	name    string
	key     string // name#n, n counting earlier handlers with the same name
	handler driver.Handler
}

// Dispatcher routes messages to drivers by type on send, and runs one wait
// loop per distinct driver, fanning each received message out to the
// handlers registered for its type.
type Dispatcher struct {
	mu       sync.RWMutex
	drivers  map[string]driver.Driver
	order    []string
	handlers map[string][]namedHandler

	logger logging.Logger
	hooks  JobHooks
	retry  RetryPolicy
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHooks adds job hooks; repeated calls merge.
func WithHooks(hooks JobHooks) Option {
	return func(d *Dispatcher) { d.hooks = d.hooks.Merge(hooks) }
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(d *Dispatcher) { d.retry = policy }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		drivers:  make(map[string]driver.Driver),
		handlers: make(map[string][]namedHandler),
		logger:   logging.Nop(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterDriver binds messageType (or Wildcard) to drv. A type can only be
// bound once.
func (d *Dispatcher) RegisterDriver(messageType string, drv driver.Driver) error {
	if drv == nil {
		return herrors.ErrDriverRequired
	}
	if messageType == "" {
		return herrors.ErrMessageTypeRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.drivers[messageType]; ok {
		return fmt.Errorf("%w: %q", herrors.ErrDriverAlreadyRegistered, messageType)
	}
	d.drivers[messageType] = drv
	d.order = append(d.order, messageType)
	return nil
}

// RegisterHandler adds handler for messageType (or Wildcard). Several
// handlers per type run in registration order.
func (d *Dispatcher) RegisterHandler(messageType string, handler driver.Handler) error {
	return d.RegisterNamedHandler(messageType, messageType, handler)
}

// RegisterNamedHandler is RegisterHandler with a name reported to hooks and spans.
func (d *Dispatcher) RegisterNamedHandler(name, messageType string, handler driver.Handler) error {
	if handler == nil {
		return herrors.ErrHandlerRequired
	}
	if messageType == "" {
		return herrors.ErrMessageTypeRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = append(d.handlers[messageType], namedHandler{name: name, handler: handler})
	return nil
}

// DriverFor returns the driver a message of messageType is sent with.
func (d *Dispatcher) DriverFor(messageType string) (driver.Driver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if drv, ok := d.drivers[messageType]; ok {
		return drv, nil
	}
	if drv, ok := d.drivers[Wildcard]; ok {
		return drv, nil
	}
	return nil, fmt.Errorf("%w: %q", herrors.ErrNoDriver, messageType)
}

func (d *Dispatcher) handlersFor(messageType string) []namedHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]namedHandler, 0, len(d.handlers[messageType])+len(d.handlers[Wildcard]))
	out = append(out, d.handlers[messageType]...)
	if messageType != Wildcard {
		out = append(out, d.handlers[Wildcard]...)
	}
	seen := make(map[string]int, len(out))
	for i := range out {
		out[i].key = fmt.Sprintf("%s#%d", out[i].name, seen[out[i].name])
		seen[out[i].name]++
	}
	return out
}

// pendingHandlers narrows handlers to the ones a retried message still owes.
// A missing or unreadable list, or one naming no current handler, runs all.
func (d *Dispatcher) pendingHandlers(msg *message.Message, handlers []namedHandler, fields logging.LogFields) []namedHandler {
	raw := msg.Header(MetadataRetryHandlers)
	if raw == "" {
		return handlers
	}
	var keys []string
	if err := jsoncodec.UnmarshalString(raw, &keys); err != nil {
		d.logger.Error("Unreadable retry handler list, running every handler", err, fields)
		return handlers
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make([]namedHandler, 0, len(keys))
	for _, h := range handlers {
		if want[h.key] {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		d.logger.Info("No handler from the previous attempt is registered, running every handler", fields)
		return handlers
	}
	return out
}

// Send submits msg to the driver registered for its type.
func (d *Dispatcher) Send(ctx context.Context, msg *message.Message, priority driver.Priority) error {
	if msg == nil {
		return herrors.ErrMessageRequired
	}
	drv, err := d.DriverFor(msg.Type())
	if err != nil {
		return err
	}
	return drv.Send(ctx, msg, priority)
}

// distinctDrivers lists every registered driver once, in registration order.
func (d *Dispatcher) distinctDrivers() []driver.Driver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[driver.Driver]bool, len(d.order))
	var out []driver.Driver
	for _, typ := range d.order {
		drv := d.drivers[typ]
		if !seen[drv] {
			seen[drv] = true
			out = append(out, drv)
		}
	}
	return out
}

// Run waits on every distinct driver concurrently. When one loop stops the
// others are cancelled; the first reason other than cancellation is returned.
func (d *Dispatcher) Run(ctx context.Context, priorities ...driver.Priority) (lifecycle.Reason, error) {
	drivers := d.distinctDrivers()
	if len(drivers) == 0 {
		return lifecycle.ReasonNone, herrors.ErrDriverRequired
	}

	var (
		mu    sync.Mutex
		first = lifecycle.ReasonNone
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, drv := range drivers {
		name := driver.CapabilitiesOf(drv).Name
		if name == "" {
			name = fmt.Sprintf("%T", drv)
		}
		g.Go(func() error {
			reason, err := drv.Wait(gctx, d.dispatchFunc(name, drv), priorities...)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if reason == lifecycle.ReasonCancelled {
				return nil
			}
			mu.Lock()
			if first == lifecycle.ReasonNone {
				first = reason
			}
			mu.Unlock()
			return errLoopStopped
		})
	}

	err := g.Wait()
	if errors.Is(err, errLoopStopped) {
		err = nil
	}
	if err != nil {
		return lifecycle.ReasonNone, err
	}
	if first == lifecycle.ReasonNone {
		first = lifecycle.ReasonCancelled
	}
	d.logger.Info("Dispatcher stopped", logging.LogFields{"reason": first.String()})
	return first, nil
}

func (d *Dispatcher) dispatchFunc(driverName string, drv driver.Driver) driver.Handler {
	return func(ctx context.Context, msg *message.Message) error {
		return d.dispatch(ctx, driverName, drv, msg)
	}
}

// dispatch runs every handler for msg. Messages that are not due yet go back
// to the driver they came from at the same priority.
func (d *Dispatcher) dispatch(ctx context.Context, driverName string, drv driver.Driver, msg *message.Message) error {
	priority, ok := driver.PriorityFromContext(ctx)
	if !ok {
		priority = driver.PriorityDefault
	}
	fields := logging.LogFields{
		"driver":       driverName,
		"message_id":   msg.ID(),
		"message_type": msg.Type(),
	}

	if !msg.Due(d.now()) {
		d.logger.Trace("Message not due yet, re-sending", fields)
		return drv.Send(ctx, msg, priority)
	}

	handlers := d.handlersFor(msg.Type())
	if len(handlers) == 0 {
		err := fmt.Errorf("%w: %q", herrors.ErrNoHandler, msg.Type())
		d.logger.Error("Message dropped", err, fields)
		return err
	}

	var (
		errs   []error
		failed []string
	)
	for _, h := range d.pendingHandlers(msg, handlers, fields) {
		if err := d.invoke(ctx, driverName, priority, h, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			failed = append(failed, h.key)
		}
	}
	err := errors.Join(errs...)
	if err != nil && d.retry.ShouldRetry(msg.Retries(), err) {
		delay := d.retry.Delay(msg.Retries())
		retry := msg.ForRetry(d.now().Add(delay))
		if list, encErr := jsoncodec.Marshal(failed); encErr == nil {
			retry = retry.WithHeaders(message.Metadata{MetadataRetryHandlers: string(list)})
		}
		if sendErr := drv.Send(ctx, retry, priority); sendErr != nil {
			d.logger.Error("Retry enqueue failed", sendErr, fields)
			return errors.Join(err, sendErr)
		}
		fields["retries"] = retry.Retries()
		fields["retry_in"] = delay.String()
		d.logger.Info("Message scheduled for retry", fields)
	}
	return err
}

func (d *Dispatcher) invoke(ctx context.Context, driverName string, priority driver.Priority, h namedHandler, msg *message.Message) error {
	ctx, span := d.tracer.Start(ctx, "hermes.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", driverName),
			attribute.String("messaging.message.id", msg.ID()),
			attribute.String("hermes.message.type", msg.Type()),
			attribute.String("hermes.handler", h.name),
			attribute.String("hermes.priority", priority.String()),
			attribute.Int("hermes.retries", msg.Retries()),
		),
	)
	defer span.End()

	job := JobContext{
		HandlerName: h.name,
		Driver:      driverName,
		MessageID:   msg.ID(),
		MessageType: msg.Type(),
		Priority:    priority,
		Metadata:    msg.Metadata(),
		Context:     ctx,
		StartedAt:   d.now(),
		Retries:     msg.Retries(),
	}
	d.hooks.start(job)

	err := call(ctx, h.handler, msg)

	job.Duration = d.now().Sub(job.StartedAt)
	d.hooks.finish(job, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// call contains a panic to the handler that raised it, so the remaining
// handlers for the message still run.
func call(ctx context.Context, handler driver.Handler, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", driver.ErrHandlerPanic, r)
		}
	}()
	return handler(ctx, msg)
}

// Close closes every driver that supports it.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, drv := range d.distinctDrivers() {
		if c, ok := drv.(driver.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
