package hermes

import (
	"github.com/ricco24/hermes/driver"
	runtimepkg "github.com/ricco24/hermes/internal/runtime"
	configpkg "github.com/ricco24/hermes/internal/runtime/config"
	errspkg "github.com/ricco24/hermes/internal/runtime/errors"
	idspkg "github.com/ricco24/hermes/internal/runtime/ids"
	jsoncodec "github.com/ricco24/hermes/internal/runtime/jsoncodec"
	loggingpkg "github.com/ricco24/hermes/internal/runtime/logging"
	metricspkg "github.com/ricco24/hermes/internal/runtime/metrics"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	Dispatcher       = runtimepkg.Dispatcher
	DispatcherOption = runtimepkg.Option
	Runtime          = runtimepkg.Runtime
	Signals          = runtimepkg.Signals
	RetryPolicy      = runtimepkg.RetryPolicy

	Message  = message.Message
	Payload  = message.Payload
	Metadata = message.Metadata

	Driver   = driver.Driver
	Handler  = driver.Handler
	Priority = driver.Priority
	Reason   = lifecycle.Reason

	JSONMessage[T any]     = runtimepkg.JSONMessage[T]
	JSONHandlerFunc[T any] = runtimepkg.JSONHandlerFunc[T]

	Logger    = loggingpkg.Logger
	LogFields = loggingpkg.LogFields

	MetricsCollector = metricspkg.Collector

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks
)

const (
	PriorityLow     = driver.PriorityLow
	PriorityMedium  = driver.PriorityMedium
	PriorityHigh    = driver.PriorityHigh
	PriorityDefault = driver.PriorityDefault

	ReasonRestart   = lifecycle.ReasonRestart
	ReasonShutdown  = lifecycle.ReasonShutdown
	ReasonMaxItems  = lifecycle.ReasonMaxItems
	ReasonCancelled = lifecycle.ReasonCancelled

	// Wildcard registers a fallback driver or a handler for every type.
	Wildcard = runtimepkg.Wildcard
)

var (
	NewDispatcher  = runtimepkg.NewDispatcher
	Bootstrap      = runtimepkg.Bootstrap
	BuildSignals   = runtimepkg.BuildSignals
	LoadConfig     = configpkg.Load
	DefaultConfig  = configpkg.Defaults
	ValidateConfig = configpkg.ValidateConfig

	WithLogger         = runtimepkg.WithLogger
	WithHooks          = runtimepkg.WithHooks
	WithRetryPolicy    = runtimepkg.WithRetryPolicy
	WithTracerProvider = runtimepkg.WithTracerProvider
	WithClock          = runtimepkg.WithClock

	NewMessage    = message.New
	NewMetadata   = message.NewMetadata
	WithID        = message.WithID
	WithExecuteAt = message.WithExecuteAt
	WithDelay     = message.WithDelay
	WithRetries   = message.WithRetries
	WithMetadata  = message.WithMetadata

	ParsePriority   = driver.ParsePriority
	DriverNames     = driver.Names
	PriorityFromCtx = driver.PriorityFromContext

	// Job lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	DecodePayload = runtimepkg.DecodePayload

	NewSlogLogger   = loggingpkg.NewSlogLogger
	NewZapLogger    = loggingpkg.NewZapLogger
	NewNopLogger    = loggingpkg.Nop
	NewMetrics      = metricspkg.New
	MetricsHandler  = metricspkg.Handler
	NewMessageID    = idspkg.New
	MessageIDTime   = idspkg.Time
	Marshal         = jsoncodec.Marshal
	MarshalIndent   = jsoncodec.MarshalIndent
	Unmarshal       = jsoncodec.Unmarshal
	UnmarshalString = jsoncodec.UnmarshalString

	ErrDriverRequired          = errspkg.ErrDriverRequired
	ErrDriverAlreadyRegistered = errspkg.ErrDriverAlreadyRegistered
	ErrNoDriver                = errspkg.ErrNoDriver
	ErrHandlerRequired         = errspkg.ErrHandlerRequired
	ErrNoHandler               = errspkg.ErrNoHandler
	ErrMessageRequired         = errspkg.ErrMessageRequired
	ErrMessageTypeRequired     = errspkg.ErrMessageTypeRequired
	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrLoggerRequired          = errspkg.ErrLoggerRequired
	ErrUnknownSignalStore      = errspkg.ErrUnknownSignalStore

	ErrUnsupported     = driver.ErrUnsupported
	ErrUnknownPriority = driver.ErrUnknownPriority
	ErrUnknownDriver   = driver.ErrUnknownDriver
	ErrHandlerPanic    = driver.ErrHandlerPanic
)

// JSONHandler adapts a handler that takes the payload decoded into T.
func JSONHandler[T any](handler JSONHandlerFunc[T]) (Handler, error) {
	return runtimepkg.JSONHandler(handler)
}

// NewJSONMessage builds a message whose payload is v encoded as a JSON object.
func NewJSONMessage[T any](messageType string, v T, opts ...message.Option) (*Message, error) {
	return runtimepkg.NewJSONMessage(messageType, v, opts...)
}
