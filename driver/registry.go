package driver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrUnknownDriver is returned by Build for a name no backend registered.
var ErrUnknownDriver = errors.New("driver: unknown driver")

// Builder creates a driver from configuration. Each backend package registers
// one in init.
type Builder func(ctx context.Context, cfg Config, opts Options) (Driver, error)

// Config provides the values backends need without depending on the config
// package.
type Config interface {
	// GetDriver returns the registry name of the backend.
	GetDriver() string
	GetQueueName() string
	// GetPriorityQueues maps priority names (low, medium, high) to extra
	// queue names.
	GetPriorityQueues() map[string]string
	GetSleepInterval() time.Duration
	GetPollTimeout() time.Duration
	GetBatchSize() int

	// Redis
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int

	// Amazon SQS
	GetAWSRegion() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
	GetSQSQueueAttributes() map[string]string

	// SQL
	GetSQLiteFile() string
	GetPostgresURL() string

	// Brokers
	GetNATSURL() string
	GetRabbitMQURL() string
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string
}

// Registry maps backend names to builders and capabilities.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is filled by the backend packages' init functions.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caps.Name == "" {
		caps.Name = name
	}
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns a zero value carrying only the name for unknown
// backends.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates the driver named by cfg.GetDriver().
func (r *Registry) Build(ctx context.Context, cfg Config, opts Options) (Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	name := cfg.GetDriver()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDriver, name, r.Names())
	}
	if opts.SleepInterval == 0 {
		opts.SleepInterval = cfg.GetSleepInterval()
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = cfg.GetPollTimeout()
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = cfg.GetBatchSize()
	}
	return builder(ctx, cfg, opts)
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

func Build(ctx context.Context, cfg Config, opts Options) (Driver, error) {
	return DefaultRegistry.Build(ctx, cfg, opts)
}

func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}

func Names() []string {
	return DefaultRegistry.Names()
}

// ParsePriority maps a configuration name to a Priority.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "low":
		return PriorityLow, nil
	case "medium", "default", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPriority, name)
}

// SetupPriorityQueues binds every configured extra queue on d.
func SetupPriorityQueues(d Driver, queues map[string]string) error {
	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p, err := ParsePriority(name)
		if err != nil {
			return err
		}
		if err := d.SetupPriorityQueue(queues[name], p); err != nil {
			return fmt.Errorf("setup %s priority queue %q: %w", name, queues[name], err)
		}
	}
	return nil
}
