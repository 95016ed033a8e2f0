package driver

import "time"

// Capabilities describes what a backend supports.
type Capabilities struct {
	// Name is the registry name of the driver.
	Name string

	// SupportsPriority is true when SetupPriorityQueue works.
	SupportsPriority bool

	// SupportsDelay is true when the backend holds a message until its
	// execute_at. Otherwise the dispatcher re-sends messages that arrive early.
	SupportsDelay bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64

	// MaxDelay is the longest native delay, 0 when unlimited or unknown.
	MaxDelay time.Duration
}

// RequiresDelayEmulation reports whether early messages must be re-sent by the caller.
func (c Capabilities) RequiresDelayEmulation() bool {
	return !c.SupportsDelay
}

// CapabilitiesProvider is implemented by drivers that can describe themselves.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// CapabilitiesOf returns d's capabilities, or a conservative zero value.
func CapabilitiesOf(d Driver) Capabilities {
	if p, ok := d.(CapabilitiesProvider); ok {
		return p.Capabilities()
	}
	return Capabilities{}
}
