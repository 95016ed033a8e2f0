package lifecycle

// Reason tells the caller of a wait loop why it returned.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonRestart asks the supervisor to relaunch the process.
	ReasonRestart
	// ReasonShutdown stops the worker for good.
	ReasonShutdown
	// ReasonMaxItems means the processing guard is exhausted. Supervisors
	// usually treat it like a restart.
	ReasonMaxItems
	// ReasonCancelled is returned when the caller's context ended.
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonRestart:
		return "restart"
	case ReasonShutdown:
		return "shutdown"
	case ReasonMaxItems:
		return "max_items"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// Stopped reports whether the reason ends a loop.
func (r Reason) Stopped() bool {
	return r != ReasonNone
}

// WantsRestart reports whether a supervisor should start a fresh process.
func (r Reason) WantsRestart() bool {
	return r == ReasonRestart || r == ReasonMaxItems
}
