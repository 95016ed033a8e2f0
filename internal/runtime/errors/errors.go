package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrDriverRequired          = sterrors.New("hermes: driver is required")
	ErrDriverAlreadyRegistered = sterrors.New("hermes: driver already registered for message type")
	ErrNoDriver                = sterrors.New("hermes: no driver registered for message type")
	ErrHandlerRequired         = sterrors.New("hermes: handler is required")
	ErrNoHandler               = sterrors.New("hermes: no handler registered for message type")
	ErrMessageRequired         = sterrors.New("hermes: message is required")
	ErrMessageTypeRequired     = sterrors.New("hermes: message type is required")
	ErrConfigRequired          = sterrors.New("hermes: configuration is required")
	ErrLoggerRequired          = sterrors.New("hermes: logger is required")
	ErrUnknownSignalStore      = sterrors.New("hermes: unknown signal store")
)

// ConfigValidationError marks errors produced while validating configuration
// so callers can tell them apart from runtime failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("hermes: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
