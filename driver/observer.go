package driver

import (
	"time"

	"github.com/ricco24/hermes/lifecycle"
)

// Observer receives loop and send events, typically to feed metrics.
type Observer interface {
	MessageSent(driver, messageType string, priority Priority, err error)
	MessageReceived(driver string, priority Priority)
	MessageProcessed(driver, messageType string, duration time.Duration, err error)
	AckFailed(driver string, err error)
	ReceiveFailed(driver string, err error)
	LoopStopped(driver string, reason lifecycle.Reason)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) MessageSent(string, string, Priority, error)           {}
func (NopObserver) MessageReceived(string, Priority)                      {}
func (NopObserver) MessageProcessed(string, string, time.Duration, error) {}
func (NopObserver) AckFailed(string, error)                               {}
func (NopObserver) ReceiveFailed(string, error)                           {}
func (NopObserver) LoopStopped(string, lifecycle.Reason)                  {}
