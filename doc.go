// Package hermes is a backend-agnostic message dispatch engine. Producers send
// typed messages to a queue driver; workers wait on that driver, remove each
// message from the backend and hand it to the handlers registered for its
// type.
//
// A worker loop can be told from outside to restart or to shut down. Both
// signals are timestamps in a shared store (memory, a Redis key, or the mtime
// of a file) that every process checks on each iteration: a signal applies to
// a process started at or before the recorded time. A bounded processing
// guard stops the loop after a fixed number of messages, so a supervisor can
// recycle long-running workers.
//
// # Drivers
//
// Backends register themselves under a name and are built from Config:
//   - memory: in-process queues, for tests and single-process setups
//   - redis: one list per priority plus a sorted set for delayed messages
//   - sqs: Amazon SQS (no priority queues)
//   - sqlite, postgres: a table per queue, rows claimed by delete
//   - nats-jetstream: JetStream pull consumers
//   - amqp, kafka, nats, channel: any Watermill broker through a shared adapter
//
// Every driver runs the same wait loop: check the signals and the guard,
// receive one bounded batch from the highest non-empty priority, acknowledge
// the batch and only then invoke the handler. A message is therefore handled
// at most once per acknowledgment.
//
// # Dispatcher
//
// Dispatcher routes messages to drivers by type ("*" is the fallback), runs
// one loop per distinct driver and stops all of them once any returns a
// Reason. Handlers for a type run in registration order after which the "*"
// handlers run. Messages scheduled in the future are re-sent on drivers
// without native delays. An optional RetryPolicy re-enqueues failed messages
// with exponential backoff, and JobHooks observe every handler call.
//
// Bootstrap wires a Runtime from Config: signals, lifecycle, metrics, the
// configured driver and a dispatcher. The hermes command in cmd/hermes is a
// thin cobra front end over it.
package hermes
