// Package notifications pushes task outcomes to ntfy.
//
// The Service is an events.Sink: the daemon registers it with the event
// emitter, and it forwards READY and FAILED task events as ntfy messages
// according to the [notifications] switches. Without a configured topic the
// service is a no-op. Delivery failures are returned to the emitter, which
// logs them and moves on.
package notifications
