// Package bus provides the in-process lifecycle event bus (C10): a
// publish-subscribe mechanism for worker and scheduler events, delivered
// best-effort and synchronously to every subscriber.
package bus

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/caelum-labs/worchflow/internal/logging"
)

// Event names emitted across the workflow engine (spec §4.8).
const (
	EventReady             = "ready"
	EventError             = "error"
	EventExecutionStart    = "execution:start"
	EventExecutionComplete = "execution:complete"
	EventExecutionFailed   = "execution:failed"
	EventExecutionUpdated  = "execution:updated"
	EventStepComplete      = "step:complete"
	EventLeaderAcquired    = "leader:acquired"
	EventLeaderLost        = "leader:lost"
	EventScheduleRegistered = "schedule:registered"
	EventScheduleTriggered  = "schedule:triggered"
	EventScheduleMissed     = "schedule:missed"
	EventStopped            = "stopped"
)

// Subscriber receives an emitted event's payload. A panicking subscriber is
// recovered and logged; it never aborts delivery to the remaining
// subscribers (spec §4.8: "a throwing subscriber must not abort emission").
type Subscriber func(payload any)

// Bus is a registry of named-event subscribers. The zero value is not
// usable; construct with New.
type Bus struct {
	logger *logging.Logger

	mu          sync.RWMutex
	subscribers map[string][]Subscriber
}

// New returns an empty Bus. logger may be nil, in which case recovered
// panics are silently dropped.
func New(logger *logging.Logger) *Bus {
	return &Bus{logger: logger, subscribers: make(map[string][]Subscriber)}
}

// On registers sub to be called on every future Emit(event, ...). Returns an
// unsubscribe function.
func (b *Bus) On(event string, sub Subscriber) func() {
	b.mu.Lock()
	b.subscribers[event] = append(b.subscribers[event], sub)
	idx := len(b.subscribers[event]) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[event]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}
}

// Emit delivers payload to every subscriber of event, synchronously, in
// registration order. Subscribers that panic are recovered and logged; the
// remaining subscribers still run.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[event]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub == nil {
			continue
		}
		b.dispatch(event, sub, payload)
	}
}

func (b *Bus) dispatch(event string, sub Subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error().
					Str("event", event).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in event bus subscriber")
			}
		}
	}()
	sub(payload)
}
