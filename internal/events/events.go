// Package events is the change-notification bus. Controllers and engines
// publish every state transition here; the MQTT gateway, history log and
// telemetry recorder subscribe.
//
// Publishing never blocks: a subscriber whose buffer is full misses the
// event and the drop is counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type names a kind of event.
type Type string

// Event types.
const (
	TypeEquipmentStatus  Type = "equipment.status"
	TypeEquipmentBlocked Type = "equipment.blocked"
	TypeAlarmState       Type = "alarm.state"
	TypeEnvironmentStep  Type = "environment.step"
)

// defaultBuffer is the subscriber channel size when none is given.
const defaultBuffer = 64

// Event is one published change.
type Event struct {
	ID        string
	Type      Type
	Subject   string
	Timestamp time.Time
	Payload   any
}

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Bus fans events out to subscribers.
type Bus struct {
	logger  Logger
	now     func() time.Time
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Uint64
}

// Subscription receives events of the types it asked for.
type Subscription struct {
	bus   *Bus
	ch    chan Event
	types map[Type]struct{}
	once  sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		logger: noopLogger{},
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Subscribe registers a subscriber. With no types it receives every event.
// A buffer of zero or less uses the default size.
func (b *Bus) Subscribe(buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &Subscription{bus: b, ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Events returns the receive channel. It is closed by Close or Bus.Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}

func (s *Subscription) wants(t Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Publish stamps and delivers an event. It returns the event as delivered.
func (b *Bus) Publish(t Type, subject string, payload any) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Subject:   subject,
		Timestamp: b.now(),
		Payload:   payload,
	}

	// Sends happen under the read lock so Close cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(t) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			n := b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber full", "type", string(t), "subject", subject, "dropped_total", n)
		}
	}
	return ev
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}
