package authstate

import (
	"sync"
)

// AuthEventKind enumerates provider auth state changes
type AuthEventKind string

const (
	EventInitialSession   AuthEventKind = "INITIAL_SESSION"
	EventSignedIn         AuthEventKind = "SIGNED_IN"
	EventSignedOut        AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed   AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEventKind = "USER_UPDATED"
	EventPasswordRecovery AuthEventKind = "PASSWORD_RECOVERY"
)

// AuthEvent is a single provider notification
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

const defaultEventBuffer = 32

// EventBus fans provider events out to subscribers, preserving
// emission order per subscriber.
type EventBus struct {
	pubMu  sync.Mutex
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
	buffer int
}

type subscription struct {
	ch   chan AuthEvent
	done chan struct{}
	once sync.Once
}

// NewEventBus creates a bus, buffer sets the per subscriber queue size
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &EventBus{
		subs:   map[int]*subscription{},
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. No new event is queued on the channel
// once the returned function was called.
func (b *EventBus) Subscribe() (<-chan AuthEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := &subscription{
		ch:   make(chan AuthEvent, b.buffer),
		done: make(chan struct{}),
	}
	b.subs[id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.once.Do(func() {
			close(sub.done)
		})
	}
}

// Publish delivers the event to every subscriber. It blocks while a
// subscriber queue is full, unless that subscriber unsubscribes.
func (b *EventBus) Publish(event AuthEvent) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		case <-s.done:
		}
	}
}

// Len returns the number of active subscribers
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
