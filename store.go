package authstate

import (
	"sync"
)

// StateListener is notified after every dispatched action
type StateListener func(state AuthState, action Action)

// Store owns the AuthState aggregate. Actions are applied one at a time
// and subscribers observe them in dispatch order.
type Store struct {
	dispatchMu sync.Mutex
	mu         sync.RWMutex
	state      AuthState
	subs       map[int]StateListener
	nextID     int
}

// NewStore returns a store holding the empty, uninitialized state
func NewStore() *Store {
	return &Store{
		subs: map[int]StateListener{},
	}
}

// State returns a snapshot of the current state
func (s *Store) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch applies the action and notifies subscribers
func (s *Store) Dispatch(action Action) AuthState {
	if action == nil {
		return s.State()
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	next := Reduce(s.state, action)
	s.state = next
	listeners := make([]StateListener, 0, len(s.subs))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.subs[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next, action)
	}

	return next
}

// Subscribe registers a listener and returns the handle removing it.
// Listeners must not dispatch from within the callback.
func (s *Store) Subscribe(l StateListener) func() {
	if l == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
