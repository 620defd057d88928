package authstate

import (
	"context"
	"sync"

	"github.com/goliatone/go-print"
)

// Dispatcher consumes store transitions. *Store implements it.
type Dispatcher interface {
	Dispatch(action Action) AuthState
}

// Listener bridges the provider event stream into store transitions. All
// events and the initial resolution are handled on a single goroutine,
// which also owns the one slot profile cache.
type Listener struct {
	provider AuthProvider
	resolver ProfileResolver
	store    Dispatcher
	logger   Logger
	recorder Recorder
	sink     ActivitySink

	mu      sync.Mutex
	started bool
	ready   chan struct{}

	// owned by the event loop goroutine
	initializing   bool
	cachedProfile  *UserProfile
	cachedFallback bool
}

// NewListener wires a provider, a resolver and the store a listener feeds
func NewListener(provider AuthProvider, resolver ProfileResolver, store Dispatcher) *Listener {
	return &Listener{
		provider: provider,
		resolver: resolver,
		store:    store,
		logger:   defLogger{},
		recorder: noopRecorder{},
		sink:     noopActivitySink{},
		ready:    make(chan struct{}),
	}
}

func (l *Listener) WithLogger(logger Logger) *Listener {
	l.logger = normalizeLogger(logger)
	return l
}

func (l *Listener) WithRecorder(recorder Recorder) *Listener {
	l.recorder = normalizeRecorder(recorder)
	return l
}

// WithActivitySink configures an ActivitySink for emitting session transitions.
func (l *Listener) WithActivitySink(sink ActivitySink) *Listener {
	l.sink = normalizeActivitySink(sink)
	return l
}

// Ready is closed once the initial resolution has been dispatched
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Start performs the initial resolution and subscribes to provider events.
// The returned function unsubscribes; it is the only way to stop the
// listener. ctx bounds the resolver calls and is not cancelled by stop.
func (l *Listener) Start(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil, ErrListenerStarted
	}
	l.started = true
	l.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	events, unsubscribe := l.provider.OnAuthStateChange()
	stopped := make(chan struct{})
	initial := make(chan Resolution, 1)

	l.initializing = true
	go func() {
		initial <- l.initialResolution(ctx)
	}()

	go l.loop(ctx, events, initial, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(stopped)
		})
	}, nil
}

func (l *Listener) initialResolution(ctx context.Context) Resolution {
	session, err := l.provider.GetSession(ctx)
	if err != nil {
		l.logger.Warn("auth listener: initial session lookup failed: %v", err)
		session = nil
	}
	return l.resolver.Resolve(ctx, session)
}

func (l *Listener) loop(ctx context.Context, events <-chan AuthEvent, initial <-chan Resolution, stopped <-chan struct{}) {
	for {
		select {
		case <-stopped:
			return

		case res := <-initial:
			initial = nil
			l.logger.Debug("auth listener: initial session resolved %s", print.MaybePrettyJSON(res.Profile))
			l.remember(res)
			l.dispatch(ctx, res, ActivitySessionResolved)
			l.initializing = false
			close(l.ready)

		case event, ok := <-events:
			if !ok {
				return
			}
			l.handle(ctx, event)
		}
	}
}

func (l *Listener) handle(ctx context.Context, event AuthEvent) {
	l.recorder.AuthEvent(event.Kind)

	if l.initializing && (event.Kind == EventInitialSession || event.Kind == EventSignedIn) {
		l.logger.Debug("auth listener: ignoring %s during initialization", event.Kind)
		return
	}

	switch event.Kind {
	case EventSignedOut:
		l.logger.Info("auth listener: signed out, clearing state")
		l.forget()
		l.dispatch(ctx, Resolution{}, ActivitySessionCleared)

	case EventTokenRefreshed:
		l.logger.Debug("auth listener: token refreshed, keeping cached profile")
		l.dispatch(ctx, l.fromCache(event.Session), ActivitySessionRefreshed)

	case EventInitialSession:
		l.logger.Debug("auth listener: %s, using cached profile", event.Kind)
		l.dispatch(ctx, l.fromCache(event.Session), ActivitySessionResolved)

	case EventSignedIn, EventUserUpdated:
		l.logger.Info("auth listener: %s, resolving profile", event.Kind)
		res := l.resolver.Resolve(ctx, event.Session)
		l.remember(res)
		l.dispatch(ctx, res, ActivitySessionResolved)

	default:
		l.logger.Debug("auth listener: %s, using cached profile", event.Kind)
		l.dispatch(ctx, l.fromCache(event.Session), ActivitySessionResolved)
	}
}

func (l *Listener) remember(res Resolution) {
	l.cachedProfile = res.Profile
	l.cachedFallback = res.IsFallback
}

func (l *Listener) forget() {
	l.cachedProfile = nil
	l.cachedFallback = false
}

func (l *Listener) fromCache(session *Session) Resolution {
	return Resolution{
		Session:    session,
		Profile:    l.cachedProfile,
		IsFallback: l.cachedFallback,
	}
}

func (l *Listener) dispatch(ctx context.Context, res Resolution, kind ActivityEventType) {
	l.store.Dispatch(SetSessionFrom(res))

	event := ActivityEvent{
		EventType: kind,
		UserID:    res.Session.UserID(),
		Role:      roleOf(res.Profile),
	}
	if res.IsFallback {
		event.Metadata = map[string]any{"fallback": true}
	}
	recordActivity(ctx, l.sink, l.logger, event)

	if res.IsFallback && kind == ActivitySessionResolved {
		recordActivity(ctx, l.sink, l.logger, ActivityEvent{
			EventType: ActivityProfileFallback,
			UserID:    res.Session.UserID(),
			Role:      roleOf(res.Profile),
		})
	}
}
