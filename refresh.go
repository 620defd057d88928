package authstate

import (
	"context"
	"time"
)

// SessionRefresher is implemented by providers able to rotate their tokens
type SessionRefresher interface {
	// CurrentSession returns the session held by the provider without I/O
	CurrentSession() *Session
	Refresh(ctx context.Context) (*Session, error)
}

// AutoRefresh checks the provider session every interval and refreshes it
// when it expires within margin. The returned function stops the loop.
// onError, when set, is called with every failed refresh.
func AutoRefresh(ctx context.Context, r SessionRefresher, interval, margin time.Duration, now func() time.Time, onError func(error)) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				session := r.CurrentSession()
				if session == nil || session.ExpiresAt == nil {
					continue
				}
				if now().Add(margin).Before(*session.ExpiresAt) {
					continue
				}
				if _, err := r.Refresh(ctx); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()

	return cancel
}
