package authstate

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// FallbackPolicy decides what a failed authoritative lookup yields
type FallbackPolicy string

const (
	// FallbackLeastPrivilege substitutes a least privilege profile
	FallbackLeastPrivilege FallbackPolicy = "least_privilege"
	// FallbackNone leaves the profile empty
	FallbackNone FallbackPolicy = "none"
)

// FallbackProfile builds the least privilege profile for a session user
func FallbackProfile(session *Session, now time.Time) *UserProfile {
	if session == nil || session.User == nil {
		return nil
	}
	n := now
	u := now
	return &UserProfile{
		ID:        session.User.ID,
		Email:     session.User.Email,
		Role:      LeastPrivilegeRole,
		CreatedAt: &n,
		UpdatedAt: &u,
	}
}

// MetadataResolver synthesizes the profile from data already carried by
// the session. It performs no I/O.
type MetadataResolver struct {
	now    func() time.Time
	logger Logger
}

// NewMetadataResolver returns the embedded-metadata strategy
func NewMetadataResolver() *MetadataResolver {
	return &MetadataResolver{
		now:    time.Now,
		logger: defLogger{},
	}
}

func (r *MetadataResolver) WithLogger(logger Logger) *MetadataResolver {
	r.logger = normalizeLogger(logger)
	return r
}

// WithClock injects a custom clock (useful for tests).
func (r *MetadataResolver) WithClock(clock func() time.Time) *MetadataResolver {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *MetadataResolver) Resolve(_ context.Context, session *Session) Resolution {
	if session == nil {
		return Resolution{}
	}

	if session.User == nil {
		r.logger.Warn("metadata resolver: session without user, profile left empty")
		return Resolution{Session: session}
	}

	role := session.User.RoleHint()
	if role == "" {
		role = LeastPrivilegeRole
	}

	now := r.now()
	profile := &UserProfile{
		ID:        session.User.ID,
		Email:     session.User.Email,
		Role:      role,
		CreatedAt: session.User.CreatedAt,
		UpdatedAt: session.User.UpdatedAt,
	}
	if profile.UpdatedAt == nil {
		profile.UpdatedAt = &now
	}

	r.logger.Debug("metadata resolver: profile for user %s with role %s", profile.ID, profile.Role)

	return Resolution{
		Session: session,
		Profile: profile,
	}
}

// LookupResolver reads the profile from the authoritative store under
// a bounded retry policy.
type LookupResolver struct {
	store    ProfileStore
	policy   RetryPolicy
	fallback FallbackPolicy
	now      func() time.Time
	logger   Logger
	recorder Recorder
}

// NewLookupResolver returns the authoritative-lookup strategy
func NewLookupResolver(store ProfileStore) *LookupResolver {
	return &LookupResolver{
		store:    store,
		policy:   DefaultRetryPolicy(),
		fallback: FallbackLeastPrivilege,
		now:      time.Now,
		logger:   defLogger{},
		recorder: noopRecorder{},
	}
}

func (r *LookupResolver) WithRetryPolicy(policy RetryPolicy) *LookupResolver {
	r.policy = policy
	return r
}

func (r *LookupResolver) WithFallbackPolicy(policy FallbackPolicy) *LookupResolver {
	if policy != "" {
		r.fallback = policy
	}
	return r
}

func (r *LookupResolver) WithLogger(logger Logger) *LookupResolver {
	r.logger = normalizeLogger(logger)
	return r
}

func (r *LookupResolver) WithRecorder(recorder Recorder) *LookupResolver {
	r.recorder = normalizeRecorder(recorder)
	return r
}

// WithClock injects a custom clock (useful for tests).
func (r *LookupResolver) WithClock(clock func() time.Time) *LookupResolver {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *LookupResolver) Resolve(ctx context.Context, session *Session) Resolution {
	if session == nil {
		return Resolution{}
	}

	userID := session.UserID()
	if r.store == nil || userID == "" {
		r.logger.Error("lookup resolver: missing profile store or session user")
		return r.degrade(session)
	}

	var profile *UserProfile
	err := Retry(ctx, r.policy, func(actx context.Context, attempt int) error {
		p, err := r.lookup(actx, userID)
		if err != nil {
			r.logger.Warn("lookup resolver: attempt %d for user %s failed: %v", attempt, userID, err)
			if isPermanentLookupError(err) {
				return Permanent(err)
			}
			return err
		}
		profile = p
		return nil
	}, nil)

	if err != nil {
		return r.degrade(session)
	}

	return Resolution{
		Session: session,
		Profile: profile,
	}
}

// lookup runs one attempt bounded by the attempt context, even when the
// store ignores cancellation.
func (r *LookupResolver) lookup(ctx context.Context, userID string) (*UserProfile, error) {
	type result struct {
		profile *UserProfile
		err     error
	}

	start := r.now()
	done := make(chan result, 1)
	go func() {
		p, err := r.store.FindProfileByID(ctx, userID)
		done <- result{profile: p, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}
	elapsed := r.now().Sub(start)

	switch {
	case res.err == nil && res.profile == nil:
		res.err = ErrProfileNotFound
	case res.err == nil && res.profile.ID != userID:
		res.err = ErrProfileMismatch
	}

	r.recorder.ProfileLookup(lookupOutcome(ctx, res.err), elapsed)

	return res.profile, res.err
}

func (r *LookupResolver) degrade(session *Session) Resolution {
	if r.fallback == FallbackNone {
		return Resolution{Session: session}
	}

	profile := FallbackProfile(session, r.now())
	if profile == nil {
		return Resolution{Session: session}
	}

	r.recorder.ProfileFallback()
	r.logger.Warn("lookup resolver: using fallback profile for user %s with role %s", profile.ID, profile.Role)

	return Resolution{
		Session:    session,
		Profile:    profile,
		IsFallback: true,
	}
}

func isPermanentLookupError(err error) bool {
	return goerrors.Is(err, ErrProfileNotFound) ||
		goerrors.Is(err, ErrProfileMismatch) ||
		goerrors.IsNotFound(err)
}

func lookupOutcome(ctx context.Context, err error) LookupOutcome {
	switch {
	case err == nil:
		return LookupSuccess
	case goerrors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return LookupTimeout
	case goerrors.Is(err, ErrProfileNotFound) || goerrors.IsNotFound(err):
		return LookupNotFound
	default:
		return LookupError
	}
}
