package authstate

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Credentials is the email/password payload of the login and register forms
type Credentials struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate checks the form is complete before reaching the provider. The
// email is checked trimmed, as it is sent.
func (c Credentials) Validate() error {
	c.Email = strings.TrimSpace(c.Email)
	if c.Email == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.Email),
		validation.Field(&c.Password, validation.Required, validation.Length(6, 200)),
	)
}

// Client runs user initiated auth actions against the provider and records
// their pending, fulfilled and rejected transitions in the store. Failures
// are both stored in AuthState.Error and returned to the caller.
type Client struct {
	provider AuthProvider
	store    Dispatcher
	logger   Logger
	recorder Recorder
	sink     ActivitySink
}

// NewClient returns an action client bound to a provider and a store
func NewClient(provider AuthProvider, store Dispatcher) *Client {
	return &Client{
		provider: provider,
		store:    store,
		logger:   defLogger{},
		recorder: noopRecorder{},
		sink:     noopActivitySink{},
	}
}

func (c *Client) WithLogger(logger Logger) *Client {
	c.logger = normalizeLogger(logger)
	return c
}

func (c *Client) WithRecorder(recorder Recorder) *Client {
	c.recorder = normalizeRecorder(recorder)
	return c
}

// WithActivitySink configures an ActivitySink for emitting action outcomes.
func (c *Client) WithActivitySink(sink ActivitySink) *Client {
	c.sink = normalizeActivitySink(sink)
	return c
}

// FetchSession asks the provider for the current session
func (c *Client) FetchSession(ctx context.Context) (*Session, error) {
	return c.run(ctx, OpFetchSession, "", func(ctx context.Context) (*Session, error) {
		return c.provider.GetSession(ctx)
	})
}

// SignIn authenticates with email and password
func (c *Client) SignIn(ctx context.Context, creds Credentials) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return c.run(ctx, OpSignIn, creds.Email, func(ctx context.Context) (*Session, error) {
		return c.provider.SignInWithPassword(ctx, strings.TrimSpace(creds.Email), creds.Password)
	})
}

// SignUp registers a new account. The session is nil when the provider
// requires the email to be confirmed first.
func (c *Client) SignUp(ctx context.Context, creds Credentials) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return c.run(ctx, OpSignUp, creds.Email, func(ctx context.Context) (*Session, error) {
		return c.provider.SignUp(ctx, strings.TrimSpace(creds.Email), creds.Password)
	})
}

// SignOut ends the current session
func (c *Client) SignOut(ctx context.Context) error {
	_, err := c.run(ctx, OpSignOut, "", func(ctx context.Context) (*Session, error) {
		return nil, c.provider.SignOut(ctx)
	})
	return err
}

func (c *Client) run(ctx context.Context, op AuthOp, identifier string, fn func(context.Context) (*Session, error)) (*Session, error) {
	c.store.Dispatch(ActionPending{Op: op})

	session, err := fn(ctx)
	if err != nil {
		msg := ErrorMessage(err)
		c.logger.Error("%s failed: %v", op, err)
		c.store.Dispatch(ActionRejected{Op: op, Message: msg})
		c.recorder.AuthAction(op, false)
		recordActivity(ctx, c.sink, c.logger, ActivityEvent{
			EventType: ActivityActionFailure,
			Metadata: map[string]any{
				"action":     string(op),
				"identifier": identifier,
				"error":      msg,
			},
		})
		return nil, err
	}

	c.store.Dispatch(ActionFulfilled{Op: op, Session: session})
	c.recorder.AuthAction(op, true)
	recordActivity(ctx, c.sink, c.logger, ActivityEvent{
		EventType: ActivityActionSuccess,
		UserID:    session.UserID(),
		Metadata: map[string]any{
			"action": string(op),
		},
	})

	return session, nil
}
