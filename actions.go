package authstate

// AuthOp names an auth action initiated by the user
type AuthOp string

const (
	OpFetchSession AuthOp = "auth/fetchSession"
	OpSignIn       AuthOp = "auth/signIn"
	OpSignUp       AuthOp = "auth/signUp"
	OpSignOut      AuthOp = "auth/signOut"
)

// Action is a transition consumed by the Store reducer
type Action interface {
	Type() string
}

// SetSession carries a normalized resolution from the listener
type SetSession struct {
	Session    *Session
	Profile    *UserProfile
	IsFallback bool
}

func (SetSession) Type() string { return "auth/setSession" }

// SetSessionFrom builds a SetSession action out of a resolution
func SetSessionFrom(r Resolution) SetSession {
	return SetSession{
		Session:    r.Session,
		Profile:    r.Profile,
		IsFallback: r.IsFallback,
	}
}

// ActionPending marks an auth action as in flight
type ActionPending struct {
	Op AuthOp
}

func (a ActionPending) Type() string { return string(a.Op) + "/pending" }

// ActionFulfilled completes an auth action with the provider session
type ActionFulfilled struct {
	Op      AuthOp
	Session *Session
}

func (a ActionFulfilled) Type() string { return string(a.Op) + "/fulfilled" }

// ActionRejected completes an auth action with an error message
type ActionRejected struct {
	Op      AuthOp
	Message string
}

func (a ActionRejected) Type() string { return string(a.Op) + "/rejected" }

// Reduce applies an action to a state and returns the next state.
// The input state is never modified.
func Reduce(state AuthState, action Action) AuthState {
	next := state

	switch a := action.(type) {
	case SetSession:
		next.Initialized = true
		if a.Session == nil {
			clearIdentity(&next)
			return next
		}
		next.Session = a.Session
		next.User = a.Session.User
		next.Profile = a.Profile.Clone()
		next.Role = roleOf(next.Profile)
		next.IsUsingFallbackProfile = a.IsFallback && a.Profile != nil

	case ActionPending:
		next.Loading = true
		next.Error = ""

	case ActionFulfilled:
		next.Loading = false
		next.Initialized = true
		if a.Op == OpSignOut || a.Session == nil {
			clearIdentity(&next)
			return next
		}
		next.Session = a.Session
		next.User = a.Session.User
		// the profile arrives through the listener, keep it only if it
		// still belongs to the session user
		if next.Profile != nil && next.Profile.ID != a.Session.UserID() {
			next.Profile = nil
			next.Role = ""
			next.IsUsingFallbackProfile = false
		}

	case ActionRejected:
		next.Loading = false
		next.Initialized = true
		next.Error = a.Message
		if next.Error == "" {
			next.Error = DefaultAuthErrorMessage
		}
	}

	return next
}
