package authstate

const (
	// LoginRoute is where unauthenticated visitors are sent
	LoginRoute = "/login"
	// HomeRoute is the safe default linked from the unauthorized view
	HomeRoute = "/home"
)

// GuardPhase is the state of the route guard machine:
// Uninitialized -> {Unauthenticated | AwaitingProfile -> {Unauthorized | Authorized}}
type GuardPhase string

const (
	PhaseUninitialized   GuardPhase = "uninitialized"
	PhaseUnauthenticated GuardPhase = "unauthenticated"
	PhaseAwaitingProfile GuardPhase = "awaiting_profile"
	PhaseUnauthorized    GuardPhase = "unauthorized"
	PhaseAuthorized      GuardPhase = "authorized"
)

// Terminal reports whether the phase ends the machine for the current session
func (p GuardPhase) Terminal() bool {
	switch p {
	case PhaseUnauthenticated, PhaseUnauthorized, PhaseAuthorized:
		return true
	default:
		return false
	}
}

// Decision is what a guard wants rendered
type Decision struct {
	Phase GuardPhase `json:"phase"`
	// RedirectTo and From are set for PhaseUnauthenticated
	RedirectTo string `json:"redirect_to,omitempty"`
	From       string `json:"from,omitempty"`
	// Role and Home are set for PhaseUnauthorized
	Role UserRole `json:"role,omitempty"`
	Home string   `json:"home,omitempty"`
}

// Allowed reports whether the protected content may render
func (d Decision) Allowed() bool {
	return d.Phase == PhaseAuthorized
}

// Guard decides how a protected location renders for a state.
// Guards never perform I/O.
type Guard interface {
	Evaluate(state AuthState, location string) Decision
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func(state AuthState, location string) Decision

func (f GuardFunc) Evaluate(state AuthState, location string) Decision {
	return f(state, location)
}

// SessionGuard admits any session with a resolved profile
type SessionGuard struct{}

func (SessionGuard) Evaluate(state AuthState, location string) Decision {
	switch {
	case !state.Initialized:
		return Decision{Phase: PhaseUninitialized}
	case state.Session == nil:
		return Decision{
			Phase:      PhaseUnauthenticated,
			RedirectTo: LoginRoute,
			From:       location,
		}
	case state.Profile == nil:
		return Decision{Phase: PhaseAwaitingProfile}
	default:
		return Decision{Phase: PhaseAuthorized}
	}
}

// RoleGuard extends SessionGuard with a set of allowed roles. Aliases
// are equivalent: allowing RolePaciente admits RolePatient.
type RoleGuard struct {
	Allowed []UserRole
	Home    string
}

// NewRoleGuard returns a guard admitting the given roles
func NewRoleGuard(allowed ...UserRole) RoleGuard {
	return RoleGuard{Allowed: allowed}
}

func (g RoleGuard) Evaluate(state AuthState, location string) Decision {
	d := SessionGuard{}.Evaluate(state, location)
	if d.Phase != PhaseAuthorized {
		return d
	}

	if HasAccess(state.Role, g.Allowed...) {
		return d
	}

	home := g.Home
	if home == "" {
		home = HomeRoute
	}

	return Decision{
		Phase: PhaseUnauthorized,
		Role:  state.RoleLabel(),
		Home:  home,
	}
}
