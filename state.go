package authstate

// AuthState is the single aggregate owned by a Store. Values handed out by
// the store are snapshots and must be treated as read only.
type AuthState struct {
	Session                *Session     `json:"session"`
	User                   *User        `json:"user"`
	Profile                *UserProfile `json:"profile"`
	Role                   UserRole     `json:"role"`
	Loading                bool         `json:"loading"`
	Error                  string       `json:"error"`
	Initialized            bool         `json:"initialized"`
	IsUsingFallbackProfile bool         `json:"is_using_fallback_profile"`
}

// Authenticated reports whether a session is present
func (s AuthState) Authenticated() bool {
	return s.Session != nil
}

// HasRole reports whether the current role is admitted by any of the
// allowed roles, treating bilingual aliases as equivalent.
func (s AuthState) HasRole(allowed ...UserRole) bool {
	return HasAccess(s.Role, allowed...)
}

// HasExactRole compares the stored role without alias resolution
func (s AuthState) HasExactRole(role UserRole) bool {
	return s.Role != "" && s.Role == role
}

func (s AuthState) IsAdmin() bool {
	return IsAdmin(s.Role)
}

func (s AuthState) IsPatient() bool {
	return IsPatient(s.Role)
}

func (s AuthState) IsSpecialist() bool {
	return IsSpecialist(s.Role)
}

// RoleLabel returns the role or the placeholder used by views for no role
func (s AuthState) RoleLabel() string {
	if s.Role == "" {
		return NoRoleLabel
	}
	return s.Role
}

func roleOf(p *UserProfile) UserRole {
	if p == nil {
		return ""
	}
	return p.Role
}

func clearIdentity(s *AuthState) {
	s.Session = nil
	s.User = nil
	s.Profile = nil
	s.Role = ""
	s.IsUsingFallbackProfile = false
}
