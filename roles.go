package authstate

import "strings"

// UserRole is the access control category stored on a profile
type UserRole = string

const (
	// RoleAdmin manages the portal
	RoleAdmin UserRole = "admin"
	// RolePaciente is the spanish alias of RolePatient
	RolePaciente UserRole = "paciente"
	// RolePatient is a patient
	RolePatient UserRole = "patient"
	// RoleEspecialista is the spanish alias of RoleSpecialist
	RoleEspecialista UserRole = "especialista"
	// RoleSpecialist is a medical specialist
	RoleSpecialist UserRole = "specialist"
)

// LeastPrivilegeRole is assigned to fallback and metadata-less profiles
const LeastPrivilegeRole = RolePaciente

// NoRoleLabel is shown when a session has no resolved role
const NoRoleLabel = "sin rol"

var canonicalRoles = map[UserRole]UserRole{
	RoleAdmin:        RoleAdmin,
	RolePaciente:     RolePatient,
	RolePatient:      RolePatient,
	RoleEspecialista: RoleSpecialist,
	RoleSpecialist:   RoleSpecialist,
}

// CanonicalRole maps every bilingual alias onto a single internal value.
// Unknown values are returned trimmed and lower cased so they only ever
// match themselves.
func CanonicalRole(role UserRole) UserRole {
	r := strings.ToLower(strings.TrimSpace(role))
	if c, ok := canonicalRoles[r]; ok {
		return c
	}
	return r
}

// IsValidRole checks if the role is one of the predefined roles or aliases
func IsValidRole(role UserRole) bool {
	_, ok := canonicalRoles[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// ParseRole safely parses a string into a UserRole
func ParseRole(roleStr string) (UserRole, bool) {
	role := strings.ToLower(strings.TrimSpace(roleStr))
	return role, IsValidRole(role)
}

// RolesEquivalent reports whether both roles are the same after alias resolution
func RolesEquivalent(a, b UserRole) bool {
	if a == "" || b == "" {
		return false
	}
	return CanonicalRole(a) == CanonicalRole(b)
}

// HasAccess reports whether role is admitted by any of the allowed roles.
// An empty role never has access.
func HasAccess(role UserRole, allowed ...UserRole) bool {
	if role == "" {
		return false
	}
	for _, a := range allowed {
		if RolesEquivalent(role, a) {
			return true
		}
	}
	return false
}

func IsAdmin(role UserRole) bool {
	return CanonicalRole(role) == RoleAdmin
}

func IsPatient(role UserRole) bool {
	return role != "" && CanonicalRole(role) == RolePatient
}

func IsSpecialist(role UserRole) bool {
	return role != "" && CanonicalRole(role) == RoleSpecialist
}

// GetAllRoles returns the canonical roles
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleAdmin,
		RolePatient,
		RoleSpecialist,
	}
}
