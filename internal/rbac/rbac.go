package rbac

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Satisfies reports whether a held role meets a required one.
// Only ADMIN satisfies an ADMIN requirement; every known role satisfies MEMBER.
func Satisfies(held, required Role) bool {
	switch required {
	case RoleAdmin:
		return held == RoleAdmin
	case RoleMember:
		return held == RoleAdmin || held == RoleMember
	default:
		return false
	}
}

// Valid reports whether role is one of the known project roles.
func Valid(role Role) bool {
	return role == RoleAdmin || role == RoleMember
}

// Normalize maps an arbitrary string to a known role, defaulting to MEMBER.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}
