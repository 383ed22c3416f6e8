package domain

// Role enumerates engine-level permissions carried in bearer tokens.
type Role string

const (
	RoleAgent    Role = "AGENT"
	RoleApprover Role = "APPROVER"
	RoleAdmin    Role = "ADMIN"
)

// Principal is an opaque directory identity plus the roles it was issued with.
type Principal struct {
	ID    string
	Roles []Role
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
