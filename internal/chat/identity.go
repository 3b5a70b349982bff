package chat

import "strings"

// Role classifies a chat participant. It always comes from the identity
// payload of the user:join handshake, never from heuristics on the email
// address.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	RoleUnknown  Role = "unknown"
)

// ParseRole maps a wire-level role string onto a Role. Anything it does not
// recognize becomes RoleUnknown rather than being guessed at.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "customer":
		return RoleCustomer
	case "provider":
		return RoleProvider
	case "admin", "admin_as_provider":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// Identity is who a connection speaks for once authenticated. UserID is the
// stable account identifier (the account email in this deployment).
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
	Role        Role   `json:"userRole"`
}

func (id Identity) Valid() bool {
	return strings.TrimSpace(id.UserID) != ""
}
