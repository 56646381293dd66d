package rbac

type Role string
type Action string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleClient:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleClient, RoleAdmin:
		return Role(role)
	default:
		return RoleClient
	}
}

// Valid reports whether role is one of the assignable roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleClient, RoleAdmin:
		return true
	default:
		return false
	}
}

// Derive collapses an identity's role rows into its effective role:
// admin wins over everything, and no rows at all means client.
func Derive(roles []string) Role {
	derived := RoleClient
	for _, role := range roles {
		if Role(role) == RoleAdmin {
			return RoleAdmin
		}
	}
	return derived
}
