package rbac

type Role string
type Action string

const (
	RoleMember    Role = "member"
	RoleTrusted   Role = "trusted"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionSubmit   Action = "submit"
	ActionModerate Action = "moderate"
	ActionEditAny  Action = "edit_any"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionRead || action == ActionComment || action == ActionSubmit || action == ActionModerate
	case RoleTrusted, RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionSubmit
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to member.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleTrusted, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// Reviewers lists the roles that receive moderation requests.
func Reviewers() []string {
	return []string{string(RoleModerator), string(RoleAdmin)}
}
