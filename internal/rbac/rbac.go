// Package rbac maps host-site roles onto the capabilities deskbridge checks.
package rbac

type Role string
type Action string

const (
	RoleSubscriber    Role = "subscriber"
	RoleContributor   Role = "contributor"
	RoleEditor        Role = "editor"
	RoleAdministrator Role = "administrator"
)

const (
	// ActionViewIssues covers embedded issue tables and a user's own requests.
	ActionViewIssues Action = "view_issues"
	// ActionViewOthers lets a caller list another account's support requests.
	ActionViewOthers Action = "list_users"
	// ActionManagePlugins gates every settings read and write.
	ActionManagePlugins Action = "activate_plugins"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdministrator:
		return true
	case RoleEditor:
		return action == ActionViewIssues || action == ActionViewOthers
	case RoleContributor, RoleSubscriber:
		return action == ActionViewIssues
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleSubscriber, RoleContributor, RoleEditor, RoleAdministrator:
		return Role(role)
	default:
		return RoleSubscriber
	}
}
