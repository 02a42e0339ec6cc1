package session

import "github.com/rpggio/atelier/internal/domain/operation"

// Allows reports whether a participant with the given role holds perm.
// Every role receives the "all" group; owners additionally receive the
// "owner" group and collaborators the "collaborators" group.
func (s Settings) Allows(role Role, perm Permission) bool {
	groups := []string{GroupAll}
	switch role {
	case RoleOwner:
		groups = append(groups, GroupOwner)
	case RoleCollaborator:
		groups = append(groups, GroupCollaborators)
	}
	for _, group := range groups {
		for _, granted := range s.Permissions[group] {
			if granted == perm {
				return true
			}
		}
	}
	return false
}

// RequiredPermission returns the permission needed to submit an operation type.
func RequiredPermission(t operation.Type) Permission {
	switch t {
	case operation.TypeComment:
		return PermissionComment
	case operation.TypeCursorMove, operation.TypeSelection:
		return PermissionView
	default:
		return PermissionEdit
	}
}
