// Package authz guards user administration: who may change a role and who may remove a user.
package authz

import (
	"fmt"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"

	"github.com/google/uuid"
)

// Subject is the minimum an authorization decision needs to know about a user.
type Subject struct {
	ID   uuid.UUID
	Role string
}

// SubjectOf builds a Subject from a stored user.
func SubjectOf(u *model.User) Subject {
	return Subject{ID: u.ID, Role: u.Role}
}

// CheckRoleChange allows an administrator to change the role of another, non-administrator user.
// Requesting the role the target already has is allowed and changes nothing.
func CheckRoleChange(actor, target Subject, requestedRole string) error {
	if !model.IsValidRole(requestedRole) {
		return apperror.NewValidation("role", fmt.Sprintf("unknown role %q", requestedRole))
	}
	if target.Role == requestedRole {
		return nil
	}
	if actor.Role != model.RoleAdmin {
		return apperror.Forbidden("only administrators can change roles")
	}
	if actor.ID == target.ID {
		return apperror.Forbidden("administrators cannot change their own role")
	}
	if target.Role == model.RoleAdmin {
		return apperror.Forbidden("cannot change the role of another administrator")
	}
	return nil
}

// CheckUserDeletion allows an administrator to delete any user but themselves.
func CheckUserDeletion(actor, target Subject) error {
	if actor.Role != model.RoleAdmin {
		return apperror.Forbidden("only administrators can delete users")
	}
	if actor.ID == target.ID {
		return apperror.Forbidden("administrators cannot delete themselves")
	}
	return nil
}
