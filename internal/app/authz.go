package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"minijira/api/internal/rbac"
	"minijira/api/internal/store"
)

// authorize resolves whether the caller may act on a project-scoped resource.
// An absent caller identity is a distinct failure (401) from a caller who is
// simply not a member (403). When a role requirement is given, the membership
// role must satisfy it. Read-only; the returned membership carries the role.
func (s *Service) authorize(ctx context.Context, callerID, projectID string, required rbac.Role) (store.ProjectMember, error) {
	if callerID == "" {
		return store.ProjectMember{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}

	member, err := s.store.GetMembership(ctx, projectID, callerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ProjectMember{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		return store.ProjectMember{}, err
	}

	if required != "" && !rbac.Satisfies(rbac.Role(member.Role), required) {
		return store.ProjectMember{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	return member, nil
}
