package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"minijira/api/internal/rbac"
	"minijira/api/internal/store"
	"minijira/api/internal/util"
)

type CreateProjectInput struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Key         string `json:"key" validate:"required,projectkey"`
	Description string `json:"description" validate:"omitempty,max=500"`
}

// CreateProject creates the project and makes the caller its first ADMIN
// member in the same transaction.
func (s *Service) CreateProject(ctx context.Context, callerID string, input CreateProjectInput) (map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	project := store.Project{
		ID:        util.NewID(),
		Name:      strings.TrimSpace(input.Name),
		Key:       input.Key,
		CreatedBy: callerID,
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		project.Description = &desc
	}

	if err := s.store.CreateProject(ctx, project, util.NewID()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "CONFLICT", "Project key already in use", nil)
		}
		return nil, err
	}

	return projectPayload(project), nil
}

func (s *Service) ListProjects(ctx context.Context, callerID string) ([]map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	projects, err := s.store.ListProjectsForUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectPayload(p))
	}
	return items, nil
}

// ── Members ──

type AddMemberInput struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=ADMIN MEMBER"`
}

// AddMember invites an existing user to the project by email. ADMIN only.
func (s *Service) AddMember(ctx context.Context, callerID, projectID string, input AddMemberInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, callerID, projectID, rbac.RoleAdmin); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No user with that email", nil)
		}
		return nil, err
	}

	member := store.ProjectMember{
		ID:        util.NewID(),
		ProjectID: projectID,
		UserID:    user.ID,
		Role:      string(rbac.Normalize(input.Role)),
	}
	if err := s.store.InsertMember(ctx, member); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "CONFLICT", "User is already a member", nil)
		}
		return nil, err
	}

	return map[string]any{
		"userId": user.ID,
		"role":   member.Role,
		"name":   user.Name,
		"email":  user.Email,
	}, nil
}

func (s *Service) ListMembers(ctx context.Context, callerID, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, callerID, projectID, ""); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, memberPayload(m))
	}
	return items, nil
}

// ── Sprints ──

type CreateSprintInput struct {
	Name      string `json:"name" validate:"required,min=1,max=100"`
	StartDate string `json:"startDate" validate:"omitempty"`
	EndDate   string `json:"endDate" validate:"omitempty"`
}

// CreateSprint creates a sprint in PLANNED state. ADMIN only.
func (s *Service) CreateSprint(ctx context.Context, callerID, projectID string, input CreateSprintInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, callerID, projectID, rbac.RoleAdmin); err != nil {
		return nil, err
	}

	startDate, err := parseOptionalDate(input.StartDate, "startDate")
	if err != nil {
		return nil, err
	}
	endDate, err := parseOptionalDate(input.EndDate, "endDate")
	if err != nil {
		return nil, err
	}

	sprint := store.Sprint{
		ID:        util.NewID(),
		ProjectID: projectID,
		Name:      strings.TrimSpace(input.Name),
		StartDate: startDate,
		EndDate:   endDate,
		Status:    store.SprintPlanned,
	}
	if err := s.store.InsertSprint(ctx, sprint); err != nil {
		return nil, err
	}

	return sprintPayload(sprint), nil
}

func (s *Service) ListSprints(ctx context.Context, callerID, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, callerID, projectID, ""); err != nil {
		return nil, err
	}
	sprints, err := s.store.ListSprints(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sprints))
	for _, sp := range sprints {
		items = append(items, sprintPayload(sp))
	}
	return items, nil
}

// ChangeSprintStatus applies a lifecycle transition. ADMIN only; the current
// status is read fresh so the transition check never acts on stale state.
func (s *Service) ChangeSprintStatus(ctx context.Context, callerID, projectID, sprintID string, requested store.SprintStatus) (map[string]any, error) {
	if _, err := s.authorize(ctx, callerID, projectID, rbac.RoleAdmin); err != nil {
		return nil, err
	}

	sprint, err := s.store.GetSprint(ctx, sprintID, projectID)
	if err != nil {
		return nil, err
	}

	if err := checkTransition(sprint.Status, requested); err != nil {
		return nil, err
	}

	if err := s.store.UpdateSprintStatus(ctx, sprintID, requested); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, store.Activity{
		ProjectID: projectID,
		ActorID:   callerID,
		Type:      store.ActivitySprintStatusChanged,
		SprintID:  &sprint.ID,
		Meta:      map[string]any{"from": sprint.Status, "to": requested},
	})

	sprint.Status = requested
	return sprintPayload(sprint), nil
}

// ── Activity feed ──

func (s *Service) ListActivity(ctx context.Context, callerID, projectID string, limit int) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, callerID, projectID, ""); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	activities, err := s.store.ListActivity(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(activities))
	for _, a := range activities {
		items = append(items, activityPayload(a))
	}
	return items, nil
}

func parseOptionalDate(value, field string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed, nil
		}
	}
	return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", field+" must be an RFC 3339 date", nil)
}
