package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"minijira/api/internal/search"
	"minijira/api/internal/store"
	"minijira/api/internal/util"
)

type CreateIssueInput struct {
	Title       string `json:"title" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"omitempty,max=5000"`
	Type        string `json:"type" validate:"omitempty,oneof=TASK BUG STORY"`
	Priority    string `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	StoryPoints *int   `json:"storyPoints" validate:"omitempty,min=0,max=100"`
}

// CreateIssue files an issue in the project backlog. Any member may create;
// the caller becomes the reporter.
func (s *Service) CreateIssue(ctx context.Context, callerID, projectID string, input CreateIssueInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, callerID, projectID, ""); err != nil {
		return nil, err
	}

	issue := store.Issue{
		ID:         util.NewID(),
		ProjectID:  projectID,
		Title:      strings.TrimSpace(input.Title),
		Type:       store.IssueTask,
		Priority:   store.PriorityMedium,
		Status:     store.StatusTodo,
		ReporterID: callerID,
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		issue.Description = &desc
	}
	if input.Type != "" {
		issue.Type = store.IssueType(input.Type)
	}
	if input.Priority != "" {
		issue.Priority = store.IssuePriority(input.Priority)
	}
	issue.StoryPoints = input.StoryPoints

	if err := s.store.InsertIssue(ctx, issue); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, store.Activity{
		ProjectID: projectID,
		ActorID:   callerID,
		Type:      store.ActivityIssueCreated,
		IssueID:   &issue.ID,
		Meta:      map[string]any{"title": issue.Title},
	})
	s.indexIssue(issue)

	return issuePayload(issue), nil
}

func (s *Service) ListIssues(ctx context.Context, callerID, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, callerID, projectID, ""); err != nil {
		return nil, err
	}
	issues, err := s.store.ListIssues(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		items = append(items, issuePayload(issue))
	}
	return items, nil
}

// SearchIssues runs a full-text query scoped to the project.
func (s *Service) SearchIssues(ctx context.Context, callerID, projectID, query string, limit, offset int) (map[string]any, error) {
	if _, err := s.authorize(ctx, callerID, projectID, ""); err != nil {
		return nil, err
	}
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0, "query": query}, nil
	}
	resp := s.search.Search(search.Query{
		Text:      query,
		ProjectID: projectID,
		Limit:     limit,
		Offset:    offset,
	})
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	}, nil
}

// GetIssue resolves an issue through the membership-scoped lookup, so callers
// outside the project get the same 404 as a nonexistent id.
func (s *Service) GetIssue(ctx context.Context, callerID, issueID string) (map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	issue, err := s.store.GetIssueForMember(ctx, issueID, callerID)
	if err != nil {
		return nil, err
	}
	return issuePayload(issue), nil
}

// ChangeIssueStatus moves an issue between board columns.
func (s *Service) ChangeIssueStatus(ctx context.Context, callerID, issueID string, status store.IssueStatus) (map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if !validIssueStatus(status) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown issue status", nil)
	}

	issue, err := s.store.GetIssueForMember(ctx, issueID, callerID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateIssueStatus(ctx, issueID, status); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, store.Activity{
		ProjectID: issue.ProjectID,
		ActorID:   callerID,
		Type:      store.ActivityIssueStatusChanged,
		IssueID:   &issue.ID,
		Meta:      map[string]any{"from": issue.Status, "to": status},
	})

	issue.Status = status
	s.indexIssue(issue)
	return issuePayload(issue), nil
}

// ChangeIssueAssignee sets or clears the assignee. A non-nil assignee must be
// a member of the issue's project.
func (s *Service) ChangeIssueAssignee(ctx context.Context, callerID, issueID string, assigneeID *string) (map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}

	issue, err := s.store.GetIssueForMember(ctx, issueID, callerID)
	if err != nil {
		return nil, err
	}

	if assigneeID != nil {
		if !util.IsID(*assigneeID) {
			return nil, domainError(http.StatusBadRequest, "INVALID_ID", "Malformed assignee id", nil)
		}
		if _, err := s.store.GetMembership(ctx, issue.ProjectID, *assigneeID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Assignee must be a project member", nil)
			}
			return nil, err
		}
	}

	if err := s.store.UpdateIssueAssignee(ctx, issueID, assigneeID); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, store.Activity{
		ProjectID: issue.ProjectID,
		ActorID:   callerID,
		Type:      store.ActivityIssueAssigneeChanged,
		IssueID:   &issue.ID,
		Meta:      map[string]any{"from": issue.AssigneeID, "to": assigneeID},
	})

	issue.AssigneeID = assigneeID
	return issuePayload(issue), nil
}

// ChangeIssueSprint attaches the issue to a sprint or detaches it (nil).
// Both directions read the sprint fresh: a CLOSED sprint blocks the mutation,
// and an attach target must belong to the issue's project.
func (s *Service) ChangeIssueSprint(ctx context.Context, callerID, issueID string, sprintID *string) (map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}

	issue, err := s.store.GetIssueForMember(ctx, issueID, callerID)
	if err != nil {
		return nil, err
	}

	if sprintID != nil {
		if !util.IsID(*sprintID) {
			return nil, domainError(http.StatusBadRequest, "INVALID_ID", "Malformed sprint id", nil)
		}
		sprint, err := s.store.GetSprint(ctx, *sprintID, issue.ProjectID)
		if err != nil {
			return nil, err
		}
		if sprint.Status == store.SprintClosed {
			return nil, domainError(http.StatusBadRequest, "SPRINT_CLOSED", "Cannot move issues into a closed sprint", nil)
		}
	} else if issue.SprintID != nil {
		current, err := s.store.GetSprint(ctx, *issue.SprintID, issue.ProjectID)
		if err != nil {
			return nil, err
		}
		if current.Status == store.SprintClosed {
			return nil, domainError(http.StatusBadRequest, "SPRINT_CLOSED", "Cannot move issues out of a closed sprint", nil)
		}
	}

	if err := s.store.UpdateIssueSprint(ctx, issueID, sprintID); err != nil {
		return nil, err
	}

	// Reference the attached sprint, or on detach the one just left.
	activitySprint := sprintID
	if activitySprint == nil {
		activitySprint = issue.SprintID
	}
	s.recordActivity(ctx, store.Activity{
		ProjectID: issue.ProjectID,
		ActorID:   callerID,
		Type:      store.ActivityIssueSprintChanged,
		IssueID:   &issue.ID,
		SprintID:  activitySprint,
		Meta:      map[string]any{"from": issue.SprintID, "to": sprintID},
	})

	issue.SprintID = sprintID
	return issuePayload(issue), nil
}

// ── Comments ──

type AddCommentInput struct {
	Body      string `json:"body" validate:"required,min=1,max=2000"`
	ProjectID string `json:"projectId" validate:"required"`
}

// AddComment appends an immutable comment to an issue.
func (s *Service) AddComment(ctx context.Context, callerID, issueID string, input AddCommentInput) (map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if !util.IsID(input.ProjectID) {
		return nil, domainError(http.StatusBadRequest, "INVALID_ID", "Malformed project id", nil)
	}

	issue, err := s.store.GetIssueForMember(ctx, issueID, callerID)
	if err != nil {
		return nil, err
	}
	if issue.ProjectID != input.ProjectID {
		return nil, sql.ErrNoRows
	}

	comment := store.Comment{
		ID:       util.NewID(),
		IssueID:  issue.ID,
		AuthorID: callerID,
		Body:     input.Body,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, store.Activity{
		ProjectID: issue.ProjectID,
		ActorID:   callerID,
		Type:      store.ActivityIssueCommentAdded,
		IssueID:   &issue.ID,
		Meta:      map[string]any{"preview": commentPreview(input.Body)},
	})

	return map[string]any{
		"id":        comment.ID,
		"issueId":   comment.IssueID,
		"authorId":  comment.AuthorID,
		"body":      comment.Body,
		"createdAt": comment.CreatedAt,
	}, nil
}

func (s *Service) ListComments(ctx context.Context, callerID, issueID string) ([]map[string]any, error) {
	if callerID == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if _, err := s.store.GetIssueForMember(ctx, issueID, callerID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, issueID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, commentPayload(c))
	}
	return items, nil
}

// indexIssue pushes the issue into the search index, best effort.
func (s *Service) indexIssue(issue store.Issue) {
	if s.search == nil {
		return
	}
	description := ""
	if issue.Description != nil {
		description = *issue.Description
	}
	s.search.IndexIssue(search.IssueRecord{
		ID:          issue.ID,
		ProjectID:   issue.ProjectID,
		Title:       issue.Title,
		Description: description,
		Type:        string(issue.Type),
		Priority:    string(issue.Priority),
		Status:      string(issue.Status),
	})
}
