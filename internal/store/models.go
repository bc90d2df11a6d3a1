package store

import "time"

// IssueType classifies an issue.
type IssueType string

const (
	IssueTask  IssueType = "TASK"
	IssueBug   IssueType = "BUG"
	IssueStory IssueType = "STORY"
)

// IssuePriority orders issues by urgency.
type IssuePriority string

const (
	PriorityLow    IssuePriority = "LOW"
	PriorityMedium IssuePriority = "MEDIUM"
	PriorityHigh   IssuePriority = "HIGH"
	PriorityUrgent IssuePriority = "URGENT"
)

// IssueStatus is the board column an issue sits in.
type IssueStatus string

const (
	StatusTodo       IssueStatus = "TODO"
	StatusInProgress IssueStatus = "IN_PROGRESS"
	StatusInReview   IssueStatus = "IN_REVIEW"
	StatusDone       IssueStatus = "DONE"
)

// SprintStatus is the lifecycle state of a sprint.
// Transitions only move forward: PLANNED -> ACTIVE -> CLOSED.
type SprintStatus string

const (
	SprintPlanned SprintStatus = "PLANNED"
	SprintActive  SprintStatus = "ACTIVE"
	SprintClosed  SprintStatus = "CLOSED"
)

// ActivityType enumerates the audited event kinds.
type ActivityType string

const (
	ActivityIssueCreated         ActivityType = "ISSUE_CREATED"
	ActivityIssueStatusChanged   ActivityType = "ISSUE_STATUS_CHANGED"
	ActivityIssueAssigneeChanged ActivityType = "ISSUE_ASSIGNEE_CHANGED"
	ActivityIssueCommentAdded    ActivityType = "ISSUE_COMMENT_ADDED"
	ActivityIssueSprintChanged   ActivityType = "ISSUE_SPRINT_CHANGED"
	ActivitySprintStatusChanged  ActivityType = "SPRINT_STATUS_CHANGED"
)

type User struct {
	ID                    string     `db:"id"`
	Name                  string     `db:"name"`
	Email                 string     `db:"email"`
	PasswordHash          string     `db:"password_hash"`
	EmailVerifiedAt       *time.Time `db:"email_verified_at"`
	VerificationToken     string     `db:"verification_token"`
	VerificationExpiresAt *time.Time `db:"verification_expires_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

type Project struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Key         string    `db:"key"`
	Description *string   `db:"description"`
	CreatedBy   string    `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type ProjectMember struct {
	ID        string    `db:"id"`
	ProjectID string    `db:"project_id"`
	UserID    string    `db:"user_id"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

// MemberInfo is a membership joined with user identity for listings.
type MemberInfo struct {
	UserID string `db:"user_id"`
	Role   string `db:"role"`
	Name   string `db:"name"`
	Email  string `db:"email"`
}

type Issue struct {
	ID          string        `db:"id"`
	ProjectID   string        `db:"project_id"`
	SprintID    *string       `db:"sprint_id"`
	Title       string        `db:"title"`
	Description *string       `db:"description"`
	Type        IssueType     `db:"type"`
	Priority    IssuePriority `db:"priority"`
	Status      IssueStatus   `db:"status"`
	StoryPoints *int          `db:"story_points"`
	AssigneeID  *string       `db:"assignee_id"`
	ReporterID  string        `db:"reporter_id"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

type Sprint struct {
	ID        string       `db:"id"`
	ProjectID string       `db:"project_id"`
	Name      string       `db:"name"`
	StartDate *time.Time   `db:"start_date"`
	EndDate   *time.Time   `db:"end_date"`
	Status    SprintStatus `db:"status"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

type Comment struct {
	ID        string    `db:"id"`
	IssueID   string    `db:"issue_id"`
	AuthorID  string    `db:"author_id"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}

// CommentInfo is a comment joined with its author's name.
type CommentInfo struct {
	Comment
	AuthorName string `db:"author_name"`
}

// Activity is one append-only audit record. Meta is stored as jsonb.
type Activity struct {
	ID        int64          `db:"id"`
	ProjectID string         `db:"project_id"`
	ActorID   string         `db:"actor_id"`
	Type      ActivityType   `db:"type"`
	IssueID   *string        `db:"issue_id"`
	SprintID  *string        `db:"sprint_id"`
	Meta      map[string]any `db:"-"`
	CreatedAt time.Time      `db:"created_at"`
}
