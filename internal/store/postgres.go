package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrConflict is returned when an insert violates a uniqueness constraint
// (duplicate project key, duplicate membership, duplicate email).
var ErrConflict = errors.New("conflict")

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.VerificationToken, user.VerificationExpiresAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", user.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id=$1`, id)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email=$1`, email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByVerificationToken(ctx context.Context, token string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE verification_token=$1 AND email_verified_at IS NULL
	`, token)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email_verified_at=NOW(), verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// ── Projects & memberships ──

// CreateProject inserts the project and its creator's ADMIN membership in one
// transaction, so a project can never exist without an admin.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project, memberID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, key, description, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.Name, project.Key, project.Description, project.CreatedBy)
	if isUniqueViolation(err) {
		return fmt.Errorf("project key %s: %w", project.Key, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role)
		VALUES ($1, $2, $3, 'ADMIN')
	`, memberID, project.ID, project.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	projects := make([]Project, 0)
	err := s.db.SelectContext(ctx, &projects, `
		SELECT p.* FROM projects p
		JOIN project_members pm ON pm.project_id = p.id
		WHERE pm.user_id = $1
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, projectID, userID string) (ProjectMember, error) {
	var member ProjectMember
	err := s.db.GetContext(ctx, &member, `
		SELECT * FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID)
	if err != nil {
		return ProjectMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) InsertMember(ctx context.Context, member ProjectMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.ProjectID, member.UserID, member.Role)
	if isUniqueViolation(err) {
		return fmt.Errorf("membership: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]MemberInfo, error) {
	members := make([]MemberInfo, 0)
	err := s.db.SelectContext(ctx, &members, `
		SELECT pm.user_id, pm.role, u.name, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1
		ORDER BY pm.role ASC, u.name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// ── Issues ──

// issues carries a generated fts column, so selects enumerate the scannable
// columns instead of using *.
const issueColumns = `id, project_id, title, description, type, priority, status, story_points, assignee_id, reporter_id, sprint_id, created_at, updated_at`

func (s *PostgresStore) InsertIssue(ctx context.Context, issue Issue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, project_id, title, description, type, priority, status, story_points, reporter_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, issue.ID, issue.ProjectID, issue.Title, issue.Description, issue.Type, issue.Priority, issue.Status, issue.StoryPoints, issue.ReporterID)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIssues(ctx context.Context, projectID string) ([]Issue, error) {
	issues := make([]Issue, 0)
	err := s.db.SelectContext(ctx, &issues, `
		SELECT `+issueColumns+` FROM issues WHERE project_id=$1 ORDER BY updated_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

// GetIssueForMember resolves an issue only when the caller is a member of its
// project. Existence and visibility are answered by the same lookup, so the
// sql.ErrNoRows result does not reveal whether the issue exists at all.
func (s *PostgresStore) GetIssueForMember(ctx context.Context, issueID, userID string) (Issue, error) {
	var issue Issue
	err := s.db.GetContext(ctx, &issue, `
		SELECT i.id, i.project_id, i.title, i.description, i.type, i.priority, i.status,
			i.story_points, i.assignee_id, i.reporter_id, i.sprint_id, i.created_at, i.updated_at
		FROM issues i
		JOIN project_members pm ON pm.project_id = i.project_id AND pm.user_id = $2
		WHERE i.id = $1
	`, issueID, userID)
	if err != nil {
		return Issue{}, err
	}
	return issue, nil
}

func (s *PostgresStore) UpdateIssueStatus(ctx context.Context, issueID string, status IssueStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issues SET status=$2, updated_at=NOW() WHERE id=$1
	`, issueID, status)
	if err != nil {
		return fmt.Errorf("update issue status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIssueAssignee(ctx context.Context, issueID string, assigneeID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issues SET assignee_id=$2, updated_at=NOW() WHERE id=$1
	`, issueID, assigneeID)
	if err != nil {
		return fmt.Errorf("update issue assignee: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIssueSprint(ctx context.Context, issueID string, sprintID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issues SET sprint_id=$2, updated_at=NOW() WHERE id=$1
	`, issueID, sprintID)
	if err != nil {
		return fmt.Errorf("update issue sprint: %w", err)
	}
	return nil
}

// ── Sprints ──

func (s *PostgresStore) InsertSprint(ctx context.Context, sprint Sprint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sprints (id, project_id, name, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sprint.ID, sprint.ProjectID, sprint.Name, sprint.StartDate, sprint.EndDate, sprint.Status)
	if err != nil {
		return fmt.Errorf("insert sprint: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSprints(ctx context.Context, projectID string) ([]Sprint, error) {
	sprints := make([]Sprint, 0)
	err := s.db.SelectContext(ctx, &sprints, `
		SELECT * FROM sprints WHERE project_id=$1 ORDER BY updated_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	return sprints, nil
}

// GetSprint scopes the lookup to a project so a sprint id from another
// project resolves as not found.
func (s *PostgresStore) GetSprint(ctx context.Context, sprintID, projectID string) (Sprint, error) {
	var sprint Sprint
	err := s.db.GetContext(ctx, &sprint, `
		SELECT * FROM sprints WHERE id=$1 AND project_id=$2
	`, sprintID, projectID)
	if err != nil {
		return Sprint{}, err
	}
	return sprint, nil
}

func (s *PostgresStore) UpdateSprintStatus(ctx context.Context, sprintID string, status SprintStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sprints SET status=$2, updated_at=NOW() WHERE id=$1
	`, sprintID, status)
	if err != nil {
		return fmt.Errorf("update sprint status: %w", err)
	}
	return nil
}

// ── Comments ──

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, issue_id, author_id, body)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.IssueID, comment.AuthorID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, issueID string) ([]CommentInfo, error) {
	comments := make([]CommentInfo, 0)
	err := s.db.SelectContext(ctx, &comments, `
		SELECT c.*, u.name AS author_name
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.issue_id = $1
		ORDER BY c.created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// ── Activity ──

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	var meta []byte
	if activity.Meta != nil {
		encoded, err := json.Marshal(activity.Meta)
		if err != nil {
			return fmt.Errorf("marshal activity meta: %w", err)
		}
		meta = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (project_id, actor_id, type, issue_id, sprint_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, activity.ProjectID, activity.ActorID, activity.Type, activity.IssueID, activity.SprintID, meta)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, projectID string, limit int) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, actor_id, type, issue_id, sprint_id, meta, created_at
		FROM activities
		WHERE project_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var item Activity
		var meta []byte
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.ActorID, &item.Type, &item.IssueID, &item.SprintID, &meta, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal activity meta: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

// ── Refresh sessions (fallback when Redis is not configured) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Name, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
