// Package app holds the service orchestration and HTTP layer: every mutating
// operation runs the same sequence of authenticate, authorize, validate,
// mutate, and record.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"minijira/api/internal/auth"
	"minijira/api/internal/authpw"
	"minijira/api/internal/config"
	"minijira/api/internal/email"
	"minijira/api/internal/search"
	"minijira/api/internal/store"
	"minijira/api/internal/util"
)

// Session is the resolved caller identity attached to every handler call.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the persistence surface the service depends on.
type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)

	CreateProject(context.Context, store.Project, string) error
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	GetMembership(context.Context, string, string) (store.ProjectMember, error)
	InsertMember(context.Context, store.ProjectMember) error
	ListMembers(context.Context, string) ([]store.MemberInfo, error)

	InsertIssue(context.Context, store.Issue) error
	ListIssues(context.Context, string) ([]store.Issue, error)
	GetIssueForMember(context.Context, string, string) (store.Issue, error)
	UpdateIssueStatus(context.Context, string, store.IssueStatus) error
	UpdateIssueAssignee(context.Context, string, *string) error
	UpdateIssueSprint(context.Context, string, *string) error

	InsertSprint(context.Context, store.Sprint) error
	ListSprints(context.Context, string) ([]store.Sprint, error)
	GetSprint(context.Context, string, string) (store.Sprint, error)
	UpdateSprintStatus(context.Context, string, store.SprintStatus) error

	InsertComment(context.Context, store.Comment) error
	ListComments(context.Context, string) ([]store.CommentInfo, error)

	InsertActivity(context.Context, store.Activity) error
	ListActivity(context.Context, string, int) ([]store.Activity, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions. Implemented by session.RedisStore and,
// when Redis is not configured, by store.PostgresStore.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
}

// New wires the service. email and search may be nil when not configured.
func New(cfg config.Config, dataStore dataStore, sessions sessionStore, authSvc *authpw.Service, emailSvc *email.Service, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		email:    emailSvc,
		search:   searchSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SMTPConfigured reports whether verification mail can actually be sent.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// ── Registration & verification ──

type RegisterResult struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
	EmailSent           bool
}

// Register creates the account and sends the verification mail when SMTP is
// configured. Without SMTP the token is surfaced to the caller instead.
func (s *Service) Register(ctx context.Context, name, emailAddr, password string) (RegisterResult, error) {
	resp, err := s.authpw.Register(ctx, authpw.RegisterRequest{
		Name:     name,
		Email:    emailAddr,
		Password: password,
	})
	if err != nil {
		return RegisterResult{}, err
	}

	result := RegisterResult{
		UserID:              resp.UserID,
		VerificationToken:   resp.VerificationToken,
		RequiresEmailVerify: resp.RequiresEmailVerify,
	}

	if s.SMTPConfigured() {
		verifyURL := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.AppURL, resp.VerificationToken)
		if err := s.email.SendVerificationEmail(emailAddr, name, verifyURL); err == nil {
			result.EmailSent = true
		}
	}

	return result, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.authpw.VerifyEmail(ctx, token)
}

// ── Sessions ──

// Login authenticates with email/password and issues a session pair.
// An unverified email is refused before any token is minted.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	resp, err := s.authpw.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

// Refresh rotates the refresh token: the presented token is revoked and a
// fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt,
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken resolves the bearer token into a caller identity.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: claims.Exp,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Payload shaping ──

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"key":         p.Key,
		"description": p.Description,
		"createdBy":   p.CreatedBy,
		"createdAt":   p.CreatedAt,
		"updatedAt":   p.UpdatedAt,
	}
}

func memberPayload(m store.MemberInfo) map[string]any {
	return map[string]any{
		"userId": m.UserID,
		"role":   m.Role,
		"name":   m.Name,
		"email":  m.Email,
	}
}

func issuePayload(i store.Issue) map[string]any {
	return map[string]any{
		"id":          i.ID,
		"projectId":   i.ProjectID,
		"sprintId":    i.SprintID,
		"title":       i.Title,
		"description": i.Description,
		"type":        i.Type,
		"priority":    i.Priority,
		"status":      i.Status,
		"storyPoints": i.StoryPoints,
		"assigneeId":  i.AssigneeID,
		"reporterId":  i.ReporterID,
		"createdAt":   i.CreatedAt,
		"updatedAt":   i.UpdatedAt,
	}
}

func sprintPayload(sp store.Sprint) map[string]any {
	return map[string]any{
		"id":        sp.ID,
		"projectId": sp.ProjectID,
		"name":      sp.Name,
		"startDate": sp.StartDate,
		"endDate":   sp.EndDate,
		"status":    sp.Status,
		"createdAt": sp.CreatedAt,
		"updatedAt": sp.UpdatedAt,
	}
}

func commentPayload(c store.CommentInfo) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"issueId":    c.IssueID,
		"authorId":   c.AuthorID,
		"authorName": c.AuthorName,
		"body":       c.Body,
		"createdAt":  c.CreatedAt,
	}
}

func activityPayload(a store.Activity) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"projectId": a.ProjectID,
		"actorId":   a.ActorID,
		"type":      a.Type,
		"issueId":   a.IssueID,
		"sprintId":  a.SprintID,
		"meta":      a.Meta,
		"createdAt": a.CreatedAt,
	}
}
