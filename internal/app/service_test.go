package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"minijira/api/internal/config"
	"minijira/api/internal/rbac"
	"minijira/api/internal/store"
)

const (
	adminID    = "aaaaaaaaaaaaaaaaaaaaaaaa"
	memberID   = "bbbbbbbbbbbbbbbbbbbbbbbb"
	outsiderID = "cccccccccccccccccccccccc"
	projectID  = "dddddddddddddddddddddddd"
	issueID    = "eeeeeeeeeeeeeeeeeeeeeeee"
	sprintID   = "ffffffffffffffffffffffff"
	otherID    = "012345678901234567890123"
)

type fakeStore struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	getUserByEmailFn    func(context.Context, string) (store.User, error)
	createProjectFn     func(context.Context, store.Project, string) error
	listProjectsFn      func(context.Context, string) ([]store.Project, error)
	getMembershipFn     func(context.Context, string, string) (store.ProjectMember, error)
	insertMemberFn      func(context.Context, store.ProjectMember) error
	listMembersFn       func(context.Context, string) ([]store.MemberInfo, error)
	insertIssueFn       func(context.Context, store.Issue) error
	listIssuesFn        func(context.Context, string) ([]store.Issue, error)
	getIssueForMemberFn func(context.Context, string, string) (store.Issue, error)
	updateStatusFn      func(context.Context, string, store.IssueStatus) error
	updateAssigneeFn    func(context.Context, string, *string) error
	updateSprintFn      func(context.Context, string, *string) error
	insertSprintFn      func(context.Context, store.Sprint) error
	listSprintsFn       func(context.Context, string) ([]store.Sprint, error)
	getSprintFn         func(context.Context, string, string) (store.Sprint, error)
	updateSprintStatFn  func(context.Context, string, store.SprintStatus) error
	insertCommentFn     func(context.Context, store.Comment) error
	listCommentsFn      func(context.Context, string) ([]store.CommentInfo, error)
	insertActivityFn    func(context.Context, store.Activity) error
	listActivityFn      func(context.Context, string, int) ([]store.Activity, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, Name: "Test User"}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateProject(ctx context.Context, project store.Project, memberID string) error {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, project, memberID)
	}
	return nil
}
func (f *fakeStore) ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) GetMembership(ctx context.Context, pid, uid string) (store.ProjectMember, error) {
	if f.getMembershipFn != nil {
		return f.getMembershipFn(ctx, pid, uid)
	}
	return store.ProjectMember{}, sql.ErrNoRows
}
func (f *fakeStore) InsertMember(ctx context.Context, m store.ProjectMember) error {
	if f.insertMemberFn != nil {
		return f.insertMemberFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) ListMembers(ctx context.Context, pid string) ([]store.MemberInfo, error) {
	if f.listMembersFn != nil {
		return f.listMembersFn(ctx, pid)
	}
	return nil, nil
}
func (f *fakeStore) InsertIssue(ctx context.Context, issue store.Issue) error {
	if f.insertIssueFn != nil {
		return f.insertIssueFn(ctx, issue)
	}
	return nil
}
func (f *fakeStore) ListIssues(ctx context.Context, pid string) ([]store.Issue, error) {
	if f.listIssuesFn != nil {
		return f.listIssuesFn(ctx, pid)
	}
	return nil, nil
}
func (f *fakeStore) GetIssueForMember(ctx context.Context, iid, uid string) (store.Issue, error) {
	if f.getIssueForMemberFn != nil {
		return f.getIssueForMemberFn(ctx, iid, uid)
	}
	return store.Issue{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateIssueStatus(ctx context.Context, iid string, status store.IssueStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, iid, status)
	}
	return nil
}
func (f *fakeStore) UpdateIssueAssignee(ctx context.Context, iid string, assigneeID *string) error {
	if f.updateAssigneeFn != nil {
		return f.updateAssigneeFn(ctx, iid, assigneeID)
	}
	return nil
}
func (f *fakeStore) UpdateIssueSprint(ctx context.Context, iid string, sprintID *string) error {
	if f.updateSprintFn != nil {
		return f.updateSprintFn(ctx, iid, sprintID)
	}
	return nil
}
func (f *fakeStore) InsertSprint(ctx context.Context, sprint store.Sprint) error {
	if f.insertSprintFn != nil {
		return f.insertSprintFn(ctx, sprint)
	}
	return nil
}
func (f *fakeStore) ListSprints(ctx context.Context, pid string) ([]store.Sprint, error) {
	if f.listSprintsFn != nil {
		return f.listSprintsFn(ctx, pid)
	}
	return nil, nil
}
func (f *fakeStore) GetSprint(ctx context.Context, sid, pid string) (store.Sprint, error) {
	if f.getSprintFn != nil {
		return f.getSprintFn(ctx, sid, pid)
	}
	return store.Sprint{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateSprintStatus(ctx context.Context, sid string, status store.SprintStatus) error {
	if f.updateSprintStatFn != nil {
		return f.updateSprintStatFn(ctx, sid, status)
	}
	return nil
}
func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	return nil
}
func (f *fakeStore) ListComments(ctx context.Context, iid string) ([]store.CommentInfo, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, iid)
	}
	return nil, nil
}
func (f *fakeStore) InsertActivity(ctx context.Context, a store.Activity) error {
	if f.insertActivityFn != nil {
		return f.insertActivityFn(ctx, a)
	}
	return nil
}
func (f *fakeStore) ListActivity(ctx context.Context, pid string, limit int) ([]store.Activity, error) {
	if f.listActivityFn != nil {
		return f.listActivityFn(ctx, pid, limit)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	saved   map[string]string
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: map[string]string{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.saved[tokenHash] = userID
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	if f.revoked[tokenHash] {
		return store.User{}, errors.New("token not found or expired")
	}
	userID, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, errors.New("token not found or expired")
	}
	return store.User{ID: userID, Name: "Test User"}, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.revoked[tokenHash] = true
	return nil
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	return New(cfg, fs, newFakeSessions(), nil, nil, nil)
}

// membershipFixture returns a GetMembership func granting adminID the ADMIN
// role and memberID the MEMBER role on projectID.
func membershipFixture() func(context.Context, string, string) (store.ProjectMember, error) {
	return func(_ context.Context, pid, uid string) (store.ProjectMember, error) {
		if pid != projectID {
			return store.ProjectMember{}, sql.ErrNoRows
		}
		switch uid {
		case adminID:
			return store.ProjectMember{ProjectID: pid, UserID: uid, Role: "ADMIN"}, nil
		case memberID:
			return store.ProjectMember{ProjectID: pid, UserID: uid, Role: "MEMBER"}, nil
		}
		return store.ProjectMember{}, sql.ErrNoRows
	}
}

func domainStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status, domainErr.Code
}

func TestAuthorize(t *testing.T) {
	fs := &fakeStore{getMembershipFn: membershipFixture()}
	svc := newTestService(fs)
	ctx := context.Background()

	tests := []struct {
		name       string
		callerID   string
		required   rbac.Role
		wantStatus int
		wantRole   string
	}{
		{name: "anonymous", callerID: "", required: "", wantStatus: http.StatusUnauthorized},
		{name: "non-member", callerID: outsiderID, required: "", wantStatus: http.StatusForbidden},
		{name: "member without requirement", callerID: memberID, required: "", wantRole: "MEMBER"},
		{name: "member needs admin", callerID: memberID, required: rbac.RoleAdmin, wantStatus: http.StatusForbidden},
		{name: "admin needs admin", callerID: adminID, required: rbac.RoleAdmin, wantRole: "ADMIN"},
		{name: "admin member requirement", callerID: adminID, required: rbac.RoleMember, wantRole: "ADMIN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			member, err := svc.authorize(ctx, tc.callerID, projectID, tc.required)
			if tc.wantStatus != 0 {
				status, _ := domainStatus(t, err)
				if status != tc.wantStatus {
					t.Fatalf("expected status %d, got %d", tc.wantStatus, status)
				}
				return
			}
			if err != nil {
				t.Fatalf("authorize failed: %v", err)
			}
			if member.Role != tc.wantRole {
				t.Fatalf("expected role %s, got %s", tc.wantRole, member.Role)
			}
		})
	}
}

func TestSprintTransitionTable(t *testing.T) {
	tests := []struct {
		from store.SprintStatus
		to   store.SprintStatus
		ok   bool
	}{
		{store.SprintPlanned, store.SprintActive, true},
		{store.SprintActive, store.SprintClosed, true},
		{store.SprintPlanned, store.SprintClosed, false},
		{store.SprintPlanned, store.SprintPlanned, false},
		{store.SprintActive, store.SprintPlanned, false},
		{store.SprintActive, store.SprintActive, false},
		{store.SprintClosed, store.SprintPlanned, false},
		{store.SprintClosed, store.SprintActive, false},
		{store.SprintClosed, store.SprintClosed, false},
	}

	for _, tc := range tests {
		err := checkTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s should be allowed, got %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}

	if err := checkTransition(store.SprintPlanned, "ARCHIVED"); err == nil {
		t.Error("unknown status should be rejected")
	}
}

func TestChangeSprintStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("member cannot transition", func(t *testing.T) {
		fs := &fakeStore{getMembershipFn: membershipFixture()}
		svc := newTestService(fs)
		_, err := svc.ChangeSprintStatus(ctx, memberID, projectID, sprintID, store.SprintActive)
		status, _ := domainStatus(t, err)
		if status != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", status)
		}
	})

	t.Run("admin transition records activity", func(t *testing.T) {
		var recorded []store.Activity
		var updated store.SprintStatus
		fs := &fakeStore{
			getMembershipFn: membershipFixture(),
			getSprintFn: func(_ context.Context, sid, pid string) (store.Sprint, error) {
				return store.Sprint{ID: sid, ProjectID: pid, Status: store.SprintPlanned}, nil
			},
			updateSprintStatFn: func(_ context.Context, _ string, status store.SprintStatus) error {
				updated = status
				return nil
			},
			insertActivityFn: func(_ context.Context, a store.Activity) error {
				recorded = append(recorded, a)
				return nil
			},
		}
		svc := newTestService(fs)

		payload, err := svc.ChangeSprintStatus(ctx, adminID, projectID, sprintID, store.SprintActive)
		if err != nil {
			t.Fatalf("ChangeSprintStatus failed: %v", err)
		}
		if updated != store.SprintActive {
			t.Fatalf("expected status update to ACTIVE, got %s", updated)
		}
		if payload["status"] != store.SprintActive {
			t.Fatalf("expected payload status ACTIVE, got %v", payload["status"])
		}
		if len(recorded) != 1 {
			t.Fatalf("expected exactly one activity, got %d", len(recorded))
		}
		a := recorded[0]
		if a.Type != store.ActivitySprintStatusChanged {
			t.Fatalf("unexpected activity type %s", a.Type)
		}
		if a.Meta["from"] != store.SprintPlanned || a.Meta["to"] != store.SprintActive {
			t.Fatalf("unexpected activity meta %v", a.Meta)
		}
	})

	t.Run("backward transition rejected", func(t *testing.T) {
		fs := &fakeStore{
			getMembershipFn: membershipFixture(),
			getSprintFn: func(_ context.Context, sid, pid string) (store.Sprint, error) {
				return store.Sprint{ID: sid, ProjectID: pid, Status: store.SprintActive}, nil
			},
		}
		svc := newTestService(fs)
		_, err := svc.ChangeSprintStatus(ctx, adminID, projectID, sprintID, store.SprintPlanned)
		status, code := domainStatus(t, err)
		if status != http.StatusBadRequest || code != "INVALID_TRANSITION" {
			t.Fatalf("expected 400 INVALID_TRANSITION, got %d %s", status, code)
		}
	})
}

func TestChangeIssueSprintGating(t *testing.T) {
	ctx := context.Background()
	sid := sprintID

	issueInSprint := func(_ context.Context, iid, uid string) (store.Issue, error) {
		if uid != memberID && uid != adminID {
			return store.Issue{}, sql.ErrNoRows
		}
		return store.Issue{ID: iid, ProjectID: projectID, SprintID: &sid, Status: store.StatusTodo}, nil
	}

	t.Run("attach to closed sprint rejected", func(t *testing.T) {
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
			getSprintFn: func(_ context.Context, sid, pid string) (store.Sprint, error) {
				return store.Sprint{ID: sid, ProjectID: pid, Status: store.SprintClosed}, nil
			},
		}
		svc := newTestService(fs)
		_, err := svc.ChangeIssueSprint(ctx, memberID, issueID, &sid)
		status, code := domainStatus(t, err)
		if status != http.StatusBadRequest || code != "SPRINT_CLOSED" {
			t.Fatalf("expected 400 SPRINT_CLOSED, got %d %s", status, code)
		}
	})

	t.Run("detach from closed sprint rejected", func(t *testing.T) {
		fs := &fakeStore{
			getIssueForMemberFn: issueInSprint,
			getSprintFn: func(_ context.Context, sid, pid string) (store.Sprint, error) {
				return store.Sprint{ID: sid, ProjectID: pid, Status: store.SprintClosed}, nil
			},
		}
		svc := newTestService(fs)
		_, err := svc.ChangeIssueSprint(ctx, memberID, issueID, nil)
		status, code := domainStatus(t, err)
		if status != http.StatusBadRequest || code != "SPRINT_CLOSED" {
			t.Fatalf("expected 400 SPRINT_CLOSED, got %d %s", status, code)
		}
	})

	t.Run("sprint from another project is not found", func(t *testing.T) {
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
			// project-scoped lookup misses for foreign sprints
		}
		svc := newTestService(fs)
		foreign := otherID
		_, err := svc.ChangeIssueSprint(ctx, memberID, issueID, &foreign)
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("expected sql.ErrNoRows, got %v", err)
		}
	})

	t.Run("attach to active sprint records one activity", func(t *testing.T) {
		var recorded []store.Activity
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
			getSprintFn: func(_ context.Context, sid, pid string) (store.Sprint, error) {
				return store.Sprint{ID: sid, ProjectID: pid, Status: store.SprintActive}, nil
			},
			insertActivityFn: func(_ context.Context, a store.Activity) error {
				recorded = append(recorded, a)
				return nil
			},
		}
		svc := newTestService(fs)
		payload, err := svc.ChangeIssueSprint(ctx, memberID, issueID, &sid)
		if err != nil {
			t.Fatalf("ChangeIssueSprint failed: %v", err)
		}
		if payload["sprintId"] == nil {
			t.Fatal("expected sprintId in payload")
		}
		if len(recorded) != 1 || recorded[0].Type != store.ActivityIssueSprintChanged {
			t.Fatalf("expected one ISSUE_SPRINT_CHANGED activity, got %v", recorded)
		}
		if recorded[0].SprintID == nil || *recorded[0].SprintID != sid {
			t.Fatalf("expected activity to reference sprint %s, got %v", sid, recorded[0].SprintID)
		}
	})

	t.Run("detach from active sprint references the left sprint", func(t *testing.T) {
		var recorded []store.Activity
		fs := &fakeStore{
			getIssueForMemberFn: issueInSprint,
			getSprintFn: func(_ context.Context, sid, pid string) (store.Sprint, error) {
				return store.Sprint{ID: sid, ProjectID: pid, Status: store.SprintActive}, nil
			},
			insertActivityFn: func(_ context.Context, a store.Activity) error {
				recorded = append(recorded, a)
				return nil
			},
		}
		svc := newTestService(fs)
		if _, err := svc.ChangeIssueSprint(ctx, memberID, issueID, nil); err != nil {
			t.Fatalf("detach failed: %v", err)
		}
		if len(recorded) != 1 || recorded[0].SprintID == nil || *recorded[0].SprintID != sid {
			t.Fatalf("expected activity to reference the detached sprint, got %v", recorded)
		}
	})
}

func TestChangeIssueAssignee(t *testing.T) {
	ctx := context.Background()

	t.Run("non-member assignee rejected", func(t *testing.T) {
		fs := &fakeStore{
			getMembershipFn: membershipFixture(),
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
		}
		svc := newTestService(fs)
		assignee := outsiderID
		_, err := svc.ChangeIssueAssignee(ctx, memberID, issueID, &assignee)
		status, code := domainStatus(t, err)
		if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
			t.Fatalf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
		}
	})

	t.Run("member assignee accepted with activity", func(t *testing.T) {
		var recorded []store.Activity
		fs := &fakeStore{
			getMembershipFn: membershipFixture(),
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
			insertActivityFn: func(_ context.Context, a store.Activity) error {
				recorded = append(recorded, a)
				return nil
			},
		}
		svc := newTestService(fs)
		assignee := memberID
		payload, err := svc.ChangeIssueAssignee(ctx, adminID, issueID, &assignee)
		if err != nil {
			t.Fatalf("ChangeIssueAssignee failed: %v", err)
		}
		if got := payload["assigneeId"]; got == nil {
			t.Fatal("expected assigneeId in payload")
		}
		if len(recorded) != 1 || recorded[0].Type != store.ActivityIssueAssigneeChanged {
			t.Fatalf("expected one ISSUE_ASSIGNEE_CHANGED activity, got %v", recorded)
		}
	})

	t.Run("unassign skips membership check", func(t *testing.T) {
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				assignee := memberID
				return store.Issue{ID: iid, ProjectID: projectID, AssigneeID: &assignee}, nil
			},
		}
		svc := newTestService(fs)
		if _, err := svc.ChangeIssueAssignee(ctx, memberID, issueID, nil); err != nil {
			t.Fatalf("unassign failed: %v", err)
		}
	})
}

func TestActivityFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{
		getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
			return store.Issue{ID: iid, ProjectID: projectID, Status: store.StatusTodo}, nil
		},
		insertActivityFn: func(context.Context, store.Activity) error {
			return errors.New("audit log down")
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ChangeIssueStatus(ctx, memberID, issueID, store.StatusInProgress)
	if err != nil {
		t.Fatalf("mutation should survive activity failure, got %v", err)
	}
	if payload["status"] != store.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %v", payload["status"])
	}
}

func TestCreateProject(t *testing.T) {
	ctx := context.Background()

	t.Run("creator becomes admin atomically", func(t *testing.T) {
		var created store.Project
		var creatorMemberID string
		fs := &fakeStore{
			createProjectFn: func(_ context.Context, p store.Project, memberID string) error {
				created = p
				creatorMemberID = memberID
				return nil
			},
		}
		svc := newTestService(fs)

		payload, err := svc.CreateProject(ctx, adminID, CreateProjectInput{Name: "Mini Jira", Key: "MJ"})
		if err != nil {
			t.Fatalf("CreateProject failed: %v", err)
		}
		if created.CreatedBy != adminID {
			t.Fatalf("expected creator %s, got %s", adminID, created.CreatedBy)
		}
		if creatorMemberID == "" {
			t.Fatal("expected a membership row id for the creator")
		}
		if payload["key"] != "MJ" {
			t.Fatalf("expected key MJ, got %v", payload["key"])
		}
	})

	t.Run("duplicate key conflict", func(t *testing.T) {
		fs := &fakeStore{
			createProjectFn: func(context.Context, store.Project, string) error {
				return store.ErrConflict
			},
		}
		svc := newTestService(fs)
		_, err := svc.CreateProject(ctx, adminID, CreateProjectInput{Name: "Dup", Key: "DUP"})
		status, code := domainStatus(t, err)
		if status != http.StatusConflict || code != "CONFLICT" {
			t.Fatalf("expected 409 CONFLICT, got %d %s", status, code)
		}
	})

	t.Run("key validation", func(t *testing.T) {
		svc := newTestService(&fakeStore{})
		for _, key := range []string{"", "mj", "J", "TOOLONGKEY1", "MJ-X"} {
			_, err := svc.CreateProject(ctx, adminID, CreateProjectInput{Name: "P", Key: key})
			if err == nil {
				t.Errorf("key %q should be rejected", key)
			}
		}
		// Digits may lead: keys are any uppercase letters/numbers, 2-10 chars.
		for _, key := range []string{"MJ", "1JIRA", "A1", "PROJECT10"} {
			_, err := svc.CreateProject(ctx, adminID, CreateProjectInput{Name: "P", Key: key})
			if err != nil {
				t.Errorf("key %q should be accepted, got %v", key, err)
			}
		}
	})
}

func TestAddMember(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email not found", func(t *testing.T) {
		fs := &fakeStore{getMembershipFn: membershipFixture()}
		svc := newTestService(fs)
		_, err := svc.AddMember(ctx, adminID, projectID, AddMemberInput{Email: "nobody@example.com"})
		status, _ := domainStatus(t, err)
		if status != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", status)
		}
	})

	t.Run("duplicate membership conflict", func(t *testing.T) {
		fs := &fakeStore{
			getMembershipFn: membershipFixture(),
			getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
				return store.User{ID: outsiderID, Name: "Zoe", Email: email}, nil
			},
			insertMemberFn: func(context.Context, store.ProjectMember) error {
				return store.ErrConflict
			},
		}
		svc := newTestService(fs)
		_, err := svc.AddMember(ctx, adminID, projectID, AddMemberInput{Email: "zoe@example.com"})
		status, code := domainStatus(t, err)
		if status != http.StatusConflict || code != "CONFLICT" {
			t.Fatalf("expected 409 CONFLICT, got %d %s", status, code)
		}
	})

	t.Run("explicit ADMIN role kept", func(t *testing.T) {
		var inserted store.ProjectMember
		fs := &fakeStore{
			getMembershipFn: membershipFixture(),
			getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
				return store.User{ID: outsiderID, Name: "Zoe", Email: email}, nil
			},
			insertMemberFn: func(_ context.Context, m store.ProjectMember) error {
				inserted = m
				return nil
			},
		}
		svc := newTestService(fs)
		if _, err := svc.AddMember(ctx, adminID, projectID, AddMemberInput{Email: "zoe@example.com", Role: "ADMIN"}); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
		if inserted.Role != "ADMIN" {
			t.Fatalf("expected role ADMIN, got %s", inserted.Role)
		}
	})

	t.Run("role defaults to MEMBER", func(t *testing.T) {
		var inserted store.ProjectMember
		fs := &fakeStore{
			getMembershipFn: membershipFixture(),
			getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
				return store.User{ID: outsiderID, Name: "Zoe", Email: email}, nil
			},
			insertMemberFn: func(_ context.Context, m store.ProjectMember) error {
				inserted = m
				return nil
			},
		}
		svc := newTestService(fs)
		if _, err := svc.AddMember(ctx, adminID, projectID, AddMemberInput{Email: "zoe@example.com"}); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
		if inserted.Role != "MEMBER" {
			t.Fatalf("expected default role MEMBER, got %s", inserted.Role)
		}
	})
}

// Payload validation runs before the membership check, so a bad payload reads
// as 400 regardless of who sent it.
func TestInvalidPayloadBeatsMembershipCheck(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(&fakeStore{getMembershipFn: membershipFixture()})

	_, err := svc.CreateIssue(ctx, outsiderID, projectID, CreateIssueInput{Title: ""})
	status, code := domainStatus(t, err)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Fatalf("create issue: expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}

	_, err = svc.AddMember(ctx, memberID, projectID, AddMemberInput{Email: "not-an-email"})
	status, code = domainStatus(t, err)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Fatalf("add member: expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}

	_, err = svc.CreateSprint(ctx, outsiderID, projectID, CreateSprintInput{Name: ""})
	status, code = domainStatus(t, err)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Fatalf("create sprint: expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}

// Two interleaved status changes both succeed: there is no version token, so
// concurrent updates to the same issue are last-write-wins. Accepted behavior,
// not a bug.
func TestConcurrentStatusChangesAreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	var writes []store.IssueStatus
	fs := &fakeStore{
		getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
			return store.Issue{ID: iid, ProjectID: projectID, Status: store.StatusTodo}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, status store.IssueStatus) error {
			writes = append(writes, status)
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ChangeIssueStatus(ctx, memberID, issueID, store.StatusInProgress); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}
	if _, err := svc.ChangeIssueStatus(ctx, adminID, issueID, store.StatusDone); err != nil {
		t.Fatalf("second writer failed: %v", err)
	}
	if len(writes) != 2 || writes[1] != store.StatusDone {
		t.Fatalf("expected both writes to land with the last one winning, got %v", writes)
	}
}

func TestAddComment(t *testing.T) {
	ctx := context.Background()

	t.Run("records preview activity", func(t *testing.T) {
		var recorded []store.Activity
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
			insertActivityFn: func(_ context.Context, a store.Activity) error {
				recorded = append(recorded, a)
				return nil
			},
		}
		svc := newTestService(fs)

		long := ""
		for i := 0; i < 120; i++ {
			long += "x"
		}
		_, err := svc.AddComment(ctx, memberID, issueID, AddCommentInput{Body: long, ProjectID: projectID})
		if err != nil {
			t.Fatalf("AddComment failed: %v", err)
		}
		if len(recorded) != 1 || recorded[0].Type != store.ActivityIssueCommentAdded {
			t.Fatalf("expected one ISSUE_COMMENT_ADDED activity, got %v", recorded)
		}
		preview, _ := recorded[0].Meta["preview"].(string)
		if len(preview) != 80 {
			t.Fatalf("expected 80-char preview, got %d chars", len(preview))
		}
	})

	t.Run("preview cuts on rune boundary", func(t *testing.T) {
		var recorded []store.Activity
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
			insertActivityFn: func(_ context.Context, a store.Activity) error {
				recorded = append(recorded, a)
				return nil
			},
		}
		svc := newTestService(fs)

		body := strings.Repeat("é", 100)
		if _, err := svc.AddComment(ctx, memberID, issueID, AddCommentInput{Body: body, ProjectID: projectID}); err != nil {
			t.Fatalf("AddComment failed: %v", err)
		}
		preview, _ := recorded[0].Meta["preview"].(string)
		if !utf8.ValidString(preview) {
			t.Fatal("preview is not valid UTF-8")
		}
		if got := utf8.RuneCountInString(preview); got != 80 {
			t.Fatalf("expected 80-rune preview, got %d runes", got)
		}
	})

	t.Run("body length bounds", func(t *testing.T) {
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
		}
		svc := newTestService(fs)

		over := make([]byte, 2001)
		for i := range over {
			over[i] = 'a'
		}
		for _, body := range []string{"", string(over)} {
			_, err := svc.AddComment(ctx, memberID, issueID, AddCommentInput{Body: body, ProjectID: projectID})
			if err == nil {
				t.Errorf("body of length %d should be rejected", len(body))
			}
		}
	})

	t.Run("mismatched project id is not found", func(t *testing.T) {
		fs := &fakeStore{
			getIssueForMemberFn: func(_ context.Context, iid, _ string) (store.Issue, error) {
				return store.Issue{ID: iid, ProjectID: projectID}, nil
			},
		}
		svc := newTestService(fs)
		_, err := svc.AddComment(ctx, memberID, issueID, AddCommentInput{Body: "hi", ProjectID: otherID})
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("expected sql.ErrNoRows, got %v", err)
		}
	})
}
