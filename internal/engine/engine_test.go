package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"idsboard/internal/config"
	"idsboard/internal/db"
	"idsboard/internal/domain"
	"idsboard/internal/engine"
	"idsboard/internal/migrate"
	"idsboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("team-1"))
	eng.History.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	eng.Now = eng.History.Now
	ctx := context.Background()
	for _, u := range []struct{ id, email string }{
		{"alice", "alice@example.com"},
		{"bob", "bob@example.com"},
	} {
		if _, err := eng.EnsureUser(ctx, u.id, u.email); err != nil {
			t.Fatalf("seed user %s: %v", u.id, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustCreateIssue(t *testing.T, env testEnv, userID, title string) domain.Issue {
	t.Helper()
	i, err := env.Engine.CreateIssue(env.Ctx, userID, title, "")
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return i
}

func mustCreateDeliverable(t *testing.T, env testEnv, userID, issueID, title, due string) domain.Deliverable {
	t.Helper()
	d, err := env.Engine.CreateDeliverable(env.Ctx, userID, engine.DeliverableCreateOptions{
		IssueID: issueID,
		Title:   title,
		DueDate: due,
	})
	if err != nil {
		t.Fatalf("create deliverable: %v", err)
	}
	return d
}

func TestHeadlineOwnership(t *testing.T) {
	env := newTestEnv(t)
	h, err := env.Engine.CreateHeadline(env.Ctx, "alice", "Shipped the importer", "")
	if err != nil {
		t.Fatalf("create headline: %v", err)
	}
	if h.Status != domain.HeadlinePending {
		t.Fatalf("new headline status = %q", h.Status)
	}
	_, err = env.Engine.SetHeadlineStatus(env.Ctx, "bob", h.ID, domain.HeadlineCompleted)
	var denied engine.AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected access denied for non-owner, got %v", err)
	}
	if err := env.Engine.DeleteHeadline(env.Ctx, "bob", h.ID); !errors.As(err, &denied) {
		t.Fatalf("expected access denied on delete, got %v", err)
	}
	h, err = env.Engine.SetHeadlineStatus(env.Ctx, "alice", h.ID, domain.HeadlineCompleted)
	if err != nil || h.Status != domain.HeadlineCompleted {
		t.Fatalf("owner status change: %v", err)
	}
	if err := env.Engine.DeleteHeadline(env.Ctx, "alice", h.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := env.Engine.GetHeadline(env.Ctx, h.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateHeadline(env.Ctx, "", "x", ""); !errors.Is(err, engine.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := env.Engine.GetMyIDS(env.Ctx, "", ""); !errors.Is(err, engine.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestIssueSolvedGate(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, "alice", "Deploys are flaky")

	// no deliverables at all
	_, err := env.Engine.SetIssueStatus(env.Ctx, "alice", issue.ID, domain.IssueSolved)
	var inv engine.InvalidTransitionError
	if !errors.As(err, &inv) || inv.Reason != "issue cannot be solved: it has no deliverables" {
		t.Fatalf("expected no-deliverables guard, got %v", err)
	}

	d1 := mustCreateDeliverable(t, env, "alice", issue.ID, "Add retry", "2025-03-12T00:00:00Z")
	d2 := mustCreateDeliverable(t, env, "alice", issue.ID, "Fix runner", "2025-03-13T00:00:00Z")

	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d1.ID, domain.DeliverableCompleted); err != nil {
		t.Fatalf("complete d1: %v", err)
	}
	_, err = env.Engine.SetIssueStatus(env.Ctx, "alice", issue.ID, domain.IssueSolved)
	if !errors.As(err, &inv) || inv.Reason != "issue cannot be solved: not all deliverables are completed" {
		t.Fatalf("expected incomplete guard, got %v", err)
	}

	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d2.ID, domain.DeliverableCompleted); err != nil {
		t.Fatalf("complete d2: %v", err)
	}
	got, err := env.Engine.GetIssue(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.IssueSolved {
		t.Fatalf("issue should auto-solve when last deliverable completes, status=%q", got.Status)
	}
}

func TestCascadeIgnoresIssueOwnership(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, "alice", "Onboarding doc outdated")
	d, err := env.Engine.CreateDeliverable(env.Ctx, "alice", engine.DeliverableCreateOptions{
		IssueID:       issue.ID,
		Title:         "Rewrite doc",
		DueDate:       "2025-03-14T00:00:00Z",
		AccountableID: "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	// bob cannot touch alice's issue directly
	var denied engine.AccessDeniedError
	if _, err := env.Engine.SetIssueStatus(env.Ctx, "bob", issue.ID, domain.IssueDiscussed); !errors.As(err, &denied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	// but completing his deliverable solves it through the cascade
	res, err := env.Engine.SetDeliverableStatus(env.Ctx, "bob", d.ID, domain.DeliverableCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IssueSolved || res.CascadeErr != nil {
		t.Fatalf("expected cascade solve, got solved=%v err=%v", res.IssueSolved, res.CascadeErr)
	}
	got, _ := env.Engine.GetIssue(env.Ctx, issue.ID)
	if got.Status != domain.IssueSolved {
		t.Fatalf("issue status = %q", got.Status)
	}
}

func TestSolvedStaysSolvedOnRecompletion(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, "alice", "Alerting noise")
	d := mustCreateDeliverable(t, env, "alice", issue.ID, "Tune thresholds", "2025-03-12T00:00:00Z")
	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d.ID, domain.DeliverableCompleted); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d.ID, domain.DeliverableCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if res.IssueSolved {
		t.Fatalf("re-completing should not report a fresh solve")
	}
}

func TestIssueListDefaultExcludesSolved(t *testing.T) {
	env := newTestEnv(t)
	open := mustCreateIssue(t, env, "alice", "Open one")
	solved := mustCreateIssue(t, env, "alice", "Solved one")
	d := mustCreateDeliverable(t, env, "alice", solved.ID, "Do it", "2025-03-12T00:00:00Z")
	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d.ID, domain.DeliverableCompleted); err != nil {
		t.Fatal(err)
	}

	issues, err := env.Engine.ListIssues(env.Ctx, engine.IssueListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].ID != open.ID {
		t.Fatalf("default list = %+v, want only open issue", issues)
	}

	// week-scoped list includes solved issues
	issues, err = env.Engine.ListIssues(env.Ctx, engine.IssueListOptions{Week: "2025-W11"})
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 2 {
		t.Fatalf("week list len = %d, want 2", len(issues))
	}
}

func TestWeekBucketing(t *testing.T) {
	env := newTestEnv(t)
	// created_at is pinned to 2025-03-10, which falls in 2025-W11
	// (season anchored at 2024-12-30).
	if _, err := env.Engine.CreateHeadline(env.Ctx, "alice", "This week", ""); err != nil {
		t.Fatal(err)
	}
	hs, err := env.Engine.ListHeadlines(env.Ctx, engine.HeadlineListOptions{Week: "2025-W11"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 1 {
		t.Fatalf("W11 headlines = %d, want 1", len(hs))
	}
	hs, err = env.Engine.ListHeadlines(env.Ctx, engine.HeadlineListOptions{Week: "2025-W10"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 0 {
		t.Fatalf("W10 headlines = %d, want 0", len(hs))
	}
	if _, err := env.Engine.ListHeadlines(env.Ctx, engine.HeadlineListOptions{Week: "2025-11"}); err == nil {
		t.Fatalf("expected error for malformed week token")
	}
}

func TestTodosBucketByDueDate(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, "alice", "Backlog")
	mustCreateDeliverable(t, env, "alice", issue.ID, "Due this week", "2025-03-12T00:00:00Z")
	mustCreateDeliverable(t, env, "alice", issue.ID, "Due next week", "2025-03-19T00:00:00Z")

	todos, err := env.Engine.ListTodos(env.Ctx, engine.TodoListOptions{Week: "2025-W11"})
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 1 || todos[0].Title != "Due this week" {
		t.Fatalf("W11 todos = %+v", todos)
	}
	todos, err = env.Engine.ListTodos(env.Ctx, engine.TodoListOptions{Week: "2025-W12"})
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 1 || todos[0].Title != "Due next week" {
		t.Fatalf("W12 todos = %+v", todos)
	}
}

func TestMyIDSAggregation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateHeadline(env.Ctx, "alice", "Mine", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateHeadline(env.Ctx, "bob", "Not mine", ""); err != nil {
		t.Fatal(err)
	}
	issue := mustCreateIssue(t, env, "alice", "Mine too")
	if _, err := env.Engine.CreateDeliverable(env.Ctx, "bob", engine.DeliverableCreateOptions{
		IssueID:       issue.ID,
		Title:         "Assigned to alice",
		DueDate:       "2025-03-11T00:00:00Z",
		AccountableID: "alice",
	}); err != nil {
		t.Fatal(err)
	}

	my, err := env.Engine.GetMyIDS(env.Ctx, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(my.Headlines) != 1 || my.Headlines[0].Title != "Mine" {
		t.Fatalf("headlines = %+v", my.Headlines)
	}
	if len(my.Issues) != 1 || my.Issues[0].ID != issue.ID {
		t.Fatalf("issues = %+v", my.Issues)
	}
	if len(my.Todos) != 1 || my.Todos[0].AccountableID != "alice" {
		t.Fatalf("todos = %+v", my.Todos)
	}
}

func TestDeliverableHistoryRecorded(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, "alice", "Tracking")
	d := mustCreateDeliverable(t, env, "alice", issue.ID, "First title", "2025-03-12T00:00:00Z")

	title := "Second title"
	res, err := env.Engine.UpdateDeliverable(env.Ctx, "alice", d.ID, engine.DeliverableUpdateOptions{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if res.HistoryErr != nil {
		t.Fatalf("history err: %v", res.HistoryErr)
	}
	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d.ID, domain.DeliverableInProgress); err != nil {
		t.Fatal(err)
	}

	hist, err := env.Engine.DeliverableHistory(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
	fields := map[string]bool{}
	for _, h := range hist {
		fields[h.FieldName] = true
		if h.UpdatedBy != "alice" {
			t.Fatalf("updated_by = %q", h.UpdatedBy)
		}
	}
	if !fields["title"] || !fields["status"] {
		t.Fatalf("history fields = %v", fields)
	}
}

func TestHistoryFailureDoesNotBlockUpdate(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, "alice", "Degraded")
	d := mustCreateDeliverable(t, env, "alice", issue.ID, "Task", "2025-03-12T00:00:00Z")

	if _, err := env.Engine.DB.Exec(`DROP TABLE deliverable_history`); err != nil {
		t.Fatalf("drop history table: %v", err)
	}
	res, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d.ID, domain.DeliverableInProgress)
	if err != nil {
		t.Fatalf("status change should survive history failure: %v", err)
	}
	if res.HistoryErr == nil {
		t.Fatalf("expected history error to be reported")
	}
	got, err := env.Engine.GetDeliverable(env.Ctx, d.ID)
	if err != nil || got.Status != domain.DeliverableInProgress {
		t.Fatalf("deliverable not updated: %+v %v", got, err)
	}
}

func TestDeliverableEditPermissions(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, "alice", "Shared work")
	d, err := env.Engine.CreateDeliverable(env.Ctx, "alice", engine.DeliverableCreateOptions{
		IssueID:       issue.ID,
		Title:         "Handoff",
		DueDate:       "2025-03-12T00:00:00Z",
		AccountableID: "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	// the accountable user changes status, the creator may edit fields
	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "bob", d.ID, domain.DeliverableInProgress); err != nil {
		t.Fatalf("accountable edit: %v", err)
	}
	desc := "notes"
	if _, err := env.Engine.UpdateDeliverable(env.Ctx, "alice", d.ID, engine.DeliverableUpdateOptions{Description: &desc}); err != nil {
		t.Fatalf("creator edit: %v", err)
	}
	// but the creator cannot change status when someone else is accountable
	var denied engine.AccessDeniedError
	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "alice", d.ID, domain.DeliverableCompleted); !errors.As(err, &denied) {
		t.Fatalf("expected access denied for non-accountable creator, got %v", err)
	}
	if _, err := env.Engine.EnsureUser(env.Ctx, "carol", "carol@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetDeliverableStatus(env.Ctx, "carol", d.ID, domain.DeliverableCompleted); !errors.As(err, &denied) {
		t.Fatalf("expected access denied for third party, got %v", err)
	}
	got, err := env.Engine.GetDeliverable(env.Ctx, d.ID)
	if err != nil || got.Status != domain.DeliverableInProgress {
		t.Fatalf("denied attempts must not change state: %+v %v", got, err)
	}
}

func TestFeedbackLifecycle(t *testing.T) {
	env := newTestEnv(t)
	f, err := env.Engine.CreateFeedback(env.Ctx, "alice", engine.FeedbackCreateOptions{
		Title:    "Week picker is confusing",
		Category: "improvement",
		Priority: "low",
		Tags:     []string{"ui", "weeks"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != domain.FeedbackPending {
		t.Fatalf("status = %q", f.Status)
	}
	list, err := env.Engine.ListFeedback(env.Ctx, "alice")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v %v", list, err)
	}
	if len(list[0].Tags) != 2 {
		t.Fatalf("tags = %v", list[0].Tags)
	}
	f, err = env.Engine.SetFeedbackStatus(env.Ctx, "alice", f.ID, domain.FeedbackInReview)
	if err != nil || f.Status != domain.FeedbackInReview {
		t.Fatalf("set status: %v", err)
	}
}

func TestFeedbackVocabularyFromConfig(t *testing.T) {
	env := newTestEnv(t)
	// category/priority come from the configured vocabularies
	if _, err := env.Engine.CreateFeedback(env.Ctx, "alice", engine.FeedbackCreateOptions{
		Title:    "Bad category",
		Category: "rant",
	}); err == nil || !strings.Contains(err.Error(), "invalid feedback category") {
		t.Fatalf("expected category rejection, got %v", err)
	}
	if _, err := env.Engine.CreateFeedback(env.Ctx, "alice", engine.FeedbackCreateOptions{
		Title:    "Bad priority",
		Priority: "urgent",
	}); err == nil || !strings.Contains(err.Error(), "invalid feedback priority") {
		t.Fatalf("expected priority rejection, got %v", err)
	}
	f, err := env.Engine.CreateFeedback(env.Ctx, "alice", engine.FeedbackCreateOptions{Title: "Defaults"})
	if err != nil {
		t.Fatal(err)
	}
	if f.Category != "other" || f.Priority != "medium" {
		t.Fatalf("defaults = %q/%q", f.Category, f.Priority)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "alice", "ci")
	if err != nil {
		t.Fatal(err)
	}
	if plain == "" || key.KeyHash == repo.HashAPIKey("") {
		t.Fatalf("key material missing")
	}
	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	if err != nil || found.UserID != "alice" {
		t.Fatalf("lookup: %+v %v", found, err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, "bob", key.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found deleting someone else's key, got %v", err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, "alice", key.ID); err != nil {
		t.Fatal(err)
	}
}
