package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"idsboard/internal/config"
	"idsboard/internal/db"
	"idsboard/internal/engine"
	"idsboard/internal/migrate"
)

type testServer struct {
	URL    string
	DB     *sql.DB
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("team-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:            "test-secret",
			AllowDevLogin:        true,
			AllowLegacyUserIDHdr: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		DB:     conn,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asAlice() map[string]string { return map[string]string{"X-User-Id": "alice"} }
func asBob() map[string]string   { return map[string]string{"X-User-Id": "bob"} }

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/headlines", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "alice",
		"email":   "alice@example.com",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("token missing: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "alice" || me.Source != "jwt" {
		t.Fatalf("me = %+v", me)
	}
}

func TestHeadlineCRUDOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/headlines", map[string]any{
		"title": "Launched beta",
	}, asAlice())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create headline %d: %s", res.StatusCode, string(data))
	}
	var created HeadlineResponse
	_ = json.Unmarshal(data, &created)
	if created.CreatedBy != "alice" || created.Status != "pending" {
		t.Fatalf("created = %+v", created)
	}

	// non-owner cannot complete it
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/headlines/"+created.ID+"/status", map[string]any{
		"status": "completed",
	}, asBob())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/headlines/"+created.ID+"/status", map[string]any{
		"status": "completed",
	}, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner status change %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/headlines", nil, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list %d: %s", res.StatusCode, string(data))
	}
	var list []HeadlineResponse
	if err := json.Unmarshal(data, &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s", string(data))
	}
}

func TestIssueSolvedGateOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title": "Flaky deploys",
	}, asAlice())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue %d: %s", res.StatusCode, string(data))
	}
	var issue IssueResponse
	_ = json.Unmarshal(data, &issue)

	// solving with no deliverables is blocked
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/issues/"+issue.ID+"/status", map[string]any{
		"status": "solved",
	}, asAlice())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/deliverables", map[string]any{
		"title":    "Add retries",
		"due_date": "2025-03-12T00:00:00Z",
	}, asAlice())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create deliverable %d: %s", res.StatusCode, string(data))
	}
	var todo DeliverableResponse
	_ = json.Unmarshal(data, &todo)

	// completing the only deliverable auto-solves the issue
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/todos/"+todo.ID+"/status", map[string]any{
		"status": "completed",
	}, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set todo status %d: %s", res.StatusCode, string(data))
	}
	var mutation DeliverableMutationResponse
	_ = json.Unmarshal(data, &mutation)
	if !mutation.IssueSolved {
		t.Fatalf("expected issue_solved in response: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues/"+issue.ID, nil, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get issue %d: %s", res.StatusCode, string(data))
	}
	var detail IssueDetailResponse
	_ = json.Unmarshal(data, &detail)
	if detail.Status != "solved" || len(detail.Deliverables) != 1 {
		t.Fatalf("detail = %s", string(data))
	}
}

func TestCascadeFailureSurfacedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title": "Degraded",
	}, asAlice())
	var issue IssueResponse
	_ = json.Unmarshal(data, &issue)

	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/deliverables", map[string]any{
		"title":    "Only one",
		"due_date": "2025-03-12T00:00:00Z",
	}, asAlice())
	var todo DeliverableResponse
	_ = json.Unmarshal(data, &todo)

	// break the auto-solve read so the status write succeeds but the
	// cascade check cannot
	if _, err := srv.DB.Exec(`ALTER TABLE issues RENAME TO issues_archive`); err != nil {
		t.Fatalf("rename issues table: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/todos/"+todo.ID+"/status", map[string]any{
		"status": "completed",
	}, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status change should still succeed: %d %s", res.StatusCode, string(data))
	}
	var mutation DeliverableMutationResponse
	_ = json.Unmarshal(data, &mutation)
	if mutation.Status != "completed" {
		t.Fatalf("deliverable not updated: %s", string(data))
	}
	if mutation.IssueSolved {
		t.Fatalf("issue cannot have been solved: %s", string(data))
	}
	if mutation.CascadeWarning == "" {
		t.Fatalf("expected cascade_warning in response: %s", string(data))
	}
}

func TestTodoHistoryOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title": "Tracked",
	}, asAlice())
	var issue IssueResponse
	_ = json.Unmarshal(data, &issue)

	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issue.ID+"/deliverables", map[string]any{
		"title":    "Original",
		"due_date": "2025-03-12T00:00:00Z",
	}, asAlice())
	var todo DeliverableResponse
	_ = json.Unmarshal(data, &todo)

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/todos/"+todo.ID, map[string]any{
		"title": "Renamed",
	}, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update todo %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/todos/"+todo.ID+"/history", nil, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history %d: %s", res.StatusCode, string(data))
	}
	var hist []HistoryEntryResponse
	if err := json.Unmarshal(data, &hist); err != nil || len(hist) != 1 {
		t.Fatalf("history = %s", string(data))
	}
	if hist[0].FieldName != "title" || hist[0].OldValue != "Original" || hist[0].NewValue != "Renamed" {
		t.Fatalf("entry = %+v", hist[0])
	}
}

func TestMyIDSOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/headlines", map[string]any{
		"title": "Mine",
	}, asAlice()); res.StatusCode != http.StatusCreated {
		t.Fatalf("create headline %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/my/ids", nil, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my ids %d: %s", res.StatusCode, string(data))
	}
	var my MyIDSResponse
	if err := json.Unmarshal(data, &my); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if my.Week == "" || len(my.Headlines) != 1 {
		t.Fatalf("my = %s", string(data))
	}
}

func TestAPIKeyAuthOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"name": "ci",
	}, asAlice())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	_ = json.Unmarshal(data, &key)
	if key.Key == "" {
		t.Fatalf("plaintext key missing: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key %d: %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "alice" || me.Source != "api_key" {
		t.Fatalf("me = %+v", me)
	}
}
