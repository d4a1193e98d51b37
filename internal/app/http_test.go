package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"wellfed/api/internal/config"
	"wellfed/api/internal/email"
	"wellfed/api/internal/export"
	"wellfed/api/internal/history"
	"wellfed/api/internal/schema"
	"wellfed/api/internal/search"
	"wellfed/api/internal/store"
)

type fakeGenerator struct {
	mu     sync.Mutex
	text   string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt = prompt
	return f.text, f.err
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []search.Query
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) ([]search.Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return []search.Result{{RecordID: "rec_1", Title: "Kahale ʻohana", SessionID: q.SessionID}}, 1, nil
}

func (f *fakeSearcher) Healthy() bool { return true }

type sentMail struct {
	mu  sync.Mutex
	to  []string
	msg string
}

type testEnv struct {
	server    http.Handler
	service   *Service
	store     *store.MemoryStore
	generator *fakeGenerator
	searcher  *fakeSearcher
	mail      *sentMail
}

func testConfig() config.Config {
	return config.Config{
		AppID:          "test-app",
		TokenSecret:    "test-secret",
		TokenTTL:       time.Hour,
		SnapshotPolicy: "overwrite",
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     store.NewMemoryStore(),
		generator: &fakeGenerator{text: "## Plan\n\nPlant kalo."},
		searcher:  &fakeSearcher{},
		mail:      &sentMail{},
	}
	mailer := email.NewService(email.Config{Host: "smtp.example.com", Port: "587", From: "garden@example.com"}).
		WithSender(func(_ string, _ smtp.Auth, _ string, to []string, msg []byte) error {
			env.mail.mu.Lock()
			defer env.mail.mu.Unlock()
			env.mail.to = to
			env.mail.msg = string(msg)
			return nil
		})

	cfg := testConfig()
	deps := Deps{
		Schema:    schema.Default(),
		Store:     env.store,
		Generator: env.generator,
		History:   history.New(t.TempDir()),
		Search:    search.NewService(nil, env.searcher, nil),
		Export: export.NewService(func(context.Context, string) ([]byte, error) {
			return []byte("%PDF-1.4"), nil
		}, nil, nil),
		Email: mailer,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	svc, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(svc.Close)
	env.service = svc
	env.server = NewHTTPServer(svc, "*").Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) startSession(t *testing.T) (token, sessionID string) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/session", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start session: status %d body %s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	return payload["token"].(string), payload["sessionId"].(string)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func eventually(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ok := decode(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin *, got %q", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
		deps.Ping = func(context.Context) error { return errors.New("connection refused") }
	})
	rr := env.do(t, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if payload["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", payload["status"])
	}

	healthy := newTestEnv(t, nil)
	if rr := healthy.do(t, http.MethodGet, "/api/ready", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 without a pinger, got %d", rr.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/api/schema", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	sections, _ := decode(t, rr)["sections"].([]any)
	if len(sections) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(sections))
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/session", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start session: %d %s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	token := payload["token"].(string)
	sessionID := payload["sessionId"].(string)
	if !strings.HasPrefix(sessionID, "anon_") {
		t.Errorf("expected anonymous session id, got %q", sessionID)
	}
	wantPrefix := "artifacts/test-app/users/" + sessionID + "/siteAnalyses/rec_"
	if path := payload["recordPath"].(string); !strings.HasPrefix(path, wantPrefix) {
		t.Errorf("record path %q does not start with %q", path, wantPrefix)
	}
	if payload["state"] != "bound" {
		t.Errorf("expected bound state, got %v", payload["state"])
	}

	rr = env.do(t, http.MethodGet, "/api/session", token, nil)
	if got := decode(t, rr); got["authenticated"] != true || got["sessionId"] != sessionID {
		t.Errorf("unexpected session payload %v", got)
	}

	rr = env.do(t, http.MethodPost, "/api/session", token, nil)
	if got := decode(t, rr)["sessionId"]; got != sessionID {
		t.Errorf("resuming with the token should keep the session, got %v", got)
	}
	if env.service.SessionCount() != 1 {
		t.Errorf("expected one workspace, got %d", env.service.SessionCount())
	}

	if rr := env.do(t, http.MethodDelete, "/api/session", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("end session: %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/form", token, nil)
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != "SESSION_NOT_STARTED" {
		t.Fatalf("expected SESSION_NOT_STARTED, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSessionResumesFromTokenAfterRestart(t *testing.T) {
	first := newTestEnv(t, nil)
	token, sessionID := first.startSession(t)

	second := newTestEnv(t, nil)
	rr := second.do(t, http.MethodPost, "/api/session", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", rr.Code, rr.Body.String())
	}
	if got := decode(t, rr)["sessionId"]; got != sessionID {
		t.Errorf("custom token sign-in should keep session %s, got %v", sessionID, got)
	}
}

func TestSessionRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/api/session", "garbage", nil)
	if rr.Code != http.StatusUnauthorized || decode(t, rr)["code"] != "SIGN_IN_FAILED" {
		t.Fatalf("expected SIGN_IN_FAILED, got %d %s", rr.Code, rr.Body.String())
	}
	if env.service.SessionCount() != 0 {
		t.Error("failed sign-in must not register a workspace")
	}
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodGet, "/api/form", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/form", "not.valid", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", rr.Code)
	}
}

func TestEditAndSave(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.startSession(t)

	edits := []struct {
		field string
		body  map[string]any
	}{
		{"familyName", map[string]any{"op": "set", "value": "Kahale"}},
		{"plantingZoneDimensions", map[string]any{"op": "setDimension", "sub": "length", "value": "20"}},
		{"groundcover", map[string]any{"op": "toggle", "option": "Other", "selected": true}},
		{"groundcoverOther", map[string]any{"op": "set", "value": "Lava rock"}},
	}
	for _, edit := range edits {
		rr := env.do(t, http.MethodPut, "/api/form/fields/"+edit.field, token, edit.body)
		if rr.Code != http.StatusOK {
			t.Fatalf("edit %s: %d %s", edit.field, rr.Code, rr.Body.String())
		}
		if edit.field == "groundcover" && decode(t, rr)["otherVisible"] != true {
			t.Error("selecting Other should reveal the companion field")
		}
	}

	state := decode(t, env.do(t, http.MethodGet, "/api/form", token, nil))
	if state["dirty"] != true {
		t.Error("working copy should be dirty before saving")
	}

	rr := env.do(t, http.MethodPost, "/api/form/save", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rr.Code, rr.Body.String())
	}

	ws, err := env.service.WorkspaceFromToken(token)
	if err != nil {
		t.Fatalf("WorkspaceFromToken: %v", err)
	}
	rec, err := env.store.GetRecord(context.Background(), ws.RecordPath())
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Status != store.StatusSaved || rec.FormData["familyName"] != "Kahale" {
		t.Fatalf("unexpected stored record %+v", rec)
	}
	dims, _ := rec.FormData["plantingZoneDimensions"].(map[string]any)
	if dims["length"] != "20" {
		t.Errorf("dimensions stored as %v", rec.FormData["plantingZoneDimensions"])
	}
	if _, hasWidth := dims["width"]; hasWidth {
		t.Error("width was never edited and must be absent")
	}
}

func TestEditErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.startSession(t)

	tests := []struct {
		name   string
		field  string
		body   map[string]any
		status int
		code   string
	}{
		{"unknown field", "favoriteColor", map[string]any{"op": "set", "value": "green"}, http.StatusNotFound, "UNKNOWN_FIELD"},
		{"toggle on text", "familyName", map[string]any{"op": "toggle", "option": "x", "selected": true}, http.StatusUnprocessableEntity, "EDIT_MISMATCH"},
		{"unknown op", "familyName", map[string]any{"op": "append", "value": "x"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"missing value", "familyName", map[string]any{"op": "set"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPut, "/api/form/fields/"+tt.field, token, tt.body)
			if rr.Code != tt.status || decode(t, rr)["code"] != tt.code {
				t.Fatalf("expected %d %s, got %d %s", tt.status, tt.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestNavigation(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *Deps) {
		cfg.NavAwaitSave = true
	})
	token, _ := env.startSession(t)

	env.do(t, http.MethodPut, "/api/form/fields/familyName", token, map[string]any{"op": "set", "value": "Kahale"})

	rr := env.do(t, http.MethodPost, "/api/nav/next", token, nil)
	progress := decode(t, rr)
	if progress["index"] != float64(1) || progress["title"] != "Site Analysis" {
		t.Fatalf("unexpected progress after next: %v", progress)
	}

	ws, _ := env.service.WorkspaceFromToken(token)
	rec, err := env.store.GetRecord(context.Background(), ws.RecordPath())
	if err != nil || rec.FormData["familyName"] != "Kahale" {
		t.Fatalf("next should have saved first, got %+v (%v)", rec, err)
	}

	rr = env.do(t, http.MethodPost, "/api/nav/jump", token, map[string]any{"index": 9})
	if rr.Code != http.StatusUnprocessableEntity || decode(t, rr)["code"] != "OUT_OF_RANGE" {
		t.Fatalf("expected OUT_OF_RANGE, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/nav/jump", token, map[string]any{"index": 3})
	if progress := decode(t, rr); progress["last"] != true {
		t.Fatalf("expected last section, got %v", progress)
	}

	rr = env.do(t, http.MethodPost, "/api/nav/next", token, nil)
	if progress := decode(t, rr); progress["index"] != float64(3) {
		t.Errorf("next on the last section must clamp, got %v", progress["index"])
	}

	rr = env.do(t, http.MethodPost, "/api/nav/sideways", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown nav action should 404, got %d", rr.Code)
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.startSession(t)
	env.do(t, http.MethodPut, "/api/form/fields/familyName", token, map[string]any{"op": "set", "value": "Kahale"})

	rr := env.do(t, http.MethodGet, "/api/summary", token, nil)
	if decode(t, rr)["status"] != "idle" {
		t.Fatalf("expected idle before any request, got %s", rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/summary?wait=true", token, nil)
	result := decode(t, rr)
	if rr.Code != http.StatusOK || result["status"] != "success" || result["text"] != "## Plan\n\nPlant kalo." {
		t.Fatalf("unexpected summary %d %v", rr.Code, result)
	}
	env.generator.mu.Lock()
	prompt := env.generator.prompt
	env.generator.mu.Unlock()
	if !strings.Contains(prompt, `"familyName": "Kahale"`) {
		t.Errorf("prompt should carry the working copy, got %q", prompt)
	}

	env.generator.mu.Lock()
	env.generator.err = errors.New("API call failed with status: 500")
	env.generator.mu.Unlock()

	rr = env.do(t, http.MethodPost, "/api/summary", token, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("async summary should be accepted, got %d", rr.Code)
	}
	eventually(t, "summary error", func() bool {
		return decode(t, env.do(t, http.MethodGet, "/api/summary", token, nil))["status"] == "error"
	})
	failed := decode(t, env.do(t, http.MethodGet, "/api/summary", token, nil))
	want := "An error occurred while generating the summary: API call failed with status: 500. Please try again later."
	if failed["error"] != want {
		t.Errorf("error message = %q", failed["error"])
	}
}

func TestHistoryAfterSave(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.startSession(t)

	rr := env.do(t, http.MethodGet, "/api/history", token, nil)
	if rr.Code != http.StatusNotFound || decode(t, rr)["code"] != "NO_HISTORY" {
		t.Fatalf("expected NO_HISTORY before the first save, got %d %s", rr.Code, rr.Body.String())
	}

	env.do(t, http.MethodPut, "/api/form/fields/familyName", token, map[string]any{"op": "set", "value": "Kahale"})
	env.do(t, http.MethodPost, "/api/form/save", token, nil)

	eventually(t, "first revision", func() bool {
		rr := env.do(t, http.MethodGet, "/api/history", token, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		revisions, _ := decode(t, rr)["revisions"].([]any)
		return len(revisions) == 1
	})
}

func TestSearchIsScopedToSession(t *testing.T) {
	env := newTestEnv(t, nil)
	token, sessionID := env.startSession(t)

	if rr := env.do(t, http.MethodGet, "/api/search", token, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty query should be rejected, got %d", rr.Code)
	}

	rr := env.do(t, http.MethodGet, "/api/search?q=kahale&limit=5", token, nil)
	if rr.Code != http.StatusOK || decode(t, rr)["total"] != float64(1) {
		t.Fatalf("unexpected search response %d %s", rr.Code, rr.Body.String())
	}
	env.searcher.mu.Lock()
	defer env.searcher.mu.Unlock()
	q := env.searcher.queries[len(env.searcher.queries)-1]
	if q.SessionID != sessionID || q.Namespace != "test-app" || q.Limit != 5 {
		t.Errorf("unexpected query %+v", q)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.startSession(t)
	env.do(t, http.MethodPut, "/api/form/fields/familyName", token, map[string]any{"op": "set", "value": "Kahale"})

	rr := env.do(t, http.MethodPost, "/api/export", token, map[string]any{"format": "html"})
	if rr.Code != http.StatusOK {
		t.Fatalf("export html: %d %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "Garden-Site-Analysis-Kahale-Ohana.html") {
		t.Errorf("content disposition = %q", rr.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(rr.Body.String(), "<dd>Kahale</dd>") {
		t.Error("report should contain the answers")
	}

	rr = env.do(t, http.MethodPost, "/api/export", token, map[string]any{"format": "pdf"})
	if rr.Code != http.StatusOK || rr.Body.String() != "%PDF-1.4" {
		t.Fatalf("export pdf: %d %q", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/export", token, map[string]any{"format": "html", "archive": true})
	if rr.Code != http.StatusServiceUnavailable || decode(t, rr)["code"] != "ARCHIVE_UNAVAILABLE" {
		t.Fatalf("expected ARCHIVE_UNAVAILABLE, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/export", token, map[string]any{"format": "docx"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for docx, got %d", rr.Code)
	}
}

func TestEmailPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.startSession(t)

	rr := env.do(t, http.MethodPost, "/api/email", token, map[string]any{})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without a contact email, got %d %s", rr.Code, rr.Body.String())
	}

	env.do(t, http.MethodPut, "/api/form/fields/contactEmail", token, map[string]any{"op": "set", "value": "leilani@example.com"})
	env.do(t, http.MethodPut, "/api/form/fields/primaryContactName", token, map[string]any{"op": "set", "value": "Leilani"})
	env.do(t, http.MethodPost, "/api/summary?wait=true", token, nil)

	rr = env.do(t, http.MethodPost, "/api/email", token, map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("email: %d %s", rr.Code, rr.Body.String())
	}
	env.mail.mu.Lock()
	defer env.mail.mu.Unlock()
	if len(env.mail.to) != 1 || env.mail.to[0] != "leilani@example.com" {
		t.Errorf("unexpected recipients %v", env.mail.to)
	}
	if !strings.Contains(env.mail.msg, "Aloha Leilani") || !strings.Contains(env.mail.msg, "Plant kalo.") {
		t.Errorf("message missing greeting or plan:\n%s", env.mail.msg)
	}
}

func TestEmailNotConfigured(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
		deps.Email = nil
	})
	token, _ := env.startSession(t)
	rr := env.do(t, http.MethodPost, "/api/email", token, map[string]any{"to": "a@example.com"})
	if rr.Code != http.StatusServiceUnavailable || decode(t, rr)["code"] != "EMAIL_UNAVAILABLE" {
		t.Fatalf("expected EMAIL_UNAVAILABLE, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.startSession(t)
	if rr := env.do(t, http.MethodGet, "/api/nowhere", token, nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}
