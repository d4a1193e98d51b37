package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"wellfed/api/internal/auth"
	"wellfed/api/internal/config"
	"wellfed/api/internal/coordinator"
	"wellfed/api/internal/email"
	"wellfed/api/internal/export"
	"wellfed/api/internal/form"
	"wellfed/api/internal/history"
	"wellfed/api/internal/nav"
	"wellfed/api/internal/schema"
	"wellfed/api/internal/search"
	"wellfed/api/internal/session"
	"wellfed/api/internal/store"
	"wellfed/api/internal/summary"
)

const bindTimeout = 15 * time.Second

// Deps are the collaborators the service wires into every session. Only
// Schema and Store are required.
type Deps struct {
	Schema    *schema.Schema
	Store     store.DocumentStore
	Generator summary.Generator
	History   *history.Service
	Search    *search.Service
	Export    *export.Service
	Email     *email.Service
	Ping      func(context.Context) error
	Logger    *zap.Logger
}

// Workspace is one signed-in session: its identity, bound record and the
// engine components operating on it.
type Workspace struct {
	Provider    *auth.Provider
	Binder      *session.Binder
	Coordinator *coordinator.Coordinator
	Navigator   *nav.Navigator
	Summary     *summary.Requester

	identity auth.Identity
	path     store.Path

	mu       sync.Mutex
	lastSeen time.Time
}

func (w *Workspace) SessionID() string {
	return w.identity.SessionID
}

func (w *Workspace) RecordPath() store.Path {
	return w.path
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

func (w *Workspace) close() {
	w.Coordinator.Close()
	w.Binder.Close()
}

type Service struct {
	cfg    config.Config
	deps   Deps
	policy coordinator.Policy
	hooks  []coordinator.SaveHook
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Schema == nil || deps.Store == nil {
		return nil, errors.New("app: schema and store are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Generator == nil {
		deps.Generator = unconfiguredGenerator{}
	}
	if deps.Export == nil {
		deps.Export = export.NewService(nil, nil, deps.Logger)
	}
	if deps.Email == nil {
		deps.Email = email.NewService(email.Config{})
	}
	policy, err := coordinator.ParsePolicy(cfg.SnapshotPolicy)
	if err != nil {
		return nil, err
	}

	var hooks []coordinator.SaveHook
	if deps.History != nil {
		hooks = append(hooks, deps.History)
	}
	if deps.Search != nil {
		hooks = append(hooks, deps.Search)
	}

	return &Service{
		cfg:        cfg,
		deps:       deps,
		policy:     policy,
		hooks:      hooks,
		logger:     deps.Logger,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	if s.deps.Ping == nil {
		return nil
	}
	return s.deps.Ping(ctx)
}

func (s *Service) Schema() *schema.Schema {
	return s.deps.Schema
}

// StartSession resumes the workspace named by token or signs a new session
// in, binds it to a fresh record and subscribes to that record. It returns
// the workspace and a token that resumes it.
func (s *Service) StartSession(ctx context.Context, token string) (*Workspace, string, error) {
	if token != "" {
		if ws, err := s.WorkspaceFromToken(token); err == nil {
			return ws, token, nil
		}
	}

	initialToken := token
	if initialToken == "" {
		initialToken = s.cfg.InitialAuthToken
	}

	logger := s.logger.With(zap.String("component", "session"))
	provider := auth.NewProvider([]byte(s.cfg.TokenSecret), s.cfg.TokenTTL, logger)
	binder := session.NewBinder(provider, s.deps.Store, s.cfg.AppID, initialToken, logger)
	binder.Start(ctx)

	identity, ok := provider.Current()
	if !ok {
		binder.Close()
		return nil, "", errSignInFailed
	}

	waitCtx, cancel := context.WithTimeout(ctx, bindTimeout)
	defer cancel()
	path, err := binder.Wait(waitCtx)
	if err != nil {
		binder.Close()
		return nil, "", fmt.Errorf("bind session %s: %w", identity.SessionID, err)
	}

	coord := coordinator.New(s.deps.Schema, s.deps.Store, coordinator.Options{
		Policy: s.policy,
		Hooks:  s.hooks,
		Logger: logger.With(zap.String("session_id", identity.SessionID)),
	})
	if err := coord.Subscribe(waitCtx, path); err != nil {
		coord.Close()
		binder.Close()
		return nil, "", err
	}

	ws := &Workspace{
		Provider:    provider,
		Binder:      binder,
		Coordinator: coord,
		Navigator:   nav.New(s.deps.Schema, coord, s.cfg.NavAwaitSave, logger),
		Summary:     summary.NewRequester(s.deps.Generator, logger),
		identity:    identity,
		path:        path,
		lastSeen:    s.now(),
	}

	issued, err := provider.IssueToken(identity)
	if err != nil {
		ws.close()
		return nil, "", fmt.Errorf("issue token: %w", err)
	}

	s.mu.Lock()
	previous := s.workspaces[identity.SessionID]
	s.workspaces[identity.SessionID] = ws
	s.mu.Unlock()
	if previous != nil {
		previous.close()
	}

	s.logger.Info("session started",
		zap.String("session_id", identity.SessionID),
		zap.String("path", path.String()),
		zap.Bool("anonymous", identity.Anonymous),
	)
	return ws, issued, nil
}

// WorkspaceFromToken verifies token and returns its live workspace.
func (s *Service) WorkspaceFromToken(token string) (*Workspace, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	ws, ok := s.workspaces[claims.Sub]
	s.mu.Unlock()
	if !ok {
		return nil, errSessionNotStarted
	}
	ws.touch(s.now())
	return ws, nil
}

// EndSession closes the workspace and forgets it.
func (s *Service) EndSession(sessionID string) {
	s.mu.Lock()
	ws, ok := s.workspaces[sessionID]
	delete(s.workspaces, sessionID)
	s.mu.Unlock()
	if ok {
		ws.close()
		s.logger.Info("session ended", zap.String("session_id", sessionID))
	}
}

// EvictIdle closes workspaces unused for longer than ttl and returns how
// many were closed.
func (s *Service) EvictIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)
	var stale []*Workspace
	s.mu.Lock()
	for id, ws := range s.workspaces {
		if ws.idleSince().Before(cutoff) {
			stale = append(stale, ws)
			delete(s.workspaces, id)
		}
	}
	s.mu.Unlock()
	for _, ws := range stale {
		ws.close()
	}
	return len(stale)
}

// RunJanitor evicts idle workspaces until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.EvictIdle(ttl); n > 0 {
				s.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Close ends every session.
func (s *Service) Close() {
	s.mu.Lock()
	workspaces := s.workspaces
	s.workspaces = make(map[string]*Workspace)
	s.mu.Unlock()
	for _, ws := range workspaces {
		ws.close()
	}
}

func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workspaces)
}

// FormState describes the local working copy for rendering.
func (s *Service) FormState(ws *Workspace) map[string]any {
	wc := ws.Coordinator.WorkingCopy()
	return map[string]any{
		"recordPath":   ws.path.String(),
		"formData":     wc.Encode(),
		"otherVisible": otherVisible(s.deps.Schema, wc),
		"dirty":        ws.Coordinator.Dirty(),
		"saving":       ws.Coordinator.Saving(),
		"progress":     ws.Navigator.Progress(),
	}
}

// EditInput is one field edit as sent by the client.
type EditInput struct {
	Op       string  `json:"op"`
	Value    *string `json:"value"`
	Sub      string  `json:"sub"`
	Option   string  `json:"option"`
	Selected *bool   `json:"selected"`
}

func (in EditInput) toEdit() (form.Edit, error) {
	switch in.Op {
	case "set":
		if in.Value == nil {
			return form.Edit{}, validationError("value is required")
		}
		return form.SetText(*in.Value), nil
	case "setDimension":
		if in.Value == nil || in.Sub == "" {
			return form.Edit{}, validationError("sub and value are required")
		}
		return form.SetDimension(form.DimensionKey(in.Sub), *in.Value), nil
	case "toggle":
		if in.Option == "" || in.Selected == nil {
			return form.Edit{}, validationError("option and selected are required")
		}
		return form.Toggle(in.Option, *in.Selected), nil
	default:
		return form.Edit{}, validationError("op must be 'set', 'setDimension' or 'toggle'")
	}
}

func (s *Service) EditField(ws *Workspace, fieldID string, input EditInput) (map[string]any, error) {
	op, err := input.toEdit()
	if err != nil {
		return nil, err
	}
	value, err := ws.Coordinator.Edit(fieldID, op)
	if err != nil {
		return nil, err
	}
	response := map[string]any{
		"fieldId": fieldID,
		"value":   value.Encode(),
		"dirty":   ws.Coordinator.Dirty(),
	}
	if field, ok := s.deps.Schema.Field(fieldID); ok && field.AllowsOther {
		response["otherVisible"] = form.OtherSelected(value)
	}
	return response, nil
}

func (s *Service) Save(ctx context.Context, ws *Workspace) (map[string]any, error) {
	if err := ws.Coordinator.Save(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("Form saved successfully", zap.String("session_id", ws.SessionID()))
	return map[string]any{"saved": true, "recordPath": ws.path.String()}, nil
}

func (s *Service) Navigate(ctx context.Context, ws *Workspace, action string, index int) (nav.Progress, error) {
	// Background saves must outlive the request.
	ctx = context.WithoutCancel(ctx)
	switch action {
	case "next":
		ws.Navigator.Next(ctx)
	case "previous":
		ws.Navigator.Previous(ctx)
	case "jump":
		if err := ws.Navigator.JumpTo(index); err != nil {
			return nav.Progress{}, err
		}
	default:
		return nav.Progress{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return ws.Navigator.Progress(), nil
}

// GenerateSummary asks for a new summary. With wait it blocks for the
// result; otherwise the request runs in the background and the pending
// state is returned.
func (s *Service) GenerateSummary(ctx context.Context, ws *Workspace, wait bool) summary.Result {
	wc := ws.Coordinator.WorkingCopy()
	if wait {
		return ws.Summary.Generate(ctx, wc)
	}
	ws.Summary.Start(context.WithoutCancel(ctx), wc)
	return ws.Summary.Latest()
}

func (s *Service) History(ws *Workspace, limit int) (map[string]any, error) {
	if s.deps.History == nil {
		return nil, errHistoryDisabled
	}
	revisions, err := s.deps.History.History(ws.path, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"recordPath": ws.path.String(), "revisions": revisions}, nil
}

func (s *Service) Revision(ws *Workspace, hash string) (map[string]any, error) {
	if s.deps.History == nil {
		return nil, errHistoryDisabled
	}
	formData, err := s.deps.History.FormDataAt(ws.path, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hash": hash, "formData": formData}, nil
}

func (s *Service) Compare(ws *Workspace, from, to string) (map[string]any, error) {
	if s.deps.History == nil {
		return nil, errHistoryDisabled
	}
	if from == "" || to == "" {
		return nil, validationError("from and to are required")
	}
	changes, err := s.deps.History.Diff(ws.path, from, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"from": from, "to": to, "changes": changes}, nil
}

func (s *Service) Search(ctx context.Context, ws *Workspace, text string, limit, offset int) search.Response {
	if s.deps.Search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.deps.Search.Search(ctx, search.Query{
		Text:      text,
		Namespace: s.cfg.AppID,
		SessionID: ws.SessionID(),
		Limit:     limit,
		Offset:    offset,
	})
}

// Report builds the shareable report from the working copy and the latest
// successful summary.
func (s *Service) Report(ws *Workspace) export.Report {
	var text string
	if latest := ws.Summary.Latest(); latest.Status == summary.StatusSuccess {
		text = latest.Text
	}
	return export.BuildReport(s.deps.Schema, ws.Coordinator.WorkingCopy(), text, ws.path, s.now().UTC())
}

func (s *Service) Export(ctx context.Context, ws *Workspace, format export.Format, archive bool) (*export.Result, error) {
	return s.deps.Export.Export(ctx, s.Report(ws), format, archive)
}

// EmailPlan sends the report to to, or to the recorded contact email when
// to is empty. A download link is included when the report can be archived.
func (s *Service) EmailPlan(ctx context.Context, ws *Workspace, to string) (map[string]any, error) {
	if !s.deps.Email.IsConfigured() {
		return nil, email.ErrNotConfigured
	}
	wc := ws.Coordinator.WorkingCopy()
	if strings.TrimSpace(to) == "" {
		to = export.FormatValue(wc["contactEmail"])
	}
	if to == "" {
		return nil, validationError("no recipient: contact email is empty")
	}

	report := s.Report(ws)
	summaryHTML, err := export.MarkdownToHTML(report.Summary)
	if err != nil {
		return nil, err
	}
	data := email.PlanData{
		FamilyName:  export.FormatValue(wc["familyName"]),
		ContactName: export.FormatValue(wc["primaryContactName"]),
		Title:       report.Title,
		SummaryHTML: summaryHTML,
		PlainText:   export.PlainText(report),
	}

	var archiveKey string
	if archive, ok := s.deps.Export.Archive(); ok {
		result, err := s.deps.Export.Export(ctx, report, export.FormatHTML, true)
		if err != nil {
			s.logger.Warn("archive report for email", zap.Error(err))
		} else {
			archiveKey = result.ArchiveKey
			if url, err := archive.URL(ctx, archiveKey, 7*24*time.Hour); err == nil {
				data.DownloadURL = url
			}
		}
	}

	if err := s.deps.Email.SendPlan(to, data); err != nil {
		return nil, fmt.Errorf("send plan: %w", err)
	}
	s.logger.Info("plan emailed", zap.String("session_id", ws.SessionID()))
	return map[string]any{"sent": true, "to": to, "archiveKey": archiveKey}, nil
}

func otherVisible(s *schema.Schema, wc form.WorkingCopy) map[string]bool {
	visible := map[string]bool{}
	for _, id := range s.FieldIDs() {
		field, _ := s.Field(id)
		if field.AllowsOther {
			visible[id] = form.OtherSelected(wc[id])
		}
	}
	return visible
}

type unconfiguredGenerator struct{}

func (unconfiguredGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("generative text service not configured")
}
