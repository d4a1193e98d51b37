package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wellfed/api/internal/auth"
	"wellfed/api/internal/coordinator"
	"wellfed/api/internal/email"
	"wellfed/api/internal/export"
	"wellfed/api/internal/form"
	"wellfed/api/internal/history"
	"wellfed/api/internal/nav"
	"wellfed/api/internal/session"
	"wellfed/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":       status == "ready",
			"status":   status,
			"checks":   checks,
			"sessions": s.service.SessionCount(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/schema" {
		writeJSON(w, http.StatusOK, map[string]any{"sections": s.service.Schema().Sections})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "sessionId": nil})
			return
		}
		ws, err := s.service.WorkspaceFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "sessionId": nil})
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(ws, ""))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session" {
		ws, token, err := s.service.StartSession(r.Context(), bearerToken(r))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(ws, token))
		return
	}

	ws, ok := s.requireWorkspace(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/session" {
		s.service.EndSession(ws.SessionID())
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "form" {
		s.handleForm(w, r, ws, parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "nav" {
		s.handleNav(w, r, ws, parts)
		return
	}

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "summary" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, ws.Summary.Latest())
		case http.MethodPost:
			wait := r.URL.Query().Get("wait") == "true"
			result := s.service.GenerateSummary(r.Context(), ws, wait)
			status := http.StatusAccepted
			if wait {
				status = http.StatusOK
			}
			writeJSON(w, status, result)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "history" && r.Method == http.MethodGet {
		var (
			payload map[string]any
			err     error
		)
		switch {
		case len(parts) == 2:
			payload, err = s.service.History(ws, queryInt(r, "limit", 50))
		case len(parts) == 3 && parts[2] == "compare":
			payload, err = s.service.Compare(ws, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		case len(parts) == 3:
			payload, err = s.service.Revision(ws, parts[2])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			s.writeMappedError(w, r, validationError("q is required"))
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), ws, q, queryInt(r, "limit", 20), queryInt(r, "offset", 0)))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/export" {
		var body struct {
			Format  string `json:"format"` // "pdf" or "html"
			Archive bool   `json:"archive"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format, err := export.ParseFormat(body.Format)
		if err != nil {
			s.writeMappedError(w, r, validationError("format must be 'pdf' or 'html'"))
			return
		}
		result, err := s.service.Export(r.Context(), ws, format, body.Archive)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		if result.ArchiveKey != "" {
			w.Header().Set("X-Archive-Key", result.ArchiveKey)
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/email" {
		var body struct {
			To string `json:"to"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.EmailPlan(r.Context(), ws, body.To)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleForm(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.service.FormState(ws))
		return
	}

	if len(parts) == 3 && parts[2] == "save" && r.Method == http.MethodPost {
		payload, err := s.service.Save(r.Context(), ws)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[2] == "fields" && r.Method == http.MethodPut {
		var body EditInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.EditField(ws, parts[3], body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleNav(w http.ResponseWriter, r *http.Request, ws *Workspace, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, ws.Navigator.Progress())
		return
	}

	if len(parts) == 3 && r.Method == http.MethodPost {
		var body struct {
			Index int `json:"index"`
		}
		if parts[2] == "jump" {
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
		}
		progress, err := s.service.Navigate(r.Context(), ws, parts[2], body.Index)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireWorkspace(w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return nil, false
	}
	ws, err := s.service.WorkspaceFromToken(token)
	if err != nil {
		s.writeMappedError(w, r, err)
		return nil, false
	}
	return ws, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func sessionPayload(ws *Workspace, token string) map[string]any {
	payload := map[string]any{
		"authenticated": true,
		"sessionId":     ws.SessionID(),
		"recordPath":    ws.RecordPath().String(),
		"recordId":      ws.RecordPath().RecordID,
		"state":         ws.Binder.State().String(),
	}
	if token != "" {
		payload["token"] = token
	}
	return payload
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Archive-Key, Content-Disposition")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, session.ErrNotBound):
		return http.StatusConflict, "NOT_BOUND", "Session is not bound to a record", nil
	case errors.Is(err, coordinator.ErrUnknownField):
		return http.StatusNotFound, "UNKNOWN_FIELD", "Unknown field", nil
	case errors.Is(err, form.ErrEditMismatch):
		return http.StatusUnprocessableEntity, "EDIT_MISMATCH", "Edit does not match the field type", nil
	case errors.Is(err, nav.ErrOutOfRange):
		return http.StatusUnprocessableEntity, "OUT_OF_RANGE", "Section index out of range", nil
	case errors.Is(err, history.ErrNoHistory):
		return http.StatusNotFound, "NO_HISTORY", "No saved revisions yet", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, export.ErrArchiveUnavailable):
		return http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Report archive not configured", nil
	case errors.Is(err, email.ErrNotConfigured):
		return http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "Email not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
