package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wellfed/api/internal/store"
)

// Index is a search backend that can also be written to.
type Index interface {
	Searcher
	Indexer
}

// Service is the facade that tries the index first and falls back to
// Postgres full-text search.
type Service struct {
	index    Index
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. index and fallback may each be nil.
func NewService(index Index, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, fallback: fallback, logger: logger}
}

// Search tries the index if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: scoped(nonNil(results), q), Total: total, Query: q.Text}
		}
		s.logger.Warn("index search failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: scoped(nonNil(results), q), Total: total, Query: q.Text}
}

// RecordSaved indexes a freshly saved record. It runs from the save hook
// goroutine, so it indexes synchronously and reports failures.
func (s *Service) RecordSaved(_ context.Context, path store.Path, formData map[string]any, savedAt time.Time) error {
	if s.index == nil || !s.index.Healthy() {
		return nil
	}
	if err := s.index.IndexRecord(RecordFromFormData(path, formData, store.StatusSaved, savedAt)); err != nil {
		return fmt.Errorf("index record %s: %w", path.RecordID, err)
	}
	return nil
}

// Reindex pushes every record the loader returns into the index.
func (s *Service) Reindex(ctx context.Context, load func(context.Context) ([]RecordDocument, error)) {
	if s.index == nil || !s.index.Healthy() || load == nil {
		return
	}
	records, err := load(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.index.IndexRecords(records); err != nil {
		s.logger.Warn("reindex records", zap.Error(err))
		return
	}
	s.logger.Info("search index rebuilt", zap.Int("records", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// scoped drops any hit outside the query's session scope.
func scoped(results []Result, q Query) []Result {
	if q.SessionID == "" && q.Namespace == "" {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if q.SessionID != "" && r.SessionID != "" && r.SessionID != q.SessionID {
			continue
		}
		if q.Namespace != "" && r.Namespace != "" && r.Namespace != q.Namespace {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func decodeFormData(raw []byte) (map[string]any, error) {
	formData := map[string]any{}
	if len(raw) == 0 {
		return formData, nil
	}
	if err := json.Unmarshal(raw, &formData); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	return formData, nil
}
