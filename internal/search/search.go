package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wellfed/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	RecordID  string `json:"recordId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	City      string `json:"city,omitempty"`
	Status    string `json:"status"`
	VisitDate string `json:"visitDate,omitempty"`
	SessionID string `json:"-"`
	Namespace string `json:"-"`
}

// Query describes a search request. Namespace and SessionID scope results to
// one session's records.
type Query struct {
	Text      string
	Namespace string
	SessionID string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push records into a search index.
type Indexer interface {
	IndexRecord(rec RecordDocument) error
	IndexRecords(recs []RecordDocument) error
}

// RecordDocument is the data we index for a saved site analysis.
type RecordDocument struct {
	ID          string `json:"id"`
	Namespace   string `json:"namespace"`
	SessionID   string `json:"sessionId"`
	FamilyName  string `json:"familyName"`
	ContactName string `json:"contactName"`
	Email       string `json:"email"`
	City        string `json:"city"`
	VisitDate   string `json:"visitDate"`
	Vision      string `json:"vision"`
	Status      string `json:"status"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// RecordFromFormData extracts the searchable fields of a record.
func RecordFromFormData(path store.Path, formData map[string]any, status store.Status, updatedAt time.Time) RecordDocument {
	return RecordDocument{
		ID:          path.RecordID,
		Namespace:   path.Namespace,
		SessionID:   path.SessionID,
		FamilyName:  stringField(formData, "familyName"),
		ContactName: stringField(formData, "primaryContactName"),
		Email:       stringField(formData, "contactEmail"),
		City:        stringField(formData, "siteAddressCity"),
		VisitDate:   stringField(formData, "visitDate"),
		Vision:      stringField(formData, "visionAndGoals"),
		Status:      string(status),
		UpdatedAt:   updatedAt.Unix(),
	}
}

func stringField(formData map[string]any, key string) string {
	switch v := formData[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

func recordTitle(familyName string) string {
	if familyName == "" {
		return "Untitled site analysis"
	}
	return familyName + " ʻohana"
}
