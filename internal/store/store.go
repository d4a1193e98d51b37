// Package store persists site-analysis records as JSON-shaped documents and
// pushes full-record snapshots to subscribers whenever a record changes.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusSaved      Status = "saved"
)

var ErrNotFound = errors.New("record not found")

// Path addresses one record: artifacts/{Namespace}/users/{SessionID}/siteAnalyses/{RecordID}.
// A Path with an empty RecordID addresses the session's collection.
type Path struct {
	Namespace string
	SessionID string
	RecordID  string
}

func (p Path) Collection() string {
	return fmt.Sprintf("artifacts/%s/users/%s/siteAnalyses", p.Namespace, p.SessionID)
}

func (p Path) String() string {
	if p.RecordID == "" {
		return p.Collection()
	}
	return p.Collection() + "/" + p.RecordID
}

func (p Path) validate(needRecord bool) error {
	if p.Namespace == "" || p.SessionID == "" {
		return fmt.Errorf("invalid record path %q", p.String())
	}
	if needRecord && p.RecordID == "" {
		return fmt.Errorf("record path %q has no record id", p.String())
	}
	return nil
}

type Record struct {
	ID        string         `json:"-"`
	FormData  map[string]any `json:"formData"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}

// Snapshot is the full current state of a record as pushed to subscribers.
type Snapshot struct {
	Path   Path
	Exists bool
	Record Record
}

// Write is a merge-style update: every formData key present overwrites the
// stored key, keys absent here are left untouched.
type Write struct {
	FormData  map[string]any
	Status    Status
	UpdatedAt time.Time
}

// DocumentStore is the remote document store collaborator.
type DocumentStore interface {
	// CreateRecord adds a record to the collection addressed by path (whose
	// RecordID is ignored) and returns the full path of the new record.
	CreateRecord(ctx context.Context, path Path, initial Record) (Path, error)
	WriteRecord(ctx context.Context, path Path, write Write) error
	GetRecord(ctx context.Context, path Path) (Record, error)
	// Subscribe delivers the current state first and then one snapshot per
	// change, serially. ctx bounds setup only. unsubscribe stops delivery.
	Subscribe(ctx context.Context, path Path, onSnapshot func(Snapshot), onError func(error)) (unsubscribe func(), err error)
}

// Lister is implemented by stores that can enumerate a session's records.
type Lister interface {
	List(ctx context.Context, path Path) ([]Record, error)
}

// mergeInto applies a merge write on top of rec and returns the result.
func mergeInto(rec Record, write Write) Record {
	out := rec
	out.FormData = make(map[string]any, len(rec.FormData)+len(write.FormData))
	maps.Copy(out.FormData, rec.FormData)
	maps.Copy(out.FormData, write.FormData)
	if write.Status != "" {
		out.Status = write.Status
	}
	if !write.UpdatedAt.IsZero() {
		out.UpdatedAt = write.UpdatedAt
	}
	return out
}

func sortNewest(items []Record) {
	slices.SortFunc(items, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
