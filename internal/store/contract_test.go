package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshotRecorder collects snapshots delivered to a subscription.
type snapshotRecorder struct {
	ch chan Snapshot
}

func newSnapshotRecorder() *snapshotRecorder {
	return &snapshotRecorder{ch: make(chan Snapshot, 64)}
}

func (r *snapshotRecorder) record(s Snapshot) { r.ch <- s }

// waitFor returns the first snapshot that satisfies match.
func (r *snapshotRecorder) waitFor(t *testing.T, match func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func testCollection() Path {
	return Path{Namespace: "default-app-id", SessionID: "anon_test"}
}

func runDocumentStoreContract(t *testing.T, s DocumentStore) {
	ctx := context.Background()

	t.Run("create starts in progress", func(t *testing.T) {
		path, err := s.CreateRecord(ctx, testCollection(), Record{Status: StatusInProgress})
		require.NoError(t, err)
		require.NotEmpty(t, path.RecordID)
		assert.Equal(t, "artifacts/default-app-id/users/anon_test/siteAnalyses/"+path.RecordID, path.String())

		rec, err := s.GetRecord(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, rec.Status)
		assert.Empty(t, rec.FormData)
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("merge write keeps other fields", func(t *testing.T) {
		path, err := s.CreateRecord(ctx, testCollection(), Record{})
		require.NoError(t, err)

		require.NoError(t, s.WriteRecord(ctx, path, Write{FormData: map[string]any{"familyName": "Kahale", "soilPH": "6.5"}}))
		saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.WriteRecord(ctx, path, Write{
			FormData:  map[string]any{"soilPH": "7", "groundcover": []string{"Weeds"}},
			Status:    StatusSaved,
			UpdatedAt: saved,
		}))

		rec, err := s.GetRecord(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "Kahale", rec.FormData["familyName"])
		assert.Equal(t, "7", rec.FormData["soilPH"])
		assert.Equal(t, []any{"Weeds"}, rec.FormData["groundcover"])
		assert.Equal(t, StatusSaved, rec.Status)
		assert.True(t, saved.Equal(rec.UpdatedAt), "updatedAt = %v", rec.UpdatedAt)
	})

	t.Run("write creates missing record", func(t *testing.T) {
		path := testCollection()
		path.RecordID = "rec_missing"
		require.NoError(t, s.WriteRecord(ctx, path, Write{FormData: map[string]any{"address": "12 Lane"}, Status: StatusSaved}))

		rec, err := s.GetRecord(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "12 Lane", rec.FormData["address"])
	})

	t.Run("get missing record", func(t *testing.T) {
		path := testCollection()
		path.RecordID = "rec_nowhere"
		_, err := s.GetRecord(ctx, path)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("subscribe delivers initial and subsequent state", func(t *testing.T) {
		path, err := s.CreateRecord(ctx, testCollection(), Record{})
		require.NoError(t, err)

		rec := newSnapshotRecorder()
		unsubscribe, err := s.Subscribe(ctx, path, rec.record, func(err error) { t.Errorf("subscription error: %v", err) })
		require.NoError(t, err)

		first := rec.waitFor(t, func(Snapshot) bool { return true })
		assert.True(t, first.Exists)
		assert.Equal(t, path, first.Path)

		require.NoError(t, s.WriteRecord(ctx, path, Write{FormData: map[string]any{"familyName": "Kahale"}}))
		got := rec.waitFor(t, func(s Snapshot) bool { return s.Record.FormData["familyName"] == "Kahale" })
		assert.Equal(t, StatusInProgress, got.Record.Status)

		unsubscribe()
		require.NoError(t, s.WriteRecord(ctx, path, Write{FormData: map[string]any{"familyName": "Other"}}))
		select {
		case s := <-rec.ch:
			if s.Record.FormData["familyName"] == "Other" {
				t.Fatal("snapshot delivered after unsubscribe")
			}
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("list returns session records", func(t *testing.T) {
		lister, ok := s.(Lister)
		if !ok {
			t.Skip("store does not list")
		}
		other := Path{Namespace: "default-app-id", SessionID: "anon_other"}
		_, err := s.CreateRecord(ctx, other, Record{})
		require.NoError(t, err)

		items, err := lister.List(ctx, other)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})
}
