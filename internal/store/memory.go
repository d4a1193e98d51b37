package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wellfed/api/internal/util"
)

// MemoryStore is an in-process DocumentStore. Documents are normalized
// through JSON on every write so readers see the same value types a remote
// backend would return.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	feeds   map[string]map[int]*feed
	nextID  int
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		feeds:   make(map[string]map[int]*feed),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateRecord(ctx context.Context, path Path, initial Record) (Path, error) {
	if err := ctx.Err(); err != nil {
		return Path{}, err
	}
	if err := path.validate(false); err != nil {
		return Path{}, err
	}
	formData, err := normalize(initial.FormData)
	if err != nil {
		return Path{}, err
	}
	path.RecordID = util.NewID("rec")
	rec := initial
	rec.ID = path.RecordID
	rec.FormData = formData
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusInProgress
	}

	s.mu.Lock()
	s.records[path.String()] = rec
	s.broadcastLocked(path, rec)
	s.mu.Unlock()
	return path, nil
}

func (s *MemoryStore) WriteRecord(ctx context.Context, path Path, write Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := path.validate(true); err != nil {
		return err
	}
	formData, err := normalize(write.FormData)
	if err != nil {
		return err
	}
	write.FormData = formData

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[path.String()]
	if !ok {
		rec = Record{ID: path.RecordID, CreatedAt: s.now().UTC(), Status: StatusInProgress}
	}
	rec = mergeInto(rec, write)
	s.records[path.String()] = rec
	s.broadcastLocked(path, rec)
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, path Path) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[path.String()]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

// List returns every record stored under the collection path addresses.
func (s *MemoryStore) List(ctx context.Context, path Path) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := path.Collection() + "/"
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0)
	for key, rec := range s.records {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, copyRecord(rec))
		}
	}
	sortNewest(out)
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path Path, onSnapshot func(Snapshot), onError func(error)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := path.validate(true); err != nil {
		return nil, err
	}
	f := newFeed(onSnapshot)
	key := path.String()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.feeds[key] == nil {
		s.feeds[key] = make(map[int]*feed)
	}
	s.feeds[key][id] = f
	rec, ok := s.records[key]
	initial := Snapshot{Path: path, Exists: ok}
	if ok {
		initial.Record = copyRecord(rec)
	}
	f.push(initial)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.feeds[key], id)
		if len(s.feeds[key]) == 0 {
			delete(s.feeds, key)
		}
		s.mu.Unlock()
		f.close()
	}, nil
}

func (s *MemoryStore) broadcastLocked(path Path, rec Record) {
	for _, f := range s.feeds[path.String()] {
		f.push(Snapshot{Path: path, Exists: true, Record: copyRecord(rec)})
	}
}

func copyRecord(rec Record) Record {
	out := rec
	out.FormData, _ = normalize(rec.FormData)
	return out
}

func normalize(doc map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(doc) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	return out, nil
}
