// Package history keeps a git repository per site-analysis record and
// commits the saved form data on every successful save.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"wellfed/api/internal/store"
)

const dataFile = "formData.json"

var ErrNoHistory = errors.New("record has no history")

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordSaved commits formData for the record at path. A save that changes
// nothing produces no commit.
func (s *Service) RecordSaved(_ context.Context, path store.Path, formData map[string]any, savedAt time.Time) error {
	lock := s.recordLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(path)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	if formData == nil {
		formData = map[string]any{}
	}
	payload, err := json.MarshalIndent(formData, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal form data: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, dataFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dataFile, err)
	}
	if _, err := worktree.Add(dataFile); err != nil {
		return fmt.Errorf("git add form data: %w", err)
	}

	_, err = worktree.Commit(fmt.Sprintf("Save site analysis (%d fields)", len(formData)), &git.CommitOptions{
		Author: &object.Signature{
			Name:  path.SessionID,
			Email: fmt.Sprintf("%s@sessions.wellfed.local", sanitize(path.SessionID)),
			When:  savedAt,
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit form data: %w", err)
	}
	return nil
}

// History lists the record's revisions, newest first. limit <= 0 means all.
func (s *Service) History(path store.Path, limit int) ([]Revision, error) {
	lock := s.recordLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(path)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.Main, true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// FormDataAt returns the form data committed at hash, which may be
// abbreviated.
func (s *Service) FormDataAt(path store.Path, hash string) (map[string]any, error) {
	lock := s.recordLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(path)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readFormData(commitObj)
}

// Diff compares two committed revisions field by field.
func (s *Service) Diff(path store.Path, fromHash, toHash string) ([]FieldChange, error) {
	from, err := s.FormDataAt(path, fromHash)
	if err != nil {
		return nil, err
	}
	to, err := s.FormDataAt(path, toHash)
	if err != nil {
		return nil, err
	}
	return DiffFields(from, to), nil
}

// DiffFields lists every field whose value differs, sorted by field id.
func DiffFields(from, to map[string]any) []FieldChange {
	keys := make(map[string]struct{}, len(from)+len(to))
	for k := range from {
		keys[k] = struct{}{}
	}
	for k := range to {
		keys[k] = struct{}{}
	}
	result := make([]FieldChange, 0)
	for k := range keys {
		before, after := from[k], to[k]
		if reflect.DeepEqual(before, after) {
			continue
		}
		result = append(result, FieldChange{Field: k, Before: before, After: after})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Field < result[j].Field })
	return result
}

func (s *Service) open(path store.Path) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(path))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(path store.Path) (*git.Repository, error) {
	dir := s.repoPath(path)
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(path store.Path) string {
	return filepath.Join(s.baseDir, sanitize(path.Namespace), sanitize(path.SessionID), sanitize(path.RecordID))
}

func (s *Service) recordLock(path store.Path) *sync.Mutex {
	key := path.String()
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

func readFormData(commitObj *object.Commit) (map[string]any, error) {
	file, err := commitObj.File(dataFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", dataFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open form data reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read form data bytes: %w", err)
	}
	formData := map[string]any{}
	if err := json.Unmarshal(raw, &formData); err != nil {
		return nil, fmt.Errorf("decode committed form data: %w", err)
	}
	return formData, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

// sanitize keeps a path segment to characters safe for directory names and
// email local parts.
func sanitize(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '.' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 || string(out) == "." || string(out) == ".." {
		return "unknown"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
