package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wellfed/api/internal/util"
)

type PostgresStore struct {
	db          *sql.DB
	databaseURL string
}

// NewPostgresStore wraps db. databaseURL is used to open the dedicated
// LISTEN connection each subscription needs.
func NewPostgresStore(db *sql.DB, databaseURL string) *PostgresStore {
	return &PostgresStore{db: db, databaseURL: databaseURL}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateRecord(ctx context.Context, path Path, initial Record) (Path, error) {
	if err := path.validate(false); err != nil {
		return Path{}, err
	}
	path.RecordID = util.NewID("rec")
	formData, err := marshalFormData(initial.FormData)
	if err != nil {
		return Path{}, err
	}
	status := initial.Status
	if status == "" {
		status = StatusInProgress
	}
	createdAt := initial.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO site_analyses (namespace, session_id, record_id, form_data, status, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
	`, path.Namespace, path.SessionID, path.RecordID, formData, string(status), createdAt)
	if err != nil {
		return Path{}, fmt.Errorf("create record: %w", err)
	}
	return path, nil
}

// WriteRecord upserts the record, merging formData key by key with jsonb ||.
func (s *PostgresStore) WriteRecord(ctx context.Context, path Path, write Write) error {
	if err := path.validate(true); err != nil {
		return err
	}
	formData, err := marshalFormData(write.FormData)
	if err != nil {
		return err
	}
	var updatedAt sql.NullTime
	if !write.UpdatedAt.IsZero() {
		updatedAt = sql.NullTime{Time: write.UpdatedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO site_analyses (namespace, session_id, record_id, form_data, status, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, COALESCE(NULLIF($5, ''), 'in-progress'), $6)
		ON CONFLICT (namespace, session_id, record_id) DO UPDATE SET
			form_data = site_analyses.form_data || EXCLUDED.form_data,
			status = COALESCE(NULLIF($5, ''), site_analyses.status),
			updated_at = COALESCE($6, site_analyses.updated_at)
	`, path.Namespace, path.SessionID, path.RecordID, formData, string(write.Status), updatedAt)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, path Path) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, form_data, status, created_at, updated_at
		FROM site_analyses
		WHERE namespace=$1 AND session_id=$2 AND record_id=$3
	`, path.Namespace, path.SessionID, path.RecordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, path Path) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, form_data, status, created_at, updated_at
		FROM site_analyses
		WHERE namespace=$1 AND session_id=$2
		ORDER BY created_at DESC
	`, path.Namespace, path.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

// Subscribe LISTENs for change notifications on a dedicated connection and
// re-reads the record whenever its path is announced.
func (s *PostgresStore) Subscribe(ctx context.Context, path Path, onSnapshot func(Snapshot), onError func(error)) (func(), error) {
	if err := path.validate(true); err != nil {
		return nil, err
	}
	conn, err := Listen(ctx, s.databaseURL, NotifyChannel)
	if err != nil {
		return nil, err
	}

	f := newFeed(onSnapshot)
	if err := s.pushCurrent(ctx, f, path); err != nil {
		_ = conn.Close(ctx)
		f.close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer conn.Close(context.Background())
		want := path.String()
		for {
			n, err := conn.WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil && onError != nil {
					onError(fmt.Errorf("listen %s: %w", path, err))
				}
				return
			}
			if n.Payload != want {
				continue
			}
			if err := s.pushCurrent(listenCtx, f, path); err != nil && listenCtx.Err() == nil && onError != nil {
				onError(err)
			}
		}
	}()

	return func() {
		f.close()
		cancel()
	}, nil
}

func (s *PostgresStore) pushCurrent(ctx context.Context, f *feed, path Path) error {
	rec, err := s.GetRecord(ctx, path)
	switch {
	case errors.Is(err, ErrNotFound):
		f.push(Snapshot{Path: path})
	case err != nil:
		return err
	default:
		f.push(Snapshot{Path: path, Exists: true, Record: rec})
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		raw       []byte
		status    string
		updatedAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &raw, &status, &rec.CreatedAt, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.FormData = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.FormData); err != nil {
			return Record{}, fmt.Errorf("decode form data: %w", err)
		}
	}
	rec.Status = Status(status)
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	return rec, nil
}

func marshalFormData(doc map[string]any) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode form data: %w", err)
	}
	return string(raw), nil
}
