package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wellfed/api/internal/store"
)

// PgFTS implements Searcher over the site_analyses search_vector column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the store itself is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := pgScope(q)

	var total int
	countSQL := "SELECT count(*) FROM site_analyses WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT record_id, session_id, namespace,
			coalesce(form_data->>'familyName', ''),
			ts_headline('english', coalesce(form_data->>'visionAndGoals', ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			coalesce(form_data->>'siteAddressCity', ''),
			coalesce(form_data->>'visitDate', ''),
			status
		FROM site_analyses
		WHERE %s
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var familyName string
		if err := rows.Scan(&r.RecordID, &r.SessionID, &r.Namespace, &familyName, &r.Snippet, &r.City, &r.VisitDate, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Title = recordTitle(familyName)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func pgScope(q Query) (string, []any) {
	where := "search_vector @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.Namespace != "" {
		args = append(args, q.Namespace)
		where += fmt.Sprintf(" AND namespace = $%d", len(args))
	}
	if q.SessionID != "" {
		args = append(args, q.SessionID)
		where += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	return where, args
}

// LoadAllRecords returns every stored record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]RecordDocument, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT namespace, session_id, record_id, form_data, status, coalesce(updated_at, created_at)
		FROM site_analyses
	`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	records := make([]RecordDocument, 0)
	for rows.Next() {
		var (
			path      store.Path
			raw       []byte
			status    string
			updatedAt time.Time
		)
		if err := rows.Scan(&path.Namespace, &path.SessionID, &path.RecordID, &raw, &status, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		formData, err := decodeFormData(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, RecordFromFormData(path, formData, store.Status(status), updatedAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
