package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

const columns = `id, source_url, status, content, page_meta, extracted_data, error_message, created_at, updated_at`

// scanRecord reads one row selected with columns.
func scanRecord(row pgx.Row) (*models.IngestionRecord, error) {
	var (
		rec           models.IngestionRecord
		status        string
		pageMeta      []byte
		extractedData []byte
	)
	err := row.Scan(&rec.ID, &rec.SourceURL, &status, &rec.Content, &pageMeta,
		&extractedData, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)

	if len(pageMeta) > 0 {
		rec.PageMeta = &models.PageMeta{}
		if err := json.Unmarshal(pageMeta, rec.PageMeta); err != nil {
			return nil, fmt.Errorf("decode page_meta: %w", err)
		}
	}
	if len(extractedData) > 0 {
		rec.ExtractedData = &models.JobData{}
		if err := json.Unmarshal(extractedData, rec.ExtractedData); err != nil {
			return nil, fmt.Errorf("decode extracted_data: %w", err)
		}
	}
	return &rec, nil
}

// jsonb marshals v for a JSONB parameter. A nil pointer becomes SQL NULL.
func jsonb[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Create inserts a pending record unless one exists for the exact URL. The
// unique constraint on source_url settles concurrent creations.
func (s *Store) Create(ctx context.Context, sourceURL string) (*models.IngestionRecord, bool, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_records (id, source_url, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_url) DO NOTHING
		RETURNING `+columns,
		store.NewID(), sourceURL, string(models.StatusPending)))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create record: %w", err)
	}

	existing, err := s.FindBySourceURL(ctx, sourceURL)
	if err != nil {
		return nil, false, fmt.Errorf("create record: %w", err)
	}
	return existing, false, nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (*models.IngestionRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM ingestion_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// FindBySourceURL retrieves the record for an exact source URL.
func (s *Store) FindBySourceURL(ctx context.Context, sourceURL string) (*models.IngestionRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM ingestion_records WHERE source_url = $1`, sourceURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find %s: %w", sourceURL, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return rec, nil
}

// Transition validates m against the current record and writes it only if
// the status is still from. Fields m leaves nil keep their stored value.
func (s *Store) Transition(ctx context.Context, id string, from models.Status, m models.Mutation) (*models.IngestionRecord, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, fmt.Errorf("transition %s from %s: now %s: %w", id, from, current.Status, store.ErrConflict)
	}
	if _, err := current.Apply(m, time.Now()); err != nil {
		return nil, fmt.Errorf("transition %s: %w", id, err)
	}

	pageMeta, err := jsonb(m.PageMeta)
	if err != nil {
		return nil, fmt.Errorf("encode page_meta: %w", err)
	}
	extracted, err := jsonb(m.ExtractedData)
	if err != nil {
		return nil, fmt.Errorf("encode extracted_data: %w", err)
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE ingestion_records SET
			status         = $3,
			content        = COALESCE($4::text, content),
			page_meta      = COALESCE($5::jsonb, page_meta),
			extracted_data = COALESCE($6::jsonb, extracted_data),
			error_message  = COALESCE($7::text, error_message),
			updated_at     = now()
		WHERE id = $1 AND status = $2
		RETURNING `+columns,
		id, string(from), string(m.Status), m.Content, pageMeta, extracted, m.ErrorMessage))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition %s from %s: %w", id, from, store.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", id, wrapPgError(err))
	}
	return rec, nil
}

// List returns records in the given statuses, oldest first.
func (s *Store) List(ctx context.Context, statuses ...models.Status) ([]models.IngestionRecord, error) {
	sql := `SELECT ` + columns + ` FROM ingestion_records ORDER BY created_at, id`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		sql = `SELECT ` + columns + ` FROM ingestion_records WHERE status = ANY($1) ORDER BY created_at, id`
		args = append(args, names)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []models.IngestionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// wrapPgError maps constraint violations onto store sentinels.
func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23514":
		return fmt.Errorf("%w: %s", models.ErrInvariant, pgErr.Message)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	}
	return err
}
