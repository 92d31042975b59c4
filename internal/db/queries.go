package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

const table = "ingestion"

// ingestionRow is the stored shape of an ingestion record.
type ingestionRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	SourceURL     string                 `json:"source_url"`
	Status        string                 `json:"status"`
	Content       *string                `json:"content,omitempty"`
	PageMeta      *models.PageMeta       `json:"page_meta,omitempty"`
	ExtractedData *models.JobData        `json:"extracted_data,omitempty"`
	ErrorMessage  *string                `json:"error_message,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// recordIDString extracts the string key of a record id. Records are
// always created with uuid string keys.
func recordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

func (r ingestionRow) record() (*models.IngestionRecord, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.IngestionRecord{
		ID:            id,
		SourceURL:     r.SourceURL,
		Status:        models.Status(r.Status),
		Content:       r.Content,
		PageMeta:      r.PageMeta,
		ExtractedData: r.ExtractedData,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

// firstRow returns the first row of the first statement, or nil.
func firstRow(results *[]surrealdb.QueryResult[[]ingestionRow]) *ingestionRow {
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil
	}
	return &(*results)[0].Result[0]
}

// createAttempts bounds retries when concurrent creations of the same URL
// collide in a transaction conflict.
const createAttempts = 3

// Create inserts a pending record unless one exists for the exact URL. The
// unique index on source_url settles concurrent creations.
func (c *Client) Create(ctx context.Context, sourceURL string) (*models.IngestionRecord, bool, error) {
	var lastErr error
	for range createAttempts {
		existing, err := c.FindBySourceURL(ctx, sourceURL)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}

		rec, err := c.insert(ctx, sourceURL)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, ErrAlreadyExists) && !errors.Is(err, ErrTransactionConflict) {
			return nil, false, err
		}
		lastErr = err
	}
	return nil, false, fmt.Errorf("create record: %w", lastErr)
}

func (c *Client) insert(ctx context.Context, sourceURL string) (*models.IngestionRecord, error) {
	results, err := surrealdb.Query[[]ingestionRow](ctx, c.db, `
		CREATE type::record("ingestion", $id) SET
			source_url = $url,
			status = $status,
			created_at = time::now(),
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":     store.NewID(),
		"url":    sourceURL,
		"status": string(models.StatusPending),
	})
	if err != nil {
		return nil, fmt.Errorf("create record: %w", wrapQueryError(err))
	}

	row := firstRow(results)
	if row == nil {
		return nil, fmt.Errorf("create record: no result returned")
	}
	return row.record()
}

// Get retrieves a record by id.
func (c *Client) Get(ctx context.Context, id string) (*models.IngestionRecord, error) {
	results, err := surrealdb.Query[[]ingestionRow](ctx, c.db, `
		SELECT * FROM type::record("ingestion", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	row := firstRow(results)
	if row == nil {
		return nil, fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}
	return row.record()
}

// FindBySourceURL retrieves the record for an exact source URL.
func (c *Client) FindBySourceURL(ctx context.Context, sourceURL string) (*models.IngestionRecord, error) {
	results, err := surrealdb.Query[[]ingestionRow](ctx, c.db, `
		SELECT * FROM ingestion WHERE source_url = $url LIMIT 1
	`, map[string]any{"url": sourceURL})
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}

	row := firstRow(results)
	if row == nil {
		return nil, fmt.Errorf("find %s: %w", sourceURL, store.ErrNotFound)
	}
	return row.record()
}

// Transition validates m against the current record and writes it only if
// the status is still from. Only the fields named by m are written.
func (c *Client) Transition(ctx context.Context, id string, from models.Status, m models.Mutation) (*models.IngestionRecord, error) {
	current, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, fmt.Errorf("transition %s from %s: now %s: %w", id, from, current.Status, store.ErrConflict)
	}
	if _, err := current.Apply(m, time.Now()); err != nil {
		return nil, fmt.Errorf("transition %s: %w", id, err)
	}

	sets := []string{"status = $to", "updated_at = time::now()"}
	vars := map[string]any{
		"id":   id,
		"from": string(from),
		"to":   string(m.Status),
	}
	if m.Content != nil {
		sets = append(sets, "content = $content")
		vars["content"] = *m.Content
	}
	if m.PageMeta != nil {
		sets = append(sets, "page_meta = $page_meta")
		vars["page_meta"] = *m.PageMeta
	}
	if m.ExtractedData != nil {
		sets = append(sets, "extracted_data = $extracted_data")
		vars["extracted_data"] = *m.ExtractedData
	}
	if m.ErrorMessage != nil {
		sets = append(sets, "error_message = $error_message")
		vars["error_message"] = *m.ErrorMessage
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("ingestion", $id) SET %s
		WHERE status = $from
		RETURN AFTER
	`, strings.Join(sets, ", "))

	results, err := surrealdb.Query[[]ingestionRow](ctx, c.db, sql, vars)
	if err != nil {
		if errors.Is(wrapQueryError(err), ErrTransactionConflict) {
			return nil, fmt.Errorf("transition %s: %w", id, store.ErrConflict)
		}
		return nil, fmt.Errorf("transition %s: %w", id, err)
	}

	row := firstRow(results)
	if row == nil {
		// The WHERE clause matched nothing: someone else moved the record.
		return nil, fmt.Errorf("transition %s from %s: %w", id, from, store.ErrConflict)
	}
	return row.record()
}

// List returns records in the given statuses, oldest first.
func (c *Client) List(ctx context.Context, statuses ...models.Status) ([]models.IngestionRecord, error) {
	sql := "SELECT * FROM ingestion ORDER BY created_at ASC"
	vars := map[string]any{}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		sql = "SELECT * FROM ingestion WHERE status IN $statuses ORDER BY created_at ASC"
		vars["statuses"] = names
	}

	results, err := surrealdb.Query[[]ingestionRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	rows := (*results)[0].Result
	out := make([]models.IngestionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, *rec)
	}
	return out, nil
}
