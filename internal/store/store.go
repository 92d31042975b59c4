// Package store defines persistence of ingestion records and their change feed.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/raphaelgruber/jobingest/internal/models"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by Transition when the record is no longer in
	// the expected status because another writer got there first.
	ErrConflict = errors.New("record status changed concurrently")
)

// EventType distinguishes record creation from later writes.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
)

// Event is one committed change. Before is nil for creations and may be nil
// for updates when the backend does not deliver the previous state.
type Event struct {
	Type   EventType
	Before *models.IngestionRecord
	After  *models.IngestionRecord
}

// Store persists ingestion records.
type Store interface {
	// Create inserts a pending record for sourceURL. When a record with the
	// exact same URL exists it is returned with created=false.
	Create(ctx context.Context, sourceURL string) (rec *models.IngestionRecord, created bool, err error)

	Get(ctx context.Context, id string) (*models.IngestionRecord, error)
	FindBySourceURL(ctx context.Context, sourceURL string) (*models.IngestionRecord, error)

	// Transition applies m if the record is still in status from. It returns
	// ErrConflict when the status moved on, and models.ErrInvalidTransition
	// or models.ErrInvariant when m is not legal from that status.
	Transition(ctx context.Context, id string, from models.Status, m models.Mutation) (*models.IngestionRecord, error)

	// List returns records in any of the given statuses, oldest first. No
	// statuses means all records.
	List(ctx context.Context, statuses ...models.Status) ([]models.IngestionRecord, error)

	// Watch streams committed changes until ctx is done, then closes the
	// channel.
	Watch(ctx context.Context) (<-chan Event, error)
}

// NewID returns a new record id.
func NewID() string {
	return uuid.NewString()
}
