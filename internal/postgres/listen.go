package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

type notification struct {
	Op        string `json:"op"`
	ID        string `json:"id"`
	OldStatus string `json:"old_status"`
}

// Watch listens on a dedicated connection taken out of the pool. Each
// notification names only the row, so the record is re-read; After is the
// state at read time and may be newer than the change itself. Before carries
// only ID and Status.
func (s *Store) Watch(ctx context.Context) (<-chan store.Event, error) {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	out := make(chan store.Event)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("change feed stopped", "error", err)
				}
				return
			}

			ev, err := s.toEvent(ctx, n.Payload)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				s.logger.Warn("dropping change notification", "payload", n.Payload, "error", err)
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *Store) toEvent(ctx context.Context, payload string) (store.Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return store.Event{}, fmt.Errorf("decode notification: %w", err)
	}

	after, err := s.Get(ctx, n.ID)
	if err != nil {
		return store.Event{}, err
	}

	switch n.Op {
	case "INSERT":
		return store.Event{Type: store.EventCreated, After: after}, nil
	case "UPDATE":
		before := &models.IngestionRecord{ID: n.ID, Status: models.Status(n.OldStatus)}
		return store.Event{Type: store.EventUpdated, Before: before, After: after}, nil
	}
	return store.Event{}, fmt.Errorf("unknown operation %q", n.Op)
}
