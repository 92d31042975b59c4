package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/jobingest/internal/store"
)

// Watch starts a LIVE SELECT on the ingestion table and converts its
// notifications into store events. SurrealDB does not send the previous
// state, so Event.Before is always nil. The live query is killed when ctx
// ends.
func (c *Client) Watch(ctx context.Context) (<-chan store.Event, error) {
	live, err := surrealdb.Live(ctx, c.db, surrealmodels.Table(table), false)
	if err != nil {
		return nil, fmt.Errorf("start live query: %w", err)
	}
	liveID := live.String()

	notifications, err := c.db.LiveNotifications(liveID)
	if err != nil {
		_ = surrealdb.Kill(ctx, c.db, liveID)
		return nil, fmt.Errorf("subscribe live query: %w", err)
	}
	c.logger.Info("live query started", "table", table, "live_id", liveID)

	out := make(chan store.Event)
	go func() {
		defer close(out)
		defer func() {
			killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := surrealdb.Kill(killCtx, c.db, liveID); err != nil {
				c.logger.Warn("kill live query failed", "live_id", liveID, "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					c.logger.Warn("live query channel closed", "live_id", liveID)
					return
				}
				ev, ok := c.toEvent(n)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// toEvent decodes a notification. Deletions and undecodable payloads are
// skipped.
func (c *Client) toEvent(n connection.Notification) (store.Event, bool) {
	var typ store.EventType
	switch strings.ToUpper(string(n.Action)) {
	case "CREATE":
		typ = store.EventCreated
	case "UPDATE":
		typ = store.EventUpdated
	default:
		return store.Event{}, false
	}

	// The SDK hands the payload over as generic CBOR values. A round trip
	// through the codec yields a typed row with record ids and datetimes intact.
	raw, err := c.codec.Marshal(n.Result)
	if err != nil {
		c.logger.Warn("encode live notification failed", "error", err)
		return store.Event{}, false
	}
	var row ingestionRow
	if err := c.codec.Unmarshal(raw, &row); err != nil {
		c.logger.Warn("decode live notification failed", "error", err)
		return store.Event{}, false
	}
	rec, err := row.record()
	if err != nil {
		c.logger.Warn("live notification without record id", "error", err)
		return store.Event{}, false
	}
	return store.Event{Type: typ, After: rec}, true
}
