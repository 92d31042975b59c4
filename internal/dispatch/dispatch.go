// Package dispatch delivers store change events to the ingestion triggers.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

// DefaultInvocationTimeout bounds one trigger invocation. It covers browser
// launch, the 15s navigation and the model call with headroom.
const DefaultInvocationTimeout = 5 * time.Minute

// ErrFeedClosed is returned by Run when the change feed ends while the
// dispatcher is still running.
var ErrFeedClosed = errors.New("change feed closed")

// Handler is implemented by *pipeline.Pipeline.
type Handler interface {
	HandleCreate(ctx context.Context, ev store.Event) error
	HandleWrite(ctx context.Context, ev store.Event) error
}

// Dispatcher consumes a store's change feed. Creations go to HandleCreate and
// every event goes to HandleWrite, each in its own goroutine.
type Dispatcher struct {
	store   store.Store
	handler Handler
	logger  *slog.Logger
	sem     chan struct{}
	wg      sync.WaitGroup

	// InvocationTimeout bounds each handler call. Zero uses DefaultInvocationTimeout.
	InvocationTimeout time.Duration
}

// New creates a dispatcher running at most concurrency handler calls at once.
func New(s store.Store, h Handler, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   s,
		handler: h,
		logger:  logger,
		sem:     make(chan struct{}, concurrency),
	}
}

// Run subscribes to the change feed, replays records left mid-pipeline by a
// previous process and dispatches events until ctx is done. It waits for
// in-flight invocations before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()

	// Subscribe before replaying so no write between the two is missed.
	events, err := d.store.Watch(ctx)
	if err != nil {
		return err
	}

	if err := d.replay(ctx); err != nil {
		d.logger.Warn("replay failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrFeedClosed
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch fans one event out to the triggers.
func (d *Dispatcher) Dispatch(ctx context.Context, ev store.Event) {
	if ev.After == nil {
		return
	}
	if ev.Type == store.EventCreated {
		d.spawn(ctx, "create", ev, d.handler.HandleCreate)
	}
	d.spawn(ctx, "write", ev, d.handler.HandleWrite)
}

// Wait blocks until every spawned invocation has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// replay re-delivers records a crash or restart left without a trigger run.
// Delivery is at-least-once so the handlers' guards absorb duplicates.
func (d *Dispatcher) replay(ctx context.Context) error {
	recs, err := d.store.List(ctx, models.StatusPending, models.StatusScraped, models.StatusParsing)
	if err != nil {
		return err
	}

	var pending, scraped, stuck int
	for i := range recs {
		rec := &recs[i]
		switch rec.Status {
		case models.StatusPending:
			pending++
			d.spawn(ctx, "create", store.Event{Type: store.EventCreated, After: rec}, d.handler.HandleCreate)
		case models.StatusScraped:
			scraped++
			d.spawn(ctx, "write", store.Event{Type: store.EventUpdated, After: rec}, d.handler.HandleWrite)
		case models.StatusParsing:
			stuck++
			d.logger.Warn("record left in parsing", "record_id", rec.ID, "updated_at", rec.UpdatedAt)
		}
	}

	if len(recs) > 0 {
		d.logger.Info("replayed incomplete records", "pending", pending, "scraped", scraped, "parsing", stuck)
	}
	return nil
}

func (d *Dispatcher) spawn(ctx context.Context, trigger string, ev store.Event, fn func(context.Context, store.Event) error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		d.logger.Debug("dropped event on shutdown", "trigger", trigger, "record_id", ev.After.ID)
		return
	}

	timeout := d.InvocationTimeout
	if timeout <= 0 {
		timeout = DefaultInvocationTimeout
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("trigger goroutine panicked", "trigger", trigger, "record_id", ev.After.ID, "panic", r)
			}
		}()

		// Invocations outlive shutdown so the final record write lands.
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ictx, ev); err != nil {
			d.logger.Error("trigger failed", "trigger", trigger, "record_id", ev.After.ID, "error", err)
			return
		}
		d.logger.Debug("trigger done", "trigger", trigger, "record_id", ev.After.ID, "duration_ms", time.Since(start).Milliseconds())
	}()
}
