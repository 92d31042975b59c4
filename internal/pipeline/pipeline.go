package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/raphaelgruber/jobingest/internal/fetch"
	"github.com/raphaelgruber/jobingest/internal/metrics"
	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/normalize"
	"github.com/raphaelgruber/jobingest/internal/store"
)

// Fetcher renders a page. *fetch.Browser satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// Extractor turns cleaned HTML into job data. *extract.Requester satisfies it.
type Extractor interface {
	Extract(ctx context.Context, cleanedHTML string, meta *models.PageMeta) (*models.JobData, error)
}

// Pipeline runs the triggers against a store.
type Pipeline struct {
	store     store.Store
	fetcher   Fetcher
	extractor Extractor
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// New creates a pipeline.
func New(s store.Store, f Fetcher, e Extractor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: s, fetcher: f, extractor: e, logger: logger}
}

// WithMetrics records stage timings and transitions.
func (p *Pipeline) WithMetrics(c *metrics.Collector) *Pipeline {
	p.metrics = c
	return p
}

// HandleCreate is Trigger A. It fetches and normalizes the page and records
// the outcome in a single final write. Redundant deliveries are no-ops.
// The returned error reports only writes that could not be persisted.
func (p *Pipeline) HandleCreate(ctx context.Context, ev store.Event) (err error) {
	plan := PlanCreate(ev.After)
	if plan.Action == ActionNone {
		p.logger.Debug("trigger A skipped", "reason", plan.Reason)
		return nil
	}

	rec := ev.After
	logger := p.logger.With("record_id", rec.ID, "url", rec.SourceURL)

	from := models.StatusPending
	defer p.recoverPanic(ctx, logger, rec.ID, &from, models.StatusFailed, msgUnknown, &err)

	if plan.Action == ActionFail {
		return p.write(ctx, logger, rec.ID, plan.From, plan.Mutation)
	}

	// A redelivered event can carry a stale snapshot. Skip the browser when
	// the record already moved on.
	current, gerr := p.store.Get(ctx, rec.ID)
	switch {
	case errors.Is(gerr, store.ErrNotFound):
		logger.Warn("record vanished before scrape")
		return nil
	case gerr != nil:
		logger.Error("load record failed", "error", gerr)
		return gerr
	case current.Status != models.StatusPending:
		logger.Debug("trigger A skipped", "reason", "status is "+string(current.Status))
		return nil
	}

	var page *fetch.Page
	ferr := p.metrics.Time(metrics.OpFetch, func() (err error) {
		page, err = p.fetcher.Fetch(ctx, rec.SourceURL)
		return err
	})
	if ferr != nil {
		logger.Warn("fetch failed", "error", ferr)
		return p.write(ctx, logger, rec.ID, from, models.Failed(models.StatusFailed, message(ferr, msgUnknown)))
	}

	var meta models.PageMeta
	var content string
	_ = p.metrics.Time(metrics.OpNormalize, func() error {
		meta = normalize.SniffMeta(page.HTML, page.URL)
		content = normalize.Normalize(page.HTML)
		return nil
	})

	var metaPtr *models.PageMeta
	if !meta.Empty() {
		metaPtr = &meta
	}

	werr := p.write(ctx, logger, rec.ID, from, models.Scraped(content, metaPtr))
	if werr == nil {
		return nil
	}

	msg := fetch.PersistError(werr).Error()
	return errors.Join(werr, p.write(ctx, logger, rec.ID, from, models.Failed(models.StatusFailed, msg)))
}

// HandleWrite is Trigger B. It claims a scraped record by moving it to
// parsing, so of several concurrent deliveries exactly one extracts.
func (p *Pipeline) HandleWrite(ctx context.Context, ev store.Event) (err error) {
	plan := PlanWrite(ev.Before, ev.After)
	if plan.Action == ActionNone {
		return nil
	}

	rec := ev.After
	logger := p.logger.With("record_id", rec.ID)

	from := plan.From
	defer p.recoverPanic(ctx, logger, rec.ID, &from, models.StatusParseFailed, msgUnknownParsing, &err)

	if plan.Action == ActionFail {
		logger.Warn("scraped record has no content")
		return p.write(ctx, logger, rec.ID, from, plan.Mutation)
	}

	var claimed *models.IngestionRecord
	cerr := p.metrics.Time(metrics.OpStore, func() (err error) {
		claimed, err = p.store.Transition(ctx, rec.ID, from, plan.Mutation)
		return err
	})
	switch {
	case errors.Is(cerr, store.ErrConflict):
		logger.Debug("record already claimed")
		return nil
	case cerr != nil:
		logger.Error("claim record failed", "error", cerr)
		return cerr
	}
	p.transitioned(logger, from, claimed.Status)
	from = models.StatusParsing

	if claimed.Content == nil {
		return p.write(ctx, logger, rec.ID, from, models.Failed(models.StatusParseFailed, msgNoContent))
	}

	data, xerr := p.extractor.Extract(ctx, *claimed.Content, claimed.PageMeta)
	if xerr != nil {
		logger.Warn("extraction failed", "error", xerr)
		return p.write(ctx, logger, rec.ID, from, models.Failed(models.StatusParseFailed, message(xerr, msgUnknownParsing)))
	}

	werr := p.write(ctx, logger, rec.ID, from, models.Parsed(*data))
	if werr == nil {
		return nil
	}

	msg := fmt.Sprintf("Failed to save extracted data: %v", werr)
	return errors.Join(werr, p.write(ctx, logger, rec.ID, from, models.Failed(models.StatusParseFailed, msg)))
}

// write applies a conditional transition. Losing the race to another
// delivery is not an error.
func (p *Pipeline) write(ctx context.Context, logger *slog.Logger, id string, from models.Status, m models.Mutation) error {
	err := p.metrics.Time(metrics.OpStore, func() error {
		_, err := p.store.Transition(ctx, id, from, m)
		return err
	})

	switch {
	case err == nil:
		p.transitioned(logger, from, m.Status)
		return nil
	case errors.Is(err, store.ErrConflict):
		logger.Debug("transition superseded", "from", from, "to", m.Status)
		return nil
	default:
		logger.Error("persist transition failed", "from", from, "to", m.Status, "error", err)
		return err
	}
}

func (p *Pipeline) transitioned(logger *slog.Logger, from, to models.Status) {
	if p.metrics != nil {
		p.metrics.RecordTransition(string(to))
	}
	level := slog.LevelInfo
	if to.IsFailure() {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "record transitioned", "from", from, "to", to)
}

// recoverPanic turns a panic into a best-effort failure write from the
// status the record was last moved to.
func (p *Pipeline) recoverPanic(ctx context.Context, logger *slog.Logger, id string, from *models.Status, failStatus models.Status, msg string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("trigger panicked", "panic", r, "stack", string(debug.Stack()))
	perr := fmt.Errorf("trigger panicked: %v", r)
	*errp = errors.Join(perr, p.write(ctx, logger, id, *from, models.Failed(failStatus, msg)))
}

// message is the errorMessage recorded for err.
func message(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}
