// Package service provides the creation call and record lookups used by the
// HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

// ErrInvalidArgument marks requests rejected before touching the store.
var ErrInvalidArgument = errors.New("invalid argument")

// Messages returned to callers for rejected URLs.
const (
	MsgMissingURL    = "Missing or invalid URL"
	MsgInvalidFormat = "Invalid URL format"
)

// urlPattern accepts http(s) URLs whose remainder contains a dot.
var urlPattern = regexp.MustCompile(`^https?://.+\..+`)

// Service wraps a record store with request validation.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a service over s.
func New(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger}
}

// ValidateURL returns an ErrInvalidArgument error naming what is wrong with
// rawURL, or nil.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, MsgMissingURL)
	}
	if !urlPattern.MatchString(rawURL) {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, MsgInvalidFormat)
	}
	return nil
}

// Request creates a pending record for rawURL, or returns the id of the
// record that already exists for the exact same URL.
func (s *Service) Request(ctx context.Context, rawURL string) (id string, created bool, err error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", false, err
	}

	rec, created, err := s.store.Create(ctx, rawURL)
	if err != nil {
		s.logger.Error("create ingestion record failed", "url", rawURL, "error", err)
		return "", false, fmt.Errorf("request ingestion: %w", err)
	}

	if created {
		s.logger.Info("ingestion requested", "record_id", rec.ID, "url", rawURL)
	} else {
		s.logger.Debug("ingestion already requested", "record_id", rec.ID, "url", rawURL, "status", rec.Status)
	}
	return rec.ID, created, nil
}

// Get returns the record with id.
func (s *Service) Get(ctx context.Context, id string) (*models.IngestionRecord, error) {
	return s.store.Get(ctx, id)
}

// Watch streams the record with id: its current state first, then every
// change, until it reaches a terminal status or ctx ends.
func (s *Service) Watch(ctx context.Context, id string) (<-chan models.IngestionRecord, error) {
	ctx, cancel := context.WithCancel(ctx)

	// Subscribe before reading so no change between the two is lost.
	events, err := s.store.Watch(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", id, err)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan models.IngestionRecord, 1)
	out <- current.Clone()
	if current.Status.IsTerminal() {
		cancel()
		close(out)
		return out, nil
	}

	go func() {
		defer cancel()
		defer close(out)

		last := current.Status
		for ev := range events {
			if ev.After == nil || ev.After.ID != id {
				continue
			}
			// Feeds may repeat or reorder states around the initial read.
			if !models.Precedes(last, ev.After.Status) {
				continue
			}
			last = ev.After.Status

			select {
			case out <- ev.After.Clone():
			case <-ctx.Done():
				return
			}
			if ev.After.Status.IsTerminal() {
				return
			}
		}
	}()

	return out, nil
}
