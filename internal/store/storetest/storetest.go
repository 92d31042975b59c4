// Package storetest holds behaviour tests every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

// Factory returns an empty store. Implementations register their own cleanup
// on t.
type Factory func(t *testing.T) store.Store

// eventTimeout bounds how long a change feed may lag behind a write.
const eventTimeout = 10 * time.Second

var urlSeq sync.Mutex
var urlN int

// uniqueURL keeps runs independent when a factory reuses a database.
func uniqueURL(path string) string {
	urlSeq.Lock()
	defer urlSeq.Unlock()
	urlN++
	return fmt.Sprintf("https://jobs.example.com/%s/%d-%d", path, time.Now().UnixNano(), urlN)
}

// Run executes the conformance suite against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateDeduplicates", func(t *testing.T) { testCreateDeduplicates(t, newStore(t)) })
	t.Run("GetAndFind", func(t *testing.T) { testGetAndFind(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("FailureTransition", func(t *testing.T) { testFailureTransition(t, newStore(t)) })
	t.Run("TransitionConflict", func(t *testing.T) { testTransitionConflict(t, newStore(t)) })
	t.Run("TransitionRejected", func(t *testing.T) { testTransitionRejected(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Watch", func(t *testing.T) { testWatch(t, newStore(t)) })
}

func testCreateDeduplicates(t *testing.T, s store.Store) {
	ctx := context.Background()
	url := uniqueURL("dedup")

	first, created, err := s.Create(ctx, url)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, url, first.SourceURL)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Nil(t, first.Content)
	assert.Nil(t, first.ErrorMessage)

	second, created, err := s.Create(ctx, url)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	other, created, err := s.Create(ctx, url+"?ref=mail")
	require.NoError(t, err)
	assert.True(t, created, "dedup is on the exact URL")
	assert.NotEqual(t, first.ID, other.ID)
}

func testGetAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	url := uniqueURL("get")

	rec, _, err := s.Create(ctx, url)
	require.NoError(t, err)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, url, got.SourceURL)

	found, err := s.FindBySourceURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	_, err = s.Get(ctx, store.NewID())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindBySourceURL(ctx, uniqueURL("missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	rec, _, err := s.Create(ctx, uniqueURL("lifecycle"))
	require.NoError(t, err)

	meta := &models.PageMeta{Title: "Backend Engineer", OGImage: "https://jobs.example.com/logo.png"}
	scraped, err := s.Transition(ctx, rec.ID, models.StatusPending, models.Scraped("<html><body><h1>Backend Engineer</h1></body></html>", meta))
	require.NoError(t, err)
	assert.Equal(t, models.StatusScraped, scraped.Status)
	require.NotNil(t, scraped.Content)
	assert.Equal(t, "<html><body><h1>Backend Engineer</h1></body></html>", *scraped.Content)
	require.NotNil(t, scraped.PageMeta)
	assert.Equal(t, *meta, *scraped.PageMeta)

	parsing, err := s.Transition(ctx, rec.ID, models.StatusScraped, models.Parsing())
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsing, parsing.Status)
	assert.NotNil(t, parsing.Content, "content survives later writes")

	data := models.JobData{
		CompanyName:    "Acme",
		Position:       "Backend Engineer",
		EmploymentType: models.EmploymentFullTime,
		RemotePolicy:   models.RemotePolicyHybrid,
		Technologies:   []string{"Go", "PostgreSQL"},
	}
	parsed, err := s.Transition(ctx, rec.ID, models.StatusParsing, models.Parsed(data))
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsed, parsed.Status)
	require.NotNil(t, parsed.ExtractedData)
	assert.Equal(t, data, *parsed.ExtractedData)
	assert.Nil(t, parsed.ErrorMessage)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsed, got.Status)
	require.NotNil(t, got.ExtractedData)
	assert.Equal(t, data, *got.ExtractedData)
	require.NotNil(t, got.PageMeta)
	assert.Equal(t, *meta, *got.PageMeta)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func testFailureTransition(t *testing.T, s store.Store) {
	ctx := context.Background()

	rec, _, err := s.Create(ctx, uniqueURL("failed"))
	require.NoError(t, err)

	failed, err := s.Transition(ctx, rec.ID, models.StatusPending, models.Failed(models.StatusFailed, "Failed to navigate to URL: x"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "Failed to navigate to URL: x", *failed.ErrorMessage)
	assert.Nil(t, failed.Content)

	_, err = s.Transition(ctx, rec.ID, models.StatusFailed, models.Parsing())
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "failed is terminal")
}

func testTransitionConflict(t *testing.T, s store.Store) {
	ctx := context.Background()

	rec, _, err := s.Create(ctx, uniqueURL("conflict"))
	require.NoError(t, err)

	_, err = s.Transition(ctx, rec.ID, models.StatusScraped, models.Parsing())
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.Transition(ctx, store.NewID(), models.StatusPending, models.Scraped("<p>x</p>", nil))
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "a lost transition writes nothing")
}

func testTransitionRejected(t *testing.T, s store.Store) {
	ctx := context.Background()

	rec, _, err := s.Create(ctx, uniqueURL("rejected"))
	require.NoError(t, err)

	_, err = s.Transition(ctx, rec.ID, models.StatusPending, models.Parsing())
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.Transition(ctx, rec.ID, models.StatusPending, models.Mutation{Status: models.StatusScraped})
	assert.ErrorIs(t, err, models.ErrInvariant)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func testConcurrentClaim(t *testing.T, s store.Store) {
	ctx := context.Background()

	rec, _, err := s.Create(ctx, uniqueURL("claim"))
	require.NoError(t, err)
	_, err = s.Transition(ctx, rec.ID, models.StatusPending, models.Scraped("<p>job</p>", nil))
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transition(ctx, rec.ID, models.StatusScraped, models.Parsing())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()

	pending, _, err := s.Create(ctx, uniqueURL("list"))
	require.NoError(t, err)
	scraped, _, err := s.Create(ctx, uniqueURL("list"))
	require.NoError(t, err)
	_, err = s.Transition(ctx, scraped.ID, models.StatusPending, models.Scraped("<p>x</p>", nil))
	require.NoError(t, err)

	recs, err := s.List(ctx, models.StatusScraped)
	require.NoError(t, err)
	assert.Contains(t, ids(recs), scraped.ID)
	assert.NotContains(t, ids(recs), pending.ID)

	recs, err = s.List(ctx, models.StatusPending, models.StatusScraped)
	require.NoError(t, err)
	assert.Contains(t, ids(recs), scraped.ID)
	assert.Contains(t, ids(recs), pending.ID)

	recs, err = s.List(ctx, models.StatusParsed)
	require.NoError(t, err)
	assert.NotContains(t, ids(recs), scraped.ID)
}

func testWatch(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx)
	require.NoError(t, err)

	rec, _, err := s.Create(context.Background(), uniqueURL("watch"))
	require.NoError(t, err)

	created := nextEvent(t, events, rec.ID)
	assert.Equal(t, store.EventCreated, created.Type)
	assert.Nil(t, created.Before)
	assert.Equal(t, models.StatusPending, created.After.Status)

	_, err = s.Transition(context.Background(), rec.ID, models.StatusPending, models.Scraped("<p>x</p>", nil))
	require.NoError(t, err)

	updated := nextEvent(t, events, rec.ID)
	assert.Equal(t, store.EventUpdated, updated.Type)
	assert.Equal(t, models.StatusScraped, updated.After.Status)
	require.NotNil(t, updated.After.Content)
	assert.Equal(t, "<p>x</p>", *updated.After.Content)
	if updated.Before != nil {
		assert.Equal(t, models.StatusPending, updated.Before.Status)
	}

	cancel()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, eventTimeout, 10*time.Millisecond, "feed closes when ctx ends")
}

// nextEvent returns the next event for id, skipping events of other records.
func nextEvent(t *testing.T, events <-chan store.Event, id string) store.Event {
	t.Helper()
	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "feed closed early")
			if ev.After != nil && ev.After.ID == id {
				return ev
			}
		case <-timer.C:
			t.Fatalf("no event for %s within %s", id, eventTimeout)
		}
	}
}

func ids(recs []models.IngestionRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
