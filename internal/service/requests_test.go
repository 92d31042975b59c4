package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"missing", "", MsgMissingURL},
		{"no scheme", "not-a-url", MsgInvalidFormat},
		{"ftp", "ftp://example.com", MsgInvalidFormat},
		{"no dot", "https://localhost", MsgInvalidFormat},
		{"http", "http://example.com/job", ""},
		{"https with query", "https://jobs.example.com/view?id=42", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRequest_Deduplicates(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemory(), nil)

	id, created, err := svc.Request(ctx, "https://example.com/job")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)

	again, created, err := svc.Request(ctx, "https://example.com/job")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	other, created, err := svc.Request(ctx, "https://example.com/job?ref=feed")
	require.NoError(t, err)
	assert.True(t, created, "dedup is on the exact URL")
	assert.NotEqual(t, id, other)

	rec, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, "https://example.com/job", rec.SourceURL)
}

func TestRequest_ConcurrentSameURL(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemory(), nil)

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := svc.Request(ctx, "https://example.com/job/7")
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRequest_InvalidNeverTouchesStore(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, nil)

	_, _, err := svc.Request(context.Background(), "ftp://example.com")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	recs, err := mem.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

type failingStore struct{ store.Store }

func (failingStore) Create(context.Context, string) (*models.IngestionRecord, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestRequest_StoreFailure(t *testing.T) {
	svc := New(failingStore{}, nil)

	_, _, err := svc.Request(context.Background(), "https://example.com/job")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGet_NotFound(t *testing.T) {
	svc := New(store.NewMemory(), nil)
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func collect(t *testing.T, ch <-chan models.IngestionRecord) []models.Status {
	t.Helper()
	var got []models.Status
	timeout := time.After(5 * time.Second)
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, rec.Status)
		case <-timeout:
			t.Fatalf("watch did not finish, got %v", got)
		}
	}
}

func TestWatch_FollowsToTerminal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := New(mem, nil)

	id, _, err := svc.Request(ctx, "https://example.com/job")
	require.NoError(t, err)

	updates, err := svc.Watch(ctx, id)
	require.NoError(t, err)

	_, err = mem.Transition(ctx, id, models.StatusPending, models.Scraped("<p>job</p>", nil))
	require.NoError(t, err)
	_, err = mem.Transition(ctx, id, models.StatusScraped, models.Parsing())
	require.NoError(t, err)
	_, err = mem.Transition(ctx, id, models.StatusParsing, models.Parsed(models.JobData{Position: "Engineer"}))
	require.NoError(t, err)

	assert.Equal(t, []models.Status{
		models.StatusPending,
		models.StatusScraped,
		models.StatusParsing,
		models.StatusParsed,
	}, collect(t, updates))
}

// replayStore feeds a fixed event sequence to every subscriber.
type replayStore struct {
	store.Store
	events []store.Event
}

func (r replayStore) Watch(context.Context) (<-chan store.Event, error) {
	ch := make(chan store.Event, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestWatch_DropsStaleEventsWithSameTimestamp(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	rec, _, err := mem.Create(ctx, "https://example.com/job")
	require.NoError(t, err)

	at := rec.CreatedAt
	state := func(status models.Status) store.Event {
		r := *rec
		r.Status = status
		r.UpdatedAt = at
		return store.Event{Type: store.EventUpdated, After: &r}
	}

	svc := New(replayStore{Store: mem, events: []store.Event{
		state(models.StatusScraped),
		state(models.StatusParsing),
		state(models.StatusScraped),
		state(models.StatusPending),
		state(models.StatusParsing),
		state(models.StatusParsed),
	}}, nil)

	updates, err := svc.Watch(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, []models.Status{
		models.StatusPending,
		models.StatusScraped,
		models.StatusParsing,
		models.StatusParsed,
	}, collect(t, updates))
}

func TestWatch_TerminalRecordClosesImmediately(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := New(mem, nil)

	id, _, err := svc.Request(ctx, "https://example.com/job")
	require.NoError(t, err)
	_, err = mem.Transition(ctx, id, models.StatusPending, models.Failed(models.StatusFailed, "Page load timeout (15s) for URL: https://example.com/job"))
	require.NoError(t, err)

	updates, err := svc.Watch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []models.Status{models.StatusFailed}, collect(t, updates))
}

func TestWatch_UnknownRecord(t *testing.T) {
	svc := New(store.NewMemory(), nil)
	_, err := svc.Watch(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
