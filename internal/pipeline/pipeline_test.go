package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/jobingest/internal/extract"
	"github.com/raphaelgruber/jobingest/internal/fetch"
	"github.com/raphaelgruber/jobingest/internal/metrics"
	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/store"
)

type fetcherFunc func(ctx context.Context, rawURL string) (*fetch.Page, error)

func (f fetcherFunc) Fetch(ctx context.Context, rawURL string) (*fetch.Page, error) {
	return f(ctx, rawURL)
}

type extractorFunc func(ctx context.Context, html string, meta *models.PageMeta) (*models.JobData, error)

func (f extractorFunc) Extract(ctx context.Context, html string, meta *models.PageMeta) (*models.JobData, error) {
	return f(ctx, html, meta)
}

func staticPage(html string) fetcherFunc {
	return func(_ context.Context, rawURL string) (*fetch.Page, error) {
		return &fetch.Page{URL: rawURL, HTML: html}, nil
	}
}

func staticData(data models.JobData) extractorFunc {
	return func(context.Context, string, *models.PageMeta) (*models.JobData, error) {
		return &data, nil
	}
}

func unexpectedFetch(t *testing.T) fetcherFunc {
	return func(context.Context, string) (*fetch.Page, error) {
		t.Error("fetcher must not be called")
		return nil, errors.New("unexpected")
	}
}

func unexpectedExtract(t *testing.T) extractorFunc {
	return func(context.Context, string, *models.PageMeta) (*models.JobData, error) {
		t.Error("extractor must not be called")
		return nil, errors.New("unexpected")
	}
}

// drive plays the role of the trigger delivery system for one record: the
// creation fires Trigger A, then every write fires Trigger B.
func drive(t *testing.T, p *Pipeline, s store.Store, url string) *models.IngestionRecord {
	t.Helper()
	ctx := context.Background()

	rec, created, err := s.Create(ctx, url)
	require.NoError(t, err)
	require.True(t, created)

	_ = p.HandleCreate(ctx, store.Event{Type: store.EventCreated, After: rec})

	before := rec
	for range 4 {
		after, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		if after.Status == before.Status {
			break
		}
		_ = p.HandleWrite(ctx, store.Event{Type: store.EventUpdated, Before: before, After: after})
		before = after
	}

	final, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	return final
}

func TestPipeline_EndToEnd(t *testing.T) {
	s := store.NewMemory()
	collector := metrics.NewCollector()

	var extractedFrom string
	want := models.JobData{
		Position:       "Backend Engineer",
		RemotePolicy:   models.RemotePolicyRemote,
		EmploymentType: models.EmploymentFullTime,
	}
	p := New(s,
		staticPage(`<html><body><div><h1>Backend Engineer</h1><p>Remote, full-time.</p></div></body></html>`),
		extractorFunc(func(_ context.Context, html string, _ *models.PageMeta) (*models.JobData, error) {
			extractedFrom = html
			d := want
			return &d, nil
		}),
		nil,
	).WithMetrics(collector)

	rec := drive(t, p, s, "https://example.com/job/42")

	assert.Equal(t, models.StatusParsed, rec.Status)
	require.NotNil(t, rec.Content)
	assert.Contains(t, *rec.Content, "<h1>Backend Engineer</h1><p>Remote, full-time.</p>")
	assert.NotContains(t, *rec.Content, "<div>")
	assert.Equal(t, *rec.Content, extractedFrom)
	require.NotNil(t, rec.ExtractedData)
	assert.Equal(t, want, *rec.ExtractedData)
	assert.Nil(t, rec.ErrorMessage)

	snap := collector.Snapshot()
	assert.Equal(t, int64(1), snap.Transitions["scraped"])
	assert.Equal(t, int64(1), snap.Transitions["parsing"])
	assert.Equal(t, int64(1), snap.Transitions["parsed"])
	require.NotNil(t, snap.Fetch)
	assert.Equal(t, int64(1), snap.Fetch.Count)
	require.NotNil(t, snap.Normalize)
	assert.Equal(t, int64(1), snap.Normalize.Count)
	require.NotNil(t, snap.Store)
	assert.Equal(t, int64(3), snap.Store.Count, "scraped write, claim, parsed write")
}

func TestPipeline_PageMetaStored(t *testing.T) {
	s := store.NewMemory()

	var gotMeta *models.PageMeta
	p := New(s,
		staticPage(`<html><head><title>SRE at Acme</title><meta property="og:image" content="/logo.png"></head><body><h1>SRE</h1></body></html>`),
		extractorFunc(func(_ context.Context, _ string, meta *models.PageMeta) (*models.JobData, error) {
			gotMeta = meta
			return &models.JobData{Position: "SRE"}, nil
		}),
		nil,
	)

	rec := drive(t, p, s, "https://acme.example/jobs/sre")

	require.NotNil(t, rec.PageMeta)
	assert.Equal(t, "SRE at Acme", rec.PageMeta.Title)
	assert.Equal(t, "https://acme.example/logo.png", rec.PageMeta.OGImage)
	require.NotNil(t, gotMeta)
	assert.Equal(t, *rec.PageMeta, *gotMeta)
	assert.NotContains(t, *rec.Content, "og:image", "attributes stripped from content")
}

func TestPipeline_FetchFailureIsTerminal(t *testing.T) {
	s := store.NewMemory()
	p := New(s,
		fetcherFunc(func(context.Context, string) (*fetch.Page, error) {
			return nil, &fetch.Error{Kind: fetch.KindTimeout, Msg: "Page load timeout (15s) for URL: https://example.com/job/42"}
		}),
		unexpectedExtract(t),
		nil,
	)

	rec := drive(t, p, s, "https://example.com/job/42")

	assert.Equal(t, models.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "Page load timeout (15s) for URL: https://example.com/job/42", *rec.ErrorMessage)
	assert.Nil(t, rec.Content)

	require.NoError(t, p.HandleWrite(context.Background(), store.Event{Type: store.EventUpdated, After: rec}))
	again, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, *rec, *again, "Trigger B never touches a failed record")
}

func TestPipeline_GenericFetchError(t *testing.T) {
	s := store.NewMemory()
	p := New(s,
		fetcherFunc(func(context.Context, string) (*fetch.Page, error) { return nil, errors.New("connection reset") }),
		unexpectedExtract(t),
		nil,
	)

	rec := drive(t, p, s, "https://example.com/job/1")
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, "connection reset", *rec.ErrorMessage)
}

func TestPipeline_InvalidURLNeverFetches(t *testing.T) {
	s := store.NewMemory()
	p := New(s, unexpectedFetch(t), unexpectedExtract(t), nil)

	rec := drive(t, p, s, "mailto:jobs@example.com")

	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, "Invalid or missing URL", *rec.ErrorMessage)
}

func TestPipeline_RedundantCreateDelivery(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	var fetches atomic.Int32
	p := New(s,
		fetcherFunc(func(_ context.Context, rawURL string) (*fetch.Page, error) {
			fetches.Add(1)
			return &fetch.Page{URL: rawURL, HTML: "<p>job</p>"}, nil
		}),
		staticData(models.JobData{}),
		nil,
	)

	rec, _, err := s.Create(ctx, "https://example.com/job/7")
	require.NoError(t, err)
	ev := store.Event{Type: store.EventCreated, After: rec}

	require.NoError(t, p.HandleCreate(ctx, ev))
	require.NoError(t, p.HandleCreate(ctx, ev), "second delivery sees the record already scraped")

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScraped, got.Status)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestPipeline_ConcurrentWriteDeliveriesParseOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	var calls atomic.Int32
	release := make(chan struct{})
	p := New(s, unexpectedFetch(t),
		extractorFunc(func(context.Context, string, *models.PageMeta) (*models.JobData, error) {
			calls.Add(1)
			<-release
			return &models.JobData{Position: "Backend Engineer"}, nil
		}),
		nil,
	)

	rec, _, err := s.Create(ctx, "https://example.com/job/42")
	require.NoError(t, err)
	scraped, err := s.Transition(ctx, rec.ID, models.StatusPending, models.Scraped("<p>job</p>", nil))
	require.NoError(t, err)
	ev := store.Event{Type: store.EventUpdated, Before: rec, After: scraped}

	const deliveries = 5
	var wg sync.WaitGroup
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.HandleWrite(ctx, ev))
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsed, got.Status)

	require.NoError(t, p.HandleWrite(ctx, store.Event{Type: store.EventUpdated, Before: scraped, After: got}))
	assert.Equal(t, int32(1), calls.Load(), "parsed records are not reprocessed")
}

func TestPipeline_MissingContent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	p := New(s, unexpectedFetch(t), unexpectedExtract(t), nil)

	rec, _, err := s.Create(ctx, "https://example.com/job/42")
	require.NoError(t, err)
	scraped, err := s.Transition(ctx, rec.ID, models.StatusPending, models.Scraped("<p>job</p>", nil))
	require.NoError(t, err)

	inconsistent := scraped.Clone()
	inconsistent.Content = nil
	require.NoError(t, p.HandleWrite(ctx, store.Event{Type: store.EventUpdated, Before: rec, After: &inconsistent}))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusParseFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "No content to parse", *got.ErrorMessage)
	assert.Nil(t, got.ExtractedData)
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	s := store.NewMemory()
	p := New(s,
		staticPage("<html><body><p>job</p></body></html>"),
		extract.New(extract.GeneratorFunc(func(context.Context, string, string) (string, error) {
			return `{"employmentType": "contract"}`, nil
		}), time.Second, nil),
		nil,
	)

	rec := drive(t, p, s, "https://example.com/job/9")

	assert.Equal(t, models.StatusParseFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "AI output failed schema validation")
	assert.Nil(t, rec.ExtractedData)
	assert.NotNil(t, rec.Content, "content from the scrape stage is kept")
}

// flakyStore fails the first transition into a given status.
type flakyStore struct {
	store.Store
	failOn models.Status
	failed atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (f *flakyStore) Transition(ctx context.Context, id string, from models.Status, m models.Mutation) (*models.IngestionRecord, error) {
	if m.Status == f.failOn && f.failed.CompareAndSwap(false, true) {
		return nil, errDiskFull
	}
	return f.Store.Transition(ctx, id, from, m)
}

func TestPipeline_PersistFailureAfterScrape(t *testing.T) {
	s := &flakyStore{Store: store.NewMemory(), failOn: models.StatusScraped}
	p := New(s, staticPage("<p>job</p>"), unexpectedExtract(t), nil)

	ctx := context.Background()
	rec, _, err := s.Create(ctx, "https://example.com/job/3")
	require.NoError(t, err)

	err = p.HandleCreate(ctx, store.Event{Type: store.EventCreated, After: rec})
	assert.ErrorIs(t, err, errDiskFull)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "Failed to update document with content: disk full", *got.ErrorMessage)
	assert.Nil(t, got.Content)
}

func TestPipeline_PersistFailureAfterExtract(t *testing.T) {
	s := &flakyStore{Store: store.NewMemory(), failOn: models.StatusParsed}
	p := New(s, staticPage("<p>job</p>"), staticData(models.JobData{Position: "x"}), nil)

	rec := drive(t, p, s, "https://example.com/job/4")

	assert.Equal(t, models.StatusParseFailed, rec.Status)
	assert.Equal(t, "Failed to save extracted data: disk full", *rec.ErrorMessage)
}

func TestPipeline_PanicRecovery(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		s := store.NewMemory()
		p := New(s,
			fetcherFunc(func(context.Context, string) (*fetch.Page, error) { panic("browser exploded") }),
			unexpectedExtract(t),
			nil,
		)

		ctx := context.Background()
		rec, _, err := s.Create(ctx, "https://example.com/job/5")
		require.NoError(t, err)

		err = p.HandleCreate(ctx, store.Event{Type: store.EventCreated, After: rec})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser exploded")

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, "Unknown error occurred", *got.ErrorMessage)
	})

	t.Run("extract", func(t *testing.T) {
		s := store.NewMemory()
		p := New(s,
			staticPage("<p>job</p>"),
			extractorFunc(func(context.Context, string, *models.PageMeta) (*models.JobData, error) {
				panic("nil map")
			}),
			nil,
		)

		rec := drive(t, p, s, "https://example.com/job/6")
		assert.Equal(t, models.StatusParseFailed, rec.Status)
		assert.Equal(t, "Unknown error occurred during parsing", *rec.ErrorMessage)
	})
}
