package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/jobingest/internal/models"
)

// Memory is an in-process Store. Used by tests and the memory backend.
type Memory struct {
	mu      sync.Mutex
	records map[string]*models.IngestionRecord
	byURL   map[string]string
	subs    map[*subscriber]struct{}
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*models.IngestionRecord),
		byURL:   make(map[string]string),
		subs:    make(map[*subscriber]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(ctx context.Context, sourceURL string) (*models.IngestionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byURL[sourceURL]; ok {
		rec := m.records[id].Clone()
		return &rec, false, nil
	}

	rec := models.NewRecord(NewID(), sourceURL, m.now())
	m.records[rec.ID] = &rec
	m.byURL[sourceURL] = rec.ID

	out := rec.Clone()
	m.publish(Event{Type: EventCreated, After: clonePtr(&rec)})
	return &out, true, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*models.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return clonePtr(rec), nil
}

func (m *Memory) FindBySourceURL(ctx context.Context, sourceURL string) (*models.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byURL[sourceURL]
	if !ok {
		return nil, fmt.Errorf("find %s: %w", sourceURL, ErrNotFound)
	}
	return clonePtr(m.records[id]), nil
}

func (m *Memory) Transition(ctx context.Context, id string, from models.Status, mut models.Mutation) (*models.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	if rec.Status != from {
		return nil, fmt.Errorf("transition %s from %s: now %s: %w", id, from, rec.Status, ErrConflict)
	}

	next, err := rec.Apply(mut, m.now())
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", id, err)
	}

	before := clonePtr(rec)
	*rec = next
	m.publish(Event{Type: EventUpdated, Before: before, After: clonePtr(rec)})
	return clonePtr(rec), nil
}

func (m *Memory) List(ctx context.Context, statuses ...models.Status) ([]models.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.IngestionRecord
	for _, rec := range m.records {
		if len(statuses) == 0 || slices.Contains(statuses, rec.Status) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b models.IngestionRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan Event, error) {
	sub := &subscriber{notify: make(chan struct{}, 1)}
	out := make(chan Event)

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subs, sub)
			m.mu.Unlock()
		}()
		sub.pump(ctx, out)
	}()
	return out, nil
}

// publish must be called with m.mu held.
func (m *Memory) publish(ev Event) {
	for sub := range m.subs {
		sub.push(ev)
	}
}

// subscriber buffers events without bound so publishers never block on a
// slow consumer.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump(ctx context.Context, out chan<- Event) {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		}
	}
}

func clonePtr(rec *models.IngestionRecord) *models.IngestionRecord {
	c := rec.Clone()
	return &c
}
