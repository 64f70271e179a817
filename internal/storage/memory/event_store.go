// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/linkgate/internal/analytics"
)

// EventStore keeps analytics events per page in memory.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]analytics.Event
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string][]analytics.Event)}
}

// Name implements analytics.Sink.
func (*EventStore) Name() string { return "memory" }

// InsertEvent appends evt under its page.
func (s *EventStore) InsertEvent(_ context.Context, evt analytics.Event) error {
	if evt.Page == "" {
		return errors.New("event page is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[evt.Page] = append(s.events[evt.Page], evt)
	return nil
}

// ListEvents returns up to limit events for page, newest first, after
// skipping offset. A non-positive limit returns everything after offset.
func (s *EventStore) ListEvents(_ context.Context, page string, limit, offset int) ([]analytics.Event, error) {
	s.mu.RLock()
	rows := append([]analytics.Event(nil), s.events[page]...)
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []analytics.Event{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

// CountEvents returns how many events page has.
func (s *EventStore) CountEvents(_ context.Context, page string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[page]), nil
}
