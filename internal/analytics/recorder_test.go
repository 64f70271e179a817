package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSink struct {
	name    string
	mu      sync.Mutex
	events  []Event
	err     error
	block   chan struct{}
	closed  bool
	closeFn func() error
}

func newStubSink(name string) *stubSink {
	return &stubSink{name: name}
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) InsertEvent(ctx context.Context, evt Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

func (s *stubSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("evt-%d", g.n), nil
}

func sampleEvent(page string) Event {
	return Event{Page: page, Referrer: "https://l.instagram.com/", Timestamp: time.Unix(1700000000, 0)}
}

func TestRecorderFansOutToEverySink(t *testing.T) {
	t.Parallel()

	a, b := newStubSink("a"), newStubSink("b")
	rec := NewRecorder(Config{QueueDepth: 8}, a, b)
	rec.Record(sampleEvent("josh"))
	rec.Record(sampleEvent("rachel"))
	require.NoError(t, rec.Close(context.Background()))

	for _, s := range []*stubSink{a, b} {
		evts := s.Events()
		require.Len(t, evts, 2)
		require.Equal(t, "josh", evts[0].Page)
		require.Equal(t, "rachel", evts[1].Page)
		require.True(t, s.Closed())
	}
}

func TestRecorderAssignsIDs(t *testing.T) {
	t.Parallel()

	sink := newStubSink("mem")
	rec := NewRecorder(Config{IDs: &seqIDs{}}, sink)
	rec.Record(sampleEvent("josh"))
	withID := sampleEvent("josh")
	withID.ID = "given"
	rec.Record(withID)
	require.NoError(t, rec.Close(context.Background()))

	evts := sink.Events()
	require.Len(t, evts, 2)
	require.Equal(t, "evt-1", evts[0].ID)
	require.Equal(t, "given", evts[1].ID)
}

func TestRecorderDiscardsInvalidAndLateEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink("mem")
	rec := NewRecorder(Config{}, sink)
	rec.Record(Event{Page: "  "})
	require.NoError(t, rec.Close(context.Background()))
	rec.Record(sampleEvent("josh"))
	require.Empty(t, sink.Events())
}

func TestRecorderRecordNeverBlocks(t *testing.T) {
	t.Parallel()

	sink := newStubSink("slow")
	sink.block = make(chan struct{})
	rec := NewRecorder(Config{QueueDepth: 1, Logger: zap.NewNop()}, sink)

	start := time.Now()
	for i := 0; i < 50; i++ {
		rec.Record(sampleEvent("josh"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)

	close(sink.block)
	require.NoError(t, rec.Close(context.Background()))
	require.NotEmpty(t, sink.Events())
	require.Less(t, len(sink.Events()), 50)
}

func TestRecorderSinkFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	bad := newStubSink("bad")
	bad.err = errors.New("connection refused")
	bad.closeFn = func() error { return errors.New("already closed") }
	good := newStubSink("good")
	rec := NewRecorder(Config{}, bad, good)
	rec.Record(sampleEvent("josh"))
	require.NoError(t, rec.Close(context.Background()))

	require.Empty(t, bad.Events())
	require.Len(t, good.Events(), 1)
}

func TestRecorderCloseHonorsContext(t *testing.T) {
	t.Parallel()

	sink := newStubSink("stuck")
	sink.block = make(chan struct{})
	rec := NewRecorder(Config{SinkTimeout: time.Minute}, sink)
	rec.Record(sampleEvent("josh"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rec.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(sink.block)
	require.NoError(t, rec.Close(context.Background()))
}

func TestNilRecorderIsSafe(t *testing.T) {
	t.Parallel()

	var rec *Recorder
	rec.Record(sampleEvent("josh"))
	require.NoError(t, rec.Close(context.Background()))
}
