package analytics

import "context"

// Sink persists or forwards one event. Implementations must honor ctx
// deadlines and be safe for concurrent use.
type Sink interface {
	Name() string
	InsertEvent(ctx context.Context, evt Event) error
}

// Closer is implemented by sinks holding resources released on shutdown.
type Closer interface {
	Close(ctx context.Context) error
}

// Reader lists stored events for one page, newest first.
type Reader interface {
	ListEvents(ctx context.Context, page string, limit, offset int) ([]Event, error)
	CountEvents(ctx context.Context, page string) (int, error)
}

// Store is a sink that can also be read back.
type Store interface {
	Sink
	Reader
}

// Emitter accepts events without blocking; Recorder satisfies it.
type Emitter interface {
	Record(evt Event)
}
