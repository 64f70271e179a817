package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/metrics"
)

// IDGenerator assigns event IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls buffering for the Recorder.
//   - QueueDepth: size of the internal channel (default 1024).
//   - SinkTimeout: per-sink timeout for one insert (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - IDs: optional generator for events recorded without an ID.
//   - Logger: optional structured logger used for warnings.
type Config struct {
	QueueDepth  int
	SinkTimeout time.Duration
	BaseContext context.Context
	IDs         IDGenerator
	Logger      *zap.Logger
}

const (
	defaultQueueDepth  = 1024
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Recorder queues events and writes them to every sink from one background
// goroutine. Record never blocks; Close drains what was queued.
type Recorder struct {
	cfg         Config
	sinks       []Sink
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewRecorder starts the background writer for sinks.
func NewRecorder(cfg Config, sinks ...Sink) *Recorder {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.QueueDepth),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go r.run()
	return r
}

// Record enqueues evt. Invalid events, events after Close, and events that
// find the queue full are discarded.
func (r *Recorder) Record(evt Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		r.logger.Debug("discarding invalid analytics event", zap.Error(err))
		return
	}
	if evt.ID == "" && r.cfg.IDs != nil {
		if id, err := r.cfg.IDs.NewID(); err == nil {
			evt.ID = id
		}
	}
	select {
	case r.events <- evt:
	default:
		metrics.ObserveAnalyticsDropped(1)
		r.dropped.Add(1)
		if r.dropLimiter.Allow(time.Now()) {
			count := r.dropped.Swap(0)
			r.logger.Warn("analytics events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close stops intake, writes queued events, closes sinks that implement
// Closer, and waits for the writer to exit or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeCtx = ctx
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analytics recorder close wait: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.doneCh)
	for {
		select {
		case evt := <-r.events:
			r.write(evt)
		case <-r.stopCh:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case evt := <-r.events:
			r.write(evt)
		default:
			r.closeSinks()
			return
		}
	}
}

func (r *Recorder) write(evt Event) {
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.cfg.BaseContext, r.cfg.SinkTimeout)
		err := sink.InsertEvent(ctx, evt)
		cancel()
		if err != nil {
			metrics.ObserveAnalyticsWrite(sink.Name(), "error")
			r.logger.Warn("analytics sink insert failed",
				zap.String("sink", sink.Name()),
				zap.String("page", evt.Page),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveAnalyticsWrite(sink.Name(), "ok")
	}
}

func (r *Recorder) closeSinks() {
	ctx := r.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for _, sink := range r.sinks {
		c, ok := sink.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("analytics sink close failed", zap.Error(err))
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (l *rateLimiter) Allow(now time.Time) bool {
	if l == nil || l.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := l.last.Load()
	if nano-last < l.interval.Nanoseconds() {
		return false
	}
	return l.last.CompareAndSwap(last, nano)
}
