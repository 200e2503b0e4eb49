package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/clock/system"
)

// Config controls how the Hub buffers run events before handing them to sinks.
// Zero values pick the defaults below.
type Config struct {
	// BufferSize is the number of events workers may queue ahead of the sinks.
	BufferSize int
	// MaxBatchEvents flushes once this many events are pending.
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	Clock       checker.Clock
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub fans run events out to the registered sinks in batches. Emit never
// blocks a worker. When the buffer is full, PROGRESS events collapse into the
// newest one and RUN_DONE is held back; both reach the sinks on the next
// flush. Other stages are dropped and counted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	held      heldEvents
	dropWarn  dropWarner
	dropped   atomic.Int64
	coalesced atomic.Int64
	closed    atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine for sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = system.Clock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   cfg.Logger.Named("progress"),
		dropWarn: dropWarner{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt for the sinks. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}

	switch evt.Stage {
	case StageProgress:
		if h.held.progress(evt) {
			h.coalesced.Add(1)
		}
	case StageRunDone:
		h.held.done(evt)
	default:
		h.dropped.Add(1)
		if h.dropWarn.due(h.cfg.Clock.Now()) {
			h.logger.Warn("progress sinks are falling behind, events dropped",
				zap.String("stage", string(evt.Stage)),
				zap.Int64("dropped_total", h.dropped.Load()),
			)
		}
	}
}

// Dropped reports how many events were lost to backpressure.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Coalesced reports how many PROGRESS events were replaced by a newer one
// while the buffer was full.
func (h *Hub) Coalesced() int64 {
	if h == nil {
		return 0
	}
	return h.coalesced.Load()
}

// Close delivers everything still queued or held, closes the sinks and waits
// for the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := newBatch(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.stopTimer()
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
			// A finished run should not sit behind the batch timer.
			if b.full() || evt.Stage == StageRunDone {
				h.flush(b.take())
			}
		case <-b.timer.C:
			b.armed = false
			h.flush(b.take())
		case <-h.stopCh:
			h.drainQueued(b)
			h.flush(b.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drainQueued(b *batch) {
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
			if b.full() {
				h.flush(b.take())
			}
		default:
			return
		}
	}
}

// flush hands batch plus any held events to every sink.
func (h *Hub) flush(batch []Event) {
	batch = h.held.drainInto(batch)
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := sink.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batch accumulates events for one flush and owns the flush timer.
type batch struct {
	events []Event
	size   int
	wait   time.Duration
	timer  *time.Timer
	armed  bool
}

func newBatch(size int, wait time.Duration) *batch {
	t := time.NewTimer(wait)
	t.Stop()
	return &batch{events: make([]Event, 0, size), size: size, wait: wait, timer: t}
}

func (b *batch) add(evt Event) {
	b.events = append(b.events, evt)
	if !b.armed {
		b.timer.Reset(b.wait)
		b.armed = true
	}
}

func (b *batch) full() bool { return len(b.events) >= b.size }

// take returns the pending events and starts a new batch. Sinks may keep the
// returned slice.
func (b *batch) take() []Event {
	b.stopTimer()
	out := b.events
	b.events = make([]Event, 0, b.size)
	return out
}

func (b *batch) stopTimer() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

// heldEvents keeps the newest PROGRESS and the RUN_DONE event that did not fit
// in the buffer.
type heldEvents struct {
	mu       sync.Mutex
	latest   *Event
	finished *Event
}

// progress stores evt and reports whether it replaced an older one.
func (e *heldEvents) progress(evt Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	replaced := e.latest != nil
	if replaced && e.latest.Current > evt.Current {
		return true
	}
	e.latest = &evt
	return replaced
}

func (e *heldEvents) done(evt Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = &evt
}

// drainInto appends the held events to batch, RUN_DONE last.
func (e *heldEvents) drainInto(batch []Event) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest != nil {
		batch = append(batch, *e.latest)
		e.latest = nil
	}
	if e.finished != nil {
		batch = append(batch, *e.finished)
		e.finished = nil
	}
	return batch
}

// dropWarner limits drop warnings to one per interval.
type dropWarner struct {
	interval time.Duration
	last     atomic.Int64
}

func (w *dropWarner) due(now time.Time) bool {
	if w.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := w.last.Load()
	if nano-last < w.interval.Nanoseconds() {
		return false
	}
	return w.last.CompareAndSwap(last, nano)
}
