// Package observability provides logging, tracing, metrics, and the
// engine's event bus/replay log.
package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgerun/core/internal/core"
)

// Additional context keys for event/trace correlation, distinct from
// logging.go's request/session/plan/step keys.
const (
	// RunIDKey is the context key for conversation-loop run IDs.
	RunIDKey ContextKey = "run_id"

	// WorkerIDKey is the context key for worker agent IDs.
	WorkerIDKey ContextKey = "worker_id"

	// ToolCallIDKey is the context key for tool call IDs.
	ToolCallIDKey ContextKey = "tool_call_id"
)

// AddRunID adds a run ID to the context.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// AddWorkerID adds a worker agent ID to the context.
func AddWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

// GetWorkerID retrieves the worker agent ID from the context.
func GetWorkerID(ctx context.Context) string {
	if id, ok := ctx.Value(WorkerIDKey).(string); ok {
		return id
	}
	return ""
}

// AddToolCallID adds a tool call ID to the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// EventBus implements core.EventSink over a bounded, non-blocking queue.
// Publish never blocks the caller: when the queue is full the event is
// dropped and counted. This is the explicit drop-counter that spec §5
// requires and the teacher's InMemorySwarmContext.Publish select/default
// (internal/multiagent/swarm.go) lacks.
type EventBus struct {
	queue   chan core.Event
	metrics *Metrics
	logger  *Logger

	mu          sync.RWMutex
	subscribers map[int]chan core.Event
	nextSubID   int

	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewEventBus starts an EventBus with the given queue capacity. metrics
// and logger may be nil. The bus must be closed with Close when no
// longer needed.
func NewEventBus(capacity int, metrics *Metrics, logger *Logger) *EventBus {
	if capacity <= 0 {
		capacity = 256
	}
	bus := &EventBus{
		queue:       make(chan core.Event, capacity),
		metrics:     metrics,
		logger:      logger,
		subscribers: make(map[int]chan core.Event),
		done:        make(chan struct{}),
	}
	bus.wg.Add(1)
	go bus.dispatchLoop()
	return bus
}

var _ core.EventSink = (*EventBus)(nil)

// Publish implements core.EventSink. It never blocks.
func (b *EventBus) Publish(e core.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case b.queue <- e:
		if b.metrics != nil {
			b.metrics.RecordEventPublished(string(e.Type))
			b.metrics.SetEventQueueDepth(len(b.queue))
		}
	default:
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordEventDropped()
		}
		if b.logger != nil {
			b.logger.Warn(context.Background(), "event bus queue full, dropping event",
				"event_type", string(e.Type), "correlation_id", e.CorrelationID)
		}
	}
}

func (b *EventBus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.queue:
			b.fanOut(e)
			if b.metrics != nil {
				b.metrics.SetEventQueueDepth(len(b.queue))
			}
		case <-b.done:
			return
		}
	}
}

// fanOut delivers an event to every subscriber without blocking. A slow
// subscriber misses events rather than stalling the dispatch loop for
// everyone else; only queue-level drops are counted in Metrics, matching
// spec §5's drop-counter being defined at the bus boundary.
func (b *EventBus) fanOut(e core.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new listener and returns its channel along with
// an unsubscribe function that closes the channel.
func (b *EventBus) Subscribe(capacity int) (<-chan core.Event, func()) {
	if capacity <= 0 {
		capacity = 64
	}
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	ch := make(chan core.Event, capacity)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Dropped returns the total number of events dropped so far because the
// queue was full.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// QueueDepth returns the current number of events waiting in the queue.
func (b *EventBus) QueueDepth() int {
	return len(b.queue)
}

// Close stops the dispatch loop and closes every subscriber channel.
// Close is idempotent.
func (b *EventBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.mu.Lock()
		defer b.mu.Unlock()
		for id, ch := range b.subscribers {
			delete(b.subscribers, id)
			close(ch)
		}
	})
}

// StoredEvent pairs a core.Event with its recording order, since
// core.Event carries no ID of its own.
type StoredEvent struct {
	Seq   int64
	Event core.Event
}

// EventLog is a bounded in-memory replay log keyed by CorrelationID,
// grounded on the teacher's MemoryEventStore
// (internal/observability/events.go), generalized from RunID/SessionID
// indices onto core.Event's single CorrelationID field.
type EventLog struct {
	mu      sync.RWMutex
	maxSize int
	seq     int64
	events  []StoredEvent
	byCorr  map[string][]int
}

// NewEventLog creates a replay log retaining at most maxSize events.
// Older events are evicted once the log is full.
func NewEventLog(maxSize int) *EventLog {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &EventLog{
		maxSize: maxSize,
		byCorr:  make(map[string][]int),
	}
}

// Record appends an event to the log.
func (l *EventLog) Record(e core.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) >= l.maxSize {
		l.evictOldestLocked()
	}
	l.seq++
	l.events = append(l.events, StoredEvent{Seq: l.seq, Event: e})
	if e.CorrelationID != "" {
		idx := len(l.events) - 1
		l.byCorr[e.CorrelationID] = append(l.byCorr[e.CorrelationID], idx)
	}
}

// Publish adapts EventLog to core.EventSink so it can be wired directly
// as an engine's sink, or fed from an EventBus subscription.
func (l *EventLog) Publish(e core.Event) { l.Record(e) }

var _ core.EventSink = (*EventLog)(nil)

func (l *EventLog) evictOldestLocked() {
	drop := l.maxSize / 10
	if drop < 1 {
		drop = 1
	}
	if drop > len(l.events) {
		drop = len(l.events)
	}
	l.events = append([]StoredEvent(nil), l.events[drop:]...)

	l.byCorr = make(map[string][]int, len(l.byCorr))
	for i, se := range l.events {
		if se.Event.CorrelationID != "" {
			l.byCorr[se.Event.CorrelationID] = append(l.byCorr[se.Event.CorrelationID], i)
		}
	}
}

// ByCorrelationID returns every event recorded under the given
// correlation ID, in recording order.
func (l *EventLog) ByCorrelationID(id string) []StoredEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idxs := l.byCorr[id]
	out := make([]StoredEvent, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.events[i])
	}
	return out
}

// Since returns every event recorded at or after the given time, in
// recording order.
func (l *EventLog) Since(t time.Time) []StoredEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []StoredEvent
	for _, se := range l.events {
		if !se.Event.Timestamp.Before(t) {
			out = append(out, se)
		}
	}
	return out
}

// Len returns the number of events currently retained.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
