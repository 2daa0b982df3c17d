// Package invocationlog implements C3: a fire-and-forget audit trail of
// tools/call invocations, buffered in memory and drained to a durable
// store by a background worker.
package invocationlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal outcome of one tools/call dispatch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Event is one InvocationEvent (spec §3, §4.3).
type Event struct {
	SkillID       string
	InvokedAt     string // RFC3339 timestamp + "#" + UUID, unique sort key
	SessionID     string
	Method        string
	DurationMS    int64
	Status        Status
	ErrorMessage  string
	ParamsExcerpt string
	ExpiresAt     int64 // epoch seconds
}

// sortableTimestampLayout always emits 9 fractional digits so InvokedAt
// values remain lexically sortable (time.RFC3339Nano trims trailing
// zeros, which breaks that property).
const sortableTimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewEvent stamps InvokedAt and ExpiresAt from the given time and retention.
func NewEvent(at time.Time, retentionDays int) Event {
	return Event{
		InvokedAt: at.UTC().Format(sortableTimestampLayout) + "#" + uuid.New().String(),
		ExpiresAt: at.Add(time.Duration(retentionDays) * 24 * time.Hour).Unix(),
	}
}

// Store is the durable backend an invocationlog.Log drains into.
type Store interface {
	Append(ctx context.Context, events []Event) error
	Query(ctx context.Context, skillID string, since *time.Time, limit int) ([]Event, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// defaultQueueCapacity is the bounded in-memory buffer size (spec §4.3).
const defaultQueueCapacity = 1024

// defaultDrainInterval/defaultBatchSize bound how often and how much the
// worker flushes per cycle.
const (
	defaultDrainInterval = 500 * time.Millisecond
	defaultBatchSize     = 128
)

// Log is the C3 component: Append is non-blocking and fire-and-forget;
// a background worker drains the bounded queue to Store in batches.
// Durability is at-most-once: invocation correctness never blocks on it.
type Log struct {
	store    Store
	queue    chan Event
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	droppedEventsTotal atomic.Int64
}

// New creates a Log with the default bounded queue capacity.
func New(store Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:  store,
		queue:  make(chan Event, defaultQueueCapacity),
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins the drain worker in a goroutine.
func (l *Log) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop signals the drain worker to stop and waits for it to finish,
// flushing whatever remains buffered. Safe to call multiple times.
func (l *Log) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// Append enqueues an event without blocking the caller. If the queue is
// full, the oldest buffered event is dropped and DroppedEventsTotal is
// incremented, per spec §4.3's overflow policy.
func (l *Log) Append(event Event) {
	select {
	case l.queue <- event:
	default:
		select {
		case oldest := <-l.queue:
			l.droppedEventsTotal.Add(1)
			l.logger.Warn("invocation log queue full, dropped oldest event",
				"dropped_skill_id", oldest.SkillID, "dropped_events_total", l.droppedEventsTotal.Load())
			select {
			case l.queue <- event:
			default:
				// Lost a race with another producer; drop the new event instead.
				l.droppedEventsTotal.Add(1)
			}
		default:
			// Queue drained concurrently between the two selects; just enqueue.
			select {
			case l.queue <- event:
			default:
				l.droppedEventsTotal.Add(1)
			}
		}
	}
}

// DroppedEventsTotal returns the monotonically increasing overflow
// counter, observable via health metrics (spec §4.3).
func (l *Log) DroppedEventsTotal() int64 {
	return l.droppedEventsTotal.Load()
}

// Query reads back invocation events for a skill, newest first.
func (l *Log) Query(ctx context.Context, skillID string, since *time.Time, limit int) ([]Event, error) {
	return l.store.Query(ctx, skillID, since, limit)
}

func (l *Log) run(ctx context.Context) {
	defer l.wg.Done()

	log := l.logger.With("component", "invocationlog")
	log.Info("invocation log drain worker started")

	ticker := time.NewTicker(defaultDrainInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, defaultBatchSize)
	for {
		select {
		case <-l.stopCh:
			l.drainRemaining(context.Background(), &batch)
			log.Info("invocation log drain worker stopped")
			return
		case <-ctx.Done():
			l.drainRemaining(context.Background(), &batch)
			log.Info("invocation log drain worker stopped (context cancelled)")
			return
		case ev := <-l.queue:
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				l.flush(ctx, &batch)
			}
		case <-ticker.C:
			l.flush(ctx, &batch)
		}
	}
}

// drainRemaining flushes the current batch plus anything still sitting
// in the channel, best-effort, during shutdown.
func (l *Log) drainRemaining(ctx context.Context, batch *[]Event) {
	for {
		select {
		case ev := <-l.queue:
			*batch = append(*batch, ev)
		default:
			l.flush(ctx, batch)
			return
		}
	}
}

func (l *Log) flush(ctx context.Context, batch *[]Event) {
	if len(*batch) == 0 {
		return
	}
	if err := l.store.Append(ctx, *batch); err != nil {
		l.logger.Warn("invocation log flush failed, events dropped", "count", len(*batch), "error", err)
	}
	*batch = (*batch)[:0]
}
