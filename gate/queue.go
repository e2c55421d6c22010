package gate

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaonanln/hubgate/util/backoff"
	hgerrors "github.com/xiaonanln/hubgate/util/errors"
	"github.com/xiaonanln/hubgate/util/logger"
	"github.com/xiaonanln/hubgate/util/metrics"
)

// Queue defaults
const (
	DefaultQueueMax   = 5000
	DefaultFlushBatch = 50
	DefaultRetryBase  = 1000 * time.Millisecond
	DefaultRetryMax   = 60000 * time.Millisecond
)

// Sender delivers one event downstream. Any error is retryable.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// QueueConfig bounds the delivery queue and its retry schedule
type QueueConfig struct {
	MaxItems   int
	FlushBatch int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

// DefaultQueueConfig returns the default queue bounds
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxItems:   DefaultQueueMax,
		FlushBatch: DefaultFlushBatch,
		RetryBase:  DefaultRetryBase,
		RetryMax:   DefaultRetryMax,
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	d := DefaultQueueConfig()
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.FlushBatch <= 0 {
		c.FlushBatch = d.FlushBatch
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = max(d.RetryMax, c.RetryBase)
	}
	return c
}

type queueItem struct {
	seq         uint64
	event       Event
	tries       int
	nextAttempt time.Time
	lastError   string
}

// QueueItem is a copy of one pending delivery
type QueueItem struct {
	Event         Event  `json:"event"`
	Tries         int    `json:"tries"`
	NextAttemptTs int64  `json:"nextAttemptTs"`
	LastError     string `json:"lastError,omitempty"`
}

// FlushResult summarizes one flush pass
type FlushResult struct {
	Sent    int
	Skipped int
	Failed  int
	Busy    bool // another pass was already running
}

// Queue is a bounded FIFO of pending webhook deliveries. When full, the
// oldest item is evicted to make room. Items are only removed by a
// successful send or by eviction.
type Queue struct {
	cfg    QueueConfig
	sender Sender
	now    func() time.Time
	logger *logger.Logger

	dropLog *logger.LimitedLogger
	failLog *logger.LimitedLogger

	mu      sync.Mutex
	items   []*queueItem // ordered by seq
	nextSeq uint64

	flushing atomic.Bool
}

// NewQueue creates an empty queue. A nil sender makes Flush a no-op.
func NewQueue(cfg QueueConfig, sender Sender, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	l := logger.NewLogger("Queue")
	return &Queue{
		cfg:     cfg.withDefaults(),
		sender:  sender,
		now:     now,
		logger:  l,
		dropLog: l.Limited(10*time.Second, 3),
		failLog: l.Limited(10*time.Second, 3),
	}
}

// Enqueue appends ev, immediately eligible for delivery. If the queue is
// full the oldest item is evicted first.
func (q *Queue) Enqueue(ev Event) {
	q.mu.Lock()
	var evicted *queueItem
	if len(q.items) >= q.cfg.MaxItems {
		evicted = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	q.nextSeq++
	q.items = append(q.items, &queueItem{seq: q.nextSeq, event: ev})
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueDepth(n)
	if evicted != nil {
		metrics.RecordQueueDropped()
		q.dropLog.Warnf("Queue full (%d), dropped oldest event %s %s for %s",
			q.cfg.MaxItems, evicted.event.ID, evicted.event.Type, evicted.event.Subject())
	}
}

// Len returns the number of pending items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the pending items in queue order
func (q *Queue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueItem, len(q.items))
	for i, it := range q.items {
		var next int64
		if !it.nextAttempt.IsZero() {
			next = unixMs(it.nextAttempt)
		}
		out[i] = QueueItem{Event: it.event, Tries: it.tries, NextAttemptTs: next, LastError: it.lastError}
	}
	return out
}

// Flush runs one delivery pass. Items are scanned from the head; items not
// yet due are skipped, due items are sent in order. A successful send
// removes the item and the scan continues, up to FlushBatch sends. The first
// failure reschedules that item with exponential backoff and ends the pass.
// Concurrent calls return immediately with Busy set.
func (q *Queue) Flush(ctx context.Context) FlushResult {
	var res FlushResult
	if q.sender == nil {
		return res
	}
	if !q.flushing.CompareAndSwap(false, true) {
		res.Busy = true
		return res
	}
	defer q.flushing.Store(false)

	var cursor uint64
	for res.Sent < q.cfg.FlushBatch && ctx.Err() == nil {
		ev, seq, skipped, ok := q.nextDue(cursor)
		res.Skipped += skipped
		if !ok {
			break
		}
		cursor = seq

		start := time.Now()
		err := q.sender.Send(ctx, ev)
		metrics.RecordDelivery(deliveryStatus(err), time.Since(start).Seconds())

		if err == nil {
			q.remove(seq)
			res.Sent++
			continue
		}

		res.Failed++
		tries, delay := q.reschedule(seq, err)
		q.failLog.Warnf("Delivery of %s %s failed (tries=%d, retry in %v): %v", ev.ID, ev.Type, tries, delay, err)
		break
	}
	return res
}

// nextDue returns the first item after cursor whose retry time has passed,
// and how many not-yet-due items were passed over.
func (q *Queue) nextDue(cursor uint64) (ev Event, seq uint64, skipped int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, it := range q.items[q.indexAfter(cursor):] {
		if it.nextAttempt.After(now) {
			skipped++
			continue
		}
		return it.event, it.seq, skipped, true
	}
	return Event{}, 0, skipped, false
}

func (q *Queue) remove(seq uint64) {
	q.mu.Lock()
	if i, found := q.find(seq); found {
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
	}
	n := len(q.items)
	q.mu.Unlock()
	metrics.SetQueueDepth(n)
}

func (q *Queue) reschedule(seq uint64, sendErr error) (int, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, found := q.find(seq)
	if !found {
		// evicted while the send was in flight
		return 0, 0
	}
	it := q.items[i]
	it.tries++
	delay := backoff.Exponential(q.cfg.RetryBase, q.cfg.RetryMax, it.tries)
	it.nextAttempt = q.now().Add(delay)
	it.lastError = sendErr.Error()
	return it.tries, delay
}

// indexAfter returns the index of the first item with seq > cursor.
func (q *Queue) indexAfter(cursor uint64) int {
	return sort.Search(len(q.items), func(i int) bool { return q.items[i].seq > cursor })
}

func (q *Queue) find(seq uint64) (int, bool) {
	i := sort.Search(len(q.items), func(i int) bool { return q.items[i].seq >= seq })
	return i, i < len(q.items) && q.items[i].seq == seq
}

func deliveryStatus(err error) string {
	switch {
	case err == nil:
		return metrics.DeliverySuccess
	case hgerrors.IsTimeout(err):
		return metrics.DeliveryTimeout
	default:
		return metrics.DeliveryFailure
	}
}
