package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
)

// Timers arms one-shot callbacks at absolute instants
type Timers interface {
	// Arm registers fn to run at at, replacing any timer already registered under ref
	Arm(ref string, at time.Time, fn func())
	// Cancel deregisters ref; it reports whether a timer was pending
	Cancel(ref string) bool
	// Pending lists armed timers in fire order
	Pending() []PendingTimer
}

// PendingTimer describes an armed timer
type PendingTimer struct {
	Ref string
	At  time.Time
}

type timerItem struct {
	ref   string
	at    time.Time
	seq   uint64
	fn    func()
	index int
}

type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TimerQueue is a priority queue of one-shot timers keyed by ref.
// Run sleeps until the earliest deadline; FireDue can drive it manually.
type TimerQueue struct {
	mu    sync.Mutex
	items timerHeap
	byRef map[string]*timerItem
	seq   uint64
	clock clock.Clock
	exec  func(func())
	wake  chan struct{}
}

// TimerQueueOption configures a TimerQueue
type TimerQueueOption func(*TimerQueue)

// WithExecutor replaces the default goroutine-per-fire executor
func WithExecutor(exec func(func())) TimerQueueOption {
	return func(q *TimerQueue) {
		q.exec = exec
	}
}

// SyncExecutor runs callbacks inline, in fire order
func SyncExecutor(fn func()) { fn() }

// NewTimerQueue creates an empty queue
func NewTimerQueue(clk clock.Clock, opts ...TimerQueueOption) *TimerQueue {
	if clk == nil {
		clk = clock.New()
	}
	q := &TimerQueue{
		byRef: make(map[string]*timerItem),
		clock: clk,
		exec:  func(fn func()) { go fn() },
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Arm implements Timers
func (q *TimerQueue) Arm(ref string, at time.Time, fn func()) {
	q.mu.Lock()
	q.seq++
	if item, ok := q.byRef[ref]; ok {
		item.at = at
		item.fn = fn
		item.seq = q.seq
		heap.Fix(&q.items, item.index)
	} else {
		item := &timerItem{ref: ref, at: at, fn: fn, seq: q.seq}
		heap.Push(&q.items, item)
		q.byRef[ref] = item
	}
	q.mu.Unlock()
	q.notify()
}

// Cancel implements Timers
func (q *TimerQueue) Cancel(ref string) bool {
	q.mu.Lock()
	item, ok := q.byRef[ref]
	if ok {
		heap.Remove(&q.items, item.index)
		delete(q.byRef, ref)
	}
	q.mu.Unlock()
	if ok {
		q.notify()
	}
	return ok
}

// Pending implements Timers
func (q *TimerQueue) Pending() []PendingTimer {
	q.mu.Lock()
	out := make([]PendingTimer, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, PendingTimer{Ref: item.ref, At: item.at})
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Len reports the number of armed timers
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// FireDue runs every timer whose deadline is at or before now and returns how many fired.
// Callbacks run outside the queue lock so they may re-arm.
func (q *TimerQueue) FireDue(now time.Time) int {
	q.mu.Lock()
	var due []*timerItem
	for len(q.items) > 0 && !q.items[0].at.After(now) {
		item := heap.Pop(&q.items).(*timerItem)
		delete(q.byRef, item.ref)
		due = append(due, item)
	}
	q.mu.Unlock()

	for _, item := range due {
		q.exec(item.fn)
	}
	return len(due)
}

func (q *TimerQueue) next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].at, true
}

func (q *TimerQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run fires timers at their deadlines until ctx is cancelled
func (q *TimerQueue) Run(ctx context.Context) error {
	for {
		at, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		wait := at.Sub(q.clock.Now())
		if wait <= 0 {
			q.FireDue(q.clock.Now())
			continue
		}

		timer := q.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			q.FireDue(q.clock.Now())
		}
	}
}

var _ Timers = (*TimerQueue)(nil)
