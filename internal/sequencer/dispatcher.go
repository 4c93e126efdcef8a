package sequencer

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/jamloop/internal/clock"
)

// idleWait bounds how long Run sleeps when nothing is queued.
const idleWait = 250 * time.Millisecond

// Dispatcher is a Sink that holds triggers until their time comes and then
// hands them to an output. It is the bridge between the lookahead scheduler
// and outputs that only understand "now", such as MIDI ports.
type Dispatcher struct {
	mu     sync.Mutex
	queue  triggerQueue
	seq    uint64
	now    func() float64
	output func(Trigger)
	wake   chan struct{}
}

// NewDispatcher creates a Dispatcher reading audio time from now. output is
// called with the dispatcher lock held and must not call back into it.
func NewDispatcher(now func() float64, output func(Trigger)) *Dispatcher {
	return &Dispatcher{
		now:    now,
		output: output,
		wake:   make(chan struct{}, 1),
	}
}

// Schedule queues a trigger.
func (d *Dispatcher) Schedule(tr Trigger) {
	d.mu.Lock()
	d.seq++
	heap.Push(&d.queue, queued{tr: tr, seq: d.seq})
	d.mu.Unlock()
	d.interrupt()
}

// Cancel drops every queued trigger.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	dropped := len(d.queue)
	d.queue = d.queue[:0]
	d.mu.Unlock()
	d.interrupt()

	if dropped > 0 {
		slog.Debug("Dispatcher cancelled pending triggers", "dropped", dropped)
	}
}

// Pending returns the number of queued triggers.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// FireDue sends every trigger whose time is at or before now, earliest
// first, and returns how many were sent.
func (d *Dispatcher) FireDue(now float64) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for len(d.queue) > 0 && d.queue[0].tr.Time <= now {
		q := heap.Pop(&d.queue).(queued)
		d.output(q.tr)
		n++
	}
	return n
}

// Run fires triggers on time until ctx is cancelled. Nothing fires once
// the cancellation has been seen.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.FireDue(d.now())

		wait := idleWait
		d.mu.Lock()
		if len(d.queue) > 0 {
			if until := clock.ToDuration(d.queue[0].tr.Time - d.now()); until < wait {
				wait = until
			}
		}
		d.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-d.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) interrupt() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

type queued struct {
	tr  Trigger
	seq uint64
}

// triggerQueue is a min-heap ordered by time, then by scheduling order.
type triggerQueue []queued

func (q triggerQueue) Len() int { return len(q) }

func (q triggerQueue) Less(i, j int) bool {
	if q[i].tr.Time != q[j].tr.Time {
		return q[i].tr.Time < q[j].tr.Time
	}
	return q[i].seq < q[j].seq
}

func (q triggerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *triggerQueue) Push(x any) { *q = append(*q, x.(queued)) }

func (q *triggerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
