// internal/dispatch/queue.go
package dispatch

import (
	"container/heap"
	"time"
)

// readyHeap orders runnable jobs: higher priority first, then escalated jobs
// (earliest escalation first), then insertion order.
type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if (a.escalated > 0) != (b.escalated > 0) {
		return a.escalated > 0
	}
	if a.escalated != b.escalated {
		return a.escalated < b.escalated
	}
	return a.seq < b.seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// delayedHeap orders jobs waiting on ScheduledFor.
type delayedHeap []*Job

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	if !h[i].ScheduledFor.Equal(h[j].ScheduledFor) {
		return h[i].ScheduledFor.Before(h[j].ScheduledFor)
	}
	return h[i].seq < h[j].seq
}

func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

type queue struct {
	name        string
	concurrency int
	ready       readyHeap
	delayed     delayedHeap
	wake        chan struct{}
}

func newQueue(name string, concurrency int) *queue {
	return &queue{
		name:        name,
		concurrency: concurrency,
		wake:        make(chan struct{}, concurrency),
	}
}

func (q *queue) depth() int {
	return q.ready.Len() + q.delayed.Len()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// push places a job on the ready or delayed heap depending on now.
func (q *queue) push(j *Job, now time.Time) {
	if j.ScheduledFor.After(now) {
		j.Status = StatusScheduled
		heap.Push(&q.delayed, j)
		return
	}
	j.Status = StatusQueued
	heap.Push(&q.ready, j)
}

func (q *queue) remove(j *Job) {
	if j.index < 0 {
		return
	}
	switch j.Status {
	case StatusQueued:
		heap.Remove(&q.ready, j.index)
	case StatusScheduled:
		heap.Remove(&q.delayed, j.index)
	}
}

// promoteDue moves delayed jobs whose time has come onto the ready heap.
func (q *queue) promoteDue(now time.Time) {
	for q.delayed.Len() > 0 && !q.delayed[0].ScheduledFor.After(now) {
		j := heap.Pop(&q.delayed).(*Job)
		j.Status = StatusQueued
		heap.Push(&q.ready, j)
	}
}

// next returns the head of the ready heap, or the wait until the earliest
// delayed job becomes due (zero when nothing is waiting).
func (q *queue) next(now time.Time) (*Job, time.Duration) {
	q.promoteDue(now)
	if q.ready.Len() > 0 {
		return heap.Pop(&q.ready).(*Job), 0
	}
	if q.delayed.Len() > 0 {
		return nil, q.delayed[0].ScheduledFor.Sub(now)
	}
	return nil, 0
}
