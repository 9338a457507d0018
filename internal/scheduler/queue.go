package scheduler

import (
	"container/heap"
	"time"
)

// item is one unit of queued work. Items sit in the waiting heap until
// their RunAt gate passes, then move to the ready heap where workers pull
// them in priority order, FIFO within a priority level.
type item struct {
	priority int
	runAt    time.Time
	seq      uint64
	execute  ExecuteFunc
	handle   *Handle
	index    int // heap index bookkeeping
}

// readyQueue is a max-heap on priority with enqueue order as tiebreak.
type readyQueue []*item

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *readyQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// waitingQueue is a min-heap on RunAt for items not yet due.
type waitingQueue []*item

func (q waitingQueue) Len() int { return len(q) }

func (q waitingQueue) Less(i, j int) bool {
	if !q[i].runAt.Equal(q[j].runAt) {
		return q[i].runAt.Before(q[j].runAt)
	}
	return q[i].seq < q[j].seq
}

func (q waitingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitingQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *waitingQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

var (
	_ heap.Interface = (*readyQueue)(nil)
	_ heap.Interface = (*waitingQueue)(nil)
)
