package conductor

import (
	"container/heap"
	"time"

	"github.com/Iron-Ham/convoy/internal/process"
)

type deadlineEntry struct {
	at time.Time
	p  *process.Process
}

// deadlineHeap is a min-heap on deadline. Entries are invalidated lazily:
// an entry is stale once the process deadline moved or the process left.
type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(deadlineEntry)) }

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = deadlineEntry{}
	*h = old[:n-1]
	return e
}

func (h *deadlineHeap) push(at time.Time, p *process.Process) {
	heap.Push(h, deadlineEntry{at: at, p: p})
}

func (h *deadlineHeap) pop() deadlineEntry {
	return heap.Pop(h).(deadlineEntry)
}

func (h deadlineHeap) peek() (deadlineEntry, bool) {
	if len(h) == 0 {
		return deadlineEntry{}, false
	}
	return h[0], true
}

// pollTimeout converts the time left before at into a poll(2) timeout in
// milliseconds, rounding up so the loop never wakes early.
func pollTimeout(at, now time.Time) int {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	return int(ms)
}
