package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

type entry struct {
	id       string
	deadline time.Time
	version  int64
	index    int
	retry    *backoff.ExponentialBackOff
	attempts int
}

// entryHeap is a min-heap on deadline for container/heap.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
