package dispatch

import "container/heap"

// frontierItem is one pending visit: the candidate distance, the insertion
// counter used as tie-break, and the node id. The counter is monotonic
// within a whole dispatch (sub-dispatches included), so equal-distance
// nodes are visited in insertion order and the search is fully
// deterministic.
type frontierItem struct {
	dist    float64
	counter int
	id      string
}

// itemHeap implements heap.Interface ordered by (dist, counter).
type itemHeap []frontierItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].counter < h[j].counter
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(frontierItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// frontier is the priority queue backing the best-first search. Decrease-key
// is lazy: improving a node's distance pushes a fresh entry and the stale
// one is skipped when popped (the recorded distance no longer matches).
type frontier struct {
	heap itemHeap
}

func newFrontier() *frontier {
	f := &frontier{heap: make(itemHeap, 0, 16)}
	heap.Init(&f.heap)
	return f
}

func (f *frontier) push(it frontierItem) { heap.Push(&f.heap, it) }

func (f *frontier) pop() frontierItem { return heap.Pop(&f.heap).(frontierItem) }

func (f *frontier) empty() bool { return len(f.heap) == 0 }

func (f *frontier) len() int { return len(f.heap) }
