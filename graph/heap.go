package graph

import "container/heap"

// indexHeap pops node ids lowest observed index first
type indexHeap struct {
	ids   []NodeID
	index map[NodeID]int
}

func (h *indexHeap) Len() int           { return len(h.ids) }
func (h *indexHeap) Less(i, j int) bool { return h.index[h.ids[i]] < h.index[h.ids[j]] }
func (h *indexHeap) Swap(i, j int)      { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }

func (h *indexHeap) Push(x any) {
	h.ids = append(h.ids, x.(NodeID))
}

func (h *indexHeap) Pop() any {
	old := h.ids
	n := len(old)
	id := old[n-1]
	h.ids = old[:n-1]
	return id
}

func (h *indexHeap) push(id NodeID) {
	heap.Push(h, id)
}

func (h *indexHeap) pop() NodeID {
	return heap.Pop(h).(NodeID)
}
