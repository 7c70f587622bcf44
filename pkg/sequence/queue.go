// Package sequence holds small generic containers.
package sequence

import "container/heap"

type item[T any] struct {
	value    T
	priority int
	seq      uint64
}

type itemHeap[T any] []item[T]

func (h itemHeap[T]) Len() int { return len(h) }

// Less orders by priority, highest first, then by insertion order.
func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap[T]) Push(x any) { *h = append(*h, x.(item[T])) }

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item[T]{}
	*h = old[:n-1]
	return it
}

// PriorityQueue is a stable max-priority queue: values of equal priority
// come out in the order they went in. It is not safe for concurrent use.
type PriorityQueue[T any] struct {
	h   itemHeap[T]
	seq uint64
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

func (q *PriorityQueue[T]) Enqueue(value T, priority int) {
	q.seq++
	heap.Push(&q.h, item[T]{value: value, priority: priority, seq: q.seq})
}

func (q *PriorityQueue[T]) Dequeue() (T, bool) {
	if len(q.h) == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(&q.h).(item[T]).value, true
}

func (q *PriorityQueue[T]) Peek() (T, bool) {
	if len(q.h) == 0 {
		var zero T
		return zero, false
	}
	return q.h[0].value, true
}

func (q *PriorityQueue[T]) Len() int { return len(q.h) }

// Drain empties the queue and returns its values in dequeue order.
func (q *PriorityQueue[T]) Drain() []T {
	out := make([]T, 0, len(q.h))
	for len(q.h) > 0 {
		out = append(out, heap.Pop(&q.h).(item[T]).value)
	}
	return out
}
