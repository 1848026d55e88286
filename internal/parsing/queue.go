// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package parsing

import (
	"container/heap"
	"time"
)

// entry is one queued book waiting for a processing slot.
type entry struct {
	bookID     string
	userID     string
	priority   int
	enqueuedAt time.Time

	index int // heap bookkeeping
}

// before is the queue order: priority descending, then enqueue time
// ascending, then book ID bytes ascending as the total tiebreak.
func (e *entry) before(other *entry) bool {
	if e.priority != other.priority {
		return e.priority > other.priority
	}
	if !e.enqueuedAt.Equal(other.enqueuedAt) {
		return e.enqueuedAt.Before(other.enqueuedAt)
	}
	return e.bookID < other.bookID
}

// jobQueue is a priority queue with one entry per book. It is not safe for
// concurrent use; the coordinator's mutex guards it.
type jobQueue struct {
	entries entryHeap
	byBook  map[string]*entry
}

func newJobQueue() *jobQueue {
	return &jobQueue{byBook: make(map[string]*entry)}
}

// Len returns the number of queued books.
func (q *jobQueue) Len() int { return len(q.entries) }

// Push enqueues a book; a book already queued is a no-op.
func (q *jobQueue) Push(bookID, userID string, priority int) {
	if _, exists := q.byBook[bookID]; exists {
		return
	}

	queued := &entry{
		bookID:     bookID,
		userID:     userID,
		priority:   priority,
		enqueuedAt: time.Now(),
	}
	q.byBook[bookID] = queued
	heap.Push(&q.entries, queued)
}

// Pop removes and returns the best entry, or nil when empty.
func (q *jobQueue) Pop() *entry {
	if len(q.entries) == 0 {
		return nil
	}
	best := heap.Pop(&q.entries).(*entry)
	delete(q.byBook, best.bookID)
	return best
}

// Requeue restores a previously popped entry, keeping its original enqueue
// time so deferred promotions do not lose their place.
func (q *jobQueue) Requeue(queued *entry) {
	if _, exists := q.byBook[queued.bookID]; exists {
		return
	}
	q.byBook[queued.bookID] = queued
	heap.Push(&q.entries, queued)
}

// Remove deletes a queued book, reporting whether it was present.
func (q *jobQueue) Remove(bookID string) bool {
	queued, exists := q.byBook[bookID]
	if !exists {
		return false
	}
	heap.Remove(&q.entries, queued.index)
	delete(q.byBook, bookID)
	return true
}

// Position returns the 1-based rank of a queued book, or 0 when absent. The
// heap is only partially ordered, so rank is counted, not indexed.
func (q *jobQueue) Position(bookID string) int {
	target, exists := q.byBook[bookID]
	if !exists {
		return 0
	}

	rank := 1
	for _, other := range q.entries {
		if other != target && other.before(target) {
			rank++
		}
	}
	return rank
}

// entryHeap implements heap.Interface over queue entries.
type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	queued := x.(*entry)
	queued.index = len(*h)
	*h = append(*h, queued)
}

func (h *entryHeap) Pop() any {
	old := *h
	last := len(old) - 1
	queued := old[last]
	old[last] = nil
	*h = old[:last]
	return queued
}
