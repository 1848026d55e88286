// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package parsing

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueue_OrderingAndTiebreaks(t *testing.T) {
	queue := newJobQueue()

	base := time.Now()
	push := func(bookID string, priority int, enqueuedAt time.Time) {
		queued := &entry{bookID: bookID, userID: "u", priority: priority, enqueuedAt: enqueuedAt}
		queue.byBook[bookID] = queued
		heap.Push(&queue.entries, queued)
	}

	// Mixed priorities, plus two pairs exercising each tiebreak level.
	push("free-late", 1, base.Add(2*time.Second))
	push("free-early", 1, base)
	push("ultimate", 10, base.Add(5*time.Second))
	push("premium", 5, base.Add(time.Second))
	push("twin-b", 5, base.Add(time.Second))

	var order []string
	for queue.Len() > 0 {
		order = append(order, queue.Pop().bookID)
	}

	// priority desc, then enqueue time asc, then book ID bytes asc.
	assert.Equal(t, []string{"ultimate", "premium", "twin-b", "free-early", "free-late"}, order)
}

func TestJobQueue_OneEntryPerBook(t *testing.T) {
	queue := newJobQueue()
	queue.Push("b1", "u1", 1)
	queue.Push("b1", "u1", 10) // duplicate submission keeps original entry

	require.Equal(t, 1, queue.Len())
	assert.Equal(t, 1, queue.Pop().priority)
}

func TestJobQueue_RemoveAndPosition(t *testing.T) {
	queue := newJobQueue()
	queue.Push("low", "u1", 1)
	queue.Push("high", "u1", 5)
	queue.Push("mid", "u1", 3)

	assert.Equal(t, 1, queue.Position("high"))
	assert.Equal(t, 2, queue.Position("mid"))
	assert.Equal(t, 3, queue.Position("low"))
	assert.Equal(t, 0, queue.Position("absent"))

	require.True(t, queue.Remove("mid"))
	assert.False(t, queue.Remove("mid"))
	assert.Equal(t, 2, queue.Position("low"))
}

func TestJobQueue_RequeueKeepsEnqueueTime(t *testing.T) {
	queue := newJobQueue()
	queue.Push("first", "u1", 1)
	time.Sleep(2 * time.Millisecond)
	queue.Push("second", "u1", 1)

	popped := queue.Pop()
	require.Equal(t, "first", popped.bookID)

	// A deferred promotion puts the entry back without losing its slot.
	queue.Requeue(popped)
	assert.Equal(t, "first", queue.Pop().bookID)
}
