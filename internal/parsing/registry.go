// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package parsing

import "context"

// jobState is the in-memory record of one live (queued or processing) parse
// job. Access is guarded by the coordinator's mutex.
type jobState struct {
	bookID string
	userID string

	status            Status
	progress          int
	message           string
	descriptionsFound int
	failure           string

	priority int

	// cancel stops the run goroutine; nil while queued.
	cancel context.CancelFunc
}

// view snapshots the state into the external representation. Queue placement
// is filled in by the coordinator, which owns the queue.
func (state *jobState) view() *StatusView {
	return &StatusView{
		BookID:            state.bookID,
		Status:            state.status,
		Progress:          state.progress,
		Message:           state.message,
		DescriptionsFound: state.descriptionsFound,
		Error:             state.failure,
	}
}

// terminal reports whether the job reached an end state.
func (state *jobState) terminal() bool {
	return state.status == StatusCompleted || state.status == StatusFailed
}
