// Package bus carries learner completion events into the service and lifecycle
// notices out of it.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	NoticeTaskFailed       = "generation_task_failed"
	NoticeEmptyCollection  = "cascade_empty_collection"
	NoticeWaitingForAuthor = "lookahead_waiting_for_author"
)

// Notice is an operator-facing lifecycle event.
type Notice struct {
	Type       string    `json:"type"`
	LearnerID  uuid.UUID `json:"learner_id,omitempty"`
	ModuleID   uuid.UUID `json:"module_id,omitempty"`
	TopicID    uuid.UUID `json:"topic_id,omitempty"`
	TaskID     uuid.UUID `json:"task_id,omitempty"`
	Collection string    `json:"collection,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// CompletionEvent reports that a learner finished a virtual content unit.
type CompletionEvent struct {
	VirtualContentUnitID uuid.UUID `json:"virtual_content_unit_id"`
	Score                float64   `json:"score"`
}

type Bus interface {
	PublishNotice(ctx context.Context, n Notice) error
	PublishCompletion(ctx context.Context, ev CompletionEvent) error
	// StartConsumer delivers completion events to onEvent until ctx is done.
	StartConsumer(ctx context.Context, onEvent func(ctx context.Context, ev CompletionEvent)) error
	Close() error
}
