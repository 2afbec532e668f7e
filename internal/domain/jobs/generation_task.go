package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TaskKindGenerate = "generate"
	TaskKindUpdate   = "update"

	TaskStatusQueued  = "queued"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusFailed  = "failed"
)

// Priority bands. Higher runs first; FIFO inside a band.
const (
	PriorityLow        = 10
	PriorityBackground = 50
	PriorityImmediate  = 100
)

type GenerationTask struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"learner_id"`
	ModuleID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"module_id"`
	TopicID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"topic_id"`
	Kind           string     `gorm:"column:kind;not null" json:"kind"`
	IdempotencyKey string     `gorm:"column:idempotency_key;not null;index" json:"idempotency_key"`
	Status         string     `gorm:"column:status;not null;index" json:"status"`
	Priority       int        `gorm:"column:priority;not null;index" json:"priority"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	Error          string     `gorm:"column:error" json:"error,omitempty"`
	Outcome        string     `gorm:"column:outcome" json:"outcome,omitempty"`
	NextRunAt      time.Time  `gorm:"column:next_run_at;not null;index" json:"next_run_at"`
	LockedAt       *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt    *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastActivityAt time.Time  `gorm:"column:last_activity_at;not null;index" json:"last_activity_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (GenerationTask) TableName() string { return "generation_task" }

func (t *GenerationTask) Active() bool {
	return t != nil && (t.Status == TaskStatusQueued || t.Status == TaskStatusRunning)
}

func (t *GenerationTask) Terminal() bool {
	return t != nil && (t.Status == TaskStatusDone || t.Status == TaskStatusFailed)
}

// IdempotencyKey is the learner+topic+kind key; at most one active task may hold it.
func IdempotencyKey(learnerID, topicID uuid.UUID, kind string) string {
	return fmt.Sprintf("%s:%s:%s", learnerID, topicID, kind)
}
