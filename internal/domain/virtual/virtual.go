package virtual

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModuleStatusPending   = "pending"
	ModuleStatusActive    = "active"
	ModuleStatusCompleted = "completed"

	LockLocked   = "locked"
	LockUnlocked = "unlocked"
)

// VirtualModule is the per-learner mirror of a module.
type VirtualModule struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_virtual_module_learner_module,priority:1" json:"learner_id"`
	ModuleID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_virtual_module_learner_module,priority:2;index" json:"module_id"`
	PlanID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"plan_id"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	Progress    float64    `gorm:"column:progress;not null;default:0" json:"progress"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (VirtualModule) TableName() string { return "virtual_module" }

type VirtualTopic struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_virtual_topic_learner_topic,priority:1" json:"learner_id"`
	TopicID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_virtual_topic_learner_topic,priority:2;index" json:"topic_id"`
	VirtualModuleID uuid.UUID  `gorm:"type:uuid;not null;index" json:"virtual_module_id"`
	ModuleID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"module_id"`
	Order           int        `gorm:"column:position;not null;default:0" json:"order"`
	Lock            string     `gorm:"column:lock_state;not null" json:"lock"`
	Progress        float64    `gorm:"column:progress;not null;default:0" json:"progress"`
	CompletedAt     *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

func (VirtualTopic) TableName() string { return "virtual_topic" }

func (v *VirtualTopic) Completed() bool { return v != nil && v.Progress >= 100 }

type VirtualContentUnit struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	VirtualTopicID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_vcu_topic_unit,priority:1" json:"virtual_topic_id"`
	ContentUnitID  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_vcu_topic_unit,priority:2;index" json:"content_unit_id"`
	LearnerID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"learner_id"`
	Order          int            `gorm:"column:position;not null;default:0" json:"order"`
	Completed      bool           `gorm:"column:completed;not null;default:false" json:"completed"`
	Score          *float64       `gorm:"column:score" json:"score,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (VirtualContentUnit) TableName() string { return "virtual_content_unit" }
