package curriculum

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Content unit tags used by readiness rules.
const (
	TagEvaluative       = "evaluative"
	TagCriticalThinking = "critical_thinking"
	TagInteractive      = "interactive"
)

type Plan struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	Status    string         `gorm:"column:status;not null;default:'draft'" json:"status"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Plan) TableName() string { return "plan" }

type Module struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"plan_id"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	Order     int            `gorm:"column:position;not null;default:0" json:"order"`
	Ready     bool           `gorm:"column:ready;not null;default:false" json:"ready"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Module) TableName() string { return "module" }

type Topic struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ModuleID uuid.UUID `gorm:"type:uuid;not null;index" json:"module_id"`
	Title    string    `gorm:"column:title;not null" json:"title"`
	Order    int       `gorm:"column:position;not null;default:0" json:"order"`
	// Ready is the author-side publish flag. Virtualization eligibility is decided
	// from the content units, not from this flag.
	Ready     bool           `gorm:"column:ready;not null;default:false" json:"ready"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Topic) TableName() string { return "topic" }

type ContentUnit struct {
	ID        uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	TopicID   uuid.UUID                   `gorm:"type:uuid;not null;index" json:"topic_id"`
	Kind      string                      `gorm:"column:kind;not null" json:"kind"` // theory|evaluative|practice|...
	Title     string                      `gorm:"column:title" json:"title,omitempty"`
	Order     int                         `gorm:"column:position;not null;default:0" json:"order"`
	Tags      datatypes.JSONSlice[string] `gorm:"column:tags;type:jsonb" json:"tags,omitempty"`
	Body      datatypes.JSON              `gorm:"column:body;type:jsonb" json:"body,omitempty"`
	CreatedAt time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt              `gorm:"index" json:"deleted_at,omitempty"`
}

func (ContentUnit) TableName() string { return "content_unit" }

// HasTag reports whether the unit's kind or tag list carries tag.
func (c *ContentUnit) HasTag(tag string) bool {
	if c == nil {
		return false
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	if strings.EqualFold(strings.TrimSpace(c.Kind), tag) {
		return true
	}
	for _, t := range c.Tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}
