package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LessonPlan is a generated plan for one class, optionally targeting focus
// topics surfaced by analytics or requested in chat.
type LessonPlan struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ClassID  uuid.UUID `gorm:"type:uuid;not null;index" json:"class_id"`

	ClassName string `gorm:"type:text;not null;default:''" json:"class_name"`

	Title           string `gorm:"type:text;not null" json:"title"`
	DurationMinutes int    `gorm:"not null;default:0" json:"duration_minutes"`

	// []string
	Objectives datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"objectives"`
	// []LessonActivity
	Activities      datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"activities"`
	Differentiation string         `gorm:"type:text;not null;default:''" json:"differentiation"`
	// []string
	FocusTopics datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"focus_topics"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (LessonPlan) TableName() string { return "lesson_plan" }

// LessonActivity is one block of a plan's activity sequence.
type LessonActivity struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description"`
}
