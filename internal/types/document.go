package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DocTypeStudent    = "student"
	DocTypeClass      = "class"
	DocTypeLessonPlan = "lesson_plan"
)

// SemanticDocument is a text summary plus its embedding vector, scoped to a
// tenant for retrieval. Class documents are singleton-per-class and upserted
// in place; student and lesson-plan documents are append-only.
type SemanticDocument struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	DocType string `gorm:"type:text;not null;index" json:"doc_type"`

	ClassID      *uuid.UUID `gorm:"type:uuid;index" json:"class_id,omitempty"`
	StudentID    *uuid.UUID `gorm:"type:uuid;index" json:"student_id,omitempty"`
	LessonPlanID *uuid.UUID `gorm:"type:uuid;index" json:"lesson_plan_id,omitempty"`

	ClassName string `gorm:"type:text;not null;default:''" json:"class_name"`

	Content  string         `gorm:"type:text;not null" json:"content"`
	Metadata datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	// []float32, fixed dimensionality per embed model
	Embedding datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"embedding"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SemanticDocument) TableName() string { return "semantic_document" }
