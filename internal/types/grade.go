package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GradeRecord is the canonical output of the grading workflow. Analytics and
// indexing read it; nothing here mutates scores after creation. A grade is
// active while DeletedAt is null.
type GradeRecord struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ClassID  uuid.UUID `gorm:"type:uuid;not null;index" json:"class_id"`

	StudentID   uuid.UUID `gorm:"type:uuid;not null;index" json:"student_id"`
	StudentName string    `gorm:"type:text;not null" json:"student_name"`

	AssignmentName string  `gorm:"type:text;not null;default:''" json:"assignment_name"`
	OverallScore   float64 `gorm:"not null;default:0" json:"overall_score"`
	TotalPoints    float64 `gorm:"not null;default:0" json:"total_points"`

	// Invalid marks grades whose percentage could not be computed
	// (TotalPoints == 0). They still count as assignments but score 0.
	Invalid bool `gorm:"not null;default:false" json:"invalid"`

	StrugglingTopics datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"struggling_topics"`

	GradedAt  time.Time  `gorm:"not null;default:now();index" json:"graded_at"`
	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (GradeRecord) TableName() string { return "grade_record" }

// Percentage returns the 0-100 score for this grade, guarding zero points.
func (g *GradeRecord) Percentage() float64 {
	if g.TotalPoints == 0 {
		return 0
	}
	return g.OverallScore / g.TotalPoints * 100
}
