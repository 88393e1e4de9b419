package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StudentPerformance is the per-student slice of a class aggregate.
type StudentPerformance struct {
	Name             string  `json:"name"`
	AverageScore     float64 `json:"average_score"`
	TotalAssignments int     `json:"total_assignments"`
}

// ClassAnalytics is the rolled-up statistics document for one class.
// AverageGrade is always the mean of percentages over active grades;
// inserts maintain it incrementally, deletes rebuild it from scratch.
type ClassAnalytics struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ClassID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"class_id"`

	ClassName string `gorm:"type:text;not null;default:''" json:"class_name"`

	AverageGrade     float64 `gorm:"not null;default:0" json:"average_grade"`
	TotalAssignments int     `gorm:"not null;default:0" json:"total_assignments"`

	// map[topic]count, topic keys normalized
	CommonStrugglingTopics datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"common_struggling_topics"`
	// map[studentID]StudentPerformance
	StudentPerformances datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"student_performances"`

	// Version backs the optimistic read-modify-write cycle; every committed
	// write bumps it and stale writers retry.
	Version int64 `gorm:"not null;default:0" json:"version"`

	LastUpdated time.Time `gorm:"not null;default:now()" json:"last_updated"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ClassAnalytics) TableName() string { return "class_analytics" }

// TopicDetail tracks one struggling topic for one student.
type TopicDetail struct {
	Count         int      `json:"count"`
	AssignmentIDs []string `json:"assignment_ids"`
}

// AssignmentRecord is one row of a student's chronological history.
type AssignmentRecord struct {
	AssignmentID     string    `json:"assignment_id"`
	AssignmentName   string    `json:"assignment_name,omitempty"`
	Score            float64   `json:"score"`
	TotalPoints      float64   `json:"total_points"`
	Percentage       float64   `json:"percentage"`
	GradedAt         time.Time `json:"graded_at"`
	StrugglingTopics []string  `json:"struggling_topics,omitempty"`
}

// StudentAnalytics is the per-student, per-class aggregate. It carries the
// same consistency invariant as ClassAnalytics restricted to one student.
type StudentAnalytics struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ClassID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_student_analytics_class_student" json:"class_id"`
	StudentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_student_analytics_class_student" json:"student_id"`

	StudentName string `gorm:"type:text;not null;default:''" json:"student_name"`

	AverageScore     float64 `gorm:"not null;default:0" json:"average_score"`
	TotalAssignments int     `gorm:"not null;default:0" json:"total_assignments"`

	// map[topic]TopicDetail
	StrugglingTopics datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"struggling_topics"`
	// []AssignmentRecord ordered by GradedAt ascending
	AssignmentHistory datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"assignment_history"`

	Version int64 `gorm:"not null;default:0" json:"version"`

	LastUpdated time.Time `gorm:"not null;default:now()" json:"last_updated"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (StudentAnalytics) TableName() string { return "student_analytics" }
