package repos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/types"
)

type StudentAnalyticsRepo interface {
	Get(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID) (*types.StudentAnalytics, error)
	// Transact mirrors ClassAnalyticsRepo.Transact for the per-student,
	// per-class aggregate.
	Transact(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID, apply func(*types.StudentAnalytics) error) (*types.StudentAnalytics, error)
}

type studentAnalyticsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStudentAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) StudentAnalyticsRepo {
	return &studentAnalyticsRepo{db: db, log: baseLog.With("repo", "StudentAnalyticsRepo")}
}

func (r *studentAnalyticsRepo) Get(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID) (*types.StudentAnalytics, error) {
	if classID == uuid.Nil || studentID == uuid.Nil {
		return nil, fmt.Errorf("missing class_id or student_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row types.StudentAnalytics
	err := txx.WithContext(dbc.Ctx).
		Model(&types.StudentAnalytics{}).
		Where("tenant_id = ? AND class_id = ? AND student_id = ?", tenantID, classID, studentID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *studentAnalyticsRepo) Transact(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID, apply func(*types.StudentAnalytics) error) (*types.StudentAnalytics, error) {
	if tenantID == uuid.Nil || classID == uuid.Nil || studentID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id, class_id, or student_id")
	}
	if apply == nil {
		return nil, fmt.Errorf("missing apply fn")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	var lastErr error
	for attempt := 0; attempt < maxTransactRetries; attempt++ {
		if dbc.Ctx != nil {
			if err := dbc.Ctx.Err(); err != nil {
				return nil, err
			}
		}

		var row types.StudentAnalytics
		err := txx.WithContext(dbc.Ctx).
			Model(&types.StudentAnalytics{}).
			Where("tenant_id = ? AND class_id = ? AND student_id = ?", tenantID, classID, studentID).
			First(&row).Error
		fresh := false
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh = true
			row = types.StudentAnalytics{
				ID:                uuid.New(),
				TenantID:          tenantID,
				ClassID:           classID,
				StudentID:         studentID,
				StrugglingTopics:  datatypes.JSON([]byte(`{}`)),
				AssignmentHistory: datatypes.JSON([]byte(`[]`)),
			}
		} else if err != nil {
			return nil, err
		}

		prevVersion := row.Version
		if err := apply(&row); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		row.Version = prevVersion + 1
		row.LastUpdated = now
		row.UpdatedAt = now

		if fresh {
			row.CreatedAt = now
			if createErr := txx.WithContext(dbc.Ctx).Create(&row).Error; createErr == nil {
				return &row, nil
			} else {
				lastErr = createErr
				continue
			}
		}

		res := txx.WithContext(dbc.Ctx).
			Model(&types.StudentAnalytics{}).
			Where("id = ? AND version = ?", row.ID, prevVersion).
			Updates(map[string]interface{}{
				"student_name":       row.StudentName,
				"average_score":      row.AverageScore,
				"total_assignments":  row.TotalAssignments,
				"struggling_topics":  row.StrugglingTopics,
				"assignment_history": row.AssignmentHistory,
				"version":            row.Version,
				"last_updated":       row.LastUpdated,
				"updated_at":         row.UpdatedAt,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &row, nil
		}
		lastErr = ErrVersionConflict
		r.log.Debug("Student aggregate write lost the version race, retrying",
			"student_id", studentID,
			"attempt", attempt+1,
		)
	}
	return nil, fmt.Errorf("student analytics transact exhausted retries: %w", lastErr)
}
