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

// ErrVersionConflict signals a lost optimistic write; Transact retries it
// internally and only surfaces it once retries are exhausted.
var ErrVersionConflict = errors.New("aggregate version conflict")

const maxTransactRetries = 5

type ClassAnalyticsRepo interface {
	Get(dbc dbctx.Context, tenantID, classID uuid.UUID) (*types.ClassAnalytics, error)
	// Transact runs an optimistic read-modify-write cycle on the class
	// aggregate: load (or initialize) the row, apply fn, write back guarded
	// by the version column, and retry from a fresh read on conflict.
	Transact(dbc dbctx.Context, tenantID, classID uuid.UUID, apply func(*types.ClassAnalytics) error) (*types.ClassAnalytics, error)
}

type classAnalyticsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClassAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) ClassAnalyticsRepo {
	return &classAnalyticsRepo{db: db, log: baseLog.With("repo", "ClassAnalyticsRepo")}
}

func (r *classAnalyticsRepo) Get(dbc dbctx.Context, tenantID, classID uuid.UUID) (*types.ClassAnalytics, error) {
	if classID == uuid.Nil {
		return nil, fmt.Errorf("missing class_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row types.ClassAnalytics
	err := txx.WithContext(dbc.Ctx).
		Model(&types.ClassAnalytics{}).
		Where("tenant_id = ? AND class_id = ?", tenantID, classID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *classAnalyticsRepo) Transact(dbc dbctx.Context, tenantID, classID uuid.UUID, apply func(*types.ClassAnalytics) error) (*types.ClassAnalytics, error) {
	if tenantID == uuid.Nil || classID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id or class_id")
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

		var row types.ClassAnalytics
		err := txx.WithContext(dbc.Ctx).
			Model(&types.ClassAnalytics{}).
			Where("tenant_id = ? AND class_id = ?", tenantID, classID).
			First(&row).Error
		fresh := false
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh = true
			row = types.ClassAnalytics{
				ID:                     uuid.New(),
				TenantID:               tenantID,
				ClassID:                classID,
				CommonStrugglingTopics: datatypes.JSON([]byte(`{}`)),
				StudentPerformances:    datatypes.JSON([]byte(`{}`)),
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
				// A concurrent writer won the insert race; reread and reapply.
				lastErr = createErr
				continue
			}
		}

		res := txx.WithContext(dbc.Ctx).
			Model(&types.ClassAnalytics{}).
			Where("id = ? AND version = ?", row.ID, prevVersion).
			Updates(map[string]interface{}{
				"class_name":               row.ClassName,
				"average_grade":            row.AverageGrade,
				"total_assignments":        row.TotalAssignments,
				"common_struggling_topics": row.CommonStrugglingTopics,
				"student_performances":     row.StudentPerformances,
				"version":                  row.Version,
				"last_updated":             row.LastUpdated,
				"updated_at":               row.UpdatedAt,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &row, nil
		}
		lastErr = ErrVersionConflict
		r.log.Debug("Class aggregate write lost the version race, retrying",
			"class_id", classID,
			"attempt", attempt+1,
		)
	}
	return nil, fmt.Errorf("class analytics transact exhausted retries: %w", lastErr)
}
