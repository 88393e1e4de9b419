package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/types"
)

type LessonPlanRepo interface {
	Create(dbc dbctx.Context, rows []*types.LessonPlan) ([]*types.LessonPlan, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.LessonPlan, error)
	ListByClass(dbc dbctx.Context, tenantID, classID uuid.UUID, limit int) ([]*types.LessonPlan, error)
}

type lessonPlanRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLessonPlanRepo(db *gorm.DB, baseLog *logger.Logger) LessonPlanRepo {
	return &lessonPlanRepo{db: db, log: baseLog.With("repo", "LessonPlanRepo")}
}

func (r *lessonPlanRepo) Create(dbc dbctx.Context, rows []*types.LessonPlan) ([]*types.LessonPlan, error) {
	if len(rows) == 0 {
		return []*types.LessonPlan{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *lessonPlanRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.LessonPlan, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing lesson_plan_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row types.LessonPlan
	err := txx.WithContext(dbc.Ctx).
		Model(&types.LessonPlan{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *lessonPlanRepo) ListByClass(dbc dbctx.Context, tenantID, classID uuid.UUID, limit int) ([]*types.LessonPlan, error) {
	if classID == uuid.Nil {
		return nil, fmt.Errorf("missing class_id")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.LessonPlan
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.LessonPlan{}).
		Where("tenant_id = ? AND class_id = ?", tenantID, classID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
