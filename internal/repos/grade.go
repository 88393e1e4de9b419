package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/types"
)

type GradeRepo interface {
	Create(dbc dbctx.Context, rows []*types.GradeRecord) ([]*types.GradeRecord, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.GradeRecord, error)
	// SoftDelete marks the grade inactive; aggregates are rebuilt by the caller.
	SoftDelete(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.GradeRecord, error)
	ListActiveByClass(dbc dbctx.Context, tenantID, classID uuid.UUID) ([]*types.GradeRecord, error)
	ListActiveByStudent(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID) ([]*types.GradeRecord, error)
}

type gradeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGradeRepo(db *gorm.DB, baseLog *logger.Logger) GradeRepo {
	return &gradeRepo{db: db, log: baseLog.With("repo", "GradeRepo")}
}

func (r *gradeRepo) Create(dbc dbctx.Context, rows []*types.GradeRecord) ([]*types.GradeRecord, error) {
	if len(rows) == 0 {
		return []*types.GradeRecord{}, nil
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

func (r *gradeRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.GradeRecord, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing grade_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row types.GradeRecord
	err := txx.WithContext(dbc.Ctx).
		Model(&types.GradeRecord{}).
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

func (r *gradeRepo) SoftDelete(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.GradeRecord, error) {
	row, err := r.GetByID(dbc, tenantID, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("grade not found")
	}
	if row.DeletedAt != nil {
		return row, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now().UTC()
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.GradeRecord{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"deleted_at": &now,
			"updated_at": now,
		}).Error; err != nil {
		return nil, err
	}
	row.DeletedAt = &now
	return row, nil
}

func (r *gradeRepo) ListActiveByClass(dbc dbctx.Context, tenantID, classID uuid.UUID) ([]*types.GradeRecord, error) {
	if classID == uuid.Nil {
		return nil, fmt.Errorf("missing class_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.GradeRecord
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.GradeRecord{}).
		Where("tenant_id = ? AND class_id = ? AND deleted_at IS NULL", tenantID, classID).
		Order("graded_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gradeRepo) ListActiveByStudent(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID) ([]*types.GradeRecord, error) {
	if classID == uuid.Nil || studentID == uuid.Nil {
		return nil, fmt.Errorf("missing class_id or student_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.GradeRecord
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.GradeRecord{}).
		Where("tenant_id = ? AND class_id = ? AND student_id = ? AND deleted_at IS NULL", tenantID, classID, studentID).
		Order("graded_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
