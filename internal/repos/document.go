package repos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/types"
)

type SemanticDocumentRepo interface {
	// Put appends a new document (student and lesson-plan summaries).
	Put(dbc dbctx.Context, doc *types.SemanticDocument) (*types.SemanticDocument, error)
	// UpsertClassDocument replaces the singleton class summary in place,
	// creating it on first index.
	UpsertClassDocument(dbc dbctx.Context, doc *types.SemanticDocument) (*types.SemanticDocument, error)
	// ListByTenant loads the tenant's whole collection; retrieval ranks it
	// in memory, so the bound is the tenant, not an index.
	ListByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.SemanticDocument, error)
}

type semanticDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSemanticDocumentRepo(db *gorm.DB, baseLog *logger.Logger) SemanticDocumentRepo {
	return &semanticDocumentRepo{db: db, log: baseLog.With("repo", "SemanticDocumentRepo")}
}

func (r *semanticDocumentRepo) Put(dbc dbctx.Context, doc *types.SemanticDocument) (*types.SemanticDocument, error) {
	if doc == nil {
		return nil, fmt.Errorf("missing document")
	}
	if doc.TenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if err := txx.WithContext(dbc.Ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *semanticDocumentRepo) UpsertClassDocument(dbc dbctx.Context, doc *types.SemanticDocument) (*types.SemanticDocument, error) {
	if doc == nil {
		return nil, fmt.Errorf("missing document")
	}
	if doc.TenantID == uuid.Nil || doc.ClassID == nil || *doc.ClassID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id or class_id")
	}
	doc.DocType = types.DocTypeClass

	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}

	var existing types.SemanticDocument
	err := txx.WithContext(dbc.Ctx).
		Model(&types.SemanticDocument{}).
		Where("tenant_id = ? AND class_id = ? AND doc_type = ?", doc.TenantID, *doc.ClassID, types.DocTypeClass).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.Put(dbc, doc)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.SemanticDocument{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"class_name": doc.ClassName,
			"content":    doc.Content,
			"metadata":   doc.Metadata,
			"embedding":  doc.Embedding,
			"updated_at": now,
		}).Error; err != nil {
		return nil, err
	}
	doc.ID = existing.ID
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = now
	return doc, nil
}

func (r *semanticDocumentRepo) ListByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.SemanticDocument, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.SemanticDocument
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.SemanticDocument{}).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
