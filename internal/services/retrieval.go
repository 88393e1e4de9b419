package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/config"
	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/repos"
	"github.com/yungbote/classpulse-backend/internal/types"
	"github.com/yungbote/classpulse-backend/internal/vectormath"
)

// NoContextFallback is what retrieval hands back when the tenant has no
// indexed data, or nothing similar enough to the question.
const NoContextFallback = "No relevant classroom data found. The teacher may not have graded any assignments yet."

// RetrievalAssembler turns a question into a grounded context block: embed
// the query, rank the tenant's documents by cosine similarity, keep the
// top matches above the relevance floor, and format them as a numbered list.
type RetrievalAssembler interface {
	Retrieve(ctx context.Context, tenantID uuid.UUID, query string) (string, error)
}

type retrievalAssembler struct {
	log       *logger.Logger
	embedder  EmbeddingClient
	docRepo   repos.SemanticDocumentRepo
	topK      int
	threshold float64
}

func NewRetrievalAssembler(
	baseLog *logger.Logger,
	embedder EmbeddingClient,
	docRepo repos.SemanticDocumentRepo,
	cfg config.Retrieval,
) RetrievalAssembler {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.3
	}
	return &retrievalAssembler{
		log:       baseLog.With("service", "RetrievalAssembler"),
		embedder:  embedder,
		docRepo:   docRepo,
		topK:      topK,
		threshold: threshold,
	}
}

func (s *retrievalAssembler) Retrieve(ctx context.Context, tenantID uuid.UUID, query string) (string, error) {
	if tenantID == uuid.Nil {
		return "", fmt.Errorf("missing tenant_id")
	}
	if strings.TrimSpace(query) == "" {
		return NoContextFallback, nil
	}

	docs, err := s.docRepo.ListByTenant(dbctx.New(ctx), tenantID)
	if err != nil {
		return "", fmt.Errorf("load documents: %w", err)
	}
	if len(docs) == 0 {
		return NoContextFallback, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	queryVec := vecs[0]

	byID := make(map[string]*types.SemanticDocument, len(docs))
	embeddings := make(map[string][]float32, len(docs))
	for _, d := range docs {
		vec := decodeJSONSlice[float32](d.Embedding)
		if len(vec) == 0 {
			continue
		}
		id := d.ID.String()
		byID[id] = d
		embeddings[id] = vec
	}
	if len(embeddings) == 0 {
		return NoContextFallback, nil
	}

	ranked := vectormath.RankBySimilarity(queryVec, embeddings)
	kept := vectormath.TopKAboveThreshold(ranked, s.topK, s.threshold)
	if len(kept) == 0 {
		return NoContextFallback, nil
	}

	var sb strings.Builder
	sb.WriteString("Relevant classroom data:\n")
	for i, sc := range kept {
		doc := byID[sc.ID]
		sb.WriteString(fmt.Sprintf("%d. %s%s\n", i+1, docLabel(doc), doc.Content))
	}

	s.log.Debug("Assembled retrieval context",
		"tenant_id", tenantID,
		"candidates", len(embeddings),
		"kept", len(kept),
	)
	return sb.String(), nil
}

func docLabel(doc *types.SemanticDocument) string {
	var kind string
	switch doc.DocType {
	case types.DocTypeClass:
		kind = "class summary"
	case types.DocTypeStudent:
		kind = "student result"
	case types.DocTypeLessonPlan:
		kind = "lesson plan"
	default:
		kind = doc.DocType
	}
	if doc.ClassName != "" {
		return fmt.Sprintf("[%s, %s] ", kind, doc.ClassName)
	}
	return fmt.Sprintf("[%s] ", kind)
}
