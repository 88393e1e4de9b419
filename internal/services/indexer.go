package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/repos"
	"github.com/yungbote/classpulse-backend/internal/types"
)

// SemanticIndexer maintains the embedded document collection behind
// retrieval. Every method is best effort from the caller's point of view:
// callers fire it detached and only log failures.
type SemanticIndexer interface {
	// IndexGrade appends a per-assignment student summary.
	IndexGrade(ctx context.Context, tenantID uuid.UUID, grade *types.GradeRecord) error
	// IndexClass rewrites the class's singleton summary from its aggregate.
	IndexClass(ctx context.Context, tenantID, classID uuid.UUID) error
	// IndexLessonPlan appends a summary of one generated plan.
	IndexLessonPlan(ctx context.Context, tenantID uuid.UUID, plan *types.LessonPlan) error
}

type semanticIndexer struct {
	log              *logger.Logger
	embedder         EmbeddingClient
	docRepo          repos.SemanticDocumentRepo
	classRepo        repos.ClassAnalyticsRepo
	supportThreshold float64
}

func NewSemanticIndexer(
	baseLog *logger.Logger,
	embedder EmbeddingClient,
	docRepo repos.SemanticDocumentRepo,
	classRepo repos.ClassAnalyticsRepo,
	supportThreshold float64,
) SemanticIndexer {
	if supportThreshold <= 0 {
		supportThreshold = 70
	}
	return &semanticIndexer{
		log:              baseLog.With("service", "SemanticIndexer"),
		embedder:         embedder,
		docRepo:          docRepo,
		classRepo:        classRepo,
		supportThreshold: supportThreshold,
	}
}

func (s *semanticIndexer) embedOne(ctx context.Context, content string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

func (s *semanticIndexer) IndexGrade(ctx context.Context, tenantID uuid.UUID, grade *types.GradeRecord) error {
	if grade == nil {
		return fmt.Errorf("missing grade")
	}

	topics := decodeJSONSlice[string](grade.StrugglingTopics)
	if len(topics) > 3 {
		topics = topics[:3]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s scored %.1f/%.1f (%.1f%%) on %s.",
		grade.StudentName, grade.OverallScore, grade.TotalPoints, grade.Percentage(), grade.AssignmentName)
	if grade.Invalid {
		sb.WriteString(" The assignment had no points possible, so the percentage is not meaningful.")
	}
	if len(topics) > 0 {
		fmt.Fprintf(&sb, " Struggled with: %s.", strings.Join(topics, ", "))
	}
	content := sb.String()

	vec, err := s.embedOne(ctx, content)
	if err != nil {
		return fmt.Errorf("embed grade summary: %w", err)
	}

	classID := grade.ClassID
	studentID := grade.StudentID
	doc := &types.SemanticDocument{
		TenantID:  tenantID,
		DocType:   types.DocTypeStudent,
		ClassID:   &classID,
		StudentID: &studentID,
		Content:   content,
		Metadata: encodeJSON(map[string]any{
			"grade_id":        grade.ID.String(),
			"student_name":    grade.StudentName,
			"assignment_name": grade.AssignmentName,
			"percentage":      grade.Percentage(),
		}),
		Embedding: encodeJSON(vec),
	}
	if _, err := s.docRepo.Put(dbctx.New(ctx), doc); err != nil {
		return fmt.Errorf("persist grade document: %w", err)
	}
	return nil
}

func (s *semanticIndexer) IndexClass(ctx context.Context, tenantID, classID uuid.UUID) error {
	row, err := s.classRepo.Get(dbctx.New(ctx), tenantID, classID)
	if err != nil {
		return fmt.Errorf("load class analytics: %w", err)
	}
	if row == nil {
		return nil
	}

	counts := decodeJSONMap[int](row.CommonStrugglingTopics)
	type topicCount struct {
		topic string
		count int
	}
	ranked := make([]topicCount, 0, len(counts))
	for t, c := range counts {
		ranked = append(ranked, topicCount{topic: t, count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].topic < ranked[j].topic
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	perf := decodeJSONMap[types.StudentPerformance](row.StudentPerformances)
	var struggling []string
	for _, sp := range perf {
		if sp.TotalAssignments > 0 && sp.AverageScore < s.supportThreshold {
			struggling = append(struggling, fmt.Sprintf("%s (%.1f%%)", sp.Name, sp.AverageScore))
		}
	}
	sort.Strings(struggling)

	var sb strings.Builder
	name := row.ClassName
	if name == "" {
		name = "Class " + classID.String()
	}
	fmt.Fprintf(&sb, "%s: class average %.1f%% across %d graded assignments.",
		name, row.AverageGrade, row.TotalAssignments)
	if len(ranked) > 0 {
		parts := make([]string, 0, len(ranked))
		for _, tc := range ranked {
			parts = append(parts, fmt.Sprintf("%s (%d)", tc.topic, tc.count))
		}
		fmt.Fprintf(&sb, " Most common struggling topics: %s.", strings.Join(parts, ", "))
	}
	if len(struggling) > 0 {
		fmt.Fprintf(&sb, " Students who may need support: %s.", strings.Join(struggling, ", "))
	}
	content := sb.String()

	vec, err := s.embedOne(ctx, content)
	if err != nil {
		return fmt.Errorf("embed class summary: %w", err)
	}

	cid := classID
	doc := &types.SemanticDocument{
		TenantID:  tenantID,
		DocType:   types.DocTypeClass,
		ClassID:   &cid,
		ClassName: row.ClassName,
		Content:   content,
		Metadata: encodeJSON(map[string]any{
			"average_grade":     row.AverageGrade,
			"total_assignments": row.TotalAssignments,
		}),
		Embedding: encodeJSON(vec),
	}
	if _, err := s.docRepo.UpsertClassDocument(dbctx.New(ctx), doc); err != nil {
		return fmt.Errorf("persist class document: %w", err)
	}
	return nil
}

func (s *semanticIndexer) IndexLessonPlan(ctx context.Context, tenantID uuid.UUID, plan *types.LessonPlan) error {
	if plan == nil {
		return fmt.Errorf("missing lesson plan")
	}

	objectives := decodeJSONSlice[string](plan.Objectives)
	activities := decodeJSONSlice[types.LessonActivity](plan.Activities)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Lesson plan %q for %s, %d minutes.", plan.Title, plan.ClassName, plan.DurationMinutes)
	if len(objectives) > 0 {
		fmt.Fprintf(&sb, " Objectives: %s.", strings.Join(objectives, "; "))
	}
	if len(activities) > 0 {
		names := make([]string, 0, len(activities))
		for _, a := range activities {
			names = append(names, a.Name)
		}
		fmt.Fprintf(&sb, " Activities: %s.", strings.Join(names, ", "))
	}
	if strings.TrimSpace(plan.Differentiation) != "" {
		fmt.Fprintf(&sb, " Differentiation: %s", plan.Differentiation)
	}
	content := sb.String()

	vec, err := s.embedOne(ctx, content)
	if err != nil {
		return fmt.Errorf("embed lesson plan summary: %w", err)
	}

	classID := plan.ClassID
	planID := plan.ID
	doc := &types.SemanticDocument{
		TenantID:     tenantID,
		DocType:      types.DocTypeLessonPlan,
		ClassID:      &classID,
		LessonPlanID: &planID,
		ClassName:    plan.ClassName,
		Content:      content,
		Metadata: encodeJSON(map[string]any{
			"title":            plan.Title,
			"duration_minutes": plan.DurationMinutes,
		}),
		Embedding: encodeJSON(vec),
	}
	if _, err := s.docRepo.Put(dbctx.New(ctx), doc); err != nil {
		return fmt.Errorf("persist lesson plan document: %w", err)
	}
	return nil
}
