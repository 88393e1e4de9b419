package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/normalization"
	"github.com/yungbote/classpulse-backend/internal/repos"
	"github.com/yungbote/classpulse-backend/internal/types"
)

// LessonPlanRequest is what the chat tool (or a direct API call) asks for.
type LessonPlanRequest struct {
	ClassID         uuid.UUID
	ClassName       string
	FocusTopics     []string
	DurationMinutes int
}

// LessonPlanService generates structured lesson plans grounded in the
// class's current analytics and persists them.
type LessonPlanService interface {
	Generate(ctx context.Context, tenantID uuid.UUID, req LessonPlanRequest) (*types.LessonPlan, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*types.LessonPlan, error)
	ListByClass(ctx context.Context, tenantID, classID uuid.UUID, limit int) ([]*types.LessonPlan, error)
}

type lessonPlanService struct {
	log       *logger.Logger
	generator GenerationClient
	classRepo repos.ClassAnalyticsRepo
	planRepo  repos.LessonPlanRepo
	indexer   SemanticIndexer
	notifier  ChatNotifier
}

func NewLessonPlanService(
	baseLog *logger.Logger,
	generator GenerationClient,
	classRepo repos.ClassAnalyticsRepo,
	planRepo repos.LessonPlanRepo,
	indexer SemanticIndexer,
	notifier ChatNotifier,
) LessonPlanService {
	return &lessonPlanService{
		log:       baseLog.With("service", "LessonPlanService"),
		generator: generator,
		classRepo: classRepo,
		planRepo:  planRepo,
		indexer:   indexer,
		notifier:  notifier,
	}
}

var lessonPlanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":            map[string]any{"type": "string"},
		"duration_minutes": map[string]any{"type": "integer"},
		"objectives": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"activities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":             map[string]any{"type": "string"},
					"duration_minutes": map[string]any{"type": "integer"},
					"description":      map[string]any{"type": "string"},
				},
				"required":             []string{"name", "duration_minutes", "description"},
				"additionalProperties": false,
			},
		},
		"differentiation": map[string]any{"type": "string"},
	},
	"required":             []string{"title", "duration_minutes", "objectives", "activities", "differentiation"},
	"additionalProperties": false,
}

const lessonPlanSystem = "You are an experienced instructional designer. " +
	"Produce a practical, classroom-ready lesson plan grounded in the provided performance data. " +
	"Target the focus topics when given, otherwise the topics students struggle with most."

func (s *lessonPlanService) Generate(ctx context.Context, tenantID uuid.UUID, req LessonPlanRequest) (*types.LessonPlan, error) {
	if tenantID == uuid.Nil || req.ClassID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id or class_id")
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}
	focus := normalization.NormalizeTopics(req.FocusTopics)

	analytics, err := s.classRepo.Get(dbctx.New(ctx), tenantID, req.ClassID)
	if err != nil {
		return nil, fmt.Errorf("load class analytics: %w", err)
	}

	className := req.ClassName
	if className == "" && analytics != nil {
		className = analytics.ClassName
	}

	user := s.buildPrompt(className, req.DurationMinutes, focus, analytics)

	obj, err := s.generator.GenerateJSON(ctx, lessonPlanSystem, user, "lesson_plan", lessonPlanSchema)
	if err != nil {
		return nil, fmt.Errorf("generate lesson plan: %w", err)
	}

	plan, err := s.decodePlan(obj)
	if err != nil {
		return nil, err
	}
	plan.ID = uuid.New()
	plan.TenantID = tenantID
	plan.ClassID = req.ClassID
	plan.ClassName = className
	plan.FocusTopics = encodeJSON(focus)
	if plan.DurationMinutes <= 0 {
		plan.DurationMinutes = req.DurationMinutes
	}

	if _, err := s.planRepo.Create(dbctx.New(ctx), []*types.LessonPlan{plan}); err != nil {
		return nil, fmt.Errorf("persist lesson plan: %w", err)
	}

	s.log.Info("Lesson plan generated",
		"class_id", req.ClassID,
		"plan_id", plan.ID,
		"focus_topics", strings.Join(focus, ","),
	)

	go func() {
		ictx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := s.indexer.IndexLessonPlan(ictx, tenantID, plan); err != nil {
			s.log.Warn("Lesson plan indexing failed", "plan_id", plan.ID, "error", err)
		}
	}()
	if s.notifier != nil {
		s.notifier.LessonPlanReady(tenantID, plan)
	}

	return plan, nil
}

func (s *lessonPlanService) buildPrompt(className string, duration int, focus []string, analytics *types.ClassAnalytics) string {
	var sb strings.Builder
	if className != "" {
		fmt.Fprintf(&sb, "Class: %s\n", className)
	}
	fmt.Fprintf(&sb, "Target duration: %d minutes\n", duration)
	if len(focus) > 0 {
		fmt.Fprintf(&sb, "Focus topics requested by the teacher: %s\n", strings.Join(focus, ", "))
	}

	if analytics != nil && analytics.TotalAssignments > 0 {
		fmt.Fprintf(&sb, "Class average: %.1f%% over %d graded assignments\n",
			analytics.AverageGrade, analytics.TotalAssignments)

		counts := decodeJSONMap[int](analytics.CommonStrugglingTopics)
		if len(counts) > 0 {
			topics := make([]string, 0, len(counts))
			for t := range counts {
				topics = append(topics, t)
			}
			sort.Slice(topics, func(i, j int) bool {
				if counts[topics[i]] != counts[topics[j]] {
					return counts[topics[i]] > counts[topics[j]]
				}
				return topics[i] < topics[j]
			})
			if len(topics) > 8 {
				topics = topics[:8]
			}
			parts := make([]string, 0, len(topics))
			for _, t := range topics {
				parts = append(parts, fmt.Sprintf("%s (%d)", t, counts[t]))
			}
			fmt.Fprintf(&sb, "Struggling topics by frequency: %s\n", strings.Join(parts, ", "))
		}
	} else {
		sb.WriteString("No graded assignment data is available for this class yet.\n")
	}

	sb.WriteString("Design a lesson plan for this class.")
	return sb.String()
}

func (s *lessonPlanService) decodePlan(obj map[string]any) (*types.LessonPlan, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Title           string                 `json:"title"`
		DurationMinutes int                    `json:"duration_minutes"`
		Objectives      []string               `json:"objectives"`
		Activities      []types.LessonActivity `json:"activities"`
		Differentiation string                 `json:"differentiation"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode lesson plan: %w", err)
	}
	if strings.TrimSpace(parsed.Title) == "" {
		return nil, fmt.Errorf("generated lesson plan has no title")
	}
	return &types.LessonPlan{
		Title:           parsed.Title,
		DurationMinutes: parsed.DurationMinutes,
		Objectives:      encodeJSON(parsed.Objectives),
		Activities:      encodeJSON(parsed.Activities),
		Differentiation: parsed.Differentiation,
	}, nil
}

func (s *lessonPlanService) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*types.LessonPlan, error) {
	return s.planRepo.GetByID(dbctx.New(ctx), tenantID, id)
}

func (s *lessonPlanService) ListByClass(ctx context.Context, tenantID, classID uuid.UUID, limit int) ([]*types.LessonPlan, error) {
	return s.planRepo.ListByClass(dbctx.New(ctx), tenantID, classID, limit)
}
