package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/normalization"
	"github.com/yungbote/classpulse-backend/internal/repos"
	"github.com/yungbote/classpulse-backend/internal/types"
)

// GradeInput is one graded assignment entering the pipeline.
type GradeInput struct {
	TenantID         uuid.UUID
	ClassID          uuid.UUID
	ClassName        string
	StudentID        uuid.UUID
	StudentName      string
	AssignmentName   string
	OverallScore     float64
	TotalPoints      float64
	StrugglingTopics []string
	GradedAt         time.Time
}

// AnalyticsService maintains the class and student aggregates. Inserts update
// them incrementally; deletes rebuild them from the surviving grades. Both
// paths finish by kicking the semantic indexer, best effort.
type AnalyticsService interface {
	InsertGrade(ctx context.Context, in GradeInput) (*types.GradeRecord, error)
	DeleteGrade(ctx context.Context, tenantID, gradeID uuid.UUID) error
	Recalculate(ctx context.Context, tenantID, classID uuid.UUID) (*types.ClassAnalytics, error)
	RecalculateStudent(ctx context.Context, tenantID, classID, studentID uuid.UUID) (*types.StudentAnalytics, error)
	GetClassAnalytics(ctx context.Context, tenantID, classID uuid.UUID) (*types.ClassAnalytics, error)
	GetStudentAnalytics(ctx context.Context, tenantID, classID, studentID uuid.UUID) (*types.StudentAnalytics, error)
}

type analyticsService struct {
	log          *logger.Logger
	gradeRepo    repos.GradeRepo
	classRepo    repos.ClassAnalyticsRepo
	studentRepo  repos.StudentAnalyticsRepo
	indexer      SemanticIndexer
	indexTimeout time.Duration
}

func NewAnalyticsService(
	baseLog *logger.Logger,
	gradeRepo repos.GradeRepo,
	classRepo repos.ClassAnalyticsRepo,
	studentRepo repos.StudentAnalyticsRepo,
	indexer SemanticIndexer,
) AnalyticsService {
	return &analyticsService{
		log:          baseLog.With("service", "AnalyticsService"),
		gradeRepo:    gradeRepo,
		classRepo:    classRepo,
		studentRepo:  studentRepo,
		indexer:      indexer,
		indexTimeout: 60 * time.Second,
	}
}

func decodeJSONMap[T any](raw datatypes.JSON) map[string]T {
	out := map[string]T{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]T{}
	}
	return out
}

func decodeJSONSlice[T any](raw datatypes.JSON) []T {
	var out []T
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte(`null`))
	}
	return datatypes.JSON(b)
}

func (s *analyticsService) InsertGrade(ctx context.Context, in GradeInput) (*types.GradeRecord, error) {
	if in.TenantID == uuid.Nil || in.ClassID == uuid.Nil || in.StudentID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id, class_id, or student_id")
	}
	if in.GradedAt.IsZero() {
		in.GradedAt = time.Now().UTC()
	}

	topics := normalization.NormalizeTopics(in.StrugglingTopics)
	invalid := in.TotalPoints == 0
	if invalid {
		s.log.Warn("Grade has zero total points, recording as invalid",
			"class_id", in.ClassID,
			"student_id", in.StudentID,
			"assignment", in.AssignmentName,
		)
	}

	grade := &types.GradeRecord{
		ID:               uuid.New(),
		TenantID:         in.TenantID,
		ClassID:          in.ClassID,
		StudentID:        in.StudentID,
		StudentName:      in.StudentName,
		AssignmentName:   in.AssignmentName,
		OverallScore:     in.OverallScore,
		TotalPoints:      in.TotalPoints,
		Invalid:          invalid,
		StrugglingTopics: encodeJSON(topics),
		GradedAt:         in.GradedAt,
	}

	dbc := dbctx.New(ctx)
	if _, err := s.gradeRepo.Create(dbc, []*types.GradeRecord{grade}); err != nil {
		return nil, fmt.Errorf("persist grade: %w", err)
	}

	pct := grade.Percentage()

	_, err := s.classRepo.Transact(dbc, in.TenantID, in.ClassID, func(row *types.ClassAnalytics) error {
		s.applyGradeToClass(row, in, pct, topics)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update class analytics: %w", err)
	}

	_, err = s.studentRepo.Transact(dbc, in.TenantID, in.ClassID, in.StudentID, func(row *types.StudentAnalytics) error {
		s.applyGradeToStudent(row, grade, pct, topics)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update student analytics: %w", err)
	}

	s.kickIndexer(in.TenantID, in.ClassID, grade)
	return grade, nil
}

// applyGradeToClass folds one new grade into the class aggregate. The running
// average update assumes AverageGrade was exact over TotalAssignments grades.
func (s *analyticsService) applyGradeToClass(row *types.ClassAnalytics, in GradeInput, pct float64, topics []string) {
	if in.ClassName != "" {
		row.ClassName = in.ClassName
	}

	oldTotal := float64(row.TotalAssignments)
	row.AverageGrade = (row.AverageGrade*oldTotal + pct) / (oldTotal + 1)
	row.TotalAssignments++

	counts := decodeJSONMap[int](row.CommonStrugglingTopics)
	for _, t := range topics {
		counts[t]++
	}
	row.CommonStrugglingTopics = encodeJSON(counts)

	perf := decodeJSONMap[types.StudentPerformance](row.StudentPerformances)
	sp := perf[in.StudentID.String()]
	oldCount := float64(sp.TotalAssignments)
	sp.AverageScore = (sp.AverageScore*oldCount + pct) / (oldCount + 1)
	sp.TotalAssignments++
	if in.StudentName != "" {
		sp.Name = in.StudentName
	}
	perf[in.StudentID.String()] = sp
	row.StudentPerformances = encodeJSON(perf)
}

func (s *analyticsService) applyGradeToStudent(row *types.StudentAnalytics, grade *types.GradeRecord, pct float64, topics []string) {
	if grade.StudentName != "" {
		row.StudentName = grade.StudentName
	}

	oldTotal := float64(row.TotalAssignments)
	row.AverageScore = (row.AverageScore*oldTotal + pct) / (oldTotal + 1)
	row.TotalAssignments++

	details := decodeJSONMap[types.TopicDetail](row.StrugglingTopics)
	for _, t := range topics {
		d := details[t]
		d.Count++
		d.AssignmentIDs = append(d.AssignmentIDs, grade.ID.String())
		details[t] = d
	}
	row.StrugglingTopics = encodeJSON(details)

	history := decodeJSONSlice[types.AssignmentRecord](row.AssignmentHistory)
	history = append(history, types.AssignmentRecord{
		AssignmentID:     grade.ID.String(),
		AssignmentName:   grade.AssignmentName,
		Score:            grade.OverallScore,
		TotalPoints:      grade.TotalPoints,
		Percentage:       pct,
		GradedAt:         grade.GradedAt,
		StrugglingTopics: topics,
	})
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].GradedAt.Before(history[j].GradedAt)
	})
	row.AssignmentHistory = encodeJSON(history)
}

// DeleteGrade soft-deletes the grade and rebuilds both aggregates from the
// remaining active grades. Incremental subtraction would drift on repeated
// deletes, so deletion always pays for a full rescan.
func (s *analyticsService) DeleteGrade(ctx context.Context, tenantID, gradeID uuid.UUID) error {
	dbc := dbctx.New(ctx)

	grade, err := s.gradeRepo.SoftDelete(dbc, tenantID, gradeID)
	if err != nil {
		return fmt.Errorf("soft delete grade: %w", err)
	}
	if grade == nil {
		return fmt.Errorf("grade %s not found", gradeID)
	}

	if _, err := s.Recalculate(ctx, tenantID, grade.ClassID); err != nil {
		return fmt.Errorf("recalculate class analytics: %w", err)
	}
	if _, err := s.RecalculateStudent(ctx, tenantID, grade.ClassID, grade.StudentID); err != nil {
		return fmt.Errorf("recalculate student analytics: %w", err)
	}

	s.kickIndexer(tenantID, grade.ClassID, nil)
	return nil
}

// Recalculate rebuilds the class aggregate from scratch. The active grades are
// re-read inside the optimistic write cycle so a retry folds over fresh data.
func (s *analyticsService) Recalculate(ctx context.Context, tenantID, classID uuid.UUID) (*types.ClassAnalytics, error) {
	dbc := dbctx.New(ctx)

	return s.classRepo.Transact(dbc, tenantID, classID, func(row *types.ClassAnalytics) error {
		grades, err := s.gradeRepo.ListActiveByClass(dbc, tenantID, classID)
		if err != nil {
			return err
		}

		counts := map[string]int{}
		perf := map[string]types.StudentPerformance{}
		var sum float64

		for _, g := range grades {
			pct := g.Percentage()
			sum += pct

			for _, t := range decodeJSONSlice[string](g.StrugglingTopics) {
				counts[t]++
			}

			key := g.StudentID.String()
			sp := perf[key]
			oldCount := float64(sp.TotalAssignments)
			sp.AverageScore = (sp.AverageScore*oldCount + pct) / (oldCount + 1)
			sp.TotalAssignments++
			if g.StudentName != "" {
				sp.Name = g.StudentName
			}
			perf[key] = sp
		}

		row.TotalAssignments = len(grades)
		if len(grades) == 0 {
			// Last grade gone: zero out rather than delete the row.
			row.AverageGrade = 0
		} else {
			row.AverageGrade = sum / float64(len(grades))
		}
		row.CommonStrugglingTopics = encodeJSON(counts)
		row.StudentPerformances = encodeJSON(perf)
		return nil
	})
}

func (s *analyticsService) RecalculateStudent(ctx context.Context, tenantID, classID, studentID uuid.UUID) (*types.StudentAnalytics, error) {
	dbc := dbctx.New(ctx)

	return s.studentRepo.Transact(dbc, tenantID, classID, studentID, func(row *types.StudentAnalytics) error {
		grades, err := s.gradeRepo.ListActiveByStudent(dbc, tenantID, classID, studentID)
		if err != nil {
			return err
		}

		details := map[string]types.TopicDetail{}
		history := make([]types.AssignmentRecord, 0, len(grades))
		var sum float64

		for _, g := range grades {
			pct := g.Percentage()
			sum += pct
			if g.StudentName != "" {
				row.StudentName = g.StudentName
			}

			topics := decodeJSONSlice[string](g.StrugglingTopics)
			for _, t := range topics {
				d := details[t]
				d.Count++
				d.AssignmentIDs = append(d.AssignmentIDs, g.ID.String())
				details[t] = d
			}

			history = append(history, types.AssignmentRecord{
				AssignmentID:     g.ID.String(),
				AssignmentName:   g.AssignmentName,
				Score:            g.OverallScore,
				TotalPoints:      g.TotalPoints,
				Percentage:       pct,
				GradedAt:         g.GradedAt,
				StrugglingTopics: topics,
			})
		}

		row.TotalAssignments = len(grades)
		if len(grades) == 0 {
			row.AverageScore = 0
		} else {
			row.AverageScore = sum / float64(len(grades))
		}
		row.StrugglingTopics = encodeJSON(details)
		row.AssignmentHistory = encodeJSON(history)
		return nil
	})
}

func (s *analyticsService) GetClassAnalytics(ctx context.Context, tenantID, classID uuid.UUID) (*types.ClassAnalytics, error) {
	return s.classRepo.Get(dbctx.New(ctx), tenantID, classID)
}

func (s *analyticsService) GetStudentAnalytics(ctx context.Context, tenantID, classID, studentID uuid.UUID) (*types.StudentAnalytics, error) {
	return s.studentRepo.Get(dbctx.New(ctx), tenantID, classID, studentID)
}

// kickIndexer refreshes the semantic documents behind retrieval. Indexing is
// advisory: it runs detached from the request and its failures only log.
func (s *analyticsService) kickIndexer(tenantID, classID uuid.UUID, grade *types.GradeRecord) {
	if s.indexer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.indexTimeout)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		if grade != nil {
			g.Go(func() error {
				if err := s.indexer.IndexGrade(gctx, tenantID, grade); err != nil {
					s.log.Warn("Grade indexing failed", "grade_id", grade.ID, "error", err)
				}
				return nil
			})
		}
		g.Go(func() error {
			if err := s.indexer.IndexClass(gctx, tenantID, classID); err != nil {
				s.log.Warn("Class indexing failed", "class_id", classID, "error", err)
			}
			return nil
		})
		_ = g.Wait()
	}()
}
