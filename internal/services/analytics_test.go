package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/types"
)

func newAnalyticsFixture(t *testing.T) (AnalyticsService, *fakeGradeRepo, *fakeClassAnalyticsRepo, *fakeStudentAnalyticsRepo) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	grades := newFakeGradeRepo()
	classes := newFakeClassAnalyticsRepo()
	students := newFakeStudentAnalyticsRepo()
	svc := NewAnalyticsService(log, grades, classes, students, nil)
	return svc, grades, classes, students
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func gradeInput(tenantID, classID, studentID uuid.UUID, name string, score, points float64, topics []string, gradedAt time.Time) GradeInput {
	return GradeInput{
		TenantID:         tenantID,
		ClassID:          classID,
		ClassName:        "Algebra I",
		StudentID:        studentID,
		StudentName:      name,
		AssignmentName:   "Quiz",
		OverallScore:     score,
		TotalPoints:      points,
		StrugglingTopics: topics,
		GradedAt:         gradedAt,
	}
}

func TestInsertGradeMaintainsRunningAverage(t *testing.T) {
	svc, _, classes, _ := newAnalyticsFixture(t)
	ctx := context.Background()
	tenantID, classID := uuid.New(), uuid.New()
	alice, bob := uuid.New(), uuid.New()
	base := time.Now().UTC()

	inputs := []GradeInput{
		gradeInput(tenantID, classID, alice, "Alice", 80, 100, nil, base),
		gradeInput(tenantID, classID, bob, "Bob", 45, 50, nil, base.Add(time.Hour)),
		gradeInput(tenantID, classID, alice, "Alice", 7, 10, nil, base.Add(2*time.Hour)),
	}
	for _, in := range inputs {
		if _, err := svc.InsertGrade(ctx, in); err != nil {
			t.Fatalf("InsertGrade: %v", err)
		}
	}

	row, err := classes.Get(dbctxBackground(), tenantID, classID)
	if err != nil {
		t.Fatalf("Get class analytics: %v", err)
	}
	if row == nil {
		t.Fatal("class analytics row not created")
	}
	if row.TotalAssignments != 3 {
		t.Fatalf("total assignments: want=3 got=%d", row.TotalAssignments)
	}
	// (80 + 90 + 70) / 3
	if !almostEqual(row.AverageGrade, 80) {
		t.Fatalf("average grade: want=80 got=%v", row.AverageGrade)
	}

	perf := decodeJSONMap[types.StudentPerformance](row.StudentPerformances)
	ap := perf[alice.String()]
	if ap.TotalAssignments != 2 || !almostEqual(ap.AverageScore, 75) {
		t.Fatalf("alice performance: want avg=75 n=2, got avg=%v n=%d", ap.AverageScore, ap.TotalAssignments)
	}
	if ap.Name != "Alice" {
		t.Fatalf("alice name: got %q", ap.Name)
	}
	bp := perf[bob.String()]
	if bp.TotalAssignments != 1 || !almostEqual(bp.AverageScore, 90) {
		t.Fatalf("bob performance: want avg=90 n=1, got avg=%v n=%d", bp.AverageScore, bp.TotalAssignments)
	}
}

func TestInsertGradeNormalizesTopicKeys(t *testing.T) {
	svc, _, classes, students := newAnalyticsFixture(t)
	ctx := context.Background()
	tenantID, classID, studentID := uuid.New(), uuid.New(), uuid.New()
	base := time.Now().UTC()

	if _, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 5, 10, []string{"  Fractions "}, base)); err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}
	if _, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 6, 10, []string{"FRACTIONS"}, base.Add(time.Hour))); err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}

	row, _ := classes.Get(dbctxBackground(), tenantID, classID)
	counts := decodeJSONMap[int](row.CommonStrugglingTopics)
	if counts["fractions"] != 2 {
		t.Fatalf("topic count: want fractions=2 got=%v", counts)
	}
	if len(counts) != 1 {
		t.Fatalf("expected single normalized topic key, got %v", counts)
	}

	srow, _ := students.Get(dbctxBackground(), tenantID, classID, studentID)
	details := decodeJSONMap[types.TopicDetail](srow.StrugglingTopics)
	if details["fractions"].Count != 2 {
		t.Fatalf("student topic detail: want count=2 got=%+v", details["fractions"])
	}
	if len(details["fractions"].AssignmentIDs) != 2 {
		t.Fatalf("student topic assignments: want 2 got=%d", len(details["fractions"].AssignmentIDs))
	}
}

func TestInsertGradeZeroPointsCountsAsZeroPercent(t *testing.T) {
	svc, _, classes, _ := newAnalyticsFixture(t)
	ctx := context.Background()
	tenantID, classID, studentID := uuid.New(), uuid.New(), uuid.New()
	base := time.Now().UTC()

	grade, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 5, 0, nil, base))
	if err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}
	if !grade.Invalid {
		t.Fatal("zero-point grade should be marked invalid")
	}
	if _, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 10, 10, nil, base.Add(time.Hour))); err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}

	row, _ := classes.Get(dbctxBackground(), tenantID, classID)
	if row.TotalAssignments != 2 {
		t.Fatalf("invalid grade must still count: want=2 got=%d", row.TotalAssignments)
	}
	// (0 + 100) / 2
	if !almostEqual(row.AverageGrade, 50) {
		t.Fatalf("average grade: want=50 got=%v", row.AverageGrade)
	}
}

func TestDeleteGradeRebuildsAggregates(t *testing.T) {
	svc, _, classes, students := newAnalyticsFixture(t)
	ctx := context.Background()
	tenantID, classID, studentID := uuid.New(), uuid.New(), uuid.New()
	base := time.Now().UTC()

	g1, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 40, 100, []string{"fractions"}, base))
	if err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}
	if _, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 90, 100, []string{"decimals"}, base.Add(time.Hour))); err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}

	if err := svc.DeleteGrade(ctx, tenantID, g1.ID); err != nil {
		t.Fatalf("DeleteGrade: %v", err)
	}

	row, _ := classes.Get(dbctxBackground(), tenantID, classID)
	if row.TotalAssignments != 1 {
		t.Fatalf("total assignments after delete: want=1 got=%d", row.TotalAssignments)
	}
	if !almostEqual(row.AverageGrade, 90) {
		t.Fatalf("average after delete: want=90 got=%v", row.AverageGrade)
	}
	counts := decodeJSONMap[int](row.CommonStrugglingTopics)
	if _, gone := counts["fractions"]; gone {
		t.Fatalf("deleted grade's topic should be gone: %v", counts)
	}
	if counts["decimals"] != 1 {
		t.Fatalf("surviving topic count: want=1 got=%v", counts)
	}

	srow, _ := students.Get(dbctxBackground(), tenantID, classID, studentID)
	history := decodeJSONSlice[types.AssignmentRecord](srow.AssignmentHistory)
	if len(history) != 1 {
		t.Fatalf("student history after delete: want=1 got=%d", len(history))
	}
}

func TestDeleteLastGradeResetsToZeroInsteadOfDeleting(t *testing.T) {
	svc, _, classes, _ := newAnalyticsFixture(t)
	ctx := context.Background()
	tenantID, classID, studentID := uuid.New(), uuid.New(), uuid.New()

	g, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 80, 100, []string{"fractions"}, time.Now().UTC()))
	if err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}
	if err := svc.DeleteGrade(ctx, tenantID, g.ID); err != nil {
		t.Fatalf("DeleteGrade: %v", err)
	}

	row, _ := classes.Get(dbctxBackground(), tenantID, classID)
	if row == nil {
		t.Fatal("aggregate row should survive deleting the last grade")
	}
	if row.TotalAssignments != 0 || row.AverageGrade != 0 {
		t.Fatalf("aggregate should be zeroed: n=%d avg=%v", row.TotalAssignments, row.AverageGrade)
	}
	counts := decodeJSONMap[int](row.CommonStrugglingTopics)
	if len(counts) != 0 {
		t.Fatalf("topic counts should be empty: %v", counts)
	}
}

func TestStudentHistoryStaysChronological(t *testing.T) {
	svc, _, _, students := newAnalyticsFixture(t)
	ctx := context.Background()
	tenantID, classID, studentID := uuid.New(), uuid.New(), uuid.New()
	base := time.Now().UTC()

	// Inserted out of graded order on purpose.
	if _, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 90, 100, nil, base.Add(2*time.Hour))); err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}
	if _, err := svc.InsertGrade(ctx, gradeInput(tenantID, classID, studentID, "Alice", 70, 100, nil, base)); err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}

	srow, _ := students.Get(dbctxBackground(), tenantID, classID, studentID)
	history := decodeJSONSlice[types.AssignmentRecord](srow.AssignmentHistory)
	if len(history) != 2 {
		t.Fatalf("history length: want=2 got=%d", len(history))
	}
	if !history[0].GradedAt.Before(history[1].GradedAt) {
		t.Fatalf("history not chronological: %v then %v", history[0].GradedAt, history[1].GradedAt)
	}
	if !almostEqual(history[0].Percentage, 70) {
		t.Fatalf("earliest entry should be the 70%% grade, got %v", history[0].Percentage)
	}
}
