package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/middleware"
	"github.com/yungbote/classpulse-backend/internal/services"
)

type GradeHandler struct {
	log       *logger.Logger
	analytics services.AnalyticsService
}

func NewGradeHandler(log *logger.Logger, analytics services.AnalyticsService) *GradeHandler {
	return &GradeHandler{
		log:       log.With("handler", "GradeHandler"),
		analytics: analytics,
	}
}

type createGradeRequest struct {
	ClassID          uuid.UUID  `json:"class_id" binding:"required"`
	ClassName        string     `json:"class_name"`
	StudentID        uuid.UUID  `json:"student_id" binding:"required"`
	StudentName      string     `json:"student_name" binding:"required"`
	AssignmentName   string     `json:"assignment_name"`
	OverallScore     float64    `json:"overall_score"`
	TotalPoints      float64    `json:"total_points"`
	StrugglingTopics []string   `json:"struggling_topics"`
	GradedAt         *time.Time `json:"graded_at"`
}

// POST /api/grades
// Record a graded assignment and fold it into the analytics aggregates.
func (h *GradeHandler) CreateGrade(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}

	var req createGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	in := services.GradeInput{
		TenantID:         tenantID,
		ClassID:          req.ClassID,
		ClassName:        req.ClassName,
		StudentID:        req.StudentID,
		StudentName:      req.StudentName,
		AssignmentName:   req.AssignmentName,
		OverallScore:     req.OverallScore,
		TotalPoints:      req.TotalPoints,
		StrugglingTopics: req.StrugglingTopics,
	}
	if req.GradedAt != nil {
		in.GradedAt = *req.GradedAt
	}

	grade, err := h.analytics.InsertGrade(c.Request.Context(), in)
	if err != nil {
		h.log.Error("InsertGrade failed", "class_id", req.ClassID, "error", err)
		RespondError(c, http.StatusInternalServerError, "insert_failed", err)
		return
	}
	c.JSON(http.StatusCreated, grade)
}

// DELETE /api/grades/:id
// Soft-delete a grade and rebuild the affected aggregates.
func (h *GradeHandler) DeleteGrade(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}

	gradeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid grade id"))
		return
	}

	if err := h.analytics.DeleteGrade(c.Request.Context(), tenantID, gradeID); err != nil {
		h.log.Error("DeleteGrade failed", "grade_id", gradeID, "error", err)
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
