package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/middleware"
	"github.com/yungbote/classpulse-backend/internal/services"
)

type LessonPlanHandler struct {
	log   *logger.Logger
	plans services.LessonPlanService
}

func NewLessonPlanHandler(log *logger.Logger, plans services.LessonPlanService) *LessonPlanHandler {
	return &LessonPlanHandler{
		log:   log.With("handler", "LessonPlanHandler"),
		plans: plans,
	}
}

type generateLessonPlanRequest struct {
	ClassID         uuid.UUID `json:"class_id" binding:"required"`
	ClassName       string    `json:"class_name"`
	FocusTopics     []string  `json:"focus_topics"`
	DurationMinutes int       `json:"duration_minutes"`
}

// POST /api/lesson-plans
func (h *LessonPlanHandler) Generate(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}

	var req generateLessonPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	plan, err := h.plans.Generate(c.Request.Context(), tenantID, services.LessonPlanRequest{
		ClassID:         req.ClassID,
		ClassName:       req.ClassName,
		FocusTopics:     req.FocusTopics,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.log.Error("Lesson plan generation failed", "class_id", req.ClassID, "error", err)
		RespondError(c, http.StatusInternalServerError, "generate_failed", err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// GET /api/lesson-plans/:id
func (h *LessonPlanHandler) GetByID(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid lesson plan id"))
		return
	}

	plan, err := h.plans.GetByID(c.Request.Context(), tenantID, planID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if plan == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("lesson plan not found"))
		return
	}
	RespondOK(c, plan)
}

// GET /api/classes/:id/lesson-plans
func (h *LessonPlanHandler) ListByClass(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid class id"))
		return
	}

	plans, err := h.plans.ListByClass(c.Request.Context(), tenantID, classID, 20)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"lesson_plans": plans})
}
