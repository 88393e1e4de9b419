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

type AnalyticsHandler struct {
	log       *logger.Logger
	analytics services.AnalyticsService
}

func NewAnalyticsHandler(log *logger.Logger, analytics services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{
		log:       log.With("handler", "AnalyticsHandler"),
		analytics: analytics,
	}
}

// GET /api/classes/:id/analytics
func (h *AnalyticsHandler) GetClassAnalytics(c *gin.Context) {
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

	row, err := h.analytics.GetClassAnalytics(c.Request.Context(), tenantID, classID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if row == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no analytics for class"))
		return
	}
	RespondOK(c, row)
}

// GET /api/classes/:id/students/:sid/analytics
func (h *AnalyticsHandler) GetStudentAnalytics(c *gin.Context) {
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
	studentID, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid student id"))
		return
	}

	row, err := h.analytics.GetStudentAnalytics(c.Request.Context(), tenantID, classID, studentID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if row == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no analytics for student"))
		return
	}
	RespondOK(c, row)
}

// POST /api/classes/:id/analytics/recalculate
// Force a full rebuild from the active grades.
func (h *AnalyticsHandler) Recalculate(c *gin.Context) {
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

	row, err := h.analytics.Recalculate(c.Request.Context(), tenantID, classID)
	if err != nil {
		h.log.Error("Recalculate failed", "class_id", classID, "error", err)
		RespondError(c, http.StatusInternalServerError, "recalculate_failed", err)
		return
	}
	RespondOK(c, row)
}
