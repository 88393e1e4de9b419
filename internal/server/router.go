package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/classpulse-backend/internal/handlers"
	"github.com/yungbote/classpulse-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	GradeHandler      *handlers.GradeHandler
	AnalyticsHandler  *handlers.AnalyticsHandler
	ChatHandler       *handlers.ChatHandler
	LessonPlanHandler *handlers.LessonPlanHandler
	SSEHandler        *handlers.SSEHandler
}

func allowedOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if raw == "" {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("classpulse-backend"))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	// SSE
	api.GET("/sse", cfg.SSEHandler.Stream)

	// Grades
	api.POST("/grades", cfg.GradeHandler.CreateGrade)
	api.DELETE("/grades/:id", cfg.GradeHandler.DeleteGrade)

	// Analytics
	api.GET("/classes/:id/analytics", cfg.AnalyticsHandler.GetClassAnalytics)
	api.GET("/classes/:id/students/:sid/analytics", cfg.AnalyticsHandler.GetStudentAnalytics)
	api.POST("/classes/:id/analytics/recalculate", cfg.AnalyticsHandler.Recalculate)

	// Chat
	api.POST("/chat/messages", cfg.ChatHandler.SendMessage)
	api.GET("/threads", cfg.ChatHandler.ListThreads)
	api.GET("/threads/:id/messages", cfg.ChatHandler.ListMessages)
	api.POST("/threads/:id/abort", cfg.ChatHandler.AbortTurn)

	// Lesson plans
	api.POST("/lesson-plans", cfg.LessonPlanHandler.Generate)
	api.GET("/lesson-plans/:id", cfg.LessonPlanHandler.GetByID)
	api.GET("/classes/:id/lesson-plans", cfg.LessonPlanHandler.ListByClass)

	return router
}
