package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/delivery/http/middleware"
)

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(
	tasks *TaskHandler,
	streams *StreamHandler,
	health *HealthHandler,
	maxBodyBytes int64,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", health.Health)
		v1.GET("/languages", NewLanguageHandler().List)

		v1.POST("/tasks", middleware.BodySizeLimit(maxBodyBytes), tasks.Submit)
		v1.GET("/tasks", tasks.ListByStatus)
		v1.GET("/tasks/:id", tasks.GetByID)
		v1.POST("/tasks/:id/cancel", tasks.Cancel)
		v1.GET("/tasks/:id/stream", streams.Stream)

		v1.GET("/executors/:id/tasks", tasks.History)
		v1.GET("/snippets/:id/tasks", tasks.SnippetTasks)
		v1.GET("/stats/languages", tasks.LanguageStats)
	}

	return router
}
