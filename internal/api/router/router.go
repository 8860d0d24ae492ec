package router

import (
	"github.com/cuongbtq/cron-runner/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with the status routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	statusHandler := handler.NewStatusHandler(deps)

	// GET /health - database reachability
	r.GET("/health", statusHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/schedules - live triggers ordered by job id
		v1.GET("/schedules", statusHandler.ListSchedules)
	}

	return r
}
