package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/translation-orchestrator/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, allowedOrigins []string) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(allowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness additionally requires a reachable job store
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	jobHandler := handler.NewJobHandler(deps)

	jobs := r.Group("/jobs")
	{
		// POST /jobs - Submit a translation job
		jobs.POST("", jobHandler.CreateJob)

		// POST /jobs/status - Worker status callback
		jobs.POST("/status", jobHandler.UpdateStatus)

		// GET /jobs/:job_id - Current status with history
		jobs.GET("/:job_id", jobHandler.GetJob)

		// GET /jobs/:job_id/timeline - Event history only
		jobs.GET("/:job_id/timeline", jobHandler.GetTimeline)

		// GET /jobs/:job_id/result - Artefacts of a finished job
		jobs.GET("/:job_id/result", jobHandler.GetResult)

		// GET /jobs/:job_id/artefacts/:name - A single artefact
		jobs.GET("/:job_id/artefacts/:name", jobHandler.GetArtefact)

		// POST /jobs/:job_id/cancel - Cancel a job
		jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
	}

	return r
}
