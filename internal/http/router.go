// Package http assembles the operational HTTP surface spec.md §9 names:
// a read-only window onto site state and job status, plus the same
// cancel/restart mutations clerkctl exposes from the command line.
// Grounded on the teacher's own internal/http/router.go.
package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-backend/internal/http/middleware"
)

type RouterConfig struct {
	HealthHandler *httpH.HealthHandler
	SiteHandler   *httpH.SiteHandler
	JobHandler    *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware("civicpipeline"))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.SiteHandler != nil {
			api.GET("/sites", cfg.SiteHandler.ListSites)
			api.GET("/sites/:subdomain", cfg.SiteHandler.GetSite)
		}
		if cfg.JobHandler != nil {
			api.GET("/sites/:subdomain/jobs", cfg.JobHandler.ListBySubdomain)
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			api.POST("/jobs/:id/restart", cfg.JobHandler.RestartJob)
		}
	}

	return r
}
