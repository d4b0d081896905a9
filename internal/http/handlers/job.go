package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/http/response"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/services"
)

// JobHandler exposes the same job lifecycle operations clerkctl offers, as
// HTTP endpoints -- grounded on the teacher's own job.go handler, trimmed
// of its per-request-user scoping since this surface has no auth boundary.
type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GET /jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.GetByID(dbc, jobID)
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /sites/:subdomain/jobs
func (h *JobHandler) ListBySubdomain(c *gin.Context) {
	subdomain := c.Param("subdomain")
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	jobs, err := h.jobs.ListBySubdomain(dbc, subdomain, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// POST /jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.Cancel(dbc, jobID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /jobs/:id/restart
func (h *JobHandler) RestartJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.Restart(dbc, jobID)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(strings.ToLower(err.Error()), "not restartable") {
			status = http.StatusConflict
		}
		response.RespondError(c, status, "restart_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
