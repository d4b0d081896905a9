package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

/*
JobNotifier is the side-channel event sink every runtime.Context transition
goes through. The teacher's original notifier fanned events out over a
per-user SSE channel; this module has no per-user audience to address, so
JobNotifier instead appends to the job_run_event ledger (spec.md §3's Run
grouping, keyed by run_id) and logs structurally. Any future push channel
(webhook, pub/sub) can be added here without touching runtime.Context or
the worker, which only ever see this interface.
*/
type JobNotifier interface {
	JobCreated(job *types.JobRun)
	JobProgress(job *types.JobRun, stage string, progress int, message string)
	JobFailed(job *types.JobRun, stage string, errorMessage string)
	JobSucceeded(job *types.JobRun)
	JobCanceled(job *types.JobRun)
	JobRestarted(job *types.JobRun)
}

type jobNotifier struct {
	log    *logger.Logger
	events repos.JobRunEventRepo
}

func NewJobNotifier(baseLog *logger.Logger, events repos.JobRunEventRepo) JobNotifier {
	return &jobNotifier{log: baseLog.With("component", "JobNotifier"), events: events}
}

func (n *jobNotifier) JobCreated(job *types.JobRun) {
	n.record(job, types.JobEventCreated, job.Stage, job.Progress, job.Message)
	n.log.Info("job created", "job_id", safeJobID(job), "job_type", safeJobType(job), "subdomain", safeSubdomain(job))
}

func (n *jobNotifier) JobProgress(job *types.JobRun, stage string, progress int, message string) {
	n.record(job, types.JobEventProgress, stage, progress, message)
	n.log.Debug("job progress", "job_id", safeJobID(job), "stage", stage, "progress", progress, "message", message)
}

func (n *jobNotifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	n.record(job, types.JobEventFailed, stage, safeProgress(job), errorMessage)
	n.log.Warn("job failed", "job_id", safeJobID(job), "job_type", safeJobType(job), "stage", stage, "error", errorMessage)
}

func (n *jobNotifier) JobSucceeded(job *types.JobRun) {
	n.record(job, types.JobEventSucceeded, safeStage(job), 100, "")
	n.log.Info("job succeeded", "job_id", safeJobID(job), "job_type", safeJobType(job), "subdomain", safeSubdomain(job))
}

func (n *jobNotifier) JobCanceled(job *types.JobRun) {
	n.log.Info("job canceled", "job_id", safeJobID(job), "job_type", safeJobType(job))
}

func (n *jobNotifier) JobRestarted(job *types.JobRun) {
	n.log.Info("job restarted", "job_id", safeJobID(job), "job_type", safeJobType(job))
}

func (n *jobNotifier) record(job *types.JobRun, kind types.JobEventKind, stage string, progress int, message string) {
	if n == nil || n.events == nil || job == nil || job.ID == uuid.Nil {
		return
	}
	ev := &types.JobRunEvent{
		ID:        uuid.New(),
		JobID:     job.ID,
		Subdomain: job.Subdomain,
		RunID:     job.RunID,
		JobType:   job.JobType,
		Kind:      string(kind),
		Status:    job.Status,
		Stage:     stage,
		Progress:  progress,
		Message:   message,
	}
	if err := n.events.Create(dbctx.Context{Ctx: context.Background()}, ev); err != nil {
		n.log.Warn("job event record failed", "job_id", job.ID, "error", err)
	}
}

func safeJobID(job *types.JobRun) uuid.UUID {
	if job == nil {
		return uuid.Nil
	}
	return job.ID
}

func safeJobType(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.JobType
}

func safeSubdomain(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.Subdomain
}

func safeStage(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.Stage
}

func safeProgress(job *types.JobRun) int {
	if job == nil {
		return 0
	}
	return job.Progress
}
