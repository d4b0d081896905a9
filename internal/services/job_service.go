package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/neurobridge-backend/internal/pkg/errors"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

// JobService is the operator-facing surface over the job queue: enqueueing a
// new root job (e.g. a fetch kicked off by `clerkctl enqueue`), inspecting a
// run's jobs, and canceling/restarting a stuck one. Workers never go through
// this service -- they use runtime.Context -- this is for the CLI and the
// HTTP status surface (spec.md §9's external interfaces).
type JobService interface {
	Enqueue(dbc dbctx.Context, queue, jobType, subdomain, runID string, payload map[string]any, dependsOn []uuid.UUID, timeoutSeconds int) (*types.JobRun, error)
	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	ListBySubdomain(dbc dbctx.Context, subdomain string, limit int) ([]*types.JobRun, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	Restart(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, notify JobNotifier) JobService {
	return &jobService{
		db:     db,
		log:    baseLog.With("service", "JobService"),
		repo:   repo,
		notify: notify,
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, queue, jobType, subdomain, runID string, payload map[string]any, dependsOn []uuid.UUID, timeoutSeconds int) (*types.JobRun, error) {
	if queue == "" {
		return nil, fmt.Errorf("missing queue")
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if subdomain == "" {
		return nil, fmt.Errorf("missing subdomain")
	}
	if runID == "" {
		runID = fmt.Sprintf("%s_%d", subdomain, time.Now().UTC().UnixNano())
	}

	var payloadJSON datatypes.JSON
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		payloadJSON = datatypes.JSON(b)
	} else {
		payloadJSON = datatypes.JSON([]byte(`{}`))
	}

	job := &types.JobRun{
		ID:             uuid.New(),
		Queue:          queue,
		JobType:        jobType,
		Subdomain:      subdomain,
		RunID:          runID,
		Message:        "Queued",
		Payload:        payloadJSON,
		Result:         datatypes.JSON([]byte(`{}`)),
		DependsOn:      datatypes.JSONSlice[uuid.UUID](dependsOn),
		TimeoutSeconds: timeoutSeconds,
	}
	created, err := s.repo.Create(dbc, []*types.JobRun{job})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	out := created[0]
	if s.notify != nil {
		s.notify.JobCreated(out)
	}
	return out, nil
}

func (s *jobService) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing job id", pkgerrors.ErrInvalidArgument)
	}
	rows, err := s.repo.GetByIDs(dbc, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: job %s", pkgerrors.ErrNotFound, jobID)
	}
	return rows[0], nil
}

func (s *jobService) ListBySubdomain(dbc dbctx.Context, subdomain string, limit int) ([]*types.JobRun, error) {
	if subdomain == "" {
		return nil, fmt.Errorf("missing subdomain")
	}
	return s.repo.ListBySubdomain(dbc, subdomain, limit)
}

func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == types.StatusSucceeded || job.Status == types.StatusFailed || job.Status == types.StatusCanceled {
		return job, nil
	}
	now := time.Now()
	if err := s.repo.UpdateFields(dbc, jobID, map[string]interface{}{
		"status":       types.StatusCanceled,
		"message":      "Canceled",
		"locked_at":    nil,
		"heartbeat_at": now,
	}); err != nil {
		return nil, err
	}
	job.Status = types.StatusCanceled
	job.Message = "Canceled"
	job.LockedAt = nil
	job.HeartbeatAt = &now
	if s.notify != nil {
		s.notify.JobCanceled(job)
	}
	return job, nil
}

func (s *jobService) Restart(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusCanceled && job.Status != types.StatusFailed {
		return nil, fmt.Errorf("job not restartable, status=%s", job.Status)
	}
	now := time.Now()
	if err := s.repo.UpdateFields(dbc, jobID, map[string]interface{}{
		"status":        types.StatusQueued,
		"progress":      0,
		"message":       "Restarting...",
		"error":         "",
		"last_error_at": nil,
		"locked_at":     nil,
		"heartbeat_at":  now,
	}); err != nil {
		return nil, err
	}
	job.Status = types.StatusQueued
	job.Progress = 0
	job.Message = "Restarting..."
	job.Error = ""
	job.LastErrorAt = nil
	job.LockedAt = nil
	job.HeartbeatAt = &now
	if s.notify != nil {
		s.notify.JobRestarted(job)
	}
	return job, nil
}
