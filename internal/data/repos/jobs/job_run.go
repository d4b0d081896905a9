package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

// JobRunRepo is the Job Queues component of spec.md §4.2: a durable,
// dependency-aware FIFO queue over job_run rows, bound to named queues.
// The dependency graph (depends_on) is checked here rather than tracked in a
// separate table -- PromoteReadyDependents realizes the deferred->queued
// transition the spec requires without a second bookkeeping structure.
type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, queues []string, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	// PromoteReadyDependents transitions every deferred job that depended on
	// finishedJobID (and whose other dependencies have all succeeded) to
	// queued. Called after a job reaches status=succeeded.
	PromoteReadyDependents(dbc dbctx.Context, finishedJobID uuid.UUID) (int64, error)
	ListBySubdomain(dbc dbctx.Context, subdomain string, limit int) ([]*types.JobRun, error)
	ListFailed(dbc dbctx.Context, limit int) ([]*types.JobRun, error)
	CountByQueue(dbc dbctx.Context) (map[string]int64, error)
	// ExistsRunning reports whether a job of jobType for subdomain is queued,
	// deferred, or running -- used by the reconciler to avoid re-enqueuing a
	// single-job stage that's already in flight.
	ExistsRunning(dbc dbctx.Context, subdomain string, jobType string) (bool, error)
	// CancelDeferred cancels every job of jobType for subdomain still sitting
	// in status=deferred, returning how many it cleared. A coordinator job
	// gets stuck deferred forever once one of its depends_on ever terminally
	// fails, since PromoteReadyDependents only promotes once every dependency
	// succeeds -- grounded on the original's cleanup_deferred_coordinators.py,
	// which exists for exactly this stuck state.
	CancelDeferred(dbc dbctx.Context, subdomain string, jobType string) (int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: baseLog.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	for _, j := range jobs {
		if j.Status == "" {
			if len(j.DependsOn) > 0 {
				j.Status = types.StatusDeferred
			} else {
				j.Status = types.StatusQueued
			}
		}
	}
	if err := tx.WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out []*types.JobRun
	if len(ids) == 0 {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNextRunnable finds and locks one dispatchable job bound to one of the
// given queues, mirroring the teacher's ClaimNextRunnable (FOR UPDATE SKIP
// LOCKED). Runnable means: queued outright, or failed-but-retryable
// (transient-error retry with backoff), or running-but-stale (crash
// recovery). Deferred jobs are never selected here -- only
// PromoteReadyDependents or the reconciler moves them to queued.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, queues []string, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if len(queues) == 0 {
		return nil, nil
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.JobRun
	err := tx.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue IN ?", queues).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.StatusQueued, types.StatusFailed, maxAttempts, retryCutoff, types.StatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).Where("id = ?", id).Updates(updates).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.StatusRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

// PromoteReadyDependents scans deferred jobs whose depends_on jsonb array
// contains finishedJobID, and for each one whose every dependency has now
// succeeded, flips it to queued. Uses a jsonb containment check so it works
// without a separate dependency-edge table.
func (r *jobRunRepo) PromoteReadyDependents(dbc dbctx.Context, finishedJobID uuid.UUID) (int64, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var candidates []types.JobRun
	err := tx.WithContext(dbc.Ctx).
		Where("status = ?", types.StatusDeferred).
		Where("depends_on @> ?::jsonb", "[\""+finishedJobID.String()+"\"]").
		Find(&candidates).Error
	if err != nil {
		return 0, err
	}
	var promoted int64
	for _, c := range candidates {
		ready, err := r.allDepsSucceeded(dbc, tx, c.DependsOn)
		if err != nil {
			return promoted, err
		}
		if !ready {
			continue
		}
		res := tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).
			Where("id = ? AND status = ?", c.ID, types.StatusDeferred).
			Updates(map[string]interface{}{"status": types.StatusQueued, "updated_at": time.Now()})
		if res.Error != nil {
			return promoted, res.Error
		}
		promoted += res.RowsAffected
	}
	return promoted, nil
}

func (r *jobRunRepo) allDepsSucceeded(dbc dbctx.Context, tx *gorm.DB, depIDs []uuid.UUID) (bool, error) {
	if len(depIDs) == 0 {
		return true, nil
	}
	var count int64
	err := tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).
		Where("id IN ? AND status = ?", depIDs, types.StatusSucceeded).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return int(count) == len(depIDs), nil
}

func (r *jobRunRepo) ListBySubdomain(dbc dbctx.Context, subdomain string, limit int) ([]*types.JobRun, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.JobRun
	err := tx.WithContext(dbc.Ctx).
		Where("subdomain = ?", subdomain).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *jobRunRepo) ListFailed(dbc dbctx.Context, limit int) ([]*types.JobRun, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.JobRun
	err := tx.WithContext(dbc.Ctx).
		Where("status = ?", types.StatusFailed).
		Order("last_error_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *jobRunRepo) CountByQueue(dbc dbctx.Context) (map[string]int64, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	type row struct {
		Queue string
		N     int64
	}
	var rows []row
	err := tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).
		Select("queue, count(*) as n").
		Where("status IN ?", []string{types.StatusQueued, types.StatusDeferred, types.StatusRunning}).
		Group("queue").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rr := range rows {
		out[rr.Queue] = rr.N
	}
	return out, nil
}

func (r *jobRunRepo) ExistsRunning(dbc dbctx.Context, subdomain string, jobType string) (bool, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).
		Where("subdomain = ? AND job_type = ? AND status IN ?", subdomain, jobType,
			[]string{types.StatusQueued, types.StatusDeferred, types.StatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *jobRunRepo) CancelDeferred(dbc dbctx.Context, subdomain string, jobType string) (int64, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(dbc.Ctx).Model(&types.JobRun{}).
		Where("subdomain = ? AND job_type = ? AND status = ?", subdomain, jobType, types.StatusDeferred).
		Updates(map[string]interface{}{
			"status":     types.StatusCanceled,
			"message":    "Canceled: superseded by reconciler recovery",
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
