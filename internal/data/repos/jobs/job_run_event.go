package jobs

import (
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

// JobRunEventRepo is an append-only writer for the job_run_event ledger
// that JobNotifier fills (spec.md §3's Run grouping, correlated by run_id).
// ListByRunID reads one run's events back in creation order; neither the
// CLI `status` subcommand nor the HTTP handlers read this ledger.
type JobRunEventRepo interface {
	Create(dbc dbctx.Context, ev *types.JobRunEvent) error
	ListByRunID(dbc dbctx.Context, runID string, limit int) ([]*types.JobRunEvent, error)
}

type jobRunEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunEventRepo(db *gorm.DB, baseLog *logger.Logger) JobRunEventRepo {
	return &jobRunEventRepo{db: db, log: baseLog.With("repo", "JobRunEventRepo")}
}

func (r *jobRunEventRepo) Create(dbc dbctx.Context, ev *types.JobRunEvent) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if ev == nil {
		return nil
	}
	return tx.WithContext(dbc.Ctx).Create(ev).Error
}

func (r *jobRunEventRepo) ListByRunID(dbc dbctx.Context, runID string, limit int) ([]*types.JobRunEvent, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if limit <= 0 {
		limit = 200
	}
	var out []*types.JobRunEvent
	err := tx.WithContext(dbc.Ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
