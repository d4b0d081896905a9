package db

import (
	"fmt"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"gorm.io/gorm"
)

// AutoMigrateAll migrates every table this module owns: the Site State
// Store and the Job Queue's two tables.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Site{},
		&types.JobRun{},
		&types.JobRunEvent{},
	)
}

// EnsureJobQueueIndexes adds the indexes AutoMigrate's struct tags can't
// express: partial indexes shaped around the job queue's actual access
// patterns (claiming runnable work, promoting deferred dependents).
func EnsureJobQueueIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_deferred_depends_on
		ON job_run USING GIN (depends_on)
		WHERE status = 'deferred';
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_deferred_depends_on: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_claimable
		ON job_run (queue, status, created_at)
		WHERE status = 'queued';
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_claimable: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_site_subdomain
		ON site (subdomain);
	`).Error; err != nil {
		return fmt.Errorf("create idx_site_subdomain: %w", err)
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureJobQueueIndexes(s.db); err != nil {
		s.log.Error("Job queue index migration failed", "error", err)
		return err
	}
	return nil
}
