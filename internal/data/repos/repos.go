package repos

import (
	"github.com/yungbote/neurobridge-backend/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-backend/internal/data/repos/sites"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"gorm.io/gorm"
)

type JobRunRepo = jobs.JobRunRepo
type JobRunEventRepo = jobs.JobRunEventRepo
type SiteStore = sites.SiteStore

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}

func NewJobRunEventRepo(db *gorm.DB, baseLog *logger.Logger) JobRunEventRepo {
	return jobs.NewJobRunEventRepo(db, baseLog)
}

func NewSiteStore(db *gorm.DB, baseLog *logger.Logger) SiteStore {
	return sites.NewSiteStore(db, baseLog)
}
