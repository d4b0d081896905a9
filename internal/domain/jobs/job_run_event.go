package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobEventKind string

const (
	JobEventCreated   JobEventKind = "created"
	JobEventProgress  JobEventKind = "progress"
	JobEventFailed    JobEventKind = "failed"
	JobEventSucceeded JobEventKind = "succeeded"
)

// JobRunEvent is an append-only ledger of job status/progress messages, kept
// for per-run operator timelines (read back through
// JobRunEventRepo.ListByRunID; the CLI `status` subcommand and the HTTP
// surface do not read it) and for grouping error fingerprints across a run. Not read by the stage protocol
// itself -- that invariant-bearing state lives entirely on Site.
type JobRunEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Subdomain string         `gorm:"column:subdomain;not null;index" json:"subdomain"`
	RunID     string         `gorm:"column:run_id;not null;index" json:"run_id"`
	JobType   string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Kind      string         `gorm:"column:kind;not null;index" json:"kind"`
	Status    string         `gorm:"column:status;not null;index" json:"status"`
	Stage     string         `gorm:"column:stage;not null;index" json:"stage"`
	Progress  int            `gorm:"column:progress;not null" json:"progress"`
	Message   string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Data      datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }
