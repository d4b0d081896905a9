package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobRun is this module's durable record for spec.md §3's "Job": a
// queue-resident unit of work. The row is simultaneously the dispatch queue
// entry and the execution-state record (teacher's job_run shape), unless the
// Redis-backed dispatch queue is enabled, in which case this row remains the
// system-of-record mirror (see internal/jobs/queue/redisqueue).
type JobRun struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	// Queue is one of high/fetch/ocr/compilation/extraction/deploy.
	Queue string `gorm:"column:queue;not null;index" json:"queue"`
	// JobType is spec.md's func_name: fetch | ocr-page | ocr-coordinator | compile | extract | deploy.
	JobType string `gorm:"column:job_type;not null;index" json:"job_type"`

	Subdomain string `gorm:"column:subdomain;not null;index" json:"subdomain"`
	RunID     string `gorm:"column:run_id;not null;index" json:"run_id"`

	// Status realizes spec.md's {queued, deferred, started, finished, failed}:
	// started is called "running" and finished is called "succeeded" here,
	// matching the vocabulary the rest of this codebase's job tooling uses.
	Status string `gorm:"column:status;not null;index" json:"status"`
	Stage  string `gorm:"column:stage;index" json:"stage,omitempty"`

	Progress int    `gorm:"column:progress;not null;default:0" json:"progress"`
	Message  string `gorm:"column:message" json:"message,omitempty"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error    string `gorm:"column:error" json:"error,omitempty"`

	// DependsOn holds the ids this job must wait on; the job stays in
	// "deferred" until every id here reaches "succeeded" (spec.md §4.2).
	DependsOn datatypes.JSONSlice[uuid.UUID] `gorm:"column:depends_on;type:jsonb" json:"depends_on,omitempty"`

	// TimeoutSeconds is the per-job wall-clock timeout (spec.md §4.2/§5).
	TimeoutSeconds int    `gorm:"column:timeout_seconds;not null;default:0" json:"timeout_seconds,omitempty"`
	Description    string `gorm:"column:description" json:"description,omitempty"`
	// ResultTTLSeconds bounds how long a finished job's row/result is
	// retained before operational tooling may expunge it.
	ResultTTLSeconds int `gorm:"column:result_ttl_seconds;not null;default:0" json:"result_ttl_seconds,omitempty"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

const (
	StatusQueued    = "queued"
	StatusDeferred  = "deferred"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

const (
	QueueHigh        = "high"
	QueueFetch       = "fetch"
	QueueOCR         = "ocr"
	QueueCompilation = "compilation"
	QueueExtraction  = "extraction"
	QueueDeploy      = "deploy"
)

const (
	JobTypeFetch           = "fetch"
	JobTypeOCRPage         = "ocr-page"
	JobTypeOCRCoordinator  = "ocr-coordinator"
	JobTypeCompile         = "compile"
	JobTypeExtract         = "extract"
	JobTypeDeploy          = "deploy"
)
