package sites

import (
	"time"

	"gorm.io/datatypes"
)

// Stage is a phase of the fetch -> ocr -> compilation -> [extraction] -> deploy pipeline.
// The zero value (empty string) represents "not yet started" (spec.md's current_stage = null).
type Stage string

const (
	StageNone        Stage = ""
	StageFetch       Stage = "fetch"
	StageOCR         Stage = "ocr"
	StageCompilation Stage = "compilation"
	StageExtraction  Stage = "extraction"
	StageDeploy      Stage = "deploy"
	StageCompleted   Stage = "completed"
)

// Status is the legacy, human-facing label carried for operator dashboards.
// It is always derived from CurrentStage (see DeriveStatus); never set directly
// except by the upstream "create site" action for a brand-new row.
type Status string

const (
	StatusNew        Status = "new"
	StatusFetching   Status = "fetching"
	StatusNeedsOCR   Status = "needs_ocr"
	StatusCompiling  Status = "compiling"
	StatusExtracting Status = "extracting"
	StatusNeedsDeploy Status = "needs_deploy"
	StatusDeployed   Status = "deployed"
)

// Site is the primary entity of the pipeline coordinator: one row per tracked
// subdomain, carrying identity/config, the current stage, per-stage atomic
// counters, the coordinator claim latch, and the last-error snapshot.
//
// Mutated only through the counter-update primitives exposed by SiteStore;
// nothing outside this package's repo implementation should write to these
// columns directly (spec.md §3's "Mutated only by workers and the reconciler,
// always through the counter-update primitives").
type Site struct {
	Subdomain string `gorm:"column:subdomain;primaryKey" json:"subdomain"`

	Name     string `gorm:"column:name;not null" json:"name"`
	State    string `gorm:"column:state" json:"state,omitempty"`
	Country  string `gorm:"column:country" json:"country,omitempty"`
	Kind     string `gorm:"column:kind" json:"kind,omitempty"`
	KindID   string `gorm:"column:kind_id" json:"kind_id,omitempty"`
	KindName string `gorm:"column:kind_name" json:"kind_name,omitempty"`
	Scraper  string `gorm:"column:scraper;not null" json:"scraper"`

	StartYear *int     `gorm:"column:start_year" json:"start_year,omitempty"`
	Lat       *float64 `gorm:"column:lat" json:"lat,omitempty"`
	Lng       *float64 `gorm:"column:lng" json:"lng,omitempty"`

	// Extra is an opaque, per-scraper configuration blob (e.g. base URLs,
	// meeting-body ids). The core never interprets it.
	Extra datatypes.JSON `gorm:"column:extra;type:jsonb" json:"extra,omitempty"`

	CurrentStage Stage `gorm:"column:current_stage" json:"current_stage"`
	Status       Status `gorm:"column:status;not null" json:"status"`

	StartedAt *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`

	FetchTotal     int `gorm:"column:fetch_total;not null;default:0" json:"fetch_total"`
	FetchCompleted int `gorm:"column:fetch_completed;not null;default:0" json:"fetch_completed"`
	FetchFailed    int `gorm:"column:fetch_failed;not null;default:0" json:"fetch_failed"`

	OCRTotal     int `gorm:"column:ocr_total;not null;default:0" json:"ocr_total"`
	OCRCompleted int `gorm:"column:ocr_completed;not null;default:0" json:"ocr_completed"`
	OCRFailed    int `gorm:"column:ocr_failed;not null;default:0" json:"ocr_failed"`

	CompilationTotal     int `gorm:"column:compilation_total;not null;default:0" json:"compilation_total"`
	CompilationCompleted int `gorm:"column:compilation_completed;not null;default:0" json:"compilation_completed"`
	CompilationFailed    int `gorm:"column:compilation_failed;not null;default:0" json:"compilation_failed"`

	ExtractionTotal     int `gorm:"column:extraction_total;not null;default:0" json:"extraction_total"`
	ExtractionCompleted int `gorm:"column:extraction_completed;not null;default:0" json:"extraction_completed"`
	ExtractionFailed    int `gorm:"column:extraction_failed;not null;default:0" json:"extraction_failed"`

	DeployTotal     int `gorm:"column:deploy_total;not null;default:0" json:"deploy_total"`
	DeployCompleted int `gorm:"column:deploy_completed;not null;default:0" json:"deploy_completed"`
	DeployFailed    int `gorm:"column:deploy_failed;not null;default:0" json:"deploy_failed"`

	// CoordinatorEnqueued is the single-shot latch that linearizes the fan-in:
	// exactly one caller may flip it from false to true between two
	// InitializeStage calls (spec.md §4.1's claim_coordinator_enqueue).
	CoordinatorEnqueued bool `gorm:"column:coordinator_enqueued;not null;default:false" json:"coordinator_enqueued"`

	LastErrorStage   string     `gorm:"column:last_error_stage" json:"last_error_stage,omitempty"`
	LastErrorMessage string     `gorm:"column:last_error_message" json:"last_error_message,omitempty"`
	LastErrorAt      *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
}

func (Site) TableName() string { return "site" }

// Counters returns the (total, completed, failed) triple for the given stage.
// Unknown stages (StageNone, StageCompleted) return all zeros.
func (s *Site) Counters(stage Stage) (total, completed, failed int) {
	switch stage {
	case StageFetch:
		return s.FetchTotal, s.FetchCompleted, s.FetchFailed
	case StageOCR:
		return s.OCRTotal, s.OCRCompleted, s.OCRFailed
	case StageCompilation:
		return s.CompilationTotal, s.CompilationCompleted, s.CompilationFailed
	case StageExtraction:
		return s.ExtractionTotal, s.ExtractionCompleted, s.ExtractionFailed
	case StageDeploy:
		return s.DeployTotal, s.DeployCompleted, s.DeployFailed
	default:
		return 0, 0, 0
	}
}

// DeriveStatus computes the legacy operator-facing status string from the
// authoritative CurrentStage, per spec.md §9: "status is a derived/legacy
// label for human operators."
func DeriveStatus(stage Stage) Status {
	switch stage {
	case StageNone:
		return StatusNew
	case StageFetch:
		return StatusFetching
	case StageOCR:
		return StatusNeedsOCR
	case StageCompilation:
		return StatusCompiling
	case StageExtraction:
		return StatusExtracting
	case StageDeploy:
		return StatusNeedsDeploy
	case StageCompleted:
		return StatusDeployed
	default:
		return StatusNew
	}
}

// StageColumnPrefix returns the column-name prefix ("fetch", "ocr", ...) for a
// stage, used by repo implementations to build dynamic UPDATE clauses.
func StageColumnPrefix(stage Stage) (string, bool) {
	switch stage {
	case StageFetch, StageOCR, StageCompilation, StageExtraction, StageDeploy:
		return string(stage), true
	default:
		return "", false
	}
}
