package app

import (
	"strings"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/platform/envutil"
	"github.com/yungbote/neurobridge-backend/internal/utils"
)

// Config holds every env-driven knob the pipeline-coordination core reads
// at startup. Grounded on the teacher's own Config/LoadConfig shape,
// generalized from the teacher's auth-token settings to this module's
// storage/execution/reconciliation settings.
type Config struct {
	// StorageRoot is the filesystem root every site's pdfs/txt/artifact
	// tree lives under (STORAGE_ROOT/{subdomain}/...).
	StorageRoot string

	// DefaultOCRBackend is the tag OCRPageHandler resolves for a site
	// that doesn't specify its own (tesseract|vision).
	DefaultOCRBackend string

	// ExtractionEnabled toggles whether the stage graph includes the
	// optional extraction node between compilation and deploy.
	ExtractionEnabled bool

	// ReconcileInterval is how often the Reconciler sweeps.
	ReconcileInterval time.Duration
	// ReconcileThreshold is how stale (by updated_at) a site must be
	// before the reconciler treats it as stalled.
	ReconcileThreshold time.Duration
	// ReconcileSweepLimit bounds how many stalled sites one sweep repairs.
	ReconcileSweepLimit int

	// ExecutionBackend selects which executor dispatches jobs: "sql" runs
	// an in-process worker.Worker pool against job_run directly, "temporal"
	// hands dispatch to a Temporal workflow/activity pair instead.
	ExecutionBackend string
	// WorkerConcurrency is the SQL backend's poller goroutine count.
	WorkerConcurrency int
	// Queues restricts the SQL worker pool to a named subset of queues;
	// empty means every queue.
	Queues []string

	// OTELExporter selects the tracing exporter ("stdout" | "otlphttp").
	OTELExporter string

	// DeployBucketName is the GCS bucket the Deployer collaborator uploads
	// a site's compiled artifact tree to.
	DeployBucketName string

	// DocumentAIProjectID/Location/ProcessorID configure the optional
	// Document AI extractor, only constructed when ExtractionEnabled and
	// DocumentAIProcessorID is non-empty.
	DocumentAIProjectID   string
	DocumentAILocation    string
	DocumentAIProcessorID string

	// RedisAddr, left empty, disables the optional Redis dispatch-queue
	// mirror and pub/sub notifier entirely.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		StorageRoot:       utils.GetEnv("STORAGE_ROOT", "/var/lib/civicpipeline/sites", log),
		DefaultOCRBackend: utils.GetEnv("DEFAULT_OCR_BACKEND", "tesseract", log),
		ExtractionEnabled: envutil.Bool("EXTRACTION_ENABLED", false),

		ReconcileInterval:   envutil.Duration("RECONCILE_INTERVAL", 15*time.Minute),
		ReconcileThreshold:  envutil.Duration("RECONCILE_THRESHOLD", 2*time.Hour),
		ReconcileSweepLimit: utils.GetEnvAsInt("RECONCILE_SWEEP_LIMIT", 100, log),

		ExecutionBackend:  utils.GetEnv("EXECUTION_BACKEND", "sql", log),
		WorkerConcurrency: utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		Queues:            splitCSV(envutil.String("WORKER_QUEUES", "")),

		OTELExporter: utils.GetEnv("OTEL_EXPORTER", "stdout", log),

		DeployBucketName: utils.GetEnv("DEPLOY_GCS_BUCKET_NAME", "", log),

		DocumentAIProjectID:   utils.GetEnv("DOCUMENTAI_PROJECT_ID", "", log),
		DocumentAILocation:    utils.GetEnv("DOCUMENTAI_LOCATION", "us", log),
		DocumentAIProcessorID: utils.GetEnv("DOCUMENTAI_PROCESSOR_ID", "", log),

		RedisAddr:     utils.GetEnv("REDIS_ADDR", "", log),
		RedisPassword: utils.GetEnv("REDIS_PASSWORD", "", log),
		RedisDB:       utils.GetEnvAsInt("REDIS_DB", 0, log),
	}
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
