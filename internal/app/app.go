// Package app wires every component the pipeline coordinator needs into one
// process: the Site State Store and Job Queue repositories, the collaborator
// registry, the execution backend (in-process SQL worker pool or Temporal),
// the reconciler sweep, tracing, and the HTTP status surface. Grounded on
// the teacher's own internal/app package, generalized from its per-request
// auth/media wiring to this module's pipeline components.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/data/db"
	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	civichttp "github.com/yungbote/neurobridge-backend/internal/http"
	httpH "github.com/yungbote/neurobridge-backend/internal/http/handlers"
	"github.com/yungbote/neurobridge-backend/internal/jobs/collaborators"
	"github.com/yungbote/neurobridge-backend/internal/jobs/fsprobe"
	"github.com/yungbote/neurobridge-backend/internal/jobs/queue/redisqueue"
	"github.com/yungbote/neurobridge-backend/internal/jobs/reconciler"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
	"github.com/yungbote/neurobridge-backend/internal/jobs/worker"
	"github.com/yungbote/neurobridge-backend/internal/jobs/workers"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/platform/gcp"
	platformlogger "github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/platform/otelx"
	"github.com/yungbote/neurobridge-backend/internal/services"
	"github.com/yungbote/neurobridge-backend/internal/temporalx"
	"github.com/yungbote/neurobridge-backend/internal/temporalx/temporalworker"
)

// App holds every long-lived collaborator the two process modes (HTTP
// server, worker pool) share. cmd/main.go constructs exactly one of these.
type App struct {
	Log *logger.Logger

	cfg Config

	pg       *db.PostgresService
	sites    repos.SiteStore
	jobs     repos.JobRunRepo
	events   repos.JobRunEventRepo
	jobsvc   services.JobService
	notify   services.JobNotifier
	mirror   *redisqueue.Mirror
	graph    *stageproto.Graph
	registry *jobrt.Registry
	probe    fsprobe.FilesystemProbe

	worker     *worker.Worker
	temporalRn *temporalworker.Runner
	reconciler *reconciler.Reconciler

	engine *gin.Engine

	otelShutdown func(context.Context) error
	cancelBg     context.CancelFunc
}

// New constructs an App: connects to Postgres, migrates, builds every
// repository/collaborator, assembles the stage graph and handler registry,
// and selects the execution backend per cfg.ExecutionBackend. It does not
// start any background goroutine; call Start for that.
func New() (*App, error) {
	plainLog, err := logger.New(defaultLogMode())
	if err != nil {
		return nil, fmt.Errorf("app: init logger: %w", err)
	}
	platLog, err := platformlogger.New(defaultLogMode())
	if err != nil {
		return nil, fmt.Errorf("app: init platform logger: %w", err)
	}

	cfg := LoadConfig(plainLog)

	pg, err := db.NewPostgresService(plainLog)
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	sites := repos.NewSiteStore(pg.DB(), plainLog)
	jobRepo := repos.NewJobRunRepo(pg.DB(), plainLog)
	events := repos.NewJobRunEventRepo(pg.DB(), plainLog)

	notify := services.NewJobNotifier(plainLog, events)
	mirror := redisqueue.NewMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, plainLog)
	notify = redisqueue.Wrap(notify, mirror)

	jobsvc := services.NewJobService(pg.DB(), plainLog, jobRepo, notify)

	graph := stageproto.NewGraph(cfg.ExtractionEnabled)
	probe := fsprobe.New(cfg.StorageRoot)

	registry := jobrt.NewRegistry()
	if err := registerHandlers(registry, graph, cfg, platLog); err != nil {
		return nil, fmt.Errorf("app: register handlers: %w", err)
	}

	otelShutdown := otelx.Init(context.Background(), platLog, cfg.OTELExporter, otelx.Config{
		ServiceName: "civicpipeline",
		Environment: defaultLogMode(),
	})

	rec := reconciler.New(sites, jobRepo, probe, jobsvc, graph, plainLog, cfg.ReconcileThreshold, cfg.ReconcileInterval, cfg.ReconcileSweepLimit)

	a := &App{
		Log:          plainLog,
		cfg:          cfg,
		pg:           pg,
		sites:        sites,
		jobs:         jobRepo,
		events:       events,
		jobsvc:       jobsvc,
		notify:       notify,
		mirror:       mirror,
		graph:        graph,
		registry:     registry,
		probe:        probe,
		reconciler:   rec,
		otelShutdown: otelShutdown,
	}

	switch cfg.ExecutionBackend {
	case "temporal":
		tc, err := temporalx.NewClient(platLog)
		if err != nil {
			return nil, fmt.Errorf("app: temporal client: %w", err)
		}
		if tc == nil {
			plainLog.Warn("EXECUTION_BACKEND=temporal but TEMPORAL_ADDRESS is unset; falling back to sql backend")
			a.worker = worker.NewWorker(pg.DB(), plainLog, jobRepo, sites, registry, notify, cfg.Queues)
		} else {
			rn, err := temporalworker.NewRunner(plainLog, tc, pg.DB(), jobRepo, registry, notify)
			if err != nil {
				return nil, fmt.Errorf("app: temporal runner: %w", err)
			}
			a.temporalRn = rn
		}
	default:
		a.worker = worker.NewWorker(pg.DB(), plainLog, jobRepo, sites, registry, notify, cfg.Queues)
	}

	a.engine = civichttp.NewRouter(civichttp.RouterConfig{
		HealthHandler: httpH.NewHealthHandler(),
		SiteHandler:   httpH.NewSiteHandler(sites),
		JobHandler:    httpH.NewJobHandler(jobsvc),
	})

	return a, nil
}

func defaultLogMode() string {
	return "development"
}

// registerHandlers builds every collaborator (scraper/OCR backends
// self-register via their package init()) and registers the six
// runtime.Handler implementations the job_type column dispatches to.
func registerHandlers(registry *jobrt.Registry, graph *stageproto.Graph, cfg Config, platLog *platformlogger.Logger) error {
	compiler := &collaborators.SQLiteCompiler{}

	extractor, err := buildExtractor(cfg, platLog)
	if err != nil {
		return err
	}

	deployer, err := buildDeployer(cfg, platLog)
	if err != nil {
		return err
	}

	handlers := []jobrt.Handler{
		&workers.FetchHandler{Graph: graph, StorageRoot: cfg.StorageRoot},
		&workers.OCRPageHandler{StorageRoot: cfg.StorageRoot, DefaultBackendTag: cfg.DefaultOCRBackend},
		&workers.OCRCoordinatorHandler{Graph: graph},
		&workers.CompileHandler{Graph: graph, StorageRoot: cfg.StorageRoot, Compiler: compiler},
		&workers.ExtractHandler{Graph: graph, StorageRoot: cfg.StorageRoot, Extractor: extractor},
		&workers.DeployHandler{Graph: graph, StorageRoot: cfg.StorageRoot, Deployer: deployer},
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// buildExtractor constructs the Document AI extractor only when extraction
// is enabled and a processor is configured; otherwise the stage graph's
// extraction node (when present) runs a no-op, matching spec.md §9's "treat
// extraction as optional."
func buildExtractor(cfg Config, platLog *platformlogger.Logger) (collaborators.Extractor, error) {
	if !cfg.ExtractionEnabled || cfg.DocumentAIProcessorID == "" {
		return collaborators.NoopExtractor{}, nil
	}
	doc, err := gcp.NewDocument(platLog)
	if err != nil {
		platLog.Warn("document ai unavailable, extraction will no-op", "error", err)
		return collaborators.NoopExtractor{}, nil
	}
	return &collaborators.DocumentAIExtractor{
		Doc:         doc,
		ProjectID:   cfg.DocumentAIProjectID,
		Location:    cfg.DocumentAILocation,
		ProcessorID: cfg.DocumentAIProcessorID,
	}, nil
}

func buildDeployer(cfg Config, platLog *platformlogger.Logger) (collaborators.Deployer, error) {
	bucket, err := gcp.NewBucketService(platLog)
	if err != nil {
		return nil, fmt.Errorf("build deployer: %w", err)
	}
	return &collaborators.GCSDeployer{Bucket: bucket}, nil
}

// Start launches background components: the reconciler sweep always runs,
// the execution backend (worker pool or Temporal runner) runs when
// runWorker is set. runServer is accepted for symmetry with cmd/main.go's
// call site; Run is what actually serves HTTP.
func (a *App) Start(runServer, runWorker bool) {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelBg = cancel

	go a.reconciler.Run(ctx)

	if runWorker {
		switch {
		case a.temporalRn != nil:
			go func() {
				if err := a.temporalRn.Start(ctx); err != nil {
					a.Log.Warn("temporal runner stopped", "error", err)
				}
			}()
		case a.worker != nil:
			a.worker.Start(ctx)
		}
	}
}

// Run serves the HTTP status surface on addr until it errors or the
// process is signaled to stop.
func (a *App) Run(addr string) error {
	if a.engine == nil {
		return fmt.Errorf("app: http engine not initialized")
	}
	return a.engine.Run(addr)
}

// Close releases every long-lived resource: background goroutines, the
// Redis mirror, tracing, and the database connection pool.
func (a *App) Close() {
	if a.cancelBg != nil {
		a.cancelBg()
	}
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(ctx)
	}
	a.Log.Sync()
}
