// Package reconciler implements spec.md §4.5's periodic sweep: the backstop
// that recovers a site whose pipeline stalled because a worker crashed
// mid-stage or a coordinator's single-shot latch never fired. Grounded on
// the teacher's own polling-loop conventions (worker.runLoop's ticker) and
// on fsprobe's filesystem-truth predicate for the one stage (ocr) whose
// counters can drift from reality without a crash ever touching the DB row
// itself (a worker process dying after writing a .txt file but before its
// job_run update commits).
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/fsprobe"
	"github.com/yungbote/neurobridge-backend/internal/jobs/pipelineerr"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/services"
)

// Reconciler periodically sweeps sites whose updated_at is older than
// Threshold and whose current_stage is not yet "completed", repairing
// whatever state drifted out of sync with reality.
type Reconciler struct {
	Sites      repos.SiteStore
	Jobs       repos.JobRunRepo
	Probe      fsprobe.FilesystemProbe
	Jobsvc     services.JobService
	Graph      *stageproto.Graph
	Log        *logger.Logger
	Threshold  time.Duration
	SweepLimit int
	// Interval is how often Run ticks Sweep. Defaults to Threshold/2 (so a
	// stuck site is never more than one and a half thresholds from
	// recovery) when zero-valued.
	Interval time.Duration
}

// New constructs a Reconciler with its collaborators; threshold and limit
// fall back to 2 hours and 100 sites per sweep when zero-valued.
func New(sites repos.SiteStore, jobs repos.JobRunRepo, probe fsprobe.FilesystemProbe, jobsvc services.JobService, graph *stageproto.Graph, baseLog *logger.Logger, threshold, interval time.Duration, sweepLimit int) *Reconciler {
	if threshold <= 0 {
		threshold = 2 * time.Hour
	}
	if sweepLimit <= 0 {
		sweepLimit = 100
	}
	if interval <= 0 {
		interval = threshold / 2
	}
	return &Reconciler{
		Sites:      sites,
		Jobs:       jobs,
		Probe:      probe,
		Jobsvc:     jobsvc,
		Graph:      graph,
		Log:        baseLog.With("component", "Reconciler"),
		Threshold:  threshold,
		SweepLimit: sweepLimit,
		Interval:   interval,
	}
}

// Run ticks Sweep every Interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.Interval
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.Log.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Sweep finds every site stuck past Threshold and repairs it, returning the
// number of sites it took recovery action on.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	cutoff := time.Now().Add(-r.Threshold)

	sites, err := r.Sites.StuckSince(dbc, cutoff, r.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("reconciler: list stuck sites: %w", err)
	}

	recovered := 0
	for _, site := range sites {
		acted, err := r.recoverSite(ctx, dbc, site)
		if err != nil {
			r.Log.Warn("recover site failed", "subdomain", site.Subdomain, "stage", site.CurrentStage, "error", err)
			continue
		}
		if acted {
			recovered++
		}
	}
	return recovered, nil
}

func (r *Reconciler) recoverSite(ctx context.Context, dbc dbctx.Context, site *types.Site) (bool, error) {
	switch site.CurrentStage {
	case types.StageNone, types.StageFetch:
		return r.recoverSingleton(ctx, dbc, site, types.StageFetch, "fetch")
	case types.StageOCR:
		return r.recoverOCR(ctx, dbc, site)
	case types.StageCompilation:
		return r.recoverSingleton(ctx, dbc, site, types.StageCompilation, "compile")
	case types.StageExtraction:
		return r.recoverSingleton(ctx, dbc, site, types.StageExtraction, "extract")
	case types.StageDeploy:
		return r.recoverSingleton(ctx, dbc, site, types.StageDeploy, "deploy")
	default:
		return false, nil
	}
}

// recoverSingleton handles every stage whose fan-out size is always 1: if
// no job of jobType is in flight for this subdomain, the stage's sole job
// was lost (worker crash before claim committed, or before InitializeStage
// ran at all), so re-enqueue it fresh.
func (r *Reconciler) recoverSingleton(ctx context.Context, dbc dbctx.Context, site *types.Site, stage types.Stage, jobType string) (bool, error) {
	running, err := r.Jobs.ExistsRunning(dbc, site.Subdomain, jobType)
	if err != nil {
		return false, err
	}
	if running {
		return false, nil
	}

	runID := fmt.Sprintf("%s_reconcile_%d", site.Subdomain, time.Now().UTC().UnixNano())
	queue := r.Graph.Queue(stage)
	if _, err := r.Jobsvc.Enqueue(dbc, queue, jobType, site.Subdomain, runID, map[string]any{}, nil, 0); err != nil {
		return false, fmt.Errorf("reconciler: re-enqueue %s for %s: %w", jobType, site.Subdomain, err)
	}
	r.Log.Info("reconciler re-enqueued stalled stage", "subdomain", site.Subdomain, "stage", stage, "job_type", jobType)
	return true, nil
}

// recoverOCR re-derives the ocr stage's counters from the filesystem --
// the one stage where the authoritative signal (a worker's .txt output) can
// exist on disk even if its job_run row never reached "succeeded" -- then
// ensures the fan-in coordinator is queued so the pipeline can proceed.
func (r *Reconciler) recoverOCR(ctx context.Context, dbc dbctx.Context, site *types.Site) (bool, error) {
	docs, err := r.Probe.CountOCRComplete(site.Subdomain)
	if err != nil {
		return false, fmt.Errorf("reconciler: probe ocr state for %s: %w", site.Subdomain, err)
	}
	if len(docs) == 0 {
		return false, nil
	}

	total, completed, failed := site.Counters(types.StageOCR)
	if total != len(docs) {
		if err := r.Sites.InitializeStage(dbc, site.Subdomain, types.StageOCR, len(docs)); err != nil {
			return false, err
		}
		completed, failed = 0, 0
	}

	acted := false
	for _, done := range docs {
		if done {
			if completed+failed >= len(docs) {
				break
			}
			if err := r.Sites.IncrementCompleted(dbc, site.Subdomain, types.StageOCR); err != nil {
				return acted, err
			}
			completed++
			acted = true
		}
	}
	for i := completed + failed; i < len(docs); i++ {
		// Every document still missing .txt output after the stuck threshold
		// is treated as a permanent ocr failure so the pipeline can progress;
		// spec.md §7's reconciler recovery resolves stalls, it doesn't wait
		// indefinitely for a worker that may never come back.
		pe := pipelineerr.NewPermanent(pipelineerr.FingerprintNoTextFilesFound, fmt.Errorf("reconciler: no .txt output found after stall threshold"))
		if err := r.Sites.IncrementFailed(dbc, site.Subdomain, types.StageOCR, pe.Fingerprint, pe.Error()); err != nil {
			return acted, err
		}
		failed++
		acted = true
	}

	should, err := r.Sites.ShouldTriggerCoordinator(dbc, site.Subdomain, types.StageOCR)
	if err != nil {
		return acted, err
	}
	if !should {
		return acted, nil
	}

	// The fetch-enqueued ocr-coordinator depends on every ocr-page job; if
	// any of them terminally failed, PromoteReadyDependents never promotes
	// it out of deferred and it would otherwise sit there forever, wrongly
	// making ExistsRunning report the stage as already in flight. Clear it
	// before re-enqueuing a fresh one.
	if _, err := r.Jobs.CancelDeferred(dbc, site.Subdomain, "ocr-coordinator"); err != nil {
		return acted, fmt.Errorf("reconciler: cancel stale deferred ocr-coordinator for %s: %w", site.Subdomain, err)
	}

	running, err := r.Jobs.ExistsRunning(dbc, site.Subdomain, "ocr-coordinator")
	if err != nil {
		return acted, err
	}
	if running {
		return acted, nil
	}

	won, err := r.Sites.ClaimCoordinatorEnqueue(dbc, site.Subdomain)
	if err != nil {
		return acted, fmt.Errorf("reconciler: claim coordinator enqueue for %s: %w", site.Subdomain, err)
	}
	if !won {
		return acted, nil
	}

	runID := fmt.Sprintf("%s_recovered", site.Subdomain)
	queue := r.Graph.Queue(types.StageCompilation)
	if _, err := r.Jobsvc.Enqueue(dbc, queue, "ocr-coordinator", site.Subdomain, runID, map[string]any{}, nil, 0); err != nil {
		return acted, fmt.Errorf("reconciler: re-enqueue ocr-coordinator for %s: %w", site.Subdomain, err)
	}
	r.Log.Info("reconciler re-enqueued ocr coordinator", "subdomain", site.Subdomain, "run_id", runID)
	return true, nil
}
