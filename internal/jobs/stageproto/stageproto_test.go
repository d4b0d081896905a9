package stageproto_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	"github.com/yungbote/neurobridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/pipelineerr"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

func TestFanOut_HappyPath(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	jobRepo := repos.NewJobRunRepo(tx, log)
	siteStore := repos.NewSiteStore(tx, log)
	subdomain := "ex.test"
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	if err := siteStore.Upsert(dbc, &types.Site{Subdomain: subdomain, Name: subdomain, Scraper: "dummy"}); err != nil {
		t.Fatalf("seed site: %v", err)
	}

	fetchJob := mustCreate(t, jobRepo, subdomain, "run1", types.JobTypeFetch, types.QueueFetch)
	jc := jobrt.NewContext(context.Background(), tx, fetchJob, jobRepo, siteStore, nil)

	graph := stageproto.NewGraph(false)
	children := []stageproto.ChildSpec{
		{JobType: types.JobTypeOCRPage, Payload: map[string]any{"document_path": "a.pdf"}},
		{JobType: types.JobTypeOCRPage, Payload: map[string]any{"document_path": "b.pdf"}},
		{JobType: types.JobTypeOCRPage, Payload: map[string]any{"document_path": "c.pdf"}},
	}
	if err := stageproto.FanOut(jc, graph, types.StageOCR, children, types.JobTypeOCRCoordinator, nil); err != nil {
		t.Fatalf("fan out: %v", err)
	}

	site, err := siteStore.Get(dbc, subdomain)
	if err != nil {
		t.Fatalf("get site: %v", err)
	}
	if site.OCRTotal != 3 || site.OCRCompleted != 0 || site.OCRFailed != 0 {
		t.Fatalf("unexpected ocr counters: %+v", site)
	}

	all, err := jobRepo.ListBySubdomain(dbc, subdomain, 50)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	var ocrPages, coordinators int
	for _, j := range all {
		switch j.JobType {
		case types.JobTypeOCRPage:
			ocrPages++
			if j.Status != types.StatusQueued {
				t.Fatalf("expected ocr-page queued, got %s", j.Status)
			}
		case types.JobTypeOCRCoordinator:
			coordinators++
			if j.Status != types.StatusDeferred {
				t.Fatalf("expected coordinator deferred pending deps, got %s", j.Status)
			}
			if len(j.DependsOn) != 3 {
				t.Fatalf("expected 3 deps, got %d", len(j.DependsOn))
			}
		}
	}
	if ocrPages != 3 || coordinators != 1 {
		t.Fatalf("expected 3 ocr-page + 1 coordinator, got %d/%d", ocrPages, coordinators)
	}

	for _, j := range all {
		if j.JobType != types.JobTypeOCRPage {
			continue
		}
		pageCtx := jobrt.NewContext(context.Background(), tx, j, jobRepo, siteStore, nil)
		if err := stageproto.RecordSuccess(pageCtx, types.StageOCR); err != nil {
			t.Fatalf("record success: %v", err)
		}
		if err := jobRepo.UpdateFields(dbc, j.ID, map[string]interface{}{"status": types.StatusSucceeded}); err != nil {
			t.Fatalf("mark succeeded: %v", err)
		}
		if _, err := jobRepo.PromoteReadyDependents(dbc, j.ID); err != nil {
			t.Fatalf("promote dependents: %v", err)
		}
	}

	site, err = siteStore.Get(dbc, subdomain)
	if err != nil {
		t.Fatalf("get site after completion: %v", err)
	}
	if site.OCRCompleted != 3 {
		t.Fatalf("expected ocr_completed=3, got %d", site.OCRCompleted)
	}

	trigger, err := siteStore.ShouldTriggerCoordinator(dbc, subdomain, types.StageOCR)
	if err != nil {
		t.Fatalf("should trigger: %v", err)
	}
	if !trigger {
		t.Fatalf("expected coordinator to be triggerable")
	}

	var coordinator *types.JobRun
	all, err = jobRepo.ListBySubdomain(dbc, subdomain, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, j := range all {
		if j.JobType == types.JobTypeOCRCoordinator {
			coordinator = j
		}
	}
	if coordinator == nil {
		t.Fatalf("expected coordinator job")
	}
	if coordinator.Status != types.StatusQueued {
		t.Fatalf("expected coordinator promoted to queued, got %s", coordinator.Status)
	}

	cjc := jobrt.NewContext(context.Background(), tx, coordinator, jobRepo, siteStore, nil)
	if err := stageproto.RunCoordinator(cjc, graph, types.StageOCR, types.JobTypeCompile, nil); err != nil {
		t.Fatalf("run coordinator: %v", err)
	}

	site, err = siteStore.Get(dbc, subdomain)
	if err != nil {
		t.Fatalf("get site post-coordinator: %v", err)
	}
	if site.CurrentStage != types.StageCompilation {
		t.Fatalf("expected current_stage=compilation, got %s", site.CurrentStage)
	}
	if site.CompilationTotal != 1 {
		t.Fatalf("expected compilation_total=1, got %d", site.CompilationTotal)
	}
}

func TestRunCoordinator_DuplicateIsNoop(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	jobRepo := repos.NewJobRunRepo(tx, log)
	siteStore := repos.NewSiteStore(tx, log)
	subdomain := "shelbyville.test"
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	if err := siteStore.Upsert(dbc, &types.Site{Subdomain: subdomain, Name: subdomain, Scraper: "dummy"}); err != nil {
		t.Fatalf("seed site: %v", err)
	}
	if err := siteStore.InitializeStage(dbc, subdomain, types.StageOCR, 1); err != nil {
		t.Fatalf("init stage: %v", err)
	}

	coordJob := mustCreate(t, jobRepo, subdomain, "run1", types.JobTypeOCRCoordinator, types.QueueCompilation)
	graph := stageproto.NewGraph(false)

	jc1 := jobrt.NewContext(context.Background(), tx, coordJob, jobRepo, siteStore, nil)
	if err := stageproto.RunCoordinator(jc1, graph, types.StageOCR, types.JobTypeCompile, nil); err != nil {
		t.Fatalf("first coordinator run: %v", err)
	}

	jc2 := jobrt.NewContext(context.Background(), tx, coordJob, jobRepo, siteStore, nil)
	if err := stageproto.RunCoordinator(jc2, graph, types.StageOCR, types.JobTypeCompile, nil); err != nil {
		t.Fatalf("second coordinator run: %v", err)
	}

	all, err := jobRepo.ListBySubdomain(dbc, subdomain, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var compileJobs int
	for _, j := range all {
		if j.JobType == types.JobTypeCompile {
			compileJobs++
		}
	}
	if compileJobs != 1 {
		t.Fatalf("expected exactly one compile job enqueued, got %d", compileJobs)
	}
}

func TestResolve_PermanentAbsorbsAndAdvances(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	jobRepo := repos.NewJobRunRepo(tx, log)
	siteStore := repos.NewSiteStore(tx, log)
	subdomain := "capital-city.test"
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	if err := siteStore.Upsert(dbc, &types.Site{Subdomain: subdomain, Name: subdomain, Scraper: "dummy"}); err != nil {
		t.Fatalf("seed site: %v", err)
	}
	if err := siteStore.InitializeStage(dbc, subdomain, types.StageOCR, 5); err != nil {
		t.Fatalf("init stage: %v", err)
	}

	page := mustCreate(t, jobRepo, subdomain, "run1", types.JobTypeOCRPage, types.QueueOCR)
	jc := jobrt.NewContext(context.Background(), tx, page, jobRepo, siteStore, nil)

	err := stageproto.Resolve(jc, types.StageOCR, errors.New("failed to process pdf: malformed pdf structure"))
	if err != nil {
		t.Fatalf("expected permanent failure to be absorbed (nil), got %v", err)
	}

	site, err := siteStore.Get(dbc, subdomain)
	if err != nil {
		t.Fatalf("get site: %v", err)
	}
	if site.OCRFailed != 1 {
		t.Fatalf("expected ocr_failed=1, got %d", site.OCRFailed)
	}
	if site.LastErrorStage != string(types.StageOCR) {
		t.Fatalf("expected last_error_stage=ocr, got %s", site.LastErrorStage)
	}
}

func TestResolve_TransientPropagates(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	jobRepo := repos.NewJobRunRepo(tx, log)
	siteStore := repos.NewSiteStore(tx, log)
	subdomain := "north-haverbrook.test"
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	if err := siteStore.Upsert(dbc, &types.Site{Subdomain: subdomain, Name: subdomain, Scraper: "dummy"}); err != nil {
		t.Fatalf("seed site: %v", err)
	}
	if err := siteStore.InitializeStage(dbc, subdomain, types.StageOCR, 1); err != nil {
		t.Fatalf("init stage: %v", err)
	}

	page := mustCreate(t, jobRepo, subdomain, "run1", types.JobTypeOCRPage, types.QueueOCR)
	jc := jobrt.NewContext(context.Background(), tx, page, jobRepo, siteStore, nil)

	err := stageproto.Resolve(jc, types.StageOCR, errors.New("dial tcp: i/o timeout"))
	var pe *pipelineerr.PipelineError
	if err == nil || !errors.As(err, &pe) {
		t.Fatalf("expected a PipelineError to propagate, got %v", err)
	}
	if pe.Class != pipelineerr.Transient {
		t.Fatalf("expected Transient, got %s", pe.Class)
	}

	site, err := siteStore.Get(dbc, subdomain)
	if err != nil {
		t.Fatalf("get site: %v", err)
	}
	if site.OCRFailed != 0 {
		t.Fatalf("expected counters untouched by a transient failure, got ocr_failed=%d", site.OCRFailed)
	}
}

func mustCreate(t *testing.T, repo repos.JobRunRepo, subdomain, runID, jobType, queue string) *types.JobRun {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	created, err := repo.Create(dbc, []*types.JobRun{{
		ID:        uuid.New(),
		Queue:     queue,
		JobType:   jobType,
		Subdomain: subdomain,
		RunID:     runID,
	}})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return created[0]
}
