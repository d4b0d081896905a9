package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	"github.com/yungbote/neurobridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/fsprobe"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/services"
)

func writeTestFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newReconciler(tb testing.TB, tx *gorm.DB, root string) (*Reconciler, repos.JobRunRepo) {
	tb.Helper()
	log := testutil.Logger(tb)
	siteStore := repos.NewSiteStore(tx, log)
	jobRepo := repos.NewJobRunRepo(tx, log)
	eventRepo := repos.NewJobRunEventRepo(tx, log)
	notify := services.NewJobNotifier(log, eventRepo)
	jobsvc := services.NewJobService(tx, log, jobRepo, notify)
	graph := stageproto.NewGraph(false)
	probe := fsprobe.New(root)

	r := New(siteStore, jobRepo, probe, jobsvc, graph, log, 5*time.Minute, 0, 50)
	return r, jobRepo
}

func setStale(tb testing.TB, tx *gorm.DB, subdomain string) {
	tb.Helper()
	stale := time.Now().Add(-1 * time.Hour)
	if err := tx.Model(&types.Site{}).Where("subdomain = ?", subdomain).Update("updated_at", stale).Error; err != nil {
		tb.Fatalf("backdate updated_at: %v", err)
	}
}

func TestReconciler_RecoversStalledFetch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	site := &types.Site{
		Subdomain:    "springfield",
		Name:         "Springfield",
		Scraper:      "dummy",
		CurrentStage: types.StageFetch,
	}
	if err := tx.Create(site).Error; err != nil {
		t.Fatalf("create site: %v", err)
	}
	setStale(t, tx, site.Subdomain)

	r, jobRepo := newReconciler(t, tx, t.TempDir())

	recovered, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 site recovered, got %d", recovered)
	}

	jobs, err := jobRepo.ListBySubdomain(dbctx.Context{Ctx: context.Background(), Tx: tx}, site.Subdomain, 10)
	if err != nil {
		t.Fatalf("ListBySubdomain: %v", err)
	}
	found := false
	for _, j := range jobs {
		if j.JobType == "fetch" && j.Status == types.StatusQueued {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a fresh queued fetch job, got %+v", jobs)
	}

	recoveredAgain, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if recoveredAgain != 0 {
		t.Fatalf("expected second sweep to be a no-op since a fetch job is now queued, got recovered=%d", recoveredAgain)
	}
}

func TestReconciler_RecoversOCRFromFilesystemTruth(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	root := t.TempDir()

	subdomain := "shelbyville"
	writeTestFile(t, filepath.Join(root, subdomain, "pdfs", "council", "2024-01-01.pdf"))
	writeTestFile(t, filepath.Join(root, subdomain, "pdfs", "council", "2024-02-01.pdf"))
	writeTestFile(t, filepath.Join(root, subdomain, "txt", "council", "2024-01-01", "1.txt"))
	// 2024-02-01 never produced txt output -- the crashed-worker scenario.

	site := &types.Site{
		Subdomain:    subdomain,
		Name:         "Shelbyville",
		Scraper:      "dummy",
		CurrentStage: types.StageOCR,
		OCRTotal:     2,
	}
	if err := tx.Create(site).Error; err != nil {
		t.Fatalf("create site: %v", err)
	}
	setStale(t, tx, subdomain)

	r, jobRepo := newReconciler(t, tx, root)

	recovered, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 site recovered, got %d", recovered)
	}

	var got types.Site
	if err := tx.Where("subdomain = ?", subdomain).First(&got).Error; err != nil {
		t.Fatalf("reload site: %v", err)
	}
	if got.OCRCompleted != 1 || got.OCRFailed != 1 {
		t.Fatalf("expected completed=1 failed=1, got completed=%d failed=%d", got.OCRCompleted, got.OCRFailed)
	}
	if !got.CoordinatorEnqueued {
		t.Fatalf("expected coordinator latch to be claimed")
	}

	jobs, err := jobRepo.ListBySubdomain(dbctx.Context{Ctx: context.Background(), Tx: tx}, subdomain, 10)
	if err != nil {
		t.Fatalf("ListBySubdomain: %v", err)
	}
	found := false
	for _, j := range jobs {
		if j.JobType == "ocr-coordinator" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an ocr-coordinator job to be enqueued, got %+v", jobs)
	}
}

// TestReconciler_ClearsStaleDeferredCoordinator reproduces the case the
// original's cleanup_deferred_coordinators.py exists for: one ocr-page
// permanently failed, so the fetch-enqueued ocr-coordinator's depends_on
// never all reach succeeded and it sits deferred forever. The reconciler
// must clear it rather than treating it as still in flight.
func TestReconciler_ClearsStaleDeferredCoordinator(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	root := t.TempDir()

	subdomain := "capitalcity"
	writeTestFile(t, filepath.Join(root, subdomain, "pdfs", "council", "2024-01-01.pdf"))
	writeTestFile(t, filepath.Join(root, subdomain, "txt", "council", "2024-01-01", "1.txt"))

	site := &types.Site{
		Subdomain:    subdomain,
		Name:         "Capital City",
		Scraper:      "dummy",
		CurrentStage: types.StageOCR,
		OCRTotal:     1,
	}
	if err := tx.Create(site).Error; err != nil {
		t.Fatalf("create site: %v", err)
	}

	stuckCoordinator := &types.JobRun{
		ID:        uuid.New(),
		Queue:     "compilation",
		JobType:   types.JobTypeOCRCoordinator,
		Subdomain: subdomain,
		RunID:     subdomain + "_orig",
		Status:    types.StatusDeferred,
		Payload:   datatypes.JSON([]byte(`{}`)),
		Result:    datatypes.JSON([]byte(`{}`)),
		DependsOn: datatypes.JSONSlice[uuid.UUID]{uuid.New()},
	}
	if err := tx.Create(stuckCoordinator).Error; err != nil {
		t.Fatalf("create stuck coordinator: %v", err)
	}
	setStale(t, tx, subdomain)

	r, jobRepo := newReconciler(t, tx, root)

	recovered, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 site recovered, got %d", recovered)
	}

	var got types.Site
	if err := tx.Where("subdomain = ?", subdomain).First(&got).Error; err != nil {
		t.Fatalf("reload site: %v", err)
	}
	if !got.CoordinatorEnqueued {
		t.Fatalf("expected coordinator latch to be claimed despite the stale deferred row")
	}

	jobs, err := jobRepo.ListBySubdomain(dbctx.Context{Ctx: context.Background(), Tx: tx}, subdomain, 10)
	if err != nil {
		t.Fatalf("ListBySubdomain: %v", err)
	}

	var stale, fresh *types.JobRun
	for i := range jobs {
		j := jobs[i]
		if j.ID == stuckCoordinator.ID {
			stale = j
		} else if j.JobType == types.JobTypeOCRCoordinator {
			fresh = j
		}
	}
	if stale == nil {
		t.Fatalf("expected the stale coordinator row to still exist, got %+v", jobs)
	}
	if stale.Status != types.StatusCanceled {
		t.Fatalf("expected stale coordinator to be canceled, got status=%s", stale.Status)
	}
	if fresh == nil {
		t.Fatalf("expected a fresh ocr-coordinator job to be enqueued, got %+v", jobs)
	}
	if !strings.HasSuffix(fresh.RunID, "_recovered") {
		t.Fatalf("expected recovered coordinator run_id to end in _recovered, got %q", fresh.RunID)
	}
}
