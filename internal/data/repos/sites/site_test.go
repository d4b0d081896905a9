package sites

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

func TestSiteStore(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewSiteStore(db, testutil.Logger(t))

	site := &types.Site{
		Subdomain:    "springfield",
		Name:         "Springfield",
		State:        "IL",
		Scraper:      "dummy",
		CurrentStage: types.StageNone,
		Status:       types.StatusNew,
	}
	if err := repo.Upsert(dbc, site); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.Get(dbc, "springfield")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Name != "Springfield" {
		t.Fatalf("Get: expected Springfield, got %v", got)
	}

	if got, err := repo.Get(dbc, "no-such-site"); err != nil || got != nil {
		t.Fatalf("Get (absent): expected nil,nil got %v,%v", got, err)
	}

	// InitializeStage sets total, zeroes counters, and resets the latch.
	if err := repo.InitializeStage(dbc, "springfield", types.StageOCR, 5); err != nil {
		t.Fatalf("InitializeStage: %v", err)
	}
	got, err = repo.Get(dbc, "springfield")
	if err != nil {
		t.Fatalf("Get after InitializeStage: %v", err)
	}
	if got.CurrentStage != types.StageOCR || got.OCRTotal != 5 || got.OCRCompleted != 0 || got.OCRFailed != 0 {
		t.Fatalf("InitializeStage: unexpected counters %+v", got)
	}
	if got.CoordinatorEnqueued {
		t.Fatalf("InitializeStage: expected coordinator_enqueued reset to false")
	}

	// IncrementCompleted / IncrementFailed are atomic +1s.
	for i := 0; i < 3; i++ {
		if err := repo.IncrementCompleted(dbc, "springfield", types.StageOCR); err != nil {
			t.Fatalf("IncrementCompleted: %v", err)
		}
	}
	if err := repo.IncrementFailed(dbc, "springfield", types.StageOCR, "OCRBackendError", "tesseract exited 1"); err != nil {
		t.Fatalf("IncrementFailed: %v", err)
	}

	got, err = repo.Get(dbc, "springfield")
	if err != nil {
		t.Fatalf("Get after increments: %v", err)
	}
	if got.OCRCompleted != 3 || got.OCRFailed != 1 {
		t.Fatalf("increments: expected completed=3 failed=1, got completed=%d failed=%d", got.OCRCompleted, got.OCRFailed)
	}
	if got.LastErrorStage != string(types.StageOCR) || got.LastErrorMessage == "" || got.LastErrorAt == nil {
		t.Fatalf("IncrementFailed: expected last-error snapshot set, got %+v", got)
	}

	// Not yet at total (3+1=4 of 5): coordinator should not trigger.
	should, err := repo.ShouldTriggerCoordinator(dbc, "springfield", types.StageOCR)
	if err != nil {
		t.Fatalf("ShouldTriggerCoordinator (not done): %v", err)
	}
	if should {
		t.Fatalf("ShouldTriggerCoordinator: expected false before all units finish")
	}

	if err := repo.IncrementCompleted(dbc, "springfield", types.StageOCR); err != nil {
		t.Fatalf("IncrementCompleted (final): %v", err)
	}

	should, err = repo.ShouldTriggerCoordinator(dbc, "springfield", types.StageOCR)
	if err != nil {
		t.Fatalf("ShouldTriggerCoordinator: %v", err)
	}
	if !should {
		t.Fatalf("ShouldTriggerCoordinator: expected true once completed+failed==total")
	}

	// ClaimCoordinatorEnqueue: first caller wins, second caller loses.
	won, err := repo.ClaimCoordinatorEnqueue(dbc, "springfield")
	if err != nil {
		t.Fatalf("ClaimCoordinatorEnqueue #1: %v", err)
	}
	if !won {
		t.Fatalf("ClaimCoordinatorEnqueue #1: expected to win the claim")
	}
	won, err = repo.ClaimCoordinatorEnqueue(dbc, "springfield")
	if err != nil {
		t.Fatalf("ClaimCoordinatorEnqueue #2: %v", err)
	}
	if won {
		t.Fatalf("ClaimCoordinatorEnqueue #2: expected the latch to already be held")
	}

	should, err = repo.ShouldTriggerCoordinator(dbc, "springfield", types.StageOCR)
	if err != nil {
		t.Fatalf("ShouldTriggerCoordinator (after claim): %v", err)
	}
	if should {
		t.Fatalf("ShouldTriggerCoordinator: expected false once the latch is held")
	}

	if err := repo.AdvanceStage(dbc, "springfield", types.StageCompilation); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	got, err = repo.Get(dbc, "springfield")
	if err != nil {
		t.Fatalf("Get after AdvanceStage: %v", err)
	}
	if got.CurrentStage != types.StageCompilation || got.Status != types.StatusCompiling {
		t.Fatalf("AdvanceStage: expected compilation/compiling, got %s/%s", got.CurrentStage, got.Status)
	}

	// Reconciler query helpers.
	stale := &types.Site{
		Subdomain:    "shelbyville",
		Name:         "Shelbyville",
		Scraper:      "dummy",
		CurrentStage: types.StageFetch,
		Status:       types.StatusFetching,
	}
	if err := repo.Upsert(dbc, stale); err != nil {
		t.Fatalf("Upsert (stale): %v", err)
	}
	if err := tx.WithContext(ctx).Model(&types.Site{}).
		Where("subdomain = ?", "shelbyville").
		Update("updated_at", time.Now().Add(-3*time.Hour)).Error; err != nil {
		t.Fatalf("backdate stale site: %v", err)
	}

	neverFetched := &types.Site{
		Subdomain: "ogdenville",
		Name:      "Ogdenville",
		Scraper:   "dummy",
	}
	if err := repo.Upsert(dbc, neverFetched); err != nil {
		t.Fatalf("Upsert (never fetched): %v", err)
	}
	if err := tx.WithContext(ctx).Model(&types.Site{}).
		Where("subdomain = ?", "ogdenville").
		Update("updated_at", time.Now().Add(-3*time.Hour)).Error; err != nil {
		t.Fatalf("backdate never-fetched site: %v", err)
	}

	stuck, err := repo.StuckSince(dbc, time.Now().Add(-2*time.Hour), 10)
	if err != nil {
		t.Fatalf("StuckSince: %v", err)
	}
	found := false
	for _, s := range stuck {
		if s.Subdomain == "shelbyville" {
			found = true
		}
		if s.Subdomain == "springfield" {
			t.Fatalf("StuckSince: springfield was recently updated, should not be stuck")
		}
		if s.Subdomain == "ogdenville" {
			t.Fatalf("StuckSince: ogdenville has never started a pipeline run, should not be reported stuck")
		}
	}
	if !found {
		t.Fatalf("StuckSince: expected shelbyville to be reported stuck")
	}

	oldest, err := repo.OldestByUpdatedAt(dbc, 10)
	if err != nil {
		t.Fatalf("OldestByUpdatedAt: %v", err)
	}
	if len(oldest) == 0 || oldest[0].Subdomain != "shelbyville" {
		t.Fatalf("OldestByUpdatedAt: expected shelbyville first, got %+v", oldest)
	}
}
