package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/neurobridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"gorm.io/datatypes"
)

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	runID := "testsubdomain_" + now.Format("20060102150405")

	queued := &types.JobRun{
		ID:        uuid.New(),
		Queue:     types.QueueFetch,
		JobType:   types.JobTypeFetch,
		Subdomain: "testsubdomain",
		RunID:     runID,
		Status:    types.StatusQueued,
		Stage:     string(types.StageFetch),
		Payload:   datatypes.JSON([]byte("{}")),
		Result:    datatypes.JSON([]byte("{}")),
		CreatedAt: now.Add(-3 * time.Hour),
		UpdatedAt: now.Add(-3 * time.Hour),
	}
	failed := &types.JobRun{
		ID:          uuid.New(),
		Queue:       types.QueueOCR,
		JobType:     types.JobTypeOCRPage,
		Subdomain:   "testsubdomain",
		RunID:       runID,
		Status:      types.StatusFailed,
		Stage:       string(types.StageOCR),
		Attempts:    0,
		LastErrorAt: ptrTime(now.Add(-2 * time.Hour)),
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   now.Add(-2 * time.Hour),
		UpdatedAt:   now.Add(-2 * time.Hour),
	}
	staleRunning := &types.JobRun{
		ID:          uuid.New(),
		Queue:       types.QueueCompilation,
		JobType:     types.JobTypeCompile,
		Subdomain:   "testsubdomain",
		RunID:       runID,
		Status:      types.StatusRunning,
		Stage:       string(types.StageCompilation),
		Attempts:    0,
		HeartbeatAt: ptrTime(now.Add(-10 * time.Hour)),
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   now.Add(-1 * time.Hour),
		UpdatedAt:   now.Add(-1 * time.Hour),
	}

	created, err := repo.Create(dbc, []*types.JobRun{queued, failed, staleRunning})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("Create: expected 3, got %d", len(created))
	}

	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID, failed.ID, staleRunning.ID}); err != nil || len(rows) != 3 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}

	queues := []string{types.QueueFetch, types.QueueOCR, types.QueueCompilation}

	claim1, err := repo.ClaimNextRunnable(dbc, queues, 3, 1*time.Hour, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #1: %v", err)
	}
	if claim1 == nil || claim1.ID != queued.ID {
		t.Fatalf("ClaimNextRunnable #1: expected %v got %v", queued.ID, claim1)
	}

	claim2, err := repo.ClaimNextRunnable(dbc, queues, 3, 1*time.Hour, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #2: %v", err)
	}
	if claim2 == nil || claim2.ID != failed.ID {
		t.Fatalf("ClaimNextRunnable #2: expected %v got %v", failed.ID, claim2)
	}

	claim3, err := repo.ClaimNextRunnable(dbc, queues, 3, 1*time.Hour, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #3: %v", err)
	}
	if claim3 == nil || claim3.ID != staleRunning.ID {
		t.Fatalf("ClaimNextRunnable #3: expected %v got %v", staleRunning.ID, claim3)
	}

	claim4, err := repo.ClaimNextRunnable(dbc, queues, 3, 1*time.Hour, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #4: %v", err)
	}
	if claim4 != nil {
		t.Fatalf("ClaimNextRunnable #4: expected nil, got %v", claim4)
	}

	// UpdateFields
	if err := repo.UpdateFields(dbc, queued.ID, map[string]interface{}{"status": types.StatusFailed, "stage": "error"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	// UpdateFieldsUnlessStatus should refuse once the row already matches a disallowed status.
	changed, err := repo.UpdateFieldsUnlessStatus(dbc, queued.ID, []string{types.StatusFailed}, map[string]interface{}{"message": "should not apply"})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if changed {
		t.Fatalf("UpdateFieldsUnlessStatus: expected no-op, row already failed")
	}

	// Heartbeat
	if err := repo.Heartbeat(dbc, staleRunning.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// PromoteReadyDependents: a deferred job depending on `queued` should
	// flip to queued only once `queued` succeeds.
	dependent := &types.JobRun{
		ID:        uuid.New(),
		Queue:     types.QueueOCR,
		JobType:   types.JobTypeOCRCoordinator,
		Subdomain: "testsubdomain",
		RunID:     runID,
		Status:    types.StatusDeferred,
		DependsOn: datatypes.JSONSlice[uuid.UUID]{queued.ID},
		Payload:   datatypes.JSON([]byte("{}")),
		Result:    datatypes.JSON([]byte("{}")),
	}
	if _, err := repo.Create(dbc, []*types.JobRun{dependent}); err != nil {
		t.Fatalf("seed dependent: %v", err)
	}

	promoted, err := repo.PromoteReadyDependents(dbc, queued.ID)
	if err != nil {
		t.Fatalf("PromoteReadyDependents (not yet succeeded): %v", err)
	}
	if promoted != 0 {
		t.Fatalf("PromoteReadyDependents: expected 0 promotions before success, got %d", promoted)
	}

	if err := repo.UpdateFields(dbc, queued.ID, map[string]interface{}{"status": types.StatusSucceeded}); err != nil {
		t.Fatalf("UpdateFields (succeed queued): %v", err)
	}

	promoted, err = repo.PromoteReadyDependents(dbc, queued.ID)
	if err != nil {
		t.Fatalf("PromoteReadyDependents: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("PromoteReadyDependents: expected 1 promotion, got %d", promoted)
	}

	rows, err := repo.GetByIDs(dbc, []uuid.UUID{dependent.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetByIDs (dependent): err=%v len=%d", err, len(rows))
	}
	if rows[0].Status != types.StatusQueued {
		t.Fatalf("PromoteReadyDependents: expected dependent queued, got %s", rows[0].Status)
	}

	// ListBySubdomain / ListFailed / CountByQueue / ExistsRunning
	byRun, err := repo.ListBySubdomain(dbc, "testsubdomain", 10)
	if err != nil {
		t.Fatalf("ListBySubdomain: %v", err)
	}
	if len(byRun) == 0 {
		t.Fatalf("ListBySubdomain: expected rows")
	}

	if _, err := repo.ListFailed(dbc, 10); err != nil {
		t.Fatalf("ListFailed: %v", err)
	}

	counts, err := repo.CountByQueue(dbc)
	if err != nil {
		t.Fatalf("CountByQueue: %v", err)
	}
	if counts[types.QueueOCR] == 0 {
		t.Fatalf("CountByQueue: expected ocr queue to have in-flight jobs, got %v", counts)
	}

	exists, err := repo.ExistsRunning(dbc, "testsubdomain", types.JobTypeOCRCoordinator)
	if err != nil {
		t.Fatalf("ExistsRunning: %v", err)
	}
	if !exists {
		t.Fatalf("ExistsRunning: expected true")
	}

	exists, err = repo.ExistsRunning(dbc, "testsubdomain", "no-such-job-type")
	if err != nil {
		t.Fatalf("ExistsRunning (absent): %v", err)
	}
	if exists {
		t.Fatalf("ExistsRunning (absent): expected false")
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
