package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/yungbote/neurobridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

func TestJobRunEventRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewJobRunEventRepo(db, testutil.Logger(t))

	runID := "springfield_20260101000000"
	jobID := uuid.New()

	events := []*types.JobRunEvent{
		{ID: uuid.New(), JobID: jobID, Subdomain: "springfield", RunID: runID, JobType: types.JobTypeFetch, Kind: string(types.JobEventCreated), Status: types.StatusQueued, Stage: string(types.StageFetch)},
		{ID: uuid.New(), JobID: jobID, Subdomain: "springfield", RunID: runID, JobType: types.JobTypeFetch, Kind: string(types.JobEventProgress), Status: types.StatusRunning, Stage: string(types.StageFetch), Progress: 50},
		{ID: uuid.New(), JobID: jobID, Subdomain: "springfield", RunID: runID, JobType: types.JobTypeFetch, Kind: string(types.JobEventSucceeded), Status: types.StatusSucceeded, Stage: string(types.StageFetch), Progress: 100},
	}
	for _, ev := range events {
		if err := repo.Create(dbc, ev); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	rows, err := repo.ListByRunID(dbc, runID, 10)
	if err != nil {
		t.Fatalf("ListByRunID: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("ListByRunID: expected 3 rows, got %d", len(rows))
	}
	if rows[0].Kind != string(types.JobEventCreated) || rows[2].Kind != string(types.JobEventSucceeded) {
		t.Fatalf("ListByRunID: expected created-then-succeeded order, got %+v", rows)
	}
}
