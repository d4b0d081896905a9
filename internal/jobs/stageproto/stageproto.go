// Package stageproto implements the invariant-preserving stage protocol of
// spec.md §4.3: per-unit completion rules, the coordinator algorithm, and
// the stage-initialization fan-out, all expressed against the capability
// object (runtime.Context) so worker handlers never touch *gorm.DB or the
// site row directly. Grounded on the teacher's orchestrator.DAGEngine,
// generalized from a per-job, in-memory DAG state machine to this module's
// fixed five-stage graph driven entirely by the Site State Store's atomic
// counters and the job queue's dependency graph.
package stageproto

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/pipelineerr"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

// RecordSuccess applies the per-unit success rule of spec.md §4.3:
// increment_completed(subdomain, S).
func RecordSuccess(jc *jobrt.Context, stage types.Stage) error {
	if jc == nil || jc.Job == nil {
		return fmt.Errorf("stageproto: nil context")
	}
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: jc.DB}
	return jc.Site().IncrementCompleted(dbc, jc.Job.Subdomain, stage)
}

// Resolve classifies err per the §7 taxonomy and applies its propagation
// policy in place of a bare if/else at every call site:
//   - Permanent: absorbed into the stage's failed counter and the site's
//     last-error snapshot; nil is returned so the handler can return success
//     to the queue (dependent coordinators still become eligible).
//   - Transient or Critical: returned unchanged (as a *pipelineerr.PipelineError)
//     so the caller re-raises it; the queue retries transient failures and
//     critical failures are surfaced to operators via the reconciler.
func Resolve(jc *jobrt.Context, stage types.Stage, err error) error {
	if err == nil {
		return nil
	}
	pe := pipelineerr.Classify(err)
	if pe.Class != pipelineerr.Permanent {
		return pe
	}
	return RecordPermanentFailure(jc, stage, pe)
}

// RecordPermanentFailure applies the classified-failure rule of spec.md §4.3:
// increment_failed(subdomain, S, class, msg), returning normally.
func RecordPermanentFailure(jc *jobrt.Context, stage types.Stage, pe *pipelineerr.PipelineError) error {
	if jc == nil || jc.Job == nil {
		return fmt.Errorf("stageproto: nil context")
	}
	if pe == nil {
		return nil
	}
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: jc.DB}
	msg := pe.Fingerprint
	if pe.Cause != nil {
		msg = pe.Cause.Error()
	}
	return jc.Site().IncrementFailed(dbc, jc.Job.Subdomain, stage, pe.Fingerprint, msg)
}

// ChildSpec describes one fan-out child job's identity within FanOut.
type ChildSpec struct {
	JobType string
	Payload map[string]any
}

// FanOut executes stage-initialization steps 1-4 of spec.md §4.3 for a
// stage whose fan-out size is known up front (fetch computing N=doc count
// for the ocr stage): it resets S_total/S_completed/S_failed and the
// coordinator latch, enqueues one child job per spec, then enqueues a
// single coordinator job on the next stage's queue with depends_on set to
// every child id.
func FanOut(jc *jobrt.Context, graph *Graph, stage types.Stage, children []ChildSpec, coordinatorJobType string, coordinatorPayload map[string]any) error {
	if jc == nil || jc.Job == nil {
		return fmt.Errorf("stageproto: nil context")
	}
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: jc.DB}
	subdomain := jc.Job.Subdomain
	runID := jc.Job.RunID

	if err := jc.Site().InitializeStage(dbc, subdomain, stage, len(children)); err != nil {
		return fmt.Errorf("stageproto: initialize stage %s: %w", stage, err)
	}

	if len(children) == 0 {
		// Nothing to fan out to; the stage is vacuously complete, so fire the
		// coordinator directly rather than waiting on a depends_on set of zero.
		return RunCoordinator(jc, graph, stage, coordinatorJobType, coordinatorPayload)
	}

	queue := graph.Queue(stage)
	childRows := make([]*types.JobRun, 0, len(children))
	for _, c := range children {
		payload, err := marshalPayload(c.Payload)
		if err != nil {
			return fmt.Errorf("stageproto: marshal child payload: %w", err)
		}
		childRows = append(childRows, &types.JobRun{
			ID:        uuid.New(),
			Queue:     queue,
			JobType:   c.JobType,
			Subdomain: subdomain,
			RunID:     runID,
			Message:   "Queued",
			Payload:   payload,
			Result:    datatypes.JSON([]byte(`{}`)),
		})
	}

	created, err := jc.Repo.Create(dbc, childRows)
	if err != nil {
		return fmt.Errorf("stageproto: enqueue children: %w", err)
	}
	childIDs := make([]uuid.UUID, len(created))
	for i, c := range created {
		childIDs[i] = c.ID
	}

	next := graph.Next(stage)
	coordPayload, err := marshalCoordinatorPayload(subdomain, runID, coordinatorPayload)
	if err != nil {
		return err
	}
	_, err = jc.Repo.Create(dbc, []*types.JobRun{{
		ID:        uuid.New(),
		Queue:     graph.Queue(next),
		JobType:   coordinatorJobType,
		Subdomain: subdomain,
		RunID:     runID,
		Message:   "Queued",
		Payload:   coordPayload,
		Result:    datatypes.JSON([]byte(`{}`)),
		DependsOn: datatypes.JSONSlice[uuid.UUID](childIDs),
	}})
	if err != nil {
		return fmt.Errorf("stageproto: enqueue coordinator: %w", err)
	}
	return nil
}

// RunCoordinator executes the coordinator algorithm of spec.md §4.3 for a
// stage transition: claim the single-shot latch, initialize the next stage
// with N=1, and enqueue its job. If another caller (another coordinator
// invocation or the reconciler) already won the claim, this is a silent
// no-op, giving the required at-most-once next-stage-fan-out guarantee no
// matter how many times it is invoked for the same transition.
func RunCoordinator(jc *jobrt.Context, graph *Graph, finishedStage types.Stage, nextJobType string, nextPayload map[string]any) error {
	if jc == nil || jc.Job == nil {
		return fmt.Errorf("stageproto: nil context")
	}
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: jc.DB}
	subdomain := jc.Job.Subdomain
	runID := jc.Job.RunID

	won, err := jc.Site().ClaimCoordinatorEnqueue(dbc, subdomain)
	if err != nil {
		return fmt.Errorf("stageproto: claim coordinator enqueue: %w", err)
	}
	if !won {
		return nil
	}

	next := graph.Next(finishedStage)
	if next == types.StageCompleted {
		return jc.Site().AdvanceStage(dbc, subdomain, types.StageCompleted)
	}

	if err := jc.Site().InitializeStage(dbc, subdomain, next, 1); err != nil {
		return fmt.Errorf("stageproto: initialize stage %s: %w", next, err)
	}

	payload, err := marshalCoordinatorPayload(subdomain, runID, nextPayload)
	if err != nil {
		return err
	}
	_, err = jc.Repo.Create(dbc, []*types.JobRun{{
		ID:        uuid.New(),
		Queue:     graph.Queue(next),
		JobType:   nextJobType,
		Subdomain: subdomain,
		RunID:     runID,
		Message:   "Queued",
		Payload:   payload,
		Result:    datatypes.JSON([]byte(`{}`)),
	}})
	if err != nil {
		return fmt.Errorf("stageproto: enqueue next stage job: %w", err)
	}
	return nil
}

func marshalPayload(p map[string]any) (datatypes.JSON, error) {
	if p == nil {
		p = map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func marshalCoordinatorPayload(subdomain, runID string, extra map[string]any) (datatypes.JSON, error) {
	payload := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		payload[k] = v
	}
	payload["subdomain"] = subdomain
	payload["run_id"] = runID
	return marshalPayload(payload)
}
