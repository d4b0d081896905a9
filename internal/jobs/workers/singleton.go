package workers

import (
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

// completeSingletonStage records success for a stage whose fan-out size is
// always 1 (compilation, extraction, deploy): increment the stage's sole
// counter, then -- since total==1 means this job is simultaneously the
// stage's only unit of work and its own fan-in trigger -- check whether the
// coordinator should fire and run it if so. Ends in the same RunCoordinator
// call FanOut's zero-children branch makes for a vacuous stage, here guarded
// by ShouldTriggerCoordinator.
func completeSingletonStage(jc *jobrt.Context, graph *stageproto.Graph, stage types.Stage, nextJobType string, nextPayload map[string]any) error {
	if err := stageproto.RecordSuccess(jc, stage); err != nil {
		return err
	}
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: jc.DB}
	should, err := jc.Site().ShouldTriggerCoordinator(dbc, jc.Job.Subdomain, stage)
	if err != nil {
		return err
	}
	if !should {
		return nil
	}
	return stageproto.RunCoordinator(jc, graph, stage, nextJobType, nextPayload)
}
