package workers

import (
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/collaborators"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
)

// DeployHandler runs spec.md §4.2's final deploy stage: upload the
// compiled artifact tree, then advance the site to StageCompleted. This is
// the graph's terminal node; completeSingletonStage's RunCoordinator call
// advances current_stage to "completed" directly rather than enqueuing
// another job.
type DeployHandler struct {
	Graph       *stageproto.Graph
	StorageRoot string
	Deployer    collaborators.Deployer
}

func (h *DeployHandler) Type() string { return "deploy" }

func (h *DeployHandler) Run(jc *jobrt.Context) error {
	subdomain := jc.Job.Subdomain
	jc.Progress("deploy", 30, "deploying compiled site")

	if err := h.Deployer.Deploy(jc.Ctx, subdomain, h.StorageRoot); err != nil {
		if rerr := stageproto.Resolve(jc, types.StageDeploy, err); rerr != nil {
			jc.Fail("deploy", rerr)
			return nil
		}
		jc.Succeed("deploy", map[string]any{"deployed": false})
		return nil
	}

	if err := completeSingletonStage(jc, h.Graph, types.StageDeploy, "", map[string]any{}); err != nil {
		jc.Fail("deploy", err)
		return nil
	}
	jc.Succeed("deploy", map[string]any{"deployed": true})
	return nil
}
