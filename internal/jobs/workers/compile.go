package workers

import (
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/collaborators"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
)

// CompileHandler runs spec.md §4.2's compilation stage: build meetings.db
// from the site's OCR'd text tree. Always a singleton stage (N=1).
type CompileHandler struct {
	Graph       *stageproto.Graph
	StorageRoot string
	Compiler    collaborators.Compiler
}

func (h *CompileHandler) Type() string { return "compile" }

func (h *CompileHandler) Run(jc *jobrt.Context) error {
	subdomain := jc.Job.Subdomain
	jc.Progress("compilation", 20, "compiling meetings database")

	ctx, cancel := collaborators.WithCompileTimeout(jc.Ctx)
	defer cancel()

	if err := h.Compiler.Compile(ctx, subdomain, h.StorageRoot); err != nil {
		if rerr := stageproto.Resolve(jc, types.StageCompilation, err); rerr != nil {
			jc.Fail("compilation", rerr)
			return nil
		}
		jc.Succeed("compilation", map[string]any{"compiled": false})
		return nil
	}

	next := h.Graph.Next(types.StageCompilation)
	nextJobType := h.Graph.JobType(next)
	if err := completeSingletonStage(jc, h.Graph, types.StageCompilation, nextJobType, map[string]any{}); err != nil {
		jc.Fail("compilation", err)
		return nil
	}
	jc.Succeed("compilation", map[string]any{"compiled": true})
	return nil
}
