package workers

import (
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/collaborators"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
)

// ExtractHandler runs the optional extraction stage of spec.md §9: re-run
// Document AI over each fetched PDF. Only present in the graph when
// EXTRACTION_ENABLED=true; Extractor is collaborators.NoopExtractor
// otherwise, so this handler needs no disabled-path branch of its own.
type ExtractHandler struct {
	Graph       *stageproto.Graph
	StorageRoot string
	Extractor   collaborators.Extractor
}

func (h *ExtractHandler) Type() string { return "extract" }

func (h *ExtractHandler) Run(jc *jobrt.Context) error {
	subdomain := jc.Job.Subdomain
	jc.Progress("extraction", 20, "extracting document structure")

	if err := h.Extractor.Extract(jc.Ctx, subdomain, h.StorageRoot); err != nil {
		if rerr := stageproto.Resolve(jc, types.StageExtraction, err); rerr != nil {
			jc.Fail("extraction", rerr)
			return nil
		}
		jc.Succeed("extraction", map[string]any{"extracted": false})
		return nil
	}

	nextJobType := h.Graph.JobType(types.StageDeploy)
	if err := completeSingletonStage(jc, h.Graph, types.StageExtraction, nextJobType, map[string]any{}); err != nil {
		jc.Fail("extraction", err)
		return nil
	}
	jc.Succeed("extraction", map[string]any{"extracted": true})
	return nil
}
