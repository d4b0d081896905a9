package workers

import (
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
)

// OCRCoordinatorHandler runs the fan-in step of spec.md §4.3 once every
// ocr-page child has finished: claim the single-shot latch and advance to
// the compilation stage. RunCoordinator's CAS latch makes this handler
// idempotent no matter how many times it is (re)dispatched for the same
// transition.
type OCRCoordinatorHandler struct {
	Graph *stageproto.Graph
}

func (h *OCRCoordinatorHandler) Type() string { return "ocr-coordinator" }

func (h *OCRCoordinatorHandler) Run(jc *jobrt.Context) error {
	jc.Progress("ocr", 95, "coordinating ocr completion")

	nextJobType := h.Graph.JobType(types.StageCompilation)
	if err := stageproto.RunCoordinator(jc, h.Graph, types.StageOCR, nextJobType, map[string]any{}); err != nil {
		jc.Fail("ocr-coordinator", err)
		return nil
	}

	jc.Succeed("ocr-coordinator", map[string]any{})
	return nil
}
