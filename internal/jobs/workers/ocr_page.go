package workers

import (
	"fmt"
	"os"
	"path/filepath"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/collaborators"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
)

// OCRPageHandler runs one unit of spec.md §4.2's ocr stage: recognize the
// text of a single fetched document and write it to the site's txt tree.
// Per-unit completion is recorded via stageproto.RecordSuccess/Resolve so
// this handler never touches the site's counters directly.
type OCRPageHandler struct {
	StorageRoot string
	// DefaultBackendTag is DEFAULT_OCR_BACKEND (tesseract|vision).
	DefaultBackendTag string
}

func (h *OCRPageHandler) Type() string { return "ocr-page" }

func (h *OCRPageHandler) Run(jc *jobrt.Context) error {
	subdomain := jc.Job.Subdomain
	meeting := jc.PayloadString("meeting")
	date := jc.PayloadString("date")
	if meeting == "" || date == "" {
		jc.Fail("ocr", fmt.Errorf("file-not-found:pdf: ocr-page payload missing meeting/date"))
		return nil
	}

	jc.Progress("ocr", 10, fmt.Sprintf("recognizing %s/%s", meeting, date))

	pdfPath := filepath.Join(h.StorageRoot, subdomain, "pdfs", meeting, date+".pdf")
	backend, fellBack := collaborators.GetOCRBackend(h.DefaultBackendTag)
	if backend == nil {
		jc.Fail("ocr", fmt.Errorf("ocr-coordinator-failed: no ocr backend available"))
		return nil
	}
	if fellBack {
		jc.Progress("ocr", 15, fmt.Sprintf("backend %q unavailable, falling back to tesseract", h.DefaultBackendTag))
	}

	text, err := backend.Recognize(jc.Ctx, pdfPath)
	if err != nil {
		if rerr := stageproto.Resolve(jc, types.StageOCR, err); rerr != nil {
			jc.Fail("ocr", rerr)
			return nil
		}
		jc.Succeed("ocr", map[string]any{"meeting": meeting, "date": date, "recognized": false})
		return nil
	}

	txtDir := filepath.Join(h.StorageRoot, subdomain, "txt", meeting, date)
	if err := os.MkdirAll(txtDir, 0o755); err != nil {
		if rerr := stageproto.Resolve(jc, types.StageOCR, fmt.Errorf("pdf-failed-to-process: mkdir %s: %w", txtDir, err)); rerr != nil {
			jc.Fail("ocr", rerr)
			return nil
		}
		jc.Succeed("ocr", map[string]any{"meeting": meeting, "date": date, "recognized": false})
		return nil
	}
	if err := os.WriteFile(filepath.Join(txtDir, "1.txt"), []byte(text), 0o644); err != nil {
		if rerr := stageproto.Resolve(jc, types.StageOCR, fmt.Errorf("pdf-failed-to-process: write txt for %s/%s: %w", meeting, date, err)); rerr != nil {
			jc.Fail("ocr", rerr)
			return nil
		}
		jc.Succeed("ocr", map[string]any{"meeting": meeting, "date": date, "recognized": false})
		return nil
	}

	if err := stageproto.RecordSuccess(jc, types.StageOCR); err != nil {
		jc.Fail("ocr", err)
		return nil
	}
	jc.Succeed("ocr", map[string]any{"meeting": meeting, "date": date, "recognized": true})
	return nil
}
