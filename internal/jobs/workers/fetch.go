// Package workers holds the six runtime.Handler implementations that drive
// the fetch -> ocr -> compilation -> [extraction] -> deploy pipeline,
// expressed purely against stageproto and the runtime.Context capability
// object, per spec.md §4.2-4.3. Grounded on the teacher's per-pipeline
// handler files under jobs/ (one file per job_type, each a thin Run()
// wrapping shared orchestration helpers).
package workers

import (
	"fmt"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/collaborators"
	"github.com/yungbote/neurobridge-backend/internal/jobs/fsprobe"
	jobrt "github.com/yungbote/neurobridge-backend/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

// FetchHandler runs spec.md §4.2's fetch stage: it invokes the site's
// tagged Scraper, discovers the fetched documents on disk, and fans out one
// ocr-page job per document via stageproto.FanOut.
type FetchHandler struct {
	Graph       *stageproto.Graph
	StorageRoot string
}

func (h *FetchHandler) Type() string { return "fetch" }

func (h *FetchHandler) Run(jc *jobrt.Context) error {
	subdomain := jc.Job.Subdomain
	dbc := dbctx.Context{Ctx: jc.Ctx, Tx: jc.DB}

	site, err := jc.Site().Get(dbc, subdomain)
	if err != nil {
		jc.Fail("fetch", err)
		return nil
	}
	if site == nil {
		jc.Fail("fetch", fmt.Errorf("file-not-found:other: unknown site %s", subdomain))
		return nil
	}

	if err := jc.Site().InitializeStage(dbc, subdomain, types.StageFetch, 1); err != nil {
		jc.Fail("fetch", err)
		return nil
	}

	jc.Progress("fetch", 10, "fetching documents")

	scraper, ok := collaborators.GetScraper(site.Scraper)
	if !ok {
		jc.Fail("fetch", fmt.Errorf("fetch-error:%s: no scraper registered for tag %q", subdomain, site.Scraper))
		return nil
	}

	if _, fetchErr := scraper.Fetch(jc.Ctx, site, h.StorageRoot); fetchErr != nil {
		if rerr := stageproto.Resolve(jc, types.StageFetch, fetchErr); rerr != nil {
			jc.Fail("fetch", rerr)
			return nil
		}
		jc.Succeed("fetch", map[string]any{"doc_count": 0})
		return nil
	}

	docs, err := fsprobe.ListDocs(h.StorageRoot, subdomain)
	if err != nil {
		jc.Fail("fetch", err)
		return nil
	}

	children := make([]stageproto.ChildSpec, 0, len(docs))
	for _, d := range docs {
		children = append(children, stageproto.ChildSpec{
			JobType: h.Graph.JobType(types.StageOCR),
			Payload: map[string]any{"meeting": d.Meeting, "date": d.Date},
		})
	}

	if err := stageproto.FanOut(
		jc, h.Graph, types.StageOCR, children,
		"ocr-coordinator", map[string]any{},
	); err != nil {
		jc.Fail("fetch", err)
		return nil
	}

	jc.Succeed("fetch", map[string]any{"doc_count": len(docs)})
	return nil
}
