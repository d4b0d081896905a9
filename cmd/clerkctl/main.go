// Command clerkctl is the operator-facing CLI over the pipeline
// coordinator: kick off a site's pipeline, inspect its state, and force a
// reconciler sweep outside its usual ticker. Built on stdlib flag rather
// than a third-party CLI framework -- justified in DESIGN.md: no repo in
// the retrieval pack imports one, so this is the one ambient concern this
// module intentionally does not borrow a library for.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/data/db"
	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/jobs/fsprobe"
	"github.com/yungbote/neurobridge-backend/internal/jobs/reconciler"
	"github.com/yungbote/neurobridge-backend/internal/jobs/stageproto"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/pkg/pointers"
	"github.com/yungbote/neurobridge-backend/internal/services"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log, err := logger.New("development")
	if err != nil {
		fmt.Fprintf(os.Stderr, "clerkctl: init logger: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "enqueue":
		os.Exit(runEnqueue(log, os.Args[2:]))
	case "status":
		os.Exit(runStatus(log, os.Args[2:]))
	case "reconcile":
		os.Exit(runReconcile(log, os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: clerkctl <enqueue|status|reconcile> [flags]")
}

func connect(log *logger.Logger) (*db.PostgresService, error) {
	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, nil
}

// runEnqueue implements `clerkctl enqueue <subdomain> [--priority high|normal]
// [--scraper tag]`: it ensures the subdomain's Site row exists, then
// enqueues its fetch job -- the pipeline's only externally-triggerable
// entry point (every later stage is reached by FanOut/RunCoordinator).
func runEnqueue(log *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	priority := fs.String("priority", "normal", "high|normal")
	scraper := fs.String("scraper", "dummy", "scraper tag registered in the collaborator registry")
	lat := fs.Float64("lat", 0, "site latitude, if known")
	lng := fs.Float64("lng", 0, "site longitude, if known")
	startYear := fs.Int("start-year", 0, "first year this site's minutes are expected to cover")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: clerkctl enqueue <subdomain> [--priority high|normal] [--scraper tag]")
		return 2
	}
	subdomain := fs.Arg(0)

	pg, err := connect(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "clerkctl:", err)
		return 1
	}

	sites := repos.NewSiteStore(pg.DB(), log)
	jobRepo := repos.NewJobRunRepo(pg.DB(), log)
	events := repos.NewJobRunEventRepo(pg.DB(), log)
	notify := services.NewJobNotifier(log, events)
	jobsvc := services.NewJobService(pg.DB(), log, jobRepo, notify)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	existing, err := sites.Get(dbc, subdomain)
	if err != nil {
		fmt.Fprintln(os.Stderr, "clerkctl: lookup site:", err)
		return 1
	}
	if existing == nil {
		site := &types.Site{
			Subdomain: subdomain,
			Name:      subdomain,
			Scraper:   *scraper,
		}
		if *lat != 0 {
			site.Lat = pointers.Float64(*lat)
		}
		if *lng != 0 {
			site.Lng = pointers.Float64(*lng)
		}
		if *startYear != 0 {
			site.StartYear = pointers.Int(*startYear)
		}
		if err := sites.Upsert(dbc, site); err != nil {
			fmt.Fprintln(os.Stderr, "clerkctl: create site:", err)
			return 1
		}
	}

	queue := types.QueueFetch
	if *priority == "high" {
		queue = types.QueueHigh
	}
	runID := fmt.Sprintf("%s_%s", subdomain, uuid.New().String())

	job, err := jobsvc.Enqueue(dbc, queue, types.JobTypeFetch, subdomain, runID, map[string]any{}, nil, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "clerkctl: enqueue:", err)
		return 1
	}

	fmt.Printf("enqueued job %s (run_id=%s queue=%s)\n", job.ID, job.RunID, job.Queue)
	return 0
}

// runStatus implements `clerkctl status [--site subdomain] [--limit N]`:
// prints either one site's full row plus its recent job_run rows, or a
// table of every site ordered oldest-updated-first (the same ordering the
// reconciler sweeps in).
func runStatus(log *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	site := fs.String("site", "", "subdomain to show; omit to list all sites")
	limit := fs.Int("limit", 20, "max rows to print")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pg, err := connect(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "clerkctl:", err)
		return 1
	}
	sites := repos.NewSiteStore(pg.DB(), log)
	jobRepo := repos.NewJobRunRepo(pg.DB(), log)
	dbc := dbctx.Context{Ctx: context.Background()}

	if *site != "" {
		s, err := sites.Get(dbc, *site)
		if err != nil {
			fmt.Fprintln(os.Stderr, "clerkctl: lookup site:", err)
			return 1
		}
		if s == nil {
			fmt.Fprintf(os.Stderr, "clerkctl: site %q not found\n", *site)
			return 1
		}
		printSite(s)

		jobs, err := jobRepo.ListBySubdomain(dbc, *site, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "clerkctl: list jobs:", err)
			return 1
		}
		for _, j := range jobs {
			fmt.Printf("  job %s  %-10s %-16s stage=%-12s progress=%3d%%  %s\n", j.ID, j.Status, j.JobType, j.Stage, j.Progress, j.Message)
		}
		return 0
	}

	all, err := sites.OldestByUpdatedAt(dbc, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "clerkctl: list sites:", err)
		return 1
	}
	for _, s := range all {
		printSite(s)
	}
	return 0
}

func printSite(s *types.Site) {
	fmt.Printf("%-24s stage=%-12s status=%-14s updated=%s\n", s.Subdomain, s.CurrentStage, s.Status, s.UpdatedAt.Format(time.RFC3339))
	if s.LastErrorMessage != "" {
		fmt.Printf("  last error (%s): %s\n", s.LastErrorStage, s.LastErrorMessage)
	}
}

// runReconcile implements `clerkctl reconcile [--dry-run] [--threshold
// 2h] [--limit 100]`: runs one Sweep immediately, outside the usual
// ticker, for operators diagnosing a specific stuck site without waiting
// for the next scheduled pass.
func runReconcile(log *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report stuck sites without taking recovery action")
	threshold := fs.Duration("threshold", 2*time.Hour, "how stale a site must be to count as stuck")
	limit := fs.Int("limit", 100, "max sites to repair in this sweep")
	storageRoot := fs.String("storage-root", "/var/lib/civicpipeline/sites", "filesystem root for the ocr ground-truth probe")
	extractionEnabled := fs.Bool("extraction-enabled", false, "whether the stage graph includes the extraction node")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pg, err := connect(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "clerkctl:", err)
		return 1
	}
	sites := repos.NewSiteStore(pg.DB(), log)
	jobRepo := repos.NewJobRunRepo(pg.DB(), log)
	events := repos.NewJobRunEventRepo(pg.DB(), log)
	notify := services.NewJobNotifier(log, events)
	jobsvc := services.NewJobService(pg.DB(), log, jobRepo, notify)
	graph := stageproto.NewGraph(*extractionEnabled)
	probe := fsprobe.New(*storageRoot)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	if *dryRun {
		cutoff := time.Now().Add(-*threshold)
		stuck, err := sites.StuckSince(dbc, cutoff, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "clerkctl: list stuck sites:", err)
			return 1
		}
		for _, s := range stuck {
			fmt.Printf("stuck: %-24s stage=%s updated=%s\n", s.Subdomain, s.CurrentStage, s.UpdatedAt.Format(time.RFC3339))
		}
		fmt.Printf("%d site(s) stuck past %s (dry run, no action taken)\n", len(stuck), threshold.String())
		return 0
	}

	rec := reconciler.New(sites, jobRepo, probe, jobsvc, graph, log, *threshold, 0, *limit)
	recovered, err := rec.Sweep(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "clerkctl: sweep:", err)
		return 1
	}
	fmt.Printf("reconciler sweep recovered %d site(s)\n", recovered)
	return 0
}
