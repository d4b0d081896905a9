package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/otelx"
	"github.com/yungbote/neurobridge-backend/internal/services"
)

/*
The execution contract between the job system and all handler code.
runtime.Context is a capability-scoped execution handle for a single job run.
It wraps:
	- The database transaction boundary,
	- The mutable job_run row,
	- The Site State Store accessor (the only sanctioned path to site mutation),
	- The notification side-effects,
	- And the only sanctioned ways to report progress or terminate execution.
Struct:
	- Ctx: request-scoped context.Context (timeouts, cancellation)
	- DB: DB handle (used by collaborators)
	- Job: the JobRun row in memory
	- Repo: JobRunRepo, for dependency promotion and further enqueues
	- SiteStore: the Site State Store; handlers never touch *gorm.DB directly
	  for site mutation (spec.md §3's "Jobs carry no authoritative state
	  about the site")
	- Notify: side-channel notifier
	- payload: decoded job input
*Handlers never touch job_run or site directly. They must go through this object.*
*/

type Context struct {
	Ctx       context.Context
	DB        *gorm.DB
	Job       *types.JobRun
	Repo      repos.JobRunRepo
	siteStore repos.SiteStore
	Notify    services.JobNotifier
	payload   map[string]any
}

/*
NewContext constructs a runtime.Context for a claimed job execution.
It eagerly decodes the job payload JSON so handlers can access inputs via
Payload()/PayloadUUID(). Any payload decode failure is treated as non-fatal
here; handlers typically validate required fields themselves.
*/
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, siteStore repos.SiteStore, notify services.JobNotifier) *Context {
	c := &Context{
		Ctx:       ctx,
		DB:        db,
		Job:       job,
		Repo:      repo,
		siteStore: siteStore,
		Notify:    notify,
	}
	_ = c.decodePayload()
	return c
}

// Site exposes the Site State Store to handlers. This is the capability-
// object mechanism that keeps site mutation centralized: handlers call
// Site().IncrementCompleted(...) etc rather than writing to the site table
// with a raw *gorm.DB.
func (c *Context) Site() repos.SiteStore {
	return c.siteStore
}

func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

/*
Payload returns the decoded payload map for this job execution.
Guarantees:
	- Never returns nil (returns an empty map if payload is unset/unparseable)
	- The map represents the JSON object stored on Job.Payload, not Job.Result
*/
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

/*
PayloadUUID reads a payload field by key and attempts to parse it as a UUID.
Returns:
	- (uuid, true) if key exists and parses cleanly as a non-empty UUID string
	- (uuid.Nil, false) if missing, nil, or not parseable
*/
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	s := fmt.Sprint(v)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadString reads a payload field as a string, defaulting to "".
func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

/*
Update applies arbitrary field updates to the underlying job_run row in
storage, guarded by UnlessStatus(canceled). Not intended as a general
replacement for Progress/Fail/Succeed; prefer those for lifecycle
transitions so invariants remain centralized.
*/
func (c *Context) Update(updates map[string]any) error {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return nil
	}
	_, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, []string{types.StatusCanceled}, toIfaceMap(updates))
	return err
}

/*
Progress publishes a non-terminal status update for this job run.
What it does:
	- Persists stage/progress/message + heartbeat timestamps into job_run,
	  guarded so canceled jobs are not overwritten.
	- Updates the in-memory c.Job fields to match.
	- Emits a notifier event.
*/
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := otelx.StartStageSpan(ctx, "job.progress", safeSubdomain(c.Job), safeRunID(c.Job), safeJobType(c.Job), stage)
	defer span.End()
	now := time.Now()

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{types.StatusCanceled}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Job, stage, pct, msg)
	}
}

/*
Fail marks this job run as terminally failed and records an error message.
What it does:
	- Sets status=failed, stage=<stage>, error=<err>, last_error_at=now
	- Clears locked_at so other workers won't treat it as in-progress
	- Updates in-memory job object
	- Emits a 'failed' notification
Guarding:
	- Uses UpdateFieldsUnlessStatus(..., [canceled]) so a canceled job is not overwritten
*/
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := otelx.StartStageSpan(ctx, "job.fail", safeSubdomain(c.Job), safeRunID(c.Job), safeJobType(c.Job), stage)
	defer span.End()
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{types.StatusCanceled}, map[string]interface{}{
			"status":        types.StatusFailed,
			"stage":         stage,
			"message":       "",
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = types.StatusFailed
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Job, stage, msg)
	}
}

/*
Succeed marks this job run as terminally succeeded and persists a result payload.
What it does:
	- Sets status=succeeded, progress=100
	- Clears error/message, clears locked_at, updates heartbeat
	- Serializes 'result' as JSON and stores it in job_run.result
	- Updates in-memory job object
	- Emits a 'done' notification
Guarding:
	- Uses UpdateFieldsUnlessStatus(..., [canceled]) so a canceled job is not overwritten
*/
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID, []string{types.StatusCanceled}, map[string]interface{}{
			"status":       types.StatusSucceeded,
			"stage":        finalStage,
			"progress":     100,
			"message":      "",
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = types.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Message = ""
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobSucceeded(c.Job)
	}

	// Promoting dependents is a sanctioned side effect of success, not a
	// separate step handlers must remember to call.
	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		_, _ = c.Repo.PromoteReadyDependents(dbctx.Context{Ctx: ctx, Tx: c.DB}, c.Job.ID)
	}
}

func toIfaceMap(in map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
