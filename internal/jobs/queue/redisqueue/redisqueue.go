// Package redisqueue is an optional dashboard mirror over the job queue:
// every JobNotifier transition is additionally published to a per-subdomain
// Redis pub/sub channel. It is never a second source of truth -- job_run
// remains the only durable queue and the only thing a worker claims from --
// this package exists purely so an external dashboard can subscribe to
// live progress without polling Postgres.
//
// Grounded on the teacher's own cmd/main.go "redis forwarder" comment (the
// teacher used go-redis/v9 to fan SSE events out through Redis) and on the
// original implementation's queue.py, which ran RQ directly on top of
// Redis; this module's durable queue is job_run, not Redis, so the
// dependency is repurposed from "the queue" to "the queue's live mirror."
package redisqueue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/services"
)

// Mirror wraps a go-redis client used only for publishing job events. A nil
// *Mirror is valid and a no-op -- callers don't need to branch on whether
// Redis is configured.
type Mirror struct {
	client *goredis.Client
	log    *logger.Logger
}

// NewMirror constructs a Mirror, or returns nil if addr is empty, treating
// "no REDIS_ADDR configured" the same way temporalx.NewClient treats "no
// TEMPORAL_ADDRESS configured": a graceful disable, not a startup error.
func NewMirror(addr, password string, db int, baseLog *logger.Logger) *Mirror {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &Mirror{client: client, log: baseLog.With("component", "RedisMirror")}
}

// Close releases the underlying connection pool.
func (m *Mirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Channel is the per-subdomain pub/sub channel a dashboard subscribes to.
func Channel(subdomain string) string {
	return "civicpipeline:jobs:" + subdomain
}

type event struct {
	Event     string `json:"event"`
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	Subdomain string `json:"subdomain"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Stage     string `json:"stage"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
}

func (m *Mirror) publish(kind string, job *types.JobRun, stage string, progress int, message string) {
	if m == nil || m.client == nil || job == nil {
		return
	}
	payload, err := json.Marshal(event{
		Event:     kind,
		JobID:     job.ID.String(),
		JobType:   job.JobType,
		Subdomain: job.Subdomain,
		RunID:     job.RunID,
		Status:    job.Status,
		Stage:     stage,
		Progress:  progress,
		Message:   message,
	})
	if err != nil {
		return
	}
	if err := m.client.Publish(context.Background(), Channel(job.Subdomain), payload).Err(); err != nil {
		if m.log != nil {
			m.log.Warn("redis publish failed", "subdomain", job.Subdomain, "error", err)
		}
	}
}

// notifier decorates a services.JobNotifier, forwarding every call to the
// wrapped notifier and then mirroring it to Redis.
type notifier struct {
	inner  services.JobNotifier
	mirror *Mirror
}

// Wrap returns inner unchanged if mirror is nil (Redis not configured),
// otherwise a decorator that mirrors every event after delegating to inner.
func Wrap(inner services.JobNotifier, mirror *Mirror) services.JobNotifier {
	if mirror == nil {
		return inner
	}
	return &notifier{inner: inner, mirror: mirror}
}

func (n *notifier) JobCreated(job *types.JobRun) {
	n.inner.JobCreated(job)
	n.mirror.publish("job.created", job, job.Stage, job.Progress, job.Message)
}

func (n *notifier) JobProgress(job *types.JobRun, stage string, progress int, message string) {
	n.inner.JobProgress(job, stage, progress, message)
	n.mirror.publish("job.progress", job, stage, progress, message)
}

func (n *notifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	n.inner.JobFailed(job, stage, errorMessage)
	n.mirror.publish("job.failed", job, stage, job.Progress, errorMessage)
}

func (n *notifier) JobSucceeded(job *types.JobRun) {
	n.inner.JobSucceeded(job)
	n.mirror.publish("job.succeeded", job, job.Stage, 100, "")
}

func (n *notifier) JobCanceled(job *types.JobRun) {
	n.inner.JobCanceled(job)
	n.mirror.publish("job.canceled", job, job.Stage, job.Progress, "")
}

func (n *notifier) JobRestarted(job *types.JobRun) {
	n.inner.JobRestarted(job)
	n.mirror.publish("job.restarted", job, job.Stage, job.Progress, "")
}
