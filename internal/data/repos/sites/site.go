package sites

import (
	"errors"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-backend/internal/domain"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

const lastErrorMessageMaxLen = 500

// SiteStore is the Site State Store component of spec.md §4.1: durable Site
// rows plus the atomic counter-update primitives that are the only sanctioned
// way to mutate pipeline state. Everything here mirrors the teacher's
// UpdateFieldsUnlessStatus conditional-update pattern, specialized to the
// per-stage counter columns instead of a single status column.
type SiteStore interface {
	Get(dbc dbctx.Context, subdomain string) (*types.Site, error)
	Upsert(dbc dbctx.Context, site *types.Site) error

	// InitializeStage resets the counters for stage S and clears the
	// coordinator latch. Idempotent when called again with the same (S, total).
	InitializeStage(dbc dbctx.Context, subdomain string, stage types.Stage, total int) error

	IncrementCompleted(dbc dbctx.Context, subdomain string, stage types.Stage) error
	IncrementFailed(dbc dbctx.Context, subdomain string, stage types.Stage, errorClass, errorMessage string) error

	// ShouldTriggerCoordinator is a pure read: true iff completed+failed==total
	// and the latch is still unclaimed.
	ShouldTriggerCoordinator(dbc dbctx.Context, subdomain string, stage types.Stage) (bool, error)
	// ClaimCoordinatorEnqueue is the single linearization point for fan-in:
	// compare-and-set coordinator_enqueued false->true, returning whether this
	// caller won the claim.
	ClaimCoordinatorEnqueue(dbc dbctx.Context, subdomain string) (bool, error)

	// AdvanceStage moves current_stage forward and derives the legacy status,
	// used by the coordinator once it has decided the next stage.
	AdvanceStage(dbc dbctx.Context, subdomain string, stage types.Stage) error

	// OldestByUpdatedAt and StuckSince back the reconciler's sweep query
	// helpers (spec.md §4.1's "Query helpers").
	OldestByUpdatedAt(dbc dbctx.Context, limit int) ([]*types.Site, error)
	StuckSince(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.Site, error)
}

type siteStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSiteStore(db *gorm.DB, baseLog *logger.Logger) SiteStore {
	return &siteStore{db: db, log: baseLog.With("repo", "SiteStore")}
}

func (r *siteStore) Get(dbc dbctx.Context, subdomain string) (*types.Site, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var site types.Site
	err := tx.WithContext(dbc.Ctx).Where("subdomain = ?", subdomain).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (r *siteStore) Upsert(dbc dbctx.Context, site *types.Site) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if site.Status == "" {
		site.Status = types.DeriveStatus(site.CurrentStage)
	}
	now := time.Now()
	site.UpdatedAt = now
	return tx.WithContext(dbc.Ctx).Save(site).Error
}

func (r *siteStore) InitializeStage(dbc dbctx.Context, subdomain string, stage types.Stage, total int) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	prefix, ok := types.StageColumnPrefix(stage)
	if !ok {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"current_stage":        stage,
		"status":               types.DeriveStatus(stage),
		prefix + "_total":      total,
		prefix + "_completed":  0,
		prefix + "_failed":     0,
		"coordinator_enqueued": false,
		"updated_at":           now,
	}
	return tx.WithContext(dbc.Ctx).Model(&types.Site{}).
		Where("subdomain = ?", subdomain).
		Updates(updates).Error
}

func (r *siteStore) IncrementCompleted(dbc dbctx.Context, subdomain string, stage types.Stage) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	prefix, ok := types.StageColumnPrefix(stage)
	if !ok {
		return nil
	}
	return tx.WithContext(dbc.Ctx).Model(&types.Site{}).
		Where("subdomain = ?", subdomain).
		Updates(map[string]interface{}{
			prefix + "_completed": gorm.Expr(prefix + "_completed + 1"),
			"updated_at":          time.Now(),
		}).Error
}

func (r *siteStore) IncrementFailed(dbc dbctx.Context, subdomain string, stage types.Stage, errorClass, errorMessage string) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	prefix, ok := types.StageColumnPrefix(stage)
	if !ok {
		return nil
	}
	now := time.Now()
	msg := truncate(errorClass+": "+errorMessage, lastErrorMessageMaxLen)
	return tx.WithContext(dbc.Ctx).Model(&types.Site{}).
		Where("subdomain = ?", subdomain).
		Updates(map[string]interface{}{
			prefix + "_failed":     gorm.Expr(prefix + "_failed + 1"),
			"last_error_stage":     string(stage),
			"last_error_message":   msg,
			"last_error_at":        now,
			"updated_at":           now,
		}).Error
}

func (r *siteStore) ShouldTriggerCoordinator(dbc dbctx.Context, subdomain string, stage types.Stage) (bool, error) {
	site, err := r.Get(dbc, subdomain)
	if err != nil {
		return false, err
	}
	if site == nil || site.CurrentStage != stage {
		return false, nil
	}
	total, completed, failed := site.Counters(stage)
	if total == 0 {
		return false, nil
	}
	return completed+failed == total && !site.CoordinatorEnqueued, nil
}

// ClaimCoordinatorEnqueue is the CAS latch: grounded directly on the
// teacher's UpdateFieldsUnlessStatus conditional-update, here with an
// equality guard instead of a disallowed-status list.
func (r *siteStore) ClaimCoordinatorEnqueue(dbc dbctx.Context, subdomain string) (bool, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(dbc.Ctx).Model(&types.Site{}).
		Where("subdomain = ? AND coordinator_enqueued = ?", subdomain, false).
		Updates(map[string]interface{}{
			"coordinator_enqueued": true,
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *siteStore) AdvanceStage(dbc dbctx.Context, subdomain string, stage types.Stage) error {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	var startedAt interface{}
	if stage == types.StageFetch {
		startedAt = now
	}
	updates := map[string]interface{}{
		"current_stage": stage,
		"status":        types.DeriveStatus(stage),
		"updated_at":    now,
	}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	return tx.WithContext(dbc.Ctx).Model(&types.Site{}).
		Where("subdomain = ?", subdomain).
		Updates(updates).Error
}

func (r *siteStore) OldestByUpdatedAt(dbc dbctx.Context, limit int) ([]*types.Site, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.Site
	err := tx.WithContext(dbc.Ctx).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *siteStore) StuckSince(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.Site, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Site
	err := tx.WithContext(dbc.Ctx).
		Where("current_stage NOT IN ? AND updated_at < ?", []types.Stage{types.StageNone, types.StageCompleted}, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
