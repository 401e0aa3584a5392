package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/quillnotes/quill/internal/logging"
	"github.com/quillnotes/quill/pkg/models"
)

// Store is the quota persistence needed by the tracker. It is a dumb
// ledger: the tracker owns admission policy, the store owns atomicity.
type Store interface {
	GetQuota(ctx context.Context, userID, month string) (*models.UsageQuota, error)
	CreateQuota(ctx context.Context, userID, month string, tokensUsed, tokensLimit int64) (bool, error)
	IncrementUsageWithCeiling(ctx context.Context, userID, month string, delta int64) (bool, error)
	SetQuotaLimit(ctx context.Context, userID, month string, tokensLimit int64) error
	CreateUsageEvent(ctx context.Context, event *models.UsageEvent) error
}

// Tracker is the single source of truth for how much a user has consumed
// this month and whether they may consume more. It never caches quota state
// across calls; every check and commit re-reads current state.
type Tracker struct {
	store    Store
	resolver *TierResolver
	limits   PlanLimits
	logger   *logging.Logger
	now      func() time.Time
}

// NewTracker creates a usage tracker
func NewTracker(store Store, resolver *TierResolver, limits PlanLimits, logger *logging.Logger) *Tracker {
	return &Tracker{
		store:    store,
		resolver: resolver,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// GetMonthlyUsage returns the current month's usage summary. When no quota
// row exists the user has consumed nothing and the limit is the tier's plan
// allowance; a pure read never creates a row.
func (t *Tracker) GetMonthlyUsage(ctx context.Context, userID string) (models.MonthlyUsage, error) {
	month := MonthKey(t.now())

	row, err := t.store.GetQuota(ctx, userID, month)
	if err != nil {
		return models.MonthlyUsage{}, fmt.Errorf("failed to read quota: %w", err)
	}

	var used, limit int64
	if row != nil {
		used = row.TokensUsed
		limit = row.TokensLimit
	} else {
		tier := t.resolver.GetTier(ctx, userID)
		limit = t.limits.ForTier(tier)
	}

	return models.MonthlyUsage{
		Used:       used,
		Limit:      limit,
		Percentage: float64(used) / float64(limit) * 100,
	}, nil
}

// CanUse is the coarse admission check gating AI features. It does not
// reserve capacity; the authoritative check happens at commit time in
// RecordUsage, sized to the real cost.
func (t *Tracker) CanUse(ctx context.Context, userID string) (bool, error) {
	usage, err := t.GetMonthlyUsage(ctx, userID)
	if err != nil {
		// Fail closed: if admission cannot be verified, deny usage.
		return false, err
	}

	return usage.Percentage < 100, nil
}

// RecordUsage commits the token cost of a completed AI call. Returns false
// without mutating anything when the commit would exceed the month's limit.
// The ceiling check and the increment are one conditional store update, so
// concurrent commits for the same user cannot overshoot the limit.
func (t *Tracker) RecordUsage(ctx context.Context, userID string, tokens int64, model string, feature models.Feature) (bool, error) {
	if tokens < 0 {
		return false, fmt.Errorf("token count must be non-negative")
	}

	month := MonthKey(t.now())

	committed, err := t.store.IncrementUsageWithCeiling(ctx, userID, month, tokens)
	if err != nil {
		return false, fmt.Errorf("failed to commit usage: %w", err)
	}

	if !committed {
		row, err := t.store.GetQuota(ctx, userID, month)
		if err != nil {
			return false, fmt.Errorf("failed to read quota: %w", err)
		}

		if row != nil {
			// Row exists, so the increment was refused by the ceiling.
			t.logger.LogQuotaDenied(userID, month, row.TokensUsed, row.TokensLimit)
			return false, nil
		}

		// First usage this month: create the row with the tier's current
		// allowance snapshotted as the limit.
		tier := t.resolver.GetTier(ctx, userID)
		limit := t.limits.ForTier(tier)
		if tokens > limit {
			t.logger.LogQuotaDenied(userID, month, 0, limit)
			return false, nil
		}

		created, err := t.store.CreateQuota(ctx, userID, month, tokens, limit)
		if err != nil {
			return false, fmt.Errorf("failed to create quota: %w", err)
		}

		if !created {
			// Lost the creation race; retry against the winner's row.
			committed, err = t.store.IncrementUsageWithCeiling(ctx, userID, month, tokens)
			if err != nil {
				return false, fmt.Errorf("failed to commit usage: %w", err)
			}
			if !committed {
				t.logger.WithUserID(userID).Warnf("Usage commit of %d tokens refused for %s", tokens, month)
				return false, nil
			}
		}
	}

	event := &models.UsageEvent{
		UserID:     userID,
		TokensUsed: tokens,
		Model:      model,
		Feature:    feature,
	}
	if err := t.store.CreateUsageEvent(ctx, event); err != nil {
		// The quota charge already landed; surface the audit failure
		// rather than silently dropping the ledger entry.
		return false, fmt.Errorf("failed to record usage event: %w", err)
	}

	t.logger.LogUsageCommit(userID, month, tokens, string(feature))
	return true, nil
}
