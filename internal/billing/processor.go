package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/quillnotes/quill/internal/logging"
	"github.com/quillnotes/quill/internal/quota"
	"github.com/quillnotes/quill/pkg/models"
)

// Subscription lifecycle event types, as delivered by Stripe
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// UserStore is the user persistence needed by the processor
type UserStore interface {
	UpdateUserTier(ctx context.Context, userID string, tier models.Tier) error
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
}

// QuotaStore is the quota persistence needed by the processor
type QuotaStore interface {
	GetQuota(ctx context.Context, userID, month string) (*models.UsageQuota, error)
	CreateQuota(ctx context.Context, userID, month string, tokensUsed, tokensLimit int64) (bool, error)
	SetQuotaLimit(ctx context.Context, userID, month string, tokensLimit int64) error
}

// EventDeduper marks webhook events as processed so replays can be skipped.
// Deduplication is an optimization on top of naturally idempotent
// transitions; its failures never fail event handling.
type EventDeduper interface {
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
}

// Processor applies subscription lifecycle events to the user's tier and
// the current month's quota row, keeping both consistent with the payment
// provider's source of truth.
type Processor struct {
	users  UserStore
	quotas QuotaStore
	dedup  EventDeduper
	limits quota.PlanLimits
	logger *logging.Logger
	now    func() time.Time
}

// NewProcessor creates a billing event processor. dedup may be nil.
func NewProcessor(users UserStore, quotas QuotaStore, dedup EventDeduper, limits quota.PlanLimits, logger *logging.Logger) *Processor {
	return &Processor{
		users:  users,
		quotas: quotas,
		dedup:  dedup,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// HandleEvent applies one authenticated subscription lifecycle event.
// Events with no user id in their metadata and unrecognized event types are
// ignored without error. Processing the same event twice produces the same
// end state.
func (p *Processor) HandleEvent(ctx context.Context, eventType, eventID, userID, customerID string) error {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
	default:
		// Intentionally ignore unhandled event types.
		return nil
	}

	if userID == "" {
		p.logger.Warnf("Billing event %s (%s) missing user id in metadata, ignoring", eventType, eventID)
		return nil
	}

	if p.dedup != nil && eventID != "" {
		seen, err := p.dedup.SeenEvent(ctx, eventID)
		if err != nil {
			p.logger.WithError(err).Warn("Event dedup check failed, processing anyway")
		} else if seen {
			p.logger.LogBillingEvent(eventType, eventID, userID)
			return nil
		}
	}

	var err error
	if eventType == EventSubscriptionDeleted {
		err = p.downgrade(ctx, userID)
	} else {
		err = p.upgrade(ctx, userID, customerID)
	}
	if err != nil {
		return err
	}

	if p.dedup != nil && eventID != "" {
		if err := p.dedup.MarkEventProcessed(ctx, eventID); err != nil {
			p.logger.WithError(err).Warn("Failed to mark event processed")
		}
	}

	p.logger.LogBillingEvent(eventType, eventID, userID)
	return nil
}

// upgrade moves the user to the pro tier and snapshots the pro allowance
// into this month's quota row, creating the row if this is the first
// quota-affecting action of the month
func (p *Processor) upgrade(ctx context.Context, userID, customerID string) error {
	if err := p.users.UpdateUserTier(ctx, userID, models.TierPro); err != nil {
		return fmt.Errorf("failed to upgrade user tier: %w", err)
	}

	// The customer link is auxiliary; losing it never fails the upgrade.
	if customerID != "" {
		if err := p.users.SetStripeCustomerID(ctx, userID, customerID); err != nil {
			p.logger.WithUserID(userID).WithError(err).Warn("Failed to link Stripe customer")
		}
	}

	month := quota.MonthKey(p.now())
	proLimit := p.limits.ForTier(models.TierPro)

	row, err := p.quotas.GetQuota(ctx, userID, month)
	if err != nil {
		return fmt.Errorf("failed to read quota: %w", err)
	}

	if row == nil {
		created, err := p.quotas.CreateQuota(ctx, userID, month, 0, proLimit)
		if err != nil {
			return fmt.Errorf("failed to create quota: %w", err)
		}
		if created {
			return nil
		}
		// A concurrent first usage created the row; fall through and
		// overwrite its limit.
	}

	if err := p.quotas.SetQuotaLimit(ctx, userID, month, proLimit); err != nil {
		return fmt.Errorf("failed to set quota limit: %w", err)
	}

	return nil
}

// downgrade moves the user to the free tier. tokens_used is left untouched:
// a user who already consumed more than the free allowance simply shows
// over 100% usage until next month's rollover.
func (p *Processor) downgrade(ctx context.Context, userID string) error {
	if err := p.users.UpdateUserTier(ctx, userID, models.TierFree); err != nil {
		return fmt.Errorf("failed to downgrade user tier: %w", err)
	}

	month := quota.MonthKey(p.now())

	row, err := p.quotas.GetQuota(ctx, userID, month)
	if err != nil {
		return fmt.Errorf("failed to read quota: %w", err)
	}
	if row == nil {
		return nil
	}

	freeLimit := p.limits.ForTier(models.TierFree)
	if err := p.quotas.SetQuotaLimit(ctx, userID, month, freeLimit); err != nil {
		return fmt.Errorf("failed to set quota limit: %w", err)
	}

	return nil
}
