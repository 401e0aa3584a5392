package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quillnotes/quill/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Users

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User

	query := `
		SELECT id, email, tier, COALESCE(stripe_customer_id, ''), created_at, updated_at
		FROM users
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Tier, &user.StripeCustomerID,
		&user.CreatedAt, &user.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// UpdateUserTier sets a user's subscription tier
func (r *Repository) UpdateUserTier(ctx context.Context, userID string, tier models.Tier) error {
	query := `
		UPDATE users
		SET tier = $2, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, userID, tier)
	if err != nil {
		return fmt.Errorf("failed to update user tier: %w", err)
	}

	return nil
}

// SetStripeCustomerID stores the Stripe customer reference for a user
func (r *Repository) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	query := `
		UPDATE users
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer id: %w", err)
	}

	return nil
}

// Usage quotas

// GetQuota retrieves the quota row for a (user, month) key.
// Returns (nil, nil) when no row exists; absence is a normal state.
func (r *Repository) GetQuota(ctx context.Context, userID, month string) (*models.UsageQuota, error) {
	var quota models.UsageQuota

	query := `
		SELECT user_id, month, tokens_used, tokens_limit, created_at, updated_at
		FROM usage_quotas
		WHERE user_id = $1 AND month = $2
	`

	err := r.db.Pool.QueryRow(ctx, query, userID, month).Scan(
		&quota.UserID, &quota.Month, &quota.TokensUsed, &quota.TokensLimit,
		&quota.CreatedAt, &quota.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	return &quota, nil
}

// CreateQuota inserts a quota row for a (user, month) key. Returns false
// without error when a row already exists, so concurrent first-use and
// billing-event creation cannot produce duplicates.
func (r *Repository) CreateQuota(ctx context.Context, userID, month string, tokensUsed, tokensLimit int64) (bool, error) {
	query := `
		INSERT INTO usage_quotas (user_id, month, tokens_used, tokens_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, month) DO NOTHING
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, month, tokensUsed, tokensLimit)
	if err != nil {
		return false, fmt.Errorf("failed to create quota: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// IncrementUsageWithCeiling adds delta to tokens_used only if the result
// stays within tokens_limit. The ceiling check and the increment are a
// single conditional UPDATE, so concurrent commits for the same (user,
// month) cannot overshoot the limit. Returns false when the row is absent
// or the increment would exceed the limit.
func (r *Repository) IncrementUsageWithCeiling(ctx context.Context, userID, month string, delta int64) (bool, error) {
	query := `
		UPDATE usage_quotas
		SET tokens_used = tokens_used + $3, updated_at = NOW()
		WHERE user_id = $1 AND month = $2 AND tokens_used + $3 <= tokens_limit
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, month, delta)
	if err != nil {
		return false, fmt.Errorf("failed to increment usage: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SetQuotaLimit overwrites tokens_limit for a (user, month) key, leaving
// tokens_used untouched
func (r *Repository) SetQuotaLimit(ctx context.Context, userID, month string, tokensLimit int64) error {
	query := `
		UPDATE usage_quotas
		SET tokens_limit = $3, updated_at = NOW()
		WHERE user_id = $1 AND month = $2
	`

	_, err := r.db.Pool.Exec(ctx, query, userID, month, tokensLimit)
	if err != nil {
		return fmt.Errorf("failed to set quota limit: %w", err)
	}

	return nil
}

// Usage events

// CreateUsageEvent appends an audit row for a successful AI call
func (r *Repository) CreateUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO ai_usage_events (id, user_id, tokens_used, model, feature)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		event.ID, event.UserID, event.TokensUsed, event.Model, event.Feature,
	).Scan(&event.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create usage event: %w", err)
	}

	return nil
}

// GetUsageEventsByUser retrieves recent usage events for a user
func (r *Repository) GetUsageEventsByUser(ctx context.Context, userID string, limit int) ([]*models.UsageEvent, error) {
	query := `
		SELECT id, user_id, tokens_used, model, feature, created_at
		FROM ai_usage_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage events: %w", err)
	}
	defer rows.Close()

	var events []*models.UsageEvent
	for rows.Next() {
		var event models.UsageEvent
		err := rows.Scan(
			&event.ID, &event.UserID, &event.TokensUsed, &event.Model,
			&event.Feature, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		events = append(events, &event)
	}

	return events, nil
}
