package quota

import (
	"context"

	"github.com/quillnotes/quill/internal/logging"
	"github.com/quillnotes/quill/pkg/models"
)

// UserStore is the user lookup needed for tier resolution
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// TierResolver determines a user's current subscription tier
type TierResolver struct {
	users  UserStore
	logger *logging.Logger
}

// NewTierResolver creates a tier resolver backed by the given user store
func NewTierResolver(users UserStore, logger *logging.Logger) *TierResolver {
	return &TierResolver{users: users, logger: logger}
}

// GetTier resolves the user's tier. Any lookup failure resolves to the free
// tier: resolution failure must never be more permissive than the cheapest
// plan.
func (r *TierResolver) GetTier(ctx context.Context, userID string) models.Tier {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		r.logger.WithUserID(userID).WithError(err).Warn("Tier lookup failed, defaulting to free")
		return models.TierFree
	}

	if !user.Tier.Valid() {
		return models.TierFree
	}

	return user.Tier
}
