package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/quillnotes/quill/internal/config"
	"github.com/quillnotes/quill/pkg/models"
)

// UserReader looks up users for checkout
type UserReader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Checkout creates Stripe Checkout Sessions for the pro subscription
type Checkout struct {
	users       UserReader
	priceID     string
	frontendURL string
}

// NewCheckout configures the Stripe client and returns a checkout service
func NewCheckout(users UserReader, cfg config.BillingConfig) (*Checkout, error) {
	if cfg.SecretKey == "" || cfg.ProPriceID == "" || cfg.FrontendURL == "" {
		return nil, fmt.Errorf("billing not configured")
	}

	stripe.Key = cfg.SecretKey

	return &Checkout{
		users:       users,
		priceID:     cfg.ProPriceID,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
	}, nil
}

// CreateSession starts a subscription Checkout Session for the user. The
// user id is carried in the subscription metadata so webhook events can be
// attributed back to the account.
func (c *Checkout) CreateSession(ctx context.Context, userID string) (string, error) {
	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(user.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"userId": user.ID},
		},
		SuccessURL: stripe.String(c.frontendURL + "/billing/success"),
		CancelURL:  stripe.String(c.frontendURL + "/billing/cancel"),
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess.URL, nil
}
