package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/quillnotes/quill/internal/metrics"
	"github.com/quillnotes/quill/internal/middleware"
	"github.com/quillnotes/quill/pkg/models"
)

const maxWebhookBodyBytes = 65536

// Stripe webhook endpoint. Signature verification is the only
// authentication on this route.
func (api *API) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		api.cfg.Billing.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		api.logger.WithError(err).Warn("Webhook signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	eventType := string(event.Type)

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		// Not a subscription object; the processor ignores the type anyway
		api.logger.Warnf("Webhook event %s carries no subscription payload", event.ID)
	}

	var customerID string
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	if err := api.billing.HandleEvent(c.Request.Context(), eventType, event.ID, sub.Metadata["userId"], customerID); err != nil {
		metrics.RecordBillingEvent(eventType, "error")
		api.logger.WithError(err).Errorf("Failed to process billing event %s", event.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
		return
	}

	metrics.RecordBillingEvent(eventType, "success")
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Create checkout session endpoint
func (api *API) createCheckout(c *gin.Context) {
	if api.checkout == nil {
		respondError(c, models.NewAPIError(models.ErrInvalidRequest, "billing is not configured"))
		return
	}

	userID, _ := middleware.GetUserID(c)

	url, err := api.checkout.CreateSession(c.Request.Context(), userID)
	if err != nil {
		api.logger.WithUserID(userID).ErrorWithErr("Failed to create checkout session", err)
		respondError(c, models.NewAPIError(models.ErrUpstreamError, "Failed to create checkout session"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
