package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

func signedWebhookRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()

	now := time.Now()
	signature := webhook.ComputeSignature(now, payload, "whsec_test")

	req := httptest.NewRequest("POST", "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature",
		fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature)))

	return req
}

func subscriptionEventPayload(t *testing.T, eventType, eventID, userID string) []byte {
	t.Helper()

	payload, err := json.Marshal(gin.H{
		"id":   eventID,
		"type": eventType,
		"data": gin.H{
			"object": gin.H{
				"id":       "sub_123",
				"object":   "subscription",
				"customer": "cus_123",
				"metadata": gin.H{"userId": userID},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestStripeWebhook(t *testing.T) {
	usage := &fakeUsage{used: 0, limit: 100000}
	api, router := newTestAPI(t, usage, &fakeProvider{})
	processor := api.billing.(*fakeBilling)

	payload := subscriptionEventPayload(t, "customer.subscription.created", "evt_1", "user-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(t, payload))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)

	assert.Equal(t, "customer.subscription.created", processor.eventType)
	assert.Equal(t, "evt_1", processor.eventID)
	assert.Equal(t, "user-1", processor.userID)
	assert.Equal(t, "cus_123", processor.customerID)
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	usage := &fakeUsage{used: 0, limit: 100000}
	api, router := newTestAPI(t, usage, &fakeProvider{})
	processor := api.billing.(*fakeBilling)

	payload := subscriptionEventPayload(t, "customer.subscription.created", "evt_2", "user-1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, processor.eventType)
}

func TestStripeWebhookProcessorFailure(t *testing.T) {
	usage := &fakeUsage{used: 0, limit: 100000}
	api, router := newTestAPI(t, usage, &fakeProvider{})
	api.billing.(*fakeBilling).err = errors.New("database down")

	payload := subscriptionEventPayload(t, "customer.subscription.deleted", "evt_3", "user-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(t, payload))

	// A 5xx makes Stripe retry the delivery
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStripeWebhookMissingMetadata(t *testing.T) {
	usage := &fakeUsage{used: 0, limit: 100000}
	api, router := newTestAPI(t, usage, &fakeProvider{})
	processor := api.billing.(*fakeBilling)

	payload, err := json.Marshal(gin.H{
		"id":   "evt_4",
		"type": "customer.subscription.updated",
		"data": gin.H{
			"object": gin.H{"id": "sub_456", "object": "subscription"},
		},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(t, payload))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, processor.userID)
}

func TestCreateCheckout(t *testing.T) {
	usage := &fakeUsage{used: 0, limit: 100000}
	_, router := newTestAPI(t, usage, &fakeProvider{})

	w := httptest.NewRecorder()
	req := authedRequest(t, "POST", "/api/v1/billing/checkout", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://checkout.stripe.com/test")
}

func TestCreateCheckoutNotConfigured(t *testing.T) {
	usage := &fakeUsage{used: 0, limit: 100000}
	api, router := newTestAPI(t, usage, &fakeProvider{})
	api.checkout = nil

	w := httptest.NewRecorder()
	req := authedRequest(t, "POST", "/api/v1/billing/checkout", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
