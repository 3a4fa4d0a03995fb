// Package payments runs the PRO upgrade checkout.
package payments

import (
	"context"
	"errors"
)

// Provider checkout statuses
const (
	StatusOpen     = "open"
	StatusComplete = "complete"
	StatusExpired  = "expired"

	PaymentUnpaid = "unpaid"
	PaymentPaid   = "paid"
)

// Webhook event types acted on
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded  = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed     = "checkout.session.async_payment_failed"
	EventCheckoutSessionExpired = "checkout.session.expired"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutRequest describes a hosted checkout to create
type CheckoutRequest struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession is the provider's view of a checkout
type CheckoutSession struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	Metadata      map[string]string
	// Raw is the provider's JSON representation
	Raw string
}

// WebhookEvent is a verified webhook notification about a checkout
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Provider is a hosted payment service
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
