package domain

import "time"

// Checkout session statuses recorded locally
const (
	CheckoutCreated  = "created"
	CheckoutOpen     = "open"
	CheckoutComplete = "complete"
	CheckoutExpired  = "expired"
)

// CheckoutSession records a payment-provider checkout started by a user
type CheckoutSession struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata"`
	SessionJSON string            `json:"-"`
	CreatedOn   time.Time         `json:"created_on"`
	UpdatedOn   time.Time         `json:"updated_on"`
}
