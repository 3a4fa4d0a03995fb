package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

var ErrNotConfigured = errors.New("payment provider is not configured")

// Stripe implements Provider with the Stripe API
type Stripe struct {
	sessions       *session.Client
	endpointSecret string
}

// NewStripe creates a Stripe provider. secretKey may be empty in
// development, in which case every call fails with ErrNotConfigured.
func NewStripe(secretKey, endpointSecret string) *Stripe {
	s := &Stripe{endpointSecret: endpointSecret}
	if secretKey != "" {
		s.sessions = &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	}
	return s
}

// CreateCheckoutSession starts a one-off payment checkout
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if s.sessions == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}
	return convertSession(cs)
}

// GetCheckoutSession retrieves a checkout with its line items expanded
func (s *Stripe) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if s.sessions == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	cs, err := s.sessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieving checkout session %s: %w", id, err)
	}
	return convertSession(cs)
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// checkout session id
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if s.endpointSecret == "" {
		return nil, ErrNotConfigured
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.endpointSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(ev.Type, "checkout.session.") && event.Data != nil {
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("decoding checkout session: %w", err)
		}
		ev.SessionID = cs.ID
	}
	return ev, nil
}

func convertSession(cs *stripe.CheckoutSession) (*CheckoutSession, error) {
	raw, err := json.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("encoding checkout session: %w", err)
	}
	return &CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		Metadata:      cs.Metadata,
		Raw:           string(raw),
	}, nil
}
