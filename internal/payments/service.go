package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/events"
	"github.com/ernie/play4096/internal/metrics"
)

// Upgrade eligibility errors carry the message shown to the user
var (
	ErrAlreadyUpgraded  = errors.New("User already upgraded.")
	ErrNoEmail          = errors.New("Please add an email address and verify it before upgrading.")
	ErrEmailNotVerified = errors.New("Please verify your email address before upgrading.")
	ErrNoCheckoutURL    = errors.New("checkout session has no url")
	ErrMissingUserID    = errors.New("checkout session has no user id")
)

// Store is the persistence the service needs
type Store interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	SetUserLevel(ctx context.Context, id string, level domain.Level) error
	CreateCheckoutSession(ctx context.Context, c *domain.CheckoutSession) error
	GetCheckoutSessionBySessionID(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)
	UpdateCheckoutSession(ctx context.Context, c *domain.CheckoutSession) error
	DeleteCheckoutSessionBySessionID(ctx context.Context, sessionID string) error
}

// Config holds checkout settings
type Config struct {
	BaseURL string
	PriceID string
}

// Service upgrades users to PRO through hosted checkout
type Service struct {
	provider Provider
	store    Store
	events   events.Publisher
	metrics  *metrics.Metrics
	log      *logrus.Entry
	cfg      Config
	now      func() time.Time
}

// NewService creates a payments service
func NewService(provider Provider, store Store, cfg Config, pub events.Publisher, m *metrics.Metrics, log *logrus.Entry) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{
		provider: provider,
		store:    store,
		events:   pub,
		metrics:  m,
		log:      log.WithField("component", "payments"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Eligibility reports why the user cannot upgrade, or nil
func Eligibility(user *domain.User) error {
	switch {
	case user.IsPro():
		return ErrAlreadyUpgraded
	case !user.HasEmail():
		return ErrNoEmail
	case !user.EmailVerified:
		return ErrEmailNotVerified
	}
	return nil
}

// IsEligibilityError reports whether err is one of the user-facing
// eligibility errors
func IsEligibilityError(err error) bool {
	return errors.Is(err, ErrAlreadyUpgraded) || errors.Is(err, ErrNoEmail) || errors.Is(err, ErrEmailNotVerified)
}

// StartUpgrade creates a checkout for the user and returns its URL
func (s *Service) StartUpgrade(ctx context.Context, user *domain.User) (string, error) {
	if err := Eligibility(user); err != nil {
		return "", err
	}

	cs, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		PriceID:    s.cfg.PriceID,
		SuccessURL: s.cfg.BaseURL + "/stripe/success?sessionId={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.BaseURL + "/stripe/cancel?sessionId={CHECKOUT_SESSION_ID}",
		Metadata:   map[string]string{"userId": user.ID},
	})
	if err != nil {
		return "", err
	}
	if cs.URL == "" {
		return "", ErrNoCheckoutURL
	}

	// the user may have been deleted while the provider call ran
	if _, err := s.store.GetUserByID(ctx, user.ID); err != nil {
		return "", fmt.Errorf("loading user %s: %w", user.ID, err)
	}

	status := cs.Status
	if status == "" {
		status = domain.CheckoutCreated
	}
	now := s.now().UTC()
	record := &domain.CheckoutSession{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		SessionID:   cs.ID,
		Status:      status,
		Metadata:    cs.Metadata,
		SessionJSON: cs.Raw,
		CreatedOn:   now,
		UpdatedOn:   now,
	}
	if err := s.store.CreateCheckoutSession(ctx, record); err != nil {
		return "", fmt.Errorf("recording checkout session: %w", err)
	}

	s.metrics.CheckoutEvent("created")
	s.log.WithFields(logrus.Fields{"user_id": user.ID, "session_id": cs.ID}).Info("Checkout session created")
	return cs.URL, nil
}

// Fulfill upgrades the user behind a paid checkout. Reports whether the
// user was upgraded by this call.
func (s *Service) Fulfill(ctx context.Context, sessionID string) (bool, error) {
	log := s.log.WithField("session_id", sessionID)
	log.Debug("Fulfilling checkout session")

	cs, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	userID := cs.Metadata["userId"]
	if userID == "" {
		return false, fmt.Errorf("%w: %s", ErrMissingUserID, sessionID)
	}

	record, err := s.store.GetCheckoutSessionBySessionID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("loading checkout session %s: %w", sessionID, err)
	}

	if record.Status == domain.CheckoutComplete {
		log.Debug("Checkout session already complete")
		return false, nil
	}
	if cs.PaymentStatus == PaymentUnpaid {
		log.Debug("Checkout session is unpaid")
		return false, nil
	}

	if err := s.store.SetUserLevel(ctx, userID, domain.LevelPro); err != nil {
		return false, fmt.Errorf("upgrading user %s: %w", userID, err)
	}

	record.Status = cs.Status
	if record.Status == "" {
		record.Status = domain.CheckoutComplete
	}
	record.Metadata = cs.Metadata
	record.SessionJSON = cs.Raw
	record.UpdatedOn = s.now().UTC()
	if err := s.store.UpdateCheckoutSession(ctx, record); err != nil {
		return false, fmt.Errorf("updating checkout session: %w", err)
	}

	s.metrics.CheckoutEvent("fulfilled")
	log.WithField("user_id", userID).Info("User upgraded to PRO")

	user, err := s.store.GetUserByID(ctx, userID)
	if err == nil {
		ev := domain.Event{
			Type:      domain.EventUserUpgraded,
			Timestamp: s.now().UTC(),
			Data:      domain.UserUpgradedEvent{UserID: user.ID, Username: user.Username},
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			log.WithError(err).Warn("Publishing upgrade event")
		}
	}
	return true, nil
}

// Cancel abandons an unpaid checkout, optionally returning the user to
// FREE. Reports whether the record was removed.
func (s *Service) Cancel(ctx context.Context, sessionID string, downgrade bool) (bool, error) {
	log := s.log.WithField("session_id", sessionID)
	log.Debug("Cancelling checkout session")

	cs, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if cs.Status == StatusComplete {
		log.Debug("Cannot cancel; provider reports it complete")
		return false, nil
	}

	record, err := s.store.GetCheckoutSessionBySessionID(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("Cannot cancel; no local record")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading checkout session %s: %w", sessionID, err)
	}
	if record.Status == domain.CheckoutComplete {
		log.Debug("Cannot cancel; already paid")
		return false, nil
	}

	if downgrade {
		if err := s.store.SetUserLevel(ctx, record.UserID, domain.LevelFree); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return false, fmt.Errorf("downgrading user %s: %w", record.UserID, err)
		}
	}
	if err := s.store.DeleteCheckoutSessionBySessionID(ctx, sessionID); err != nil {
		return false, fmt.Errorf("deleting checkout session: %w", err)
	}

	s.metrics.CheckoutEvent("cancelled")
	return true, nil
}

// HandleWebhook verifies and dispatches a provider notification.
// Signature failures wrap ErrInvalidSignature.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type})
	s.metrics.CheckoutEvent(ev.Type)

	switch ev.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		_, err = s.Fulfill(ctx, ev.SessionID)
	case EventAsyncPaymentFailed, EventCheckoutSessionExpired:
		_, err = s.Cancel(ctx, ev.SessionID, true)
	default:
		log.Debug("Webhook received but not handled")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("Handling webhook")
	}
	return err
}
