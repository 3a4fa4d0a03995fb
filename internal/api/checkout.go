package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ernie/play4096/internal/logging"
	"github.com/ernie/play4096/internal/payments"
)

const maxWebhookBytes = 64 << 10

// handleGetCheckout reports what stands between the user and an upgrade
func (r *Router) handleGetCheckout(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)
	writeJSON(w, http.StatusOK, map[string]bool{
		"already_upgraded":  user.IsPro(),
		"no_email":          !user.HasEmail(),
		"no_email_verified": !user.EmailVerified,
	})
}

// handleStartCheckout creates a hosted checkout and returns its URL
func (r *Router) handleStartCheckout(w http.ResponseWriter, req *http.Request) {
	url, err := r.payments.StartUpgrade(req.Context(), currentUser(req))
	if payments.IsEligibilityError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logging.FromContext(req.Context()).WithError(err).Error("Checkout session creation error")
		writeError(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleCheckoutSuccess fulfils the checkout the provider redirected back
// from
func (r *Router) handleCheckoutSuccess(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is not set")
		return
	}
	if _, err := r.payments.Fulfill(req.Context(), sessionID); err != nil {
		serverError(w, req, "Fulfilling checkout", err)
		return
	}
	http.Redirect(w, req, "/account", http.StatusFound)
}

// handleCheckoutCancel abandons the checkout without touching the level
func (r *Router) handleCheckoutCancel(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is not set")
		return
	}
	if _, err := r.payments.Cancel(req.Context(), sessionID, false); err != nil {
		serverError(w, req, "Cancelling checkout", err)
		return
	}
	http.Redirect(w, req, "/account", http.StatusFound)
}

// handleStripeWebhook verifies and applies a provider notification.
// Failures other than a bad signature return 500 so the provider retries.
func (r *Router) handleStripeWebhook(w http.ResponseWriter, req *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Webhook Error: unreadable body")
		return
	}

	err = r.payments.HandleWebhook(req.Context(), payload, req.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature), errors.Is(err, payments.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, "Webhook Error: "+err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Webhook handling failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Webhook received",
		"received": true,
	})
}
