package handlers

import (
	"net/http"
	"time"

	"github.com/scribe/backend/internal/modules/subscription"
	"go.uber.org/zap"
)

// SubscriptionHandler handles subscription-related endpoints
type SubscriptionHandler struct {
	subs   *subscription.Service
	stripe *StripeHandler
	logger *zap.Logger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subs *subscription.Service, stripe *StripeHandler, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:   subs,
		stripe: stripe,
		logger: logger,
	}
}

// LimitsResponse are the upload limits in effect
type LimitsResponse struct {
	MaxBytes           int64   `json:"maxBytes"`
	MaxDurationSeconds float64 `json:"maxDurationSeconds"`
}

// SubscriptionResponse is the caller's subscription
type SubscriptionResponse struct {
	UserID           string            `json:"userId"`
	Tier             subscription.Tier `json:"tier"`
	IsActive         bool              `json:"isActive"`
	IsPro            bool              `json:"isPro"`
	Limits           LimitsResponse    `json:"limits"`
	CurrentPeriodEnd *time.Time        `json:"currentPeriodEnd,omitempty"`
}

// GetMe returns the current user's subscription and limits
func (h *SubscriptionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	sub := h.subs.GetTier(r.Context(), userID(r))
	effective := sub.EffectiveTier()
	limits := subscription.LimitsFor(effective)

	writeJSON(w, http.StatusOK, SubscriptionResponse{
		UserID:   sub.UserID,
		Tier:     sub.Tier,
		IsActive: sub.IsActive,
		IsPro:    effective == subscription.TierPro,
		Limits: LimitsResponse{
			MaxBytes:           limits.MaxBytes,
			MaxDurationSeconds: limits.MaxDurationSeconds,
		},
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	})
}

// CreateCheckout delegates to Stripe handler
func (h *SubscriptionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	h.stripe.CreateCheckoutSession(w, r)
}

// CreatePortal delegates to Stripe handler
func (h *SubscriptionHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	h.stripe.CreatePortalSession(w, r)
}
