package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/scribe/backend/internal/modules/subscription"
	"github.com/scribe/backend/internal/shared/docstore"
	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

const (
	metaUserID = "clerk_user_id"
	metaTier   = "tier"

	maxWebhookBody = 1 << 16
)

// StripeConfig holds Stripe credentials and redirect URLs
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ProPriceID    string
	SuccessURL    string
	CancelURL     string
}

// StripeHandler handles Stripe checkout and webhooks
type StripeHandler struct {
	subs   *subscription.Service
	cfg    StripeConfig
	logger *zap.Logger
}

// NewStripeHandler creates a new Stripe handler
func NewStripeHandler(subs *subscription.Service, cfg StripeConfig, logger *zap.Logger) *StripeHandler {
	return &StripeHandler{
		subs:   subs,
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCheckoutResponse returns the Stripe Checkout URL
type CreateCheckoutResponse struct {
	URL string `json:"url"`
}

// CreateCheckoutSession creates a Checkout session for the pro tier
func (h *StripeHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if h.cfg.SecretKey == "" || h.cfg.ProPriceID == "" {
		writeError(w, http.StatusServiceUnavailable, "Stripe not configured")
		return
	}

	uid := userID(r)
	sub := h.subs.GetTier(r.Context(), uid)
	if sub.EffectiveTier() == subscription.TierPro {
		h.logger.Info("User attempted to subscribe to tier they already have", zap.String("user_id", uid))
		writeError(w, http.StatusConflict, "You already have an active pro subscription")
		return
	}

	stripe.Key = h.cfg.SecretKey

	custID := sub.StripeCustomerID
	if custID == "" {
		params := &stripe.CustomerParams{}
		params.AddMetadata(metaUserID, uid)
		c, err := customer.New(params)
		if err != nil {
			h.logger.Error("Failed to create Stripe customer", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create customer")
			return
		}
		custID = c.ID
		if err := h.subs.UpdateBilling(r.Context(), uid, subscription.Billing{CustomerID: custID}); err != nil {
			h.logger.Warn("Failed to store Stripe customer", zap.String("user_id", uid), zap.Error(err))
		}
	}

	metadata := map[string]string{
		metaUserID: uid,
		metaTier:   string(subscription.TierPro),
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(custID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(h.cfg.ProPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(h.cfg.SuccessURL),
		CancelURL:  stripe.String(h.cfg.CancelURL),
		Metadata:   metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		h.logger.Error("Failed to create checkout session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, CreateCheckoutResponse{URL: sess.URL})
}

// CreatePortalSessionRequest for customer portal
type CreatePortalSessionRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// CreatePortalSession creates a Stripe Customer Portal session
func (h *StripeHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	if h.cfg.SecretKey == "" {
		writeError(w, http.StatusServiceUnavailable, "Stripe not configured")
		return
	}

	sub := h.subs.GetTier(r.Context(), userID(r))
	if sub.StripeCustomerID == "" {
		writeError(w, http.StatusBadRequest, "no subscription found")
		return
	}

	stripe.Key = h.cfg.SecretKey

	returnURL := h.cfg.CancelURL
	var req CreatePortalSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}

	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(sub.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		h.logger.Error("Failed to create portal session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": sess.URL})
}

// HandleWebhook processes Stripe webhook events
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.cfg.WebhookSecret == "" {
		h.logger.Warn("Stripe webhook secret not configured")
		writeError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		r.Header.Get("Stripe-Signature"),
		h.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true, // Allow Stripe CLI with different API versions
		},
	)
	if err != nil {
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(ctx, event)
	default:
		h.logger.Debug("Unhandled webhook event", zap.String("type", string(event.Type)))
	}
	if err != nil {
		// a non-2xx makes Stripe redeliver the event
		h.logger.Error("Failed to process webhook event",
			zap.String("type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}
	uid := sess.Metadata[metaUserID]
	if uid == "" {
		h.logger.Warn("Checkout session missing metadata", zap.String("session_id", sess.ID))
		return nil
	}

	billing := subscription.Billing{}
	if sess.Customer != nil {
		billing.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		billing.SubscriptionID = sess.Subscription.ID
	}
	if err := h.subs.UpdateBilling(ctx, uid, billing); err != nil {
		return err
	}
	if err := h.subs.UpdateTier(ctx, uid, subscription.TierPro, true); err != nil {
		return err
	}

	h.logger.Info("Upgraded user from checkout", zap.String("user_id", uid))
	return nil
}

func (h *StripeHandler) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	uid, err := h.resolveUser(ctx, &sub)
	if err != nil || uid == "" {
		return err
	}

	billing := subscription.Billing{SubscriptionID: sub.ID}
	if sub.Customer != nil {
		billing.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		billing.CurrentPeriodEnd = &end
	}
	if err := h.subs.UpdateBilling(ctx, uid, billing); err != nil {
		return err
	}

	active := sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing
	if err := h.subs.UpdateTier(ctx, uid, subscription.TierPro, active); err != nil {
		return err
	}

	h.logger.Info("Updated user tier from subscription",
		zap.String("user_id", uid),
		zap.String("status", string(sub.Status)),
	)
	return nil
}

func (h *StripeHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	uid, err := h.resolveUser(ctx, &sub)
	if err != nil || uid == "" {
		return err
	}

	if err := h.subs.UpdateTier(ctx, uid, subscription.TierFree, true); err != nil {
		return err
	}
	h.logger.Info("Set user to free tier after subscription deleted", zap.String("user_id", uid))
	return nil
}

// resolveUser reads the user from metadata, falling back to the customer index.
// Unknown customers resolve to "" without error so the event is not redelivered.
func (h *StripeHandler) resolveUser(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if uid := sub.Metadata[metaUserID]; uid != "" {
		return uid, nil
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		h.logger.Warn("Subscription event without user or customer", zap.String("subscription_id", sub.ID))
		return "", nil
	}

	uid, err := h.subs.UserIDForCustomer(ctx, sub.Customer.ID)
	if errors.Is(err, docstore.ErrNotFound) {
		h.logger.Warn("Could not resolve user from subscription", zap.String("customer_id", sub.Customer.ID))
		return "", nil
	}
	return uid, err
}
