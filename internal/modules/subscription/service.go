package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scribe/backend/internal/shared/docstore"
	"go.uber.org/zap"
)

const (
	collection         = "subscriptions"
	customerCollection = "stripe_customers"
	uploadsCollection  = "uploads"
)

// Subscription is a user's stored subscription record
type Subscription struct {
	UserID               string     `json:"user_id"`
	Tier                 Tier       `json:"tier"`
	IsActive             bool       `json:"is_active"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// EffectiveTier is the tier used for admission. An inactive pro subscription counts as free.
func (s Subscription) EffectiveTier() Tier {
	if s.Tier == TierPro && s.IsActive {
		return TierPro
	}
	return TierFree
}

// Default returns the free, active record every new user starts with
func Default(userID string) Subscription {
	return Subscription{UserID: userID, Tier: TierFree, IsActive: true}
}

// Billing carries Stripe identifiers for a subscription
type Billing struct {
	CustomerID       string
	SubscriptionID   string
	CurrentPeriodEnd *time.Time
}

// Recorder receives tier changes, typically for metrics
type Recorder interface {
	RecordSubscriptionChange(tier string, active bool)
}

// Service reads and writes subscription records in the document store
type Service struct {
	store    docstore.Store
	recorder Recorder
	logger   *zap.Logger
}

// NewService creates a new subscription service. recorder may be nil.
func NewService(store docstore.Store, recorder Recorder, logger *zap.Logger) *Service {
	return &Service{store: store, recorder: recorder, logger: logger}
}

func recordPath(userID string) string {
	return docstore.Join(collection, userID)
}

// GetTier returns the user's subscription, creating the default free record on first
// lookup. It never fails: any store error is logged and the free default is returned.
func (s *Service) GetTier(ctx context.Context, userID string) Subscription {
	if userID == "" || strings.Contains(userID, "/") {
		s.logger.Warn("Subscription lookup with invalid user id, using free tier", zap.String("user_id", userID))
		return Default(userID)
	}

	def := Default(userID)
	doc, created, err := s.store.Create(ctx, recordPath(userID), def)
	if err != nil {
		s.logger.Error("Failed to load subscription, using free tier",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return def
	}

	sub, err := decode(doc)
	if err != nil {
		s.logger.Error("Corrupt subscription record, using free tier",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return def
	}

	if created {
		s.logger.Info("Created default subscription", zap.String("user_id", userID))
	}
	return sub
}

// IsPro reports whether the user currently has an active pro subscription
func (s *Service) IsPro(ctx context.Context, userID string) bool {
	return s.GetTier(ctx, userID).EffectiveTier() == TierPro
}

// UpdateTier sets the user's tier and active flag, creating the record if needed
func (s *Service) UpdateTier(ctx context.Context, userID string, tier Tier, isActive bool) error {
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", tier)
	}
	if userID == "" {
		return errors.New("user id is required")
	}

	err := s.store.Merge(ctx, recordPath(userID), map[string]any{
		"user_id":   userID,
		"tier":      tier,
		"is_active": isActive,
	})
	if err != nil {
		return fmt.Errorf("failed to update subscription for %s: %w", userID, err)
	}

	if s.recorder != nil {
		s.recorder.RecordSubscriptionChange(string(tier), isActive)
	}
	s.logger.Info("Updated subscription tier",
		zap.String("user_id", userID),
		zap.String("tier", string(tier)),
		zap.Bool("is_active", isActive),
	)
	return nil
}

// UpdateBilling stores Stripe identifiers on the user's record and indexes the customer
func (s *Service) UpdateBilling(ctx context.Context, userID string, billing Billing) error {
	fields := map[string]any{"user_id": userID}
	if billing.CustomerID != "" {
		fields["stripe_customer_id"] = billing.CustomerID
	}
	if billing.SubscriptionID != "" {
		fields["stripe_subscription_id"] = billing.SubscriptionID
	}
	if billing.CurrentPeriodEnd != nil {
		fields["current_period_end"] = billing.CurrentPeriodEnd.UTC()
	}
	if err := s.store.Merge(ctx, recordPath(userID), fields); err != nil {
		return fmt.Errorf("failed to update billing for %s: %w", userID, err)
	}

	if billing.CustomerID != "" {
		err := s.store.Set(ctx, docstore.Join(customerCollection, billing.CustomerID), map[string]any{"user_id": userID})
		if err != nil {
			return fmt.Errorf("failed to index stripe customer %s: %w", billing.CustomerID, err)
		}
	}
	return nil
}

// UserIDForCustomer resolves a Stripe customer id to a user id
func (s *Service) UserIDForCustomer(ctx context.Context, customerID string) (string, error) {
	doc, err := s.store.Get(ctx, docstore.Join(customerCollection, customerID))
	if err != nil {
		return "", err
	}
	userID, _ := doc.Data["user_id"].(string)
	if userID == "" {
		return "", docstore.ErrNotFound
	}
	return userID, nil
}

// BackfillResult summarizes a BackfillDefaults run
type BackfillResult struct {
	UsersSeen int
	Created   int
}

// BackfillDefaults makes sure every user that has uploads also has a subscription record
func (s *Service) BackfillDefaults(ctx context.Context) (BackfillResult, error) {
	var result BackfillResult

	docs, err := s.store.ListPrefix(ctx, uploadsCollection+"/")
	if err != nil {
		return result, fmt.Errorf("failed to list uploads: %w", err)
	}

	seen := make(map[string]struct{})
	for _, doc := range docs {
		parts := strings.SplitN(doc.Path, "/", 3)
		if len(parts) < 2 || parts[1] == "" {
			continue
		}
		userID := parts[1]
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, created, err := s.store.Create(ctx, recordPath(userID), Default(userID))
		if err != nil {
			s.logger.Error("Failed to backfill subscription", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if created {
			result.Created++
			s.logger.Info("Backfilled default subscription", zap.String("user_id", userID))
		}
	}
	result.UsersSeen = len(seen)

	return result, nil
}

func decode(doc *docstore.Document) (Subscription, error) {
	var sub Subscription
	if err := doc.Decode(&sub); err != nil {
		return Subscription{}, err
	}
	sub.Tier = ParseTier(string(sub.Tier))
	sub.CreatedAt = doc.CreatedAt
	sub.UpdatedAt = doc.UpdatedAt
	return sub, nil
}
