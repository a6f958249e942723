package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconciler keeps wallet allocations aligned with external subscription and
// payment lifecycle events. The sender delivers at-least-once and possibly
// out of order, so every write here is idempotent against replay.
type Reconciler struct {
	store  store.CreditStore
	plans  *Catalog
	awards *RefundEngine
	now    func() time.Time
}

func NewReconciler(creditStore store.CreditStore, plans *Catalog, awards *RefundEngine, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: creditStore, plans: plans, awards: awards, now: now}
}

// ReconcileSubscription sizes the wallet's monthly allocation for the user's
// current tier. Rollover carry and usage reset happen only on a genuine
// period transition; a replayed event for the current period is a no-op
// refresh.
func (r *Reconciler) ReconcileSubscription(ctx context.Context, userId, tier, periodKey string) (*models.Wallet, error) {
	if periodKey == "" {
		periodKey = r.now().UTC().Format("2006-01")
	}
	plan := r.plans.Plan(tier)
	wallet, err := r.store.RenewWallet(ctx, store.RenewParams{
		UserId:         userId,
		Tier:           tier,
		PeriodKey:      periodKey,
		MonthlyCredits: plan.MonthlyCredits,
		RolloverCap:    plan.RolloverCap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to renew wallet: %w", err)
	}
	return wallet, nil
}

// ReconcileCheckoutBonus applies a one-time promo bonus from a completed
// checkout. The redemption claim and the grant commit atomically: a replayed
// webhook finds the claim and grants nothing, while a failed grant rolls the
// claim back so the sender's retry can still redeem the code.
func (r *Reconciler) ReconcileCheckoutBonus(ctx context.Context, userId, promoCodeId string, credits decimal.Decimal) (*models.LedgerEntry, error) {
	entry, err := r.awards.AwardPromoBonus(ctx, AwardRequest{
		UserId:      userId,
		Credits:     credits,
		Reason:      "promo code bonus",
		Notes:       fmt.Sprintf("promo_code_id %s", promoCodeId),
		PromoCodeId: promoCodeId,
	})
	if err != nil {
		if errors.Is(err, store.ErrPromoAlreadyRedeemed) {
			zap.L().Info("Promo bonus already applied, skipping",
				zap.String("user_id", userId),
				zap.String("promo_code_id", promoCodeId))
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// AddPurchasedCredits applies an add-on credit purchase from a payment line
// item.
func (r *Reconciler) AddPurchasedCredits(ctx context.Context, userId string, credits decimal.Decimal, note string) (*models.LedgerEntry, error) {
	return r.awards.Award(ctx, AwardRequest{
		UserId:  userId,
		Credits: credits,
		Reason:  "add-on credit purchase",
		Notes:   note,
	})
}

// HandleEvent dispatches a billing lifecycle event. Errors are logged and
// swallowed: the webhook sender must always get its acknowledgement, and a
// stale wallet self-heals on the next reconciliation or balance read.
func (r *Reconciler) HandleEvent(ctx context.Context, event models.BillingEvent) {
	var err error

	switch event.Type {
	case models.EventSubscriptionActivated, models.EventSubscriptionRenewed, models.EventSubscriptionChanged:
		_, err = r.ReconcileSubscription(ctx, event.UserId, event.Tier, event.PeriodKey)
	case models.EventCheckoutBonus:
		_, err = r.ReconcileCheckoutBonus(ctx, event.UserId, event.PromoCodeId, event.Credits)
	case models.EventAddonPurchased:
		_, err = r.AddPurchasedCredits(ctx, event.UserId, event.Credits, event.Note)
	default:
		zap.L().Warn("Skipping billing event with unhandled type",
			zap.String("event_id", event.Id),
			zap.String("type", string(event.Type)))
		reconcileEventsTotal.WithLabelValues(string(event.Type), "skipped").Inc()
		return
	}

	if err != nil {
		zap.L().Error("Reconciliation failed",
			zap.String("event_id", event.Id),
			zap.String("type", string(event.Type)),
			zap.String("user_id", event.UserId),
			zap.Error(err))
		reconcileEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return
	}

	reconcileEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
}
