package billing

import (
	"context"
	"testing"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/shopspring/decimal"
)

func setupReconciler(t *testing.T) (*Reconciler, store.CreditStore, func()) {
	creditStore, cleanup := setupTestStore(t)
	refunds := NewRefundEngine(creditStore, testClock)
	return NewReconciler(creditStore, DefaultCatalog(), refunds, testClock), creditStore, cleanup
}

func TestReconcileSubscription_Activation(t *testing.T) {
	reconciler, creditStore, cleanup := setupReconciler(t)
	defer cleanup()

	ctx := context.Background()

	wallet, err := reconciler.ReconcileSubscription(ctx, "user1", "pro", "2026-08")
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}

	if wallet.Tier != "pro" {
		t.Errorf("Expected tier pro, got %s", wallet.Tier)
	}
	if !wallet.MonthlyCredits.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected 1000 monthly credits, got %s", wallet.MonthlyCredits.String())
	}

	balance, err := creditStore.LedgerBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("LedgerBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Activation must be ledgered, expected balance 1000, got %s", balance.String())
	}
}

func TestReconcileSubscription_UnknownTier(t *testing.T) {
	reconciler, _, cleanup := setupReconciler(t)
	defer cleanup()

	wallet, err := reconciler.ReconcileSubscription(context.Background(), "user1", "platinum", "2026-08")
	if err != nil {
		t.Fatalf("Unknown tier must not error: %v", err)
	}
	if !wallet.MonthlyCredits.Equal(decimal.Zero) {
		t.Errorf("Unknown tier gets zero allocation, got %s", wallet.MonthlyCredits.String())
	}
}

func TestReconcileCheckoutBonus_ReplayIsNoOp(t *testing.T) {
	reconciler, creditStore, cleanup := setupReconciler(t)
	defer cleanup()

	ctx := context.Background()
	bonus := decimal.NewFromInt(50)

	entry, err := reconciler.ReconcileCheckoutBonus(ctx, "user1", "LAUNCH50", bonus)
	if err != nil {
		t.Fatalf("First bonus failed: %v", err)
	}
	if entry == nil {
		t.Fatal("Expected a ledger entry for the first bonus")
	}
	if entry.Reason != models.ReasonPromoCodeBonus {
		t.Errorf("Expected PROMO_CODE_BONUS reason, got %s", entry.Reason)
	}

	replayed, err := reconciler.ReconcileCheckoutBonus(ctx, "user1", "LAUNCH50", bonus)
	if err != nil {
		t.Fatalf("Replayed bonus must be a silent no-op: %v", err)
	}
	if replayed != nil {
		t.Errorf("Replayed bonus must not post an entry, got entry %d", replayed.Id)
	}

	balance, err := creditStore.LedgerBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("LedgerBalance failed: %v", err)
	}
	if !balance.Equal(bonus) {
		t.Errorf("Expected balance 50 after replay, got %s", balance.String())
	}
}

func TestReconcileCheckoutBonus_FailedGrantKeepsCodeRedeemable(t *testing.T) {
	reconciler, creditStore, cleanup := setupReconciler(t)
	defer cleanup()

	ctx := context.Background()

	// A grant that fails must not leave the code claimed, or the sender's
	// retries would all no-op with nothing ever granted.
	if _, err := reconciler.ReconcileCheckoutBonus(ctx, "user1", "LAUNCH50", decimal.NewFromInt(-5)); err == nil {
		t.Fatal("Expected an error for a non-positive bonus")
	}

	entry, err := reconciler.ReconcileCheckoutBonus(ctx, "user1", "LAUNCH50", decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("Retry after failed grant errored: %v", err)
	}
	if entry == nil {
		t.Fatal("Expected the retry to grant the bonus")
	}

	balance, err := creditStore.LedgerBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("LedgerBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected balance 50 after retry, got %s", balance.String())
	}
}

func TestAddPurchasedCredits(t *testing.T) {
	reconciler, creditStore, cleanup := setupReconciler(t)
	defer cleanup()

	ctx := context.Background()

	entry, err := reconciler.AddPurchasedCredits(ctx, "user1", decimal.NewFromInt(500), "invoice inv_123")
	if err != nil {
		t.Fatalf("AddPurchasedCredits failed: %v", err)
	}
	if !entry.AmountCredits.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected 500 credits, got %s", entry.AmountCredits.String())
	}

	wallet, err := creditStore.GetWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.PurchasedAvailable().Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected 500 purchased available, got %s", wallet.PurchasedAvailable().String())
	}
}

func TestHandleEvent_Dispatch(t *testing.T) {
	reconciler, creditStore, cleanup := setupReconciler(t)
	defer cleanup()

	ctx := context.Background()

	reconciler.HandleEvent(ctx, models.BillingEvent{
		Id:        "evt_1",
		Type:      models.EventSubscriptionActivated,
		UserId:    "user1",
		Tier:      "creator",
		PeriodKey: "2026-08",
	})

	reconciler.HandleEvent(ctx, models.BillingEvent{
		Id:      "evt_2",
		Type:    models.EventAddonPurchased,
		UserId:  "user1",
		Credits: decimal.NewFromInt(100),
		Note:    "invoice inv_9",
	})

	wallet, err := creditStore.GetWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.TotalAvailable().Equal(decimal.NewFromInt(400)) {
		t.Errorf("Expected 400 available after events, got %s", wallet.TotalAvailable().String())
	}
}

func TestHandleEvent_SwallowsFailures(t *testing.T) {
	reconciler, _, cleanup := setupReconciler(t)
	defer cleanup()

	ctx := context.Background()

	// Unknown type and an invalid bonus amount: neither may panic or leak an
	// error to the caller.
	reconciler.HandleEvent(ctx, models.BillingEvent{Id: "evt_1", Type: "subscription.paused", UserId: "user1"})
	reconciler.HandleEvent(ctx, models.BillingEvent{
		Id:          "evt_2",
		Type:        models.EventCheckoutBonus,
		UserId:      "user1",
		PromoCodeId: "BROKEN",
		Credits:     decimal.NewFromInt(-5),
	})
}
