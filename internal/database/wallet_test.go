package database

import (
	"context"
	"errors"
	"testing"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestGetWallet_UnknownUser(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	wallet, err := service.GetWallet(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}

	if !wallet.TotalAvailable().Equal(decimal.Zero) {
		t.Errorf("Expected zero availability, got %s", wallet.TotalAvailable().String())
	}
	if wallet.Id != "" {
		t.Errorf("Unknown user must not get a persisted wallet, got id %s", wallet.Id)
	}
}

func TestRenewWallet_CarriesRolloverUpToCap(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	_, err := service.RenewWallet(ctx, store.RenewParams{
		UserId:         "user1",
		Tier:           "creator",
		PeriodKey:      "2026-08",
		MonthlyCredits: decimal.NewFromInt(100),
		RolloverCap:    decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("Initial renewal failed: %v", err)
	}

	_, err = service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(30),
		Reason:        models.ReasonProcessAudio,
	})
	if err != nil {
		t.Fatalf("AppendDebit failed: %v", err)
	}

	// 70 unused, capped at 50.
	wallet, err := service.RenewWallet(ctx, store.RenewParams{
		UserId:         "user1",
		Tier:           "creator",
		PeriodKey:      "2026-09",
		MonthlyCredits: decimal.NewFromInt(100),
		RolloverCap:    decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("Period renewal failed: %v", err)
	}

	if !wallet.RolloverCredits.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected rollover 50, got %s", wallet.RolloverCredits.String())
	}
	if !wallet.UsedMonthlyRollover.Equal(decimal.Zero) {
		t.Errorf("Expected used counter reset, got %s", wallet.UsedMonthlyRollover.String())
	}
	if !wallet.TotalAvailable().Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected 150 available, got %s", wallet.TotalAvailable().String())
	}
}

func TestRenewWallet_MidPeriodRefresh(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	_, err := service.RenewWallet(ctx, store.RenewParams{
		UserId:         "user1",
		Tier:           "creator",
		PeriodKey:      "2026-08",
		MonthlyCredits: decimal.NewFromInt(100),
		RolloverCap:    decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("Initial renewal failed: %v", err)
	}

	_, err = service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(40),
		Reason:        models.ReasonTTSGeneration,
	})
	if err != nil {
		t.Fatalf("AppendDebit failed: %v", err)
	}

	// Upgrade within the same period: usage sticks, allocation grows.
	wallet, err := service.RenewWallet(ctx, store.RenewParams{
		UserId:         "user1",
		Tier:           "pro",
		PeriodKey:      "2026-08",
		MonthlyCredits: decimal.NewFromInt(300),
		RolloverCap:    decimal.NewFromInt(150),
	})
	if err != nil {
		t.Fatalf("Mid-period renewal failed: %v", err)
	}

	if wallet.Tier != "pro" {
		t.Errorf("Expected tier pro, got %s", wallet.Tier)
	}
	if !wallet.UsedMonthlyRollover.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected used 40 preserved, got %s", wallet.UsedMonthlyRollover.String())
	}
	if !wallet.TotalAvailable().Equal(decimal.NewFromInt(260)) {
		t.Errorf("Expected 260 available, got %s", wallet.TotalAvailable().String())
	}
}

func TestRenewWallet_Replay(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	params := store.RenewParams{
		UserId:         "user1",
		Tier:           "creator",
		PeriodKey:      "2026-08",
		MonthlyCredits: decimal.NewFromInt(100),
		RolloverCap:    decimal.NewFromInt(50),
	}

	for i := 0; i < 3; i++ {
		if _, err := service.RenewWallet(ctx, params); err != nil {
			t.Fatalf("Renewal %d failed: %v", i, err)
		}
	}

	wallet, err := service.GetWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.TotalAvailable().Equal(decimal.NewFromInt(100)) {
		t.Errorf("Replayed renewal must not stack, expected 100, got %s", wallet.TotalAvailable().String())
	}
}

func TestRenewWallet_KeepsLedgerConsistent(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	_, err := service.RenewWallet(ctx, store.RenewParams{
		UserId:         "user1",
		Tier:           "creator",
		PeriodKey:      "2026-08",
		MonthlyCredits: decimal.NewFromInt(100),
		RolloverCap:    decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("Initial renewal failed: %v", err)
	}

	_, err = service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(80),
		Reason:        models.ReasonAssembly,
	})
	if err != nil {
		t.Fatalf("AppendDebit failed: %v", err)
	}

	// The unused 20 is carried, the rest expires; the ledger entry posted by
	// the renewal must account for the expiry and the fresh allocation.
	wallet, err := service.RenewWallet(ctx, store.RenewParams{
		UserId:         "user1",
		Tier:           "creator",
		PeriodKey:      "2026-09",
		MonthlyCredits: decimal.NewFromInt(100),
		RolloverCap:    decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("Period renewal failed: %v", err)
	}

	balance, err := service.LedgerBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("LedgerBalance failed: %v", err)
	}
	if !balance.Equal(wallet.TotalAvailable()) {
		t.Errorf("Ledger balance %s disagrees with wallet total %s",
			balance.String(), wallet.TotalAvailable().String())
	}
}

func TestAppendAward_PromoRedemptionReplay(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	params := store.AwardParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(50),
		Reason:        models.ReasonPromoCodeBonus,
		PromoCodeId:   "LAUNCH50",
	}

	if _, err := service.AppendAward(ctx, params); err != nil {
		t.Fatalf("First redemption failed: %v", err)
	}

	_, err := service.AppendAward(ctx, params)
	if !errors.Is(err, store.ErrPromoAlreadyRedeemed) {
		t.Fatalf("Expected ErrPromoAlreadyRedeemed, got %v", err)
	}

	// The replay must not post a second credit.
	balance, err := service.LedgerBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("LedgerBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected balance 50 after replay, got %s", balance.String())
	}

	// A different user may redeem the same code.
	other := params
	other.UserId = "user2"
	if _, err := service.AppendAward(ctx, other); err != nil {
		t.Fatalf("Redemption by other user failed: %v", err)
	}
}
