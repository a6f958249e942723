package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestStore(t *testing.T) (*Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// A second pooled connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)

	service := NewServiceFromDb(db)
	if err := service.InitSchema(); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return service, cleanup
}

// fundWallet gives the user a monthly allocation and optionally purchased
// credits, going through the same write paths production uses.
func fundWallet(t *testing.T, service *Service, userId string, monthly, purchased int64) {
	ctx := context.Background()

	_, err := service.RenewWallet(ctx, store.RenewParams{
		UserId:         userId,
		Tier:           "creator",
		PeriodKey:      "2026-08",
		MonthlyCredits: decimal.NewFromInt(monthly),
		RolloverCap:    decimal.NewFromInt(monthly / 2),
	})
	if err != nil {
		t.Fatalf("Failed to fund wallet allocation: %v", err)
	}

	if purchased > 0 {
		_, err := service.AppendAward(ctx, store.AwardParams{
			UserId:        userId,
			AmountCredits: decimal.NewFromInt(purchased),
			Reason:        models.ReasonManualAdjust,
			Notes:         "test funding",
		})
		if err != nil {
			t.Fatalf("Failed to fund purchased credits: %v", err)
		}
	}
}

func TestAppendDebit_DrawsAllocationFirst(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 100, 50)

	entry, err := service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		EpisodeId:     "ep1",
		AmountCredits: decimal.NewFromInt(120),
		AmountMinutes: 42,
		Reason:        models.ReasonProcessAudio,
	})
	if err != nil {
		t.Fatalf("AppendDebit failed: %v", err)
	}

	if !entry.DrawnAllocation.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected drawn_allocation 100, got %s", entry.DrawnAllocation.String())
	}
	if !entry.DrawnPurchased.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected drawn_purchased 20, got %s", entry.DrawnPurchased.String())
	}
	if entry.Direction != models.DirectionDebit {
		t.Errorf("Expected DEBIT direction, got %s", entry.Direction)
	}

	wallet, err := service.GetWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.TotalAvailable().Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected 30 available, got %s", wallet.TotalAvailable().String())
	}
	if !wallet.MonthlyAllocationAvailable().Equal(decimal.Zero) {
		t.Errorf("Expected allocation exhausted, got %s", wallet.MonthlyAllocationAvailable().String())
	}
}

func TestAppendDebit_InsufficientBalance(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 10, 0)

	_, err := service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(11),
		Reason:        models.ReasonTranscription,
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// The rejected charge must leave no trace in the ledger.
	entries, err := service.PageEntries(ctx, "user1", 10, 0)
	if err != nil {
		t.Fatalf("PageEntries failed: %v", err)
	}
	for _, e := range entries {
		if e.Direction == models.DirectionDebit {
			t.Errorf("Found unexpected debit entry %d after rejected charge", e.Id)
		}
	}
}

func TestAppendDebit_ExactBalanceAllowed(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 10, 0)

	_, err := service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(10),
		Reason:        models.ReasonAssembly,
	})
	if err != nil {
		t.Fatalf("Charge equal to available balance should succeed: %v", err)
	}

	wallet, err := service.GetWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.TotalAvailable().Equal(decimal.Zero) {
		t.Errorf("Expected 0 available, got %s", wallet.TotalAvailable().String())
	}
}

func TestAppendDebit_DuplicateIdempotencyKey(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 100, 0)

	params := store.DebitParams{
		UserId:         "user1",
		AmountCredits:  decimal.NewFromInt(5),
		Reason:         models.ReasonTTSGeneration,
		IdempotencyKey: "episode-ep1-tts-v1",
	}

	first, err := service.AppendDebit(ctx, params)
	if err != nil {
		t.Fatalf("First debit failed: %v", err)
	}

	_, err = service.AppendDebit(ctx, params)
	if !errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		t.Fatalf("Expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	found, err := service.FindDebitByIdempotencyKey(ctx, "user1", "episode-ep1-tts-v1")
	if err != nil {
		t.Fatalf("FindDebitByIdempotencyKey failed: %v", err)
	}
	if found.Id != first.Id {
		t.Errorf("Expected entry %d, got %d", first.Id, found.Id)
	}

	wallet, err := service.GetWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.TotalAvailable().Equal(decimal.NewFromInt(95)) {
		t.Errorf("Duplicate must not deduct twice, expected 95 available, got %s", wallet.TotalAvailable().String())
	}
}

func TestAppendDebit_EmptyKeysDoNotCollide(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 100, 0)

	for i := 0; i < 2; i++ {
		_, err := service.AppendDebit(ctx, store.DebitParams{
			UserId:        "user1",
			AmountCredits: decimal.NewFromInt(1),
			Reason:        models.ReasonStorage,
		})
		if err != nil {
			t.Fatalf("Debit without idempotency key failed: %v", err)
		}
	}
}

func TestAppendDebit_AllowNegative(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 10, 0)

	entry, err := service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(25),
		Reason:        models.ReasonProcessAudio,
		AllowNegative: true,
	})
	if err != nil {
		t.Fatalf("Overdraw with AllowNegative failed: %v", err)
	}

	// The 15 credits beyond the pools are booked against the allocation.
	if !entry.DrawnAllocation.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected drawn_allocation 25, got %s", entry.DrawnAllocation.String())
	}

	balance, err := service.LedgerBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("LedgerBalance failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("Expected ledger balance -15, got %s", balance.String())
	}
}

func TestFindDebitByIdempotencyKey_NotFound(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := service.FindDebitByIdempotencyKey(context.Background(), "user1", "missing")
	if !errors.Is(err, store.ErrEntryNotFound) {
		t.Fatalf("Expected ErrEntryNotFound, got %v", err)
	}
}

func TestLedgerBalance_MatchesWalletTotal(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 100, 40)

	_, err := service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromFloat(12.5),
		Reason:        models.ReasonAuphonicProcessing,
	})
	if err != nil {
		t.Fatalf("AppendDebit failed: %v", err)
	}

	balance, err := service.LedgerBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("LedgerBalance failed: %v", err)
	}

	wallet, err := service.GetWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}

	if !balance.Equal(wallet.TotalAvailable()) {
		t.Errorf("Ledger balance %s disagrees with wallet total %s",
			balance.String(), wallet.TotalAvailable().String())
	}
}

func TestPageEntries_NewestFirst(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 100, 0)

	// Stamp the debits after the funding entry so they page out first.
	base := time.Now().UTC().Add(time.Hour)
	for i := 0; i < 3; i++ {
		_, err := service.AppendDebit(ctx, store.DebitParams{
			UserId:        "user1",
			AmountCredits: decimal.NewFromInt(int64(i + 1)),
			Reason:        models.ReasonStorage,
			CreatedAt:     base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("AppendDebit %d failed: %v", i, err)
		}
	}

	page, err := service.PageEntries(ctx, "user1", 2, 0)
	if err != nil {
		t.Fatalf("PageEntries failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(page))
	}
	if !page[0].AmountCredits.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected newest entry (3 credits) first, got %s", page[0].AmountCredits.String())
	}
}

func TestListEntries_WindowIsHalfOpen(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 100, 0)

	inWindow := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	atEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	for _, ts := range []time.Time{inWindow, atEnd} {
		_, err := service.AppendDebit(ctx, store.DebitParams{
			UserId:        "user1",
			AmountCredits: decimal.NewFromInt(1),
			Reason:        models.ReasonTranscription,
			CreatedAt:     ts,
		})
		if err != nil {
			t.Fatalf("AppendDebit failed: %v", err)
		}
	}

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	entries, err := service.ListEntries(ctx, "user1", start, end)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}

	debits := 0
	for _, e := range entries {
		if e.Direction == models.DirectionDebit {
			debits++
		}
	}
	if debits != 1 {
		t.Errorf("Expected 1 debit inside [start, end), got %d", debits)
	}
}

func TestFindEntriesByIds_ScopedToUser(t *testing.T) {
	service, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	fundWallet(t, service, "user1", 100, 0)
	fundWallet(t, service, "user2", 100, 0)

	entry, err := service.AppendDebit(ctx, store.DebitParams{
		UserId:        "user1",
		AmountCredits: decimal.NewFromInt(5),
		Reason:        models.ReasonAssembly,
	})
	if err != nil {
		t.Fatalf("AppendDebit failed: %v", err)
	}

	found, err := service.FindEntriesByIds(ctx, "user2", []int64{entry.Id})
	if err != nil {
		t.Fatalf("FindEntriesByIds failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Expected no entries for other user, got %d", len(found))
	}
}
