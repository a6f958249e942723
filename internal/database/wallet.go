package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	var monthly, rollover, usedMR, purchased, usedPurch string

	err := row.Scan(&w.Id, &w.UserId, &w.Tier, &w.PeriodKey, &monthly, &rollover,
		&usedMR, &purchased, &usedPurch, &w.Version, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&w.MonthlyCredits, monthly},
		{&w.RolloverCredits, rollover},
		{&w.UsedMonthlyRollover, usedMR},
		{&w.PurchasedCredits, purchased},
		{&w.UsedPurchased, usedPurch},
	}
	for _, f := range fields {
		*f.dst, err = decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse wallet amount '%s': %w", f.src, err)
		}
	}

	return &w, nil
}

// getOrCreateWalletTx loads the wallet row inside tx, creating a zeroed one
// on first access.
func getOrCreateWalletTx(ctx context.Context, tx *sql.Tx, userId string) (*models.Wallet, error) {
	wallet, err := scanWallet(tx.QueryRowContext(ctx, queryGetWallet, userId))
	if err == nil {
		return wallet, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	wallet = &models.Wallet{
		Id:                  uuid.New().String(),
		UserId:              userId,
		MonthlyCredits:      decimal.Zero,
		RolloverCredits:     decimal.Zero,
		UsedMonthlyRollover: decimal.Zero,
		PurchasedCredits:    decimal.Zero,
		UsedPurchased:       decimal.Zero,
		Version:             1,
		UpdatedAt:           time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, queryInsertWallet,
		wallet.Id, wallet.UserId, wallet.Tier, wallet.PeriodKey,
		"0", "0", "0", "0", "0", wallet.Version, wallet.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	zap.L().Info("Wallet created", zap.String("user_id", userId), zap.String("wallet_id", wallet.Id))
	return wallet, nil
}

// updateWalletTx writes the wallet back with an optimistic version check.
func updateWalletTx(ctx context.Context, tx *sql.Tx, w *models.Wallet) error {
	result, err := tx.ExecContext(ctx, queryUpdateWallet,
		w.Tier, w.PeriodKey, w.MonthlyCredits.String(), w.RolloverCredits.String(),
		w.UsedMonthlyRollover.String(), w.PurchasedCredits.String(), w.UsedPurchased.String(),
		w.UserId, w.Version)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("wallet update failed - %w", store.ErrConcurrentModification)
	}

	return nil
}

// GetWallet returns the user's wallet, or a zero-valued unpersisted wallet if
// none exists yet. Wallets are created lazily by the first write.
func (s *Service) GetWallet(ctx context.Context, userId string) (*models.Wallet, error) {
	wallet, err := scanWallet(s.db.QueryRowContext(ctx, queryGetWallet, userId))
	if err == sql.ErrNoRows {
		return &models.Wallet{
			UserId:              userId,
			MonthlyCredits:      decimal.Zero,
			RolloverCredits:     decimal.Zero,
			UsedMonthlyRollover: decimal.Zero,
			PurchasedCredits:    decimal.Zero,
			UsedPurchased:       decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// RenewWallet applies a subscription allocation update. On a genuine period
// transition, unused allocation is carried into the rollover bucket (up to
// the plan's cap) and the used counter resets; a mid-period refresh only
// updates tier and monthly allocation. The change in total availability is
// posted to the ledger as a MANUAL_ADJUST entry so the ledger stays the
// ground truth for the balance.
func (s *Service) RenewWallet(ctx context.Context, params store.RenewParams) (*models.Wallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := getOrCreateWalletTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	before := wallet.TotalAvailable()

	if wallet.PeriodKey == params.PeriodKey && params.PeriodKey != "" {
		// Mid-period refresh: plan change without a billing-period rollover.
		wallet.Tier = params.Tier
		wallet.MonthlyCredits = params.MonthlyCredits
	} else {
		carry := decimal.Min(wallet.MonthlyAllocationAvailable(), params.RolloverCap)
		wallet.Tier = params.Tier
		wallet.PeriodKey = params.PeriodKey
		wallet.MonthlyCredits = params.MonthlyCredits
		wallet.RolloverCredits = carry
		wallet.UsedMonthlyRollover = decimal.Zero
	}

	delta := wallet.TotalAvailable().Sub(before)
	if !delta.IsZero() {
		direction := models.DirectionCredit
		amount := delta
		if delta.IsNegative() {
			direction = models.DirectionDebit
			amount = delta.Neg()
		}
		_, err = insertEntryTx(ctx, tx, entryInsert{
			UserId:          params.UserId,
			AmountCredits:   amount,
			Direction:       direction,
			Reason:          models.ReasonManualAdjust,
			DrawnAllocation: decimal.Zero,
			DrawnPurchased:  decimal.Zero,
			PeriodKey:       wallet.PeriodKey,
			Notes:           fmt.Sprintf("subscription allocation: tier %s, period %s", params.Tier, params.PeriodKey),
			CreatedAt:       time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert allocation adjustment: %w", err)
		}
	}

	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Wallet allocation updated",
		zap.String("user_id", params.UserId),
		zap.String("tier", params.Tier),
		zap.String("period_key", params.PeriodKey),
		zap.String("monthly_credits", params.MonthlyCredits.String()),
		zap.String("rollover_credits", wallet.RolloverCredits.String()))

	return wallet, nil
}
