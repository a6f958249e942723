package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const walletColumns = `id, user_id, tier, period_key, monthly_credits::text, rollover_credits::text,
	used_monthly_rollover::text, purchased_credits::text, used_purchased::text, version, updated_at`

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

// lockWalletTx acquires the wallet row for update, creating it first if the
// user has none. The insert uses ON CONFLICT DO NOTHING so two concurrent
// first-touch requests cannot both create a row; the re-select then blocks on
// whichever transaction holds the lock.
func lockWalletTx(ctx context.Context, tx pgx.Tx, userId string) (*models.Wallet, error) {
	wallet, err := scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userId))
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, uuid.New().String(), userId)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	wallet, err = scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userId))
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return wallet, nil
}

func updateWalletTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets
		SET tier = $1, period_key = $2, monthly_credits = $3, rollover_credits = $4,
		    used_monthly_rollover = $5, purchased_credits = $6, used_purchased = $7,
		    version = version + 1, updated_at = now()
		WHERE user_id = $8`,
		w.Tier, w.PeriodKey, w.MonthlyCredits.String(), w.RolloverCredits.String(),
		w.UsedMonthlyRollover.String(), w.PurchasedCredits.String(), w.UsedPurchased.String(),
		w.UserId)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

func (s *Service) GetWallet(ctx context.Context, userId string) (*models.Wallet, error) {
	wallet, err := scanWallet(s.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userId))
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *Service) RenewWallet(ctx context.Context, params store.RenewParams) (*models.Wallet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWalletTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	before := wallet.TotalAvailable()

	if wallet.PeriodKey == params.PeriodKey && params.PeriodKey != "" {
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

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return wallet, nil
}

func (s *Service) AppendRefund(ctx context.Context, params store.RefundParams) ([]models.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWalletTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	now := stampOr(params.CreatedAt)
	entries := make([]models.LedgerEntry, 0, len(params.Credits))

	for _, credit := range params.Credits {
		entry, err := insertEntryTx(ctx, tx, entryInsert{
			UserId:          params.UserId,
			AmountCredits:   credit.AmountCredits,
			Direction:       models.DirectionCredit,
			Reason:          credit.Reason,
			DrawnAllocation: decimal.Zero,
			DrawnPurchased:  decimal.Zero,
			PeriodKey:       credit.PeriodKey,
			Notes:           credit.Notes,
			CreatedAt:       now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert refund credit: %w", err)
		}

		for _, sourceId := range credit.SourceEntryIds {
			_, err := tx.Exec(ctx, `
				INSERT INTO ledger_refunds (debit_entry_id, credit_entry_id, created_at)
				VALUES ($1, $2, $3)`, sourceId, entry.Id, now)
			if err != nil {
				if isUniqueViolation(err) {
					return nil, fmt.Errorf("%w: entry %d", store.ErrAlreadyRefunded, sourceId)
				}
				return nil, fmt.Errorf("failed to record refund link: %w", err)
			}
		}

		wallet.UsedPurchased = clampZero(wallet.UsedPurchased.Sub(credit.RestorePurchased))
		if credit.PeriodKey == wallet.PeriodKey {
			wallet.UsedMonthlyRollover = clampZero(wallet.UsedMonthlyRollover.Sub(credit.RestoreAllocation))
		} else {
			wallet.PurchasedCredits = wallet.PurchasedCredits.Add(credit.RestoreAllocation)
		}

		entries = append(entries, *entry)
	}

	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return entries, nil
}

func (s *Service) AppendAward(ctx context.Context, params store.AwardParams) (*models.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWalletTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	now := stampOr(params.CreatedAt)

	// The redemption claim shares the award's transaction: a replayed promo
	// grants nothing, and a grant that fails leaves the code redeemable.
	if params.PromoCodeId != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO promo_redemptions (user_id, promo_code_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, promo_code_id) DO NOTHING`,
			params.UserId, params.PromoCodeId, now)
		if err != nil {
			return nil, fmt.Errorf("failed to record promo redemption: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrPromoAlreadyRedeemed, params.PromoCodeId)
		}
	}

	entry, err := insertEntryTx(ctx, tx, entryInsert{
		UserId:          params.UserId,
		AmountCredits:   params.AmountCredits,
		Direction:       models.DirectionCredit,
		Reason:          params.Reason,
		DrawnAllocation: decimal.Zero,
		DrawnPurchased:  decimal.Zero,
		PeriodKey:       wallet.PeriodKey,
		Notes:           params.Notes,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert award credit: %w", err)
	}

	wallet.PurchasedCredits = wallet.PurchasedCredits.Add(params.AmountCredits)

	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return entry, nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
