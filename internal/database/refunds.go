package database

import (
	"context"
	"fmt"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// AppendRefund posts one or more CREDIT rows, claims each source debit in the
// refund link table, and restores the wallet buckets, all in one transaction.
// A source debit that was already claimed fails the whole refund with
// ErrAlreadyRefunded, which also closes the race between two concurrent
// refund requests for the same entries.
func (s *Service) AppendRefund(ctx context.Context, params store.RefundParams) ([]models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := getOrCreateWalletTx(ctx, tx, params.UserId)
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
			if _, err := tx.ExecContext(ctx, queryInsertRefundLink, sourceId, entry.Id, now); err != nil {
				if isUniqueViolation(err) {
					zap.L().Warn("Refund rejected: entry already refunded",
						zap.String("user_id", params.UserId),
						zap.Int64("entry_id", sourceId))
					return nil, fmt.Errorf("%w: entry %d", store.ErrAlreadyRefunded, sourceId)
				}
				return nil, fmt.Errorf("failed to record refund link: %w", err)
			}
		}

		// The purchased pool is durable and not period-scoped, so its share
		// is always returned as unused. The allocation share only exists
		// while the originating billing period is current; afterwards it is
		// restored as durable purchased credit instead.
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

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Refund posted",
		zap.String("user_id", params.UserId),
		zap.Int("credits", len(entries)))

	return entries, nil
}

// AppendAward grants durable credits: a CREDIT ledger row plus an increment
// of the purchased bucket. Awards never expire, unlike the monthly allocation.
func (s *Service) AppendAward(ctx context.Context, params store.AwardParams) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := getOrCreateWalletTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	now := stampOr(params.CreatedAt)

	// The redemption claim shares the award's transaction: a replayed promo
	// grants nothing, and a grant that fails leaves the code redeemable.
	if params.PromoCodeId != "" {
		if _, err := tx.ExecContext(ctx, queryInsertPromoRedemption, params.UserId, params.PromoCodeId, now); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s", store.ErrPromoAlreadyRedeemed, params.PromoCodeId)
			}
			return nil, fmt.Errorf("failed to record promo redemption: %w", err)
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

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Award posted",
		zap.Int64("entry_id", entry.Id),
		zap.String("user_id", params.UserId),
		zap.String("amount", params.AmountCredits.String()))

	return entry, nil
}
