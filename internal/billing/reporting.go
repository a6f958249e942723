package billing

import (
	"context"
	"fmt"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/shopspring/decimal"
)

// Breakdown categories for monthly usage reports.
const (
	CategoryAudioProcessing = "audio_processing"
	CategoryTTS             = "tts"
	CategoryTranscription   = "transcription"
	CategoryAssembly        = "assembly"
	CategoryStorage         = "storage"
	CategoryAIMetadata      = "ai_metadata"
	CategoryAdjustments     = "adjustments"
)

// CategoryForReason maps every ledger reason to its report category. The
// switch is exhaustive over the enum: adding a reason without classifying it
// here surfaces immediately in the breakdown tests.
func CategoryForReason(reason models.Reason) (string, error) {
	switch reason {
	case models.ReasonProcessAudio, models.ReasonAuphonicProcessing:
		return CategoryAudioProcessing, nil
	case models.ReasonTTSLibrary, models.ReasonTTSGeneration:
		return CategoryTTS, nil
	case models.ReasonTranscription:
		return CategoryTranscription, nil
	case models.ReasonAssembly:
		return CategoryAssembly, nil
	case models.ReasonStorage:
		return CategoryStorage, nil
	case models.ReasonAIMetadataGeneration:
		return CategoryAIMetadata, nil
	case models.ReasonManualAdjust, models.ReasonRefundError, models.ReasonPromoCodeBonus:
		return CategoryAdjustments, nil
	}
	return "", fmt.Errorf("unclassified reason: %q", reason)
}

// Reporting exposes read-only aggregation over the ledger. It has no
// invariants of its own beyond correct windowing.
type Reporting struct {
	store store.CreditStore
}

func NewReporting(creditStore store.CreditStore) *Reporting {
	return &Reporting{store: creditStore}
}

// MonthBreakdown nets credit consumption per category within [start, end):
// DEBIT adds, CREDIT subtracts. Refund credits carry the reason of the charge
// they reverse, so a refunded transcription nets out of the transcription
// category. Adjustment movements (awards, allocation changes, promo bonuses)
// are not usage and are excluded. Timestamps are compared in UTC.
func (r *Reporting) MonthBreakdown(ctx context.Context, userId string, start, end time.Time) (map[string]decimal.Decimal, error) {
	entries, err := r.store.ListEntries(ctx, userId, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	breakdown := make(map[string]decimal.Decimal)
	for _, entry := range entries {
		category, err := CategoryForReason(entry.Reason)
		if err != nil {
			return nil, err
		}
		if category == CategoryAdjustments {
			continue
		}
		if entry.Direction == models.DirectionDebit {
			breakdown[category] = breakdown[category].Add(entry.AmountCredits)
		} else {
			breakdown[category] = breakdown[category].Sub(entry.AmountCredits)
		}
	}

	return breakdown, nil
}

// Balance returns the ground-truth balance from the ledger:
// sum(CREDIT) - sum(DEBIT) over all time. It should always match the wallet
// snapshot's total availability and serves as the consistency fallback.
func (r *Reporting) Balance(ctx context.Context, userId string) (decimal.Decimal, error) {
	return r.store.LedgerBalance(ctx, userId)
}

// WalletSnapshot returns the cached bucket view with derived availabilities.
func (r *Reporting) WalletSnapshot(ctx context.Context, userId string) (models.WalletSnapshot, error) {
	wallet, err := r.store.GetWallet(ctx, userId)
	if err != nil {
		return models.WalletSnapshot{}, fmt.Errorf("failed to load wallet: %w", err)
	}
	return wallet.Snapshot(), nil
}

// LedgerPage returns the user's history, latest first.
func (r *Reporting) LedgerPage(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return r.store.PageEntries(ctx, userId, limit, offset)
}
