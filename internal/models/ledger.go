package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether a ledger entry adds or removes credits.
// Amounts are always stored positive; direction carries the sign.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// Reason categorizes a credit movement. Refund credits keep the reason of the
// debit they reverse so monthly breakdowns net out per category; manual
// adjustments use ReasonManualAdjust.
type Reason string

const (
	ReasonProcessAudio         Reason = "PROCESS_AUDIO"
	ReasonRefundError          Reason = "REFUND_ERROR"
	ReasonManualAdjust         Reason = "MANUAL_ADJUST"
	ReasonTTSLibrary           Reason = "TTS_LIBRARY"
	ReasonTTSGeneration        Reason = "TTS_GENERATION"
	ReasonTranscription        Reason = "TRANSCRIPTION"
	ReasonAssembly             Reason = "ASSEMBLY"
	ReasonStorage              Reason = "STORAGE"
	ReasonAuphonicProcessing   Reason = "AUPHONIC_PROCESSING"
	ReasonAIMetadataGeneration Reason = "AI_METADATA_GENERATION"
	ReasonPromoCodeBonus       Reason = "PROMO_CODE_BONUS"
)

// AllReasons returns every valid reason value.
func AllReasons() []Reason {
	return []Reason{
		ReasonProcessAudio,
		ReasonRefundError,
		ReasonManualAdjust,
		ReasonTTSLibrary,
		ReasonTTSGeneration,
		ReasonTranscription,
		ReasonAssembly,
		ReasonStorage,
		ReasonAuphonicProcessing,
		ReasonAIMetadataGeneration,
		ReasonPromoCodeBonus,
	}
}

// Valid reports whether r is one of the known reason values.
func (r Reason) Valid() bool {
	switch r {
	case ReasonProcessAudio, ReasonRefundError, ReasonManualAdjust,
		ReasonTTSLibrary, ReasonTTSGeneration, ReasonTranscription,
		ReasonAssembly, ReasonStorage, ReasonAuphonicProcessing,
		ReasonAIMetadataGeneration, ReasonPromoCodeBonus:
		return true
	}
	return false
}

// CostComponent is one line of a cost breakdown: a base amount scaled by a
// multiplier. Informational only; the ledger never re-derives amounts from it.
type CostComponent struct {
	Label      string          `json:"label"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// LedgerEntry represents one immutable credit movement (cold data).
// Rows are created exactly once and never updated or deleted.
type LedgerEntry struct {
	Id             int64           `db:"id"`
	UserId         string          `db:"user_id"`
	EpisodeId      string          `db:"episode_id"`
	AmountMinutes  int             `db:"amount_minutes"`
	AmountCredits  decimal.Decimal `db:"amount_credits"`
	Direction      Direction       `db:"direction"`
	Reason         Reason          `db:"reason"`
	CostBreakdown  []CostComponent `db:"cost_breakdown"`
	IdempotencyKey string          `db:"idempotency_key"`
	// DrawnAllocation and DrawnPurchased record how a DEBIT was split across
	// the wallet buckets, so a refund restores exactly what was taken.
	DrawnAllocation decimal.Decimal `db:"drawn_allocation"`
	DrawnPurchased  decimal.Decimal `db:"drawn_purchased"`
	PeriodKey       string          `db:"period_key"`
	Notes           string          `db:"notes"`
	CreatedAt       time.Time       `db:"created_at"`
}

// Wallet represents the current balance state for a user (hot data).
// It is a cache over the ledger: total availability must always equal
// sum(CREDIT) - sum(DEBIT) over the user's entries.
type Wallet struct {
	Id                  string          `db:"id"`
	UserId              string          `db:"user_id"`
	Tier                string          `db:"tier"`
	PeriodKey           string          `db:"period_key"`
	MonthlyCredits      decimal.Decimal `db:"monthly_credits"`
	RolloverCredits     decimal.Decimal `db:"rollover_credits"`
	UsedMonthlyRollover decimal.Decimal `db:"used_monthly_rollover"`
	PurchasedCredits    decimal.Decimal `db:"purchased_credits"`
	UsedPurchased       decimal.Decimal `db:"used_purchased"`
	Version             int64           `db:"version"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// MonthlyAllocationAvailable returns what remains of the subscription pool
// (monthly allocation plus rollover), never negative.
func (w *Wallet) MonthlyAllocationAvailable() decimal.Decimal {
	avail := w.MonthlyCredits.Add(w.RolloverCredits).Sub(w.UsedMonthlyRollover)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// PurchasedAvailable returns what remains of the purchased pool, never negative.
func (w *Wallet) PurchasedAvailable() decimal.Decimal {
	avail := w.PurchasedCredits.Sub(w.UsedPurchased)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// TotalAvailable returns the credits a charge may draw from.
func (w *Wallet) TotalAvailable() decimal.Decimal {
	return w.MonthlyAllocationAvailable().Add(w.PurchasedAvailable())
}

// Snapshot returns the read-only view handed to callers.
func (w *Wallet) Snapshot() WalletSnapshot {
	return WalletSnapshot{
		UserId:                     w.UserId,
		Tier:                       w.Tier,
		PeriodKey:                  w.PeriodKey,
		MonthlyCredits:             w.MonthlyCredits,
		RolloverCredits:            w.RolloverCredits,
		PurchasedCredits:           w.PurchasedCredits,
		MonthlyAllocationAvailable: w.MonthlyAllocationAvailable(),
		PurchasedCreditsAvailable:  w.PurchasedAvailable(),
		TotalAvailable:             w.TotalAvailable(),
	}
}

// WalletSnapshot is the derived balance view for a user.
type WalletSnapshot struct {
	UserId                     string
	Tier                       string
	PeriodKey                  string
	MonthlyCredits             decimal.Decimal
	RolloverCredits            decimal.Decimal
	PurchasedCredits           decimal.Decimal
	MonthlyAllocationAvailable decimal.Decimal
	PurchasedCreditsAvailable  decimal.Decimal
	TotalAvailable             decimal.Decimal
}
