package store

import (
	"context"
	"errors"
	"time"

	"podcast-credits-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations. Engines match on
// these instead of inspecting driver-specific error text.
var (
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrConcurrentModification  = errors.New("concurrent modification detected")
	ErrEntryNotFound           = errors.New("ledger entry not found")
	ErrAlreadyRefunded         = errors.New("entry already refunded")
	ErrPromoAlreadyRedeemed    = errors.New("promo code already redeemed")
)

// DebitParams contains the parameters for posting a charge. The store checks
// availability, splits the draw across buckets, inserts the DEBIT row, and
// updates the wallet counters in one transaction.
type DebitParams struct {
	UserId         string
	EpisodeId      string
	AmountCredits  decimal.Decimal
	AmountMinutes  int
	Reason         models.Reason
	CostBreakdown  []models.CostComponent
	IdempotencyKey string
	Notes          string

	// AllowNegative skips the availability check (unlimited plans).
	AllowNegative bool

	// CreatedAt stamps the entry; zero means the store's own clock.
	CreatedAt time.Time
}

// RefundCredit describes one CREDIT row to post when refunding. The restore
// amounts mirror the draw split recorded on the originating debit(s) so the
// credits go back to the bucket they came from.
type RefundCredit struct {
	AmountCredits     decimal.Decimal
	Reason            models.Reason
	Notes             string
	RestoreAllocation decimal.Decimal
	RestorePurchased  decimal.Decimal
	// PeriodKey is the billing period of the originating debit. If the wallet
	// has since rolled to a new period the allocation portion is restored to
	// the purchased pool instead, since the old allocation no longer exists.
	PeriodKey string
	// SourceEntryIds are the DEBIT rows this credit reverses. Each is claimed
	// in the refund link table; a claimed id fails the whole refund with
	// ErrAlreadyRefunded.
	SourceEntryIds []int64
}

// RefundParams contains the parameters for posting one or more refund credits.
type RefundParams struct {
	UserId    string
	Credits   []RefundCredit
	CreatedAt time.Time
}

// AwardParams contains the parameters for granting durable purchased credits.
type AwardParams struct {
	UserId        string
	AmountCredits decimal.Decimal
	Reason        models.Reason
	Notes         string
	CreatedAt     time.Time

	// PromoCodeId, when set, claims the (user, promo code) redemption in the
	// same transaction as the grant. A replayed claim fails the whole award
	// with ErrPromoAlreadyRedeemed, and a failed grant rolls the claim back,
	// so the code stays redeemable on the sender's retry.
	PromoCodeId string
}

// RenewParams contains the parameters for a subscription allocation update.
type RenewParams struct {
	UserId         string
	Tier           string
	PeriodKey      string
	MonthlyCredits decimal.Decimal
	RolloverCap    decimal.Decimal
}

// CreditStore defines the contract that every backend (SQLite, PostgreSQL)
// must satisfy. Every mutating operation is a single database transaction:
// ledger insert and wallet update either both happen or neither does.
type CreditStore interface {
	// --- Charges ---
	AppendDebit(ctx context.Context, params DebitParams) (*models.LedgerEntry, error)
	FindDebitByIdempotencyKey(ctx context.Context, userId, key string) (*models.LedgerEntry, error)

	// --- Refunds and awards ---
	AppendRefund(ctx context.Context, params RefundParams) ([]models.LedgerEntry, error)
	AppendAward(ctx context.Context, params AwardParams) (*models.LedgerEntry, error)

	// --- Wallets ---
	// GetWallet returns a zero-valued, unpersisted wallet when the user has
	// none yet; wallets are created lazily by the first write.
	GetWallet(ctx context.Context, userId string) (*models.Wallet, error)
	RenewWallet(ctx context.Context, params RenewParams) (*models.Wallet, error)

	// --- Ledger reads ---
	ListEntries(ctx context.Context, userId string, since, until time.Time) ([]models.LedgerEntry, error)
	PageEntries(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error)
	FindEntriesByIds(ctx context.Context, userId string, ids []int64) ([]models.LedgerEntry, error)
	LedgerBalance(ctx context.Context, userId string) (decimal.Decimal, error)

	// --- Lifecycle ---
	Close()
}
