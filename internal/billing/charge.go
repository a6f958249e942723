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

// maxChargeAttempts bounds retries when a concurrent wallet write invalidates
// the optimistic version check mid-transaction.
const maxChargeAttempts = 5

// ChargeRequest describes a validated charge. The caller (the API layer) has
// already authenticated the user; this engine only does accounting.
type ChargeRequest struct {
	UserId         string
	EpisodeId      string
	Credits        decimal.Decimal
	Minutes        int
	Reason         models.Reason
	CostBreakdown  []models.CostComponent
	IdempotencyKey string
	Notes          string
}

// ChargeEngine validates charge requests, enforces at-most-once semantics per
// idempotency key, and posts debits against the wallet.
type ChargeEngine struct {
	store store.CreditStore
	plans *Catalog
	now   func() time.Time
}

func NewChargeEngine(creditStore store.CreditStore, plans *Catalog, now func() time.Time) *ChargeEngine {
	if now == nil {
		now = time.Now
	}
	return &ChargeEngine{store: creditStore, plans: plans, now: now}
}

// Charge posts a debit. A request that reuses an idempotency key returns the
// previously posted entry as a no-op success, so callers can retry safely.
func (e *ChargeEngine) Charge(ctx context.Context, req ChargeRequest) (*models.LedgerEntry, error) {
	if !req.Credits.IsPositive() {
		return nil, &InvalidAmountError{Amount: req.Credits}
	}
	if !req.Reason.Valid() {
		return nil, &InvalidReasonError{Reason: string(req.Reason)}
	}

	// Idempotency fast path: a key we have already charged is a no-op.
	if req.IdempotencyKey != "" {
		existing, err := e.store.FindDebitByIdempotencyKey(ctx, req.UserId, req.IdempotencyKey)
		if err == nil {
			zap.L().Info("Charge already posted for idempotency key, returning existing entry",
				zap.String("user_id", req.UserId),
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("entry_id", existing.Id))
			duplicateChargesTotal.Inc()
			return existing, nil
		}
		if !errors.Is(err, store.ErrEntryNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	wallet, err := e.store.GetWallet(ctx, req.UserId)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	plan := e.plans.Plan(wallet.Tier)

	params := store.DebitParams{
		UserId:         req.UserId,
		EpisodeId:      req.EpisodeId,
		AmountCredits:  req.Credits,
		AmountMinutes:  req.Minutes,
		Reason:         req.Reason,
		CostBreakdown:  req.CostBreakdown,
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
		AllowNegative:  plan.Unlimited,
		CreatedAt:      e.now().UTC(),
	}

	var entry *models.LedgerEntry
	for attempt := 1; ; attempt++ {
		entry, err = e.store.AppendDebit(ctx, params)
		if err == nil {
			break
		}

		// A concurrent request with the same key won the insert; its entry is
		// our result. The unique index, not this code path, is what prevents
		// the double charge.
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			existing, findErr := e.store.FindDebitByIdempotencyKey(ctx, req.UserId, req.IdempotencyKey)
			if findErr != nil {
				// The key index is global: the colliding debit belongs to
				// another user, so there is no entry of ours to return.
				if errors.Is(findErr, store.ErrEntryNotFound) {
					return nil, &IdempotencyKeyConflictError{IdempotencyKey: req.IdempotencyKey}
				}
				return nil, fmt.Errorf("duplicate key but entry not readable: %w", findErr)
			}
			duplicateChargesTotal.Inc()
			return existing, nil
		}

		if errors.Is(err, store.ErrInsufficientBalance) {
			insufficientTotal.Inc()
			return nil, &InsufficientCreditsError{
				Requested: req.Credits,
				Available: wallet.TotalAvailable(),
			}
		}

		if errors.Is(err, store.ErrConcurrentModification) && attempt < maxChargeAttempts {
			zap.L().Debug("Wallet version conflict, retrying charge",
				zap.String("user_id", req.UserId),
				zap.Int("attempt", attempt))
			continue
		}

		return nil, fmt.Errorf("failed to post charge: %w", err)
	}

	chargesTotal.WithLabelValues(string(req.Reason)).Inc()
	return entry, nil
}
