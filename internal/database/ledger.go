package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// entryInsert carries the full column set for a ledger insert. Every write
// path (charge, refund, award, allocation adjustment) goes through it.
type entryInsert struct {
	UserId          string
	EpisodeId       string
	AmountMinutes   int
	AmountCredits   decimal.Decimal
	Direction       models.Direction
	Reason          models.Reason
	CostBreakdown   []models.CostComponent
	IdempotencyKey  string
	DrawnAllocation decimal.Decimal
	DrawnPurchased  decimal.Decimal
	PeriodKey       string
	Notes           string
	CreatedAt       time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

// nullable maps "" to NULL so the partial unique index on idempotency_key
// only ever sees real keys.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// stampOr returns ts if set, otherwise the current UTC time.
func stampOr(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

func insertEntryTx(ctx context.Context, tx *sql.Tx, e entryInsert) (*models.LedgerEntry, error) {
	var breakdownJson any
	if len(e.CostBreakdown) > 0 {
		data, err := json.Marshal(e.CostBreakdown)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cost breakdown: %w", err)
		}
		breakdownJson = string(data)
	}

	row := tx.QueryRowContext(ctx, queryInsertEntry,
		e.UserId, nullable(e.EpisodeId), e.AmountMinutes, e.AmountCredits.String(),
		string(e.Direction), string(e.Reason), breakdownJson, nullable(e.IdempotencyKey),
		e.DrawnAllocation.String(), e.DrawnPurchased.String(), e.PeriodKey, e.Notes,
		e.CreatedAt)

	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var episodeId, costBreakdown, idempotencyKey sql.NullString
	var amountStr, drawnAllocStr, drawnPurchStr, direction, reason string

	err := row.Scan(&entry.Id, &entry.UserId, &episodeId, &entry.AmountMinutes,
		&amountStr, &direction, &reason, &costBreakdown, &idempotencyKey,
		&drawnAllocStr, &drawnPurchStr, &entry.PeriodKey, &entry.Notes,
		&entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.EpisodeId = episodeId.String
	entry.IdempotencyKey = idempotencyKey.String
	entry.Direction = models.Direction(direction)
	entry.Reason = models.Reason(reason)

	entry.AmountCredits, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	entry.DrawnAllocation, err = decimal.NewFromString(drawnAllocStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse drawn_allocation '%s': %w", drawnAllocStr, err)
	}
	entry.DrawnPurchased, err = decimal.NewFromString(drawnPurchStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse drawn_purchased '%s': %w", drawnPurchStr, err)
	}

	if costBreakdown.Valid && costBreakdown.String != "" {
		if err := json.Unmarshal([]byte(costBreakdown.String), &entry.CostBreakdown); err != nil {
			return nil, fmt.Errorf("failed to decode cost breakdown: %w", err)
		}
	}

	return &entry, nil
}

// AppendDebit atomically posts a charge: availability check, bucket split,
// ledger insert, and wallet counter update in one transaction.
func (s *Service) AppendDebit(ctx context.Context, params store.DebitParams) (*models.LedgerEntry, error) {
	zap.L().Info("Posting debit",
		zap.String("user_id", params.UserId),
		zap.String("reason", string(params.Reason)),
		zap.String("amount", params.AmountCredits.String()),
		zap.String("idempotency_key", params.IdempotencyKey))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := getOrCreateWalletTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	allocAvail := wallet.MonthlyAllocationAvailable()
	purchasedAvail := wallet.PurchasedAvailable()
	total := allocAvail.Add(purchasedAvail)

	if params.AmountCredits.GreaterThan(total) && !params.AllowNegative {
		return nil, store.ErrInsufficientBalance
	}

	// Draw order: subscription pool (monthly + rollover) first, durable
	// purchased credits last. The split is recorded on the entry so a refund
	// can restore each bucket exactly.
	fromAlloc := decimal.Min(params.AmountCredits, allocAvail)
	remaining := params.AmountCredits.Sub(fromAlloc)
	fromPurchased := decimal.Min(remaining, purchasedAvail)
	// Overdraw on unlimited plans is booked against the allocation pool.
	fromAlloc = fromAlloc.Add(remaining.Sub(fromPurchased))

	entry, err := insertEntryTx(ctx, tx, entryInsert{
		UserId:          params.UserId,
		EpisodeId:       params.EpisodeId,
		AmountMinutes:   params.AmountMinutes,
		AmountCredits:   params.AmountCredits,
		Direction:       models.DirectionDebit,
		Reason:          params.Reason,
		CostBreakdown:   params.CostBreakdown,
		IdempotencyKey:  params.IdempotencyKey,
		DrawnAllocation: fromAlloc,
		DrawnPurchased:  fromPurchased,
		PeriodKey:       wallet.PeriodKey,
		Notes:           params.Notes,
		CreatedAt:       stampOr(params.CreatedAt),
	})
	if err != nil {
		if isUniqueViolation(err) {
			zap.L().Warn("Duplicate idempotency key detected, skipping",
				zap.String("user_id", params.UserId),
				zap.String("idempotency_key", params.IdempotencyKey))
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateIdempotencyKey, params.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert debit: %w", err)
	}

	wallet.UsedMonthlyRollover = wallet.UsedMonthlyRollover.Add(fromAlloc)
	wallet.UsedPurchased = wallet.UsedPurchased.Add(fromPurchased)

	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Debit posted",
		zap.Int64("entry_id", entry.Id),
		zap.String("user_id", params.UserId),
		zap.String("drawn_allocation", fromAlloc.String()),
		zap.String("drawn_purchased", fromPurchased.String()))

	return entry, nil
}

func (s *Service) FindDebitByIdempotencyKey(ctx context.Context, userId, key string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, queryFindDebitByIdempotencyKey, userId, key)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find debit by idempotency key: %w", err)
	}
	return entry, nil
}

func (s *Service) ListEntries(ctx context.Context, userId string, since, until time.Time) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryListEntries, userId, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *Service) PageEntries(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryPageEntries, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to page ledger entries: %w", err)
	}
	return collectEntries(rows)
}

// FindEntriesByIds fetches specific entries, filtered by user so one user's
// refund request can never reference another user's charges.
func (s *Service) FindEntriesByIds(ctx context.Context, userId string, ids []int64) ([]models.LedgerEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, userId)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, episode_id, amount_minutes, amount_credits, direction,
		       reason, cost_breakdown, idempotency_key, drawn_allocation,
		       drawn_purchased, period_key, notes, created_at
		FROM credit_ledger
		WHERE user_id = ? AND id IN (%s)
		ORDER BY id ASC`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entries: %w", err)
	}
	return collectEntries(rows)
}

// LedgerBalance computes the ground-truth balance: sum(CREDIT) - sum(DEBIT).
// Summation happens in Go so decimal precision is preserved.
func (s *Service) LedgerBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, queryLedgerAmounts, userId)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read ledger amounts: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	balance := decimal.Zero
	for rows.Next() {
		var direction, amountStr string
		if err := rows.Scan(&direction, &amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan ledger amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if models.Direction(direction) == models.DirectionCredit {
			balance = balance.Add(amount)
		} else {
			balance = balance.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return balance, nil
}

func collectEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return entries, nil
}
