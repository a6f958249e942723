package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// entryColumns is the canonical select list; numerics are cast to text so
// they round-trip through shopspring/decimal without precision loss.
const entryColumns = `id, user_id, episode_id, amount_minutes, amount_credits::text, direction,
	reason, cost_breakdown::text, idempotency_key, drawn_allocation::text,
	drawn_purchased::text, period_key, notes, created_at`

const queryInsertEntry = `
	INSERT INTO credit_ledger (
		user_id, episode_id, amount_minutes, amount_credits, direction, reason,
		cost_breakdown, idempotency_key, drawn_allocation, drawn_purchased,
		period_key, notes, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING ` + entryColumns

type rowScanner interface {
	Scan(dest ...any) error
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stampOr(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var episodeId, costBreakdown, idempotencyKey *string
	var amountStr, drawnAllocStr, drawnPurchStr, direction, reason string

	err := row.Scan(&entry.Id, &entry.UserId, &episodeId, &entry.AmountMinutes,
		&amountStr, &direction, &reason, &costBreakdown, &idempotencyKey,
		&drawnAllocStr, &drawnPurchStr, &entry.PeriodKey, &entry.Notes,
		&entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	if episodeId != nil {
		entry.EpisodeId = *episodeId
	}
	if idempotencyKey != nil {
		entry.IdempotencyKey = *idempotencyKey
	}
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

	if costBreakdown != nil && *costBreakdown != "" {
		if err := json.Unmarshal([]byte(*costBreakdown), &entry.CostBreakdown); err != nil {
			return nil, fmt.Errorf("failed to decode cost breakdown: %w", err)
		}
	}

	return &entry, nil
}

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

func insertEntryTx(ctx context.Context, tx pgx.Tx, e entryInsert) (*models.LedgerEntry, error) {
	var breakdownJson any
	if len(e.CostBreakdown) > 0 {
		data, err := json.Marshal(e.CostBreakdown)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cost breakdown: %w", err)
		}
		breakdownJson = string(data)
	}

	row := tx.QueryRow(ctx, queryInsertEntry,
		e.UserId, nullable(e.EpisodeId), e.AmountMinutes, e.AmountCredits.String(),
		string(e.Direction), string(e.Reason), breakdownJson, nullable(e.IdempotencyKey),
		e.DrawnAllocation.String(), e.DrawnPurchased.String(), e.PeriodKey, e.Notes,
		e.CreatedAt)

	return scanEntry(row)
}

// AppendDebit posts a charge in one transaction with the wallet row locked
// for update, so two concurrent charges against the same user serialize.
func (s *Service) AppendDebit(ctx context.Context, params store.DebitParams) (*models.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWalletTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	allocAvail := wallet.MonthlyAllocationAvailable()
	purchasedAvail := wallet.PurchasedAvailable()
	total := allocAvail.Add(purchasedAvail)

	if params.AmountCredits.GreaterThan(total) && !params.AllowNegative {
		return nil, store.ErrInsufficientBalance
	}

	fromAlloc := decimal.Min(params.AmountCredits, allocAvail)
	remaining := params.AmountCredits.Sub(fromAlloc)
	fromPurchased := decimal.Min(remaining, purchasedAvail)
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
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateIdempotencyKey, params.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert debit: %w", err)
	}

	wallet.UsedMonthlyRollover = wallet.UsedMonthlyRollover.Add(fromAlloc)
	wallet.UsedPurchased = wallet.UsedPurchased.Add(fromPurchased)

	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return entry, nil
}

func (s *Service) FindDebitByIdempotencyKey(ctx context.Context, userId, key string) (*models.LedgerEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM credit_ledger
		WHERE user_id = $1 AND idempotency_key = $2 AND direction = 'DEBIT'
		LIMIT 1`, userId, key)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find debit by idempotency key: %w", err)
	}
	return entry, nil
}

func (s *Service) ListEntries(ctx context.Context, userId string, since, until time.Time) ([]models.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM credit_ledger
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC`, userId, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *Service) PageEntries(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to page ledger entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *Service) FindEntriesByIds(ctx context.Context, userId string, ids []int64) ([]models.LedgerEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, userId)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM credit_ledger
		WHERE user_id = $1 AND id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *Service) LedgerBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	var balanceStr string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN amount_credits ELSE -amount_credits END), 0)::text
		FROM credit_ledger
		WHERE user_id = $1`, userId).Scan(&balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute ledger balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return balance, nil
}

func collectEntries(rows pgx.Rows) ([]models.LedgerEntry, error) {
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during ledger row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return entries, nil
}
