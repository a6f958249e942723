package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RefundRequest selects one or more existing charges to reverse.
// ManualCredits, when set, replaces the per-entry refunds with a single
// partial adjustment against the selected entries; it must not exceed their
// combined amount.
type RefundRequest struct {
	UserId        string
	EntryIds      []int64
	ManualCredits *decimal.Decimal
	Notes         string
}

// AwardRequest grants new durable credits outside any subscription cycle.
// PromoCodeId, when set, ties the grant to a one-time promo redemption claim.
type AwardRequest struct {
	UserId      string
	Credits     decimal.Decimal
	Reason      string
	Notes       string
	PromoCodeId string
}

// RefundEngine posts CREDIT entries: reversals of prior charges restored to
// the bucket they were drawn from, and awards injected into the purchased
// bucket.
type RefundEngine struct {
	store store.CreditStore
	now   func() time.Time
}

func NewRefundEngine(creditStore store.CreditStore, now func() time.Time) *RefundEngine {
	if now == nil {
		now = time.Now
	}
	return &RefundEngine{store: creditStore, now: now}
}

// Refund reverses the selected charges. Each refund credit keeps the reason
// of the debit it reverses so monthly breakdowns net out per category; a
// manual partial adjustment uses MANUAL_ADJUST instead. A charge can only be
// refunded once; the second attempt fails with store.ErrAlreadyRefunded.
func (e *RefundEngine) Refund(ctx context.Context, req RefundRequest) ([]models.LedgerEntry, error) {
	if len(req.EntryIds) == 0 {
		return nil, fmt.Errorf("%w: no entries selected", store.ErrEntryNotFound)
	}

	entries, err := e.store.FindEntriesByIds(ctx, req.UserId, req.EntryIds)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	byId := make(map[int64]models.LedgerEntry, len(entries))
	for _, entry := range entries {
		byId[entry.Id] = entry
	}

	selected := make([]models.LedgerEntry, 0, len(req.EntryIds))
	total := decimal.Zero
	for _, id := range req.EntryIds {
		entry, ok := byId[id]
		if !ok {
			return nil, fmt.Errorf("%w: entry %d", store.ErrEntryNotFound, id)
		}
		if entry.Direction != models.DirectionDebit {
			return nil, &NotRefundableError{EntryId: id}
		}
		selected = append(selected, entry)
		total = total.Add(entry.AmountCredits)
	}

	var credits []store.RefundCredit
	if req.ManualCredits != nil {
		credits, err = e.buildManualCredits(req, selected, total)
		if err != nil {
			return nil, err
		}
	} else {
		credits = buildFullCredits(selected, req.Notes)
	}

	posted, err := e.store.AppendRefund(ctx, store.RefundParams{
		UserId:    req.UserId,
		Credits:   credits,
		CreatedAt: e.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	refundsTotal.Inc()
	return posted, nil
}

// buildFullCredits produces one credit per selected charge, mirroring its
// amount, reason, and recorded bucket split.
func buildFullCredits(selected []models.LedgerEntry, notes string) []store.RefundCredit {
	credits := make([]store.RefundCredit, 0, len(selected))
	for _, entry := range selected {
		note := fmt.Sprintf("refund of entry %d", entry.Id)
		if notes != "" {
			note += ": " + notes
		}
		credits = append(credits, store.RefundCredit{
			AmountCredits:     entry.AmountCredits,
			Reason:            entry.Reason,
			Notes:             note,
			RestoreAllocation: entry.DrawnAllocation,
			RestorePurchased:  entry.DrawnPurchased,
			PeriodKey:         entry.PeriodKey,
			SourceEntryIds:    []int64{entry.Id},
		})
	}
	return credits
}

// buildManualCredits produces MANUAL_ADJUST credits for a partial amount, one
// per originating billing period so each restore is routed to the period it
// was drawn in. The restore split is taken greedily from the selected entries
// in order: allocation share first, purchased share second, until the
// override amount is covered. All selected entries are claimed so they cannot
// be refunded again on top of the adjustment.
func (e *RefundEngine) buildManualCredits(req RefundRequest, selected []models.LedgerEntry, total decimal.Decimal) ([]store.RefundCredit, error) {
	amount := *req.ManualCredits
	if !amount.IsPositive() {
		return nil, &InvalidAmountError{Amount: amount}
	}
	if amount.GreaterThan(total) {
		return nil, &AmountExceedsOriginalError{Requested: amount, Original: total}
	}

	type periodShare struct {
		periodKey string
		alloc     decimal.Decimal
		purchased decimal.Decimal
		entryIds  []int64
	}
	shares := make([]*periodShare, 0, len(selected))
	byPeriod := make(map[string]*periodShare, len(selected))

	remaining := amount
	for _, entry := range selected {
		share, ok := byPeriod[entry.PeriodKey]
		if !ok {
			share = &periodShare{periodKey: entry.PeriodKey}
			byPeriod[entry.PeriodKey] = share
			shares = append(shares, share)
		}
		share.entryIds = append(share.entryIds, entry.Id)

		fromAlloc := decimal.Min(remaining, entry.DrawnAllocation)
		share.alloc = share.alloc.Add(fromAlloc)
		remaining = remaining.Sub(fromAlloc)

		fromPurchased := decimal.Min(remaining, entry.DrawnPurchased)
		share.purchased = share.purchased.Add(fromPurchased)
		remaining = remaining.Sub(fromPurchased)
	}
	// Whatever the entries' recorded splits did not cover (overdrawn
	// unlimited-plan charges) is restored to the first period's allocation.
	shares[0].alloc = shares[0].alloc.Add(remaining)

	// Periods whose share ended up zero still claim their entries; fold their
	// ids into a neighboring credit instead of posting a zero-amount row.
	credits := make([]store.RefundCredit, 0, len(shares))
	var carriedIds []int64
	for _, share := range shares {
		restored := share.alloc.Add(share.purchased)
		if restored.IsZero() {
			carriedIds = append(carriedIds, share.entryIds...)
			continue
		}
		sourceIds := share.entryIds
		if len(carriedIds) > 0 {
			sourceIds = append(carriedIds, sourceIds...)
			carriedIds = nil
		}
		credits = append(credits, store.RefundCredit{
			AmountCredits:     restored,
			Reason:            models.ReasonManualAdjust,
			Notes:             manualAdjustNote(sourceIds, req.Notes),
			RestoreAllocation: share.alloc,
			RestorePurchased:  share.purchased,
			PeriodKey:         share.periodKey,
			SourceEntryIds:    sourceIds,
		})
	}
	if len(carriedIds) > 0 {
		last := &credits[len(credits)-1]
		last.SourceEntryIds = append(last.SourceEntryIds, carriedIds...)
		last.Notes = manualAdjustNote(last.SourceEntryIds, req.Notes)
	}

	return credits, nil
}

func manualAdjustNote(entryIds []int64, notes string) string {
	idStrs := make([]string, 0, len(entryIds))
	for _, id := range entryIds {
		idStrs = append(idStrs, strconv.FormatInt(id, 10))
	}
	note := fmt.Sprintf("partial adjustment against entries [%s]", strings.Join(idStrs, ", "))
	if notes != "" {
		note += ": " + notes
	}
	return note
}

// Award grants durable purchased credits with a MANUAL_ADJUST audit entry.
// The human reason string goes into the notes; the ledger reason stays a
// closed enum.
func (e *RefundEngine) Award(ctx context.Context, req AwardRequest) (*models.LedgerEntry, error) {
	return e.award(ctx, req, models.ReasonManualAdjust)
}

// AwardPromoBonus is Award tagged with the promo bonus reason, used by
// checkout reconciliation.
func (e *RefundEngine) AwardPromoBonus(ctx context.Context, req AwardRequest) (*models.LedgerEntry, error) {
	return e.award(ctx, req, models.ReasonPromoCodeBonus)
}

func (e *RefundEngine) award(ctx context.Context, req AwardRequest, reason models.Reason) (*models.LedgerEntry, error) {
	if !req.Credits.IsPositive() {
		return nil, &InvalidAmountError{Amount: req.Credits}
	}

	note := req.Reason
	if req.Notes != "" {
		note += ": " + req.Notes
	}

	entry, err := e.store.AppendAward(ctx, store.AwardParams{
		UserId:        req.UserId,
		AmountCredits: req.Credits,
		Reason:        reason,
		Notes:         note,
		CreatedAt:     e.now().UTC(),
		PromoCodeId:   req.PromoCodeId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post award: %w", err)
	}

	zap.L().Info("Credits awarded",
		zap.String("user_id", req.UserId),
		zap.String("amount", req.Credits.String()),
		zap.String("reason", req.Reason))

	awardsTotal.Inc()
	return entry, nil
}
