package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidAmountError reports a non-positive credit amount. Always a caller
// bug, never retried.
type InvalidAmountError struct {
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid credit amount: %s (must be positive)", e.Amount.String())
}

// InsufficientCreditsError reports a charge that would drive the balance
// below zero on a non-unlimited plan. The caller decides whether to block the
// triggering action; this engine only reports the shortfall.
type InsufficientCreditsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: requested %s, available %s",
		e.Requested.String(), e.Available.String())
}

// AmountExceedsOriginalError reports a manual refund amount larger than the
// sum of the selected charges.
type AmountExceedsOriginalError struct {
	Requested decimal.Decimal
	Original  decimal.Decimal
}

func (e *AmountExceedsOriginalError) Error() string {
	return fmt.Sprintf("refund amount %s exceeds original charge total %s",
		e.Requested.String(), e.Original.String())
}

// NotRefundableError reports an entry that cannot be refunded because it is
// not a debit.
type NotRefundableError struct {
	EntryId int64
}

func (e *NotRefundableError) Error() string {
	return fmt.Sprintf("entry %d is not a refundable charge", e.EntryId)
}

// IdempotencyKeyConflictError reports an idempotency key already claimed by a
// debit outside the caller's own ledger. The key index is global, so a key
// reused across users collides without a matching entry to return.
type IdempotencyKeyConflictError struct {
	IdempotencyKey string
}

func (e *IdempotencyKeyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q is already in use", e.IdempotencyKey)
}

// InvalidReasonError reports an unknown reason code.
type InvalidReasonError struct {
	Reason string
}

func (e *InvalidReasonError) Error() string {
	return fmt.Sprintf("unknown charge reason: %q", e.Reason)
}
