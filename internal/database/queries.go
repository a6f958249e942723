package database

const (
	// Ledger queries
	queryInsertEntry = `
		INSERT INTO credit_ledger (
			user_id, episode_id, amount_minutes, amount_credits, direction, reason,
			cost_breakdown, idempotency_key, drawn_allocation, drawn_purchased,
			period_key, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, user_id, episode_id, amount_minutes, amount_credits, direction,
		          reason, cost_breakdown, idempotency_key, drawn_allocation,
		          drawn_purchased, period_key, notes, created_at`

	queryFindDebitByIdempotencyKey = `
		SELECT id, user_id, episode_id, amount_minutes, amount_credits, direction,
		       reason, cost_breakdown, idempotency_key, drawn_allocation,
		       drawn_purchased, period_key, notes, created_at
		FROM credit_ledger
		WHERE user_id = ? AND idempotency_key = ? AND direction = 'DEBIT'
		LIMIT 1`

	queryListEntries = `
		SELECT id, user_id, episode_id, amount_minutes, amount_credits, direction,
		       reason, cost_breakdown, idempotency_key, drawn_allocation,
		       drawn_purchased, period_key, notes, created_at
		FROM credit_ledger
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`

	queryPageEntries = `
		SELECT id, user_id, episode_id, amount_minutes, amount_credits, direction,
		       reason, cost_breakdown, idempotency_key, drawn_allocation,
		       drawn_purchased, period_key, notes, created_at
		FROM credit_ledger
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	queryLedgerAmounts = `
		SELECT direction, amount_credits
		FROM credit_ledger
		WHERE user_id = ?`

	// Wallet queries
	queryGetWallet = `
		SELECT id, user_id, tier, period_key, monthly_credits, rollover_credits,
		       used_monthly_rollover, purchased_credits, used_purchased, version, updated_at
		FROM wallets
		WHERE user_id = ?`

	queryInsertWallet = `
		INSERT INTO wallets (
			id, user_id, tier, period_key, monthly_credits, rollover_credits,
			used_monthly_rollover, purchased_credits, used_purchased, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateWallet = `
		UPDATE wallets
		SET tier = ?, period_key = ?, monthly_credits = ?, rollover_credits = ?,
		    used_monthly_rollover = ?, purchased_credits = ?, used_purchased = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND version = ?`

	// Refund link queries
	queryInsertRefundLink = `
		INSERT INTO ledger_refunds (debit_entry_id, credit_entry_id, created_at)
		VALUES (?, ?, ?)`

	// Promo redemption queries
	queryInsertPromoRedemption = `
		INSERT INTO promo_redemptions (user_id, promo_code_id, created_at)
		VALUES (?, ?, ?)`
)
