package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.CreditStore.
var _ store.CreditStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=1000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Credit store initialized successfully")
	return service, nil
}

// NewServiceFromDb wraps an existing connection; used by tests with :memory:.
func NewServiceFromDb(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema() error {
	schema := `
	-- Credit Ledger Table (Audit Trail - Cold Data)
	-- Append-only: rows are never updated or deleted.
	CREATE TABLE IF NOT EXISTS credit_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		episode_id TEXT,
		amount_minutes INTEGER NOT NULL DEFAULT 0,
		amount_credits TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('DEBIT', 'CREDIT')),
		reason TEXT NOT NULL,
		cost_breakdown TEXT,
		idempotency_key TEXT,
		drawn_allocation TEXT NOT NULL DEFAULT '0',
		drawn_purchased TEXT NOT NULL DEFAULT '0',
		period_key TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- At most one DEBIT per non-null idempotency key. This index is the sole
	-- guard against double-charging under concurrent retries; CREDIT rows are
	-- exempt because refunds reuse the key context of the charge they reverse.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_ledger_debit_idem
		ON credit_ledger(idempotency_key)
		WHERE direction = 'DEBIT' AND idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_credit_ledger_user_created ON credit_ledger(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_credit_ledger_user_direction ON credit_ledger(user_id, direction);

	-- Wallet Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		tier TEXT NOT NULL DEFAULT '',
		period_key TEXT NOT NULL DEFAULT '',
		monthly_credits TEXT NOT NULL DEFAULT '0',
		rollover_credits TEXT NOT NULL DEFAULT '0',
		used_monthly_rollover TEXT NOT NULL DEFAULT '0',
		purchased_credits TEXT NOT NULL DEFAULT '0',
		used_purchased TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Refund links: the primary key makes "refund at most once per debit" a
	-- storage-level guarantee instead of a notes-scanning heuristic.
	CREATE TABLE IF NOT EXISTS ledger_refunds (
		debit_entry_id INTEGER PRIMARY KEY,
		credit_entry_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Promo redemptions: recorded before granting so a replayed checkout
	-- webhook cannot double-grant.
	CREATE TABLE IF NOT EXISTS promo_redemptions (
		user_id TEXT NOT NULL,
		promo_code_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, promo_code_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique or primary key
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
