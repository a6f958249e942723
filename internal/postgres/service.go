package postgres

import (
	"context"
	"errors"
	"fmt"

	"podcast-credits-go/internal/models"
	"podcast-credits-go/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.CreditStore.
var _ store.CreditStore = (*Service)(nil)

// Service is the PostgreSQL credit store. Unlike the SQLite backend it uses
// row-level locks (SELECT ... FOR UPDATE) instead of optimistic versioning,
// so concurrent charges against the same wallet serialize inside the
// database.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(ctx context.Context, cfg models.PostgresConfig) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres url cannot be empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx := ctx
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{pool: pool}
	if err := service.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Credit store initialized successfully (postgres)")
	return service, nil
}

func (s *Service) Close() {
	s.pool.Close()
}

func (s *Service) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS credit_ledger (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		episode_id TEXT,
		amount_minutes INT NOT NULL DEFAULT 0,
		amount_credits NUMERIC(20, 6) NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('DEBIT', 'CREDIT')),
		reason TEXT NOT NULL,
		cost_breakdown JSONB,
		idempotency_key TEXT,
		drawn_allocation NUMERIC(20, 6) NOT NULL DEFAULT 0,
		drawn_purchased NUMERIC(20, 6) NOT NULL DEFAULT 0,
		period_key TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_ledger_debit_idem
		ON credit_ledger(idempotency_key)
		WHERE direction = 'DEBIT' AND idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_credit_ledger_user_created ON credit_ledger(user_id, created_at);

	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		tier TEXT NOT NULL DEFAULT '',
		period_key TEXT NOT NULL DEFAULT '',
		monthly_credits NUMERIC(20, 6) NOT NULL DEFAULT 0,
		rollover_credits NUMERIC(20, 6) NOT NULL DEFAULT 0,
		used_monthly_rollover NUMERIC(20, 6) NOT NULL DEFAULT 0,
		purchased_credits NUMERIC(20, 6) NOT NULL DEFAULT 0,
		used_purchased NUMERIC(20, 6) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS ledger_refunds (
		debit_entry_id BIGINT PRIMARY KEY,
		credit_entry_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS promo_redemptions (
		user_id TEXT NOT NULL,
		promo_code_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, promo_code_id)
	);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
