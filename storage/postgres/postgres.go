// Package postgres provides a PostgreSQL implementation of the
// subscription.Store interface. Quota consumption is a single conditional
// UPDATE, so concurrent consumers never overshoot the limit.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// Store implements subscription.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the subscription_records table if it does not exist.
// Intended for development and tests; production deployments migrate
// explicitly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscription_records (
			user_id          TEXT PRIMARY KEY,
			tier             TEXT NOT NULL,
			status           TEXT NOT NULL,
			customer_id      TEXT NOT NULL DEFAULT '',
			subscription_id  TEXT NOT NULL DEFAULT '',
			proposals_limit  INTEGER NOT NULL,
			proposals_used   INTEGER NOT NULL DEFAULT 0,
			period_start     TIMESTAMPTZ,
			period_end       TIMESTAMPTZ,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS subscription_records_customer_idx
			ON subscription_records (customer_id) WHERE customer_id <> '';
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const recordColumns = `user_id, tier, status, customer_id, subscription_id,
	proposals_limit, proposals_used, period_start, period_end, updated_at`

// Get implements subscription.Store
func (s *Store) Get(ctx context.Context, userID string) (*subscription.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM subscription_records WHERE user_id = $1`, userID)
	return scanRecord(row)
}

// GetByCustomerID implements subscription.Store
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (*subscription.Record, error) {
	if customerID == "" {
		return nil, subscription.ErrRecordNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM subscription_records WHERE customer_id = $1 LIMIT 1`, customerID)
	return scanRecord(row)
}

// Upsert implements subscription.Store
func (s *Store) Upsert(ctx context.Context, rec *subscription.Record) error {
	if rec == nil || rec.UserID == "" {
		return subscription.ErrInvalidRecord
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_records
			(user_id, tier, status, customer_id, subscription_id,
			 proposals_limit, proposals_used, period_start, period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (user_id) DO UPDATE SET
			tier            = EXCLUDED.tier,
			status          = EXCLUDED.status,
			customer_id     = EXCLUDED.customer_id,
			subscription_id = EXCLUDED.subscription_id,
			proposals_limit = EXCLUDED.proposals_limit,
			proposals_used  = EXCLUDED.proposals_used,
			period_start    = EXCLUDED.period_start,
			period_end      = EXCLUDED.period_end,
			updated_at      = now()`,
		rec.UserID, rec.Tier, rec.Status, rec.ExternalCustomerID, rec.ExternalSubscriptionID,
		rec.ProposalsLimit, rec.ProposalsUsed, nullTime(rec.CurrentPeriodStart), nullTime(rec.CurrentPeriodEnd))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// ConsumeProposal implements subscription.Store. The row is created lazily
// for users that never saw a billing event, then charged with a conditional
// UPDATE that enforces the effective limit in one statement.
func (s *Store) ConsumeProposal(ctx context.Context, userID string) (*subscription.Record, error) {
	if userID == "" {
		return nil, subscription.ErrInvalidRecord
	}

	free := subscription.NewFreeRecord(userID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_records
			(user_id, tier, status, proposals_limit, proposals_used, updated_at)
		VALUES ($1, $2, $3, $4, 0, now())
		ON CONFLICT (user_id) DO NOTHING`,
		free.UserID, free.Tier, free.Status, free.ProposalsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE subscription_records SET
			proposals_used = proposals_used + 1,
			updated_at     = now()
		WHERE user_id = $1 AND (
			(status = 'active' AND (proposals_limit < 0 OR proposals_used < proposals_limit))
			OR (status <> 'active' AND proposals_used < $2)
		)
		RETURNING `+recordColumns,
		userID, subscription.FreeProposalsLimit)

	rec, err := scanRecord(row)
	if errors.Is(err, subscription.ErrRecordNotFound) {
		return nil, subscription.ErrQuotaExceeded
	}
	return rec, err
}

func scanRecord(row pgx.Row) (*subscription.Record, error) {
	var rec subscription.Record
	var periodStart, periodEnd *time.Time

	err := row.Scan(
		&rec.UserID,
		&rec.Tier,
		&rec.Status,
		&rec.ExternalCustomerID,
		&rec.ExternalSubscriptionID,
		&rec.ProposalsLimit,
		&rec.ProposalsUsed,
		&periodStart,
		&periodEnd,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscription.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if periodStart != nil {
		rec.CurrentPeriodStart = *periodStart
	}
	if periodEnd != nil {
		rec.CurrentPeriodEnd = *periodEnd
	}
	return &rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
