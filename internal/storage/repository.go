package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"smart-harvester/internal/engine"
	"smart-harvester/internal/oracle"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertPriceSampleSQL = `INSERT INTO price_samples (
        pair,
        price,
        observed_at,
        source
    ) VALUES ($1,$2,$3,$4);`

	listSamplesBetweenSQL = `SELECT
        id, pair, price, observed_at, source, created_at
    FROM price_samples
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at;`

	listRecentSamplesSQL = `SELECT
        id, pair, price, observed_at, source, created_at
    FROM price_samples
    ORDER BY observed_at DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	upsertAttemptSQL = `INSERT INTO harvest_attempts (
        attempt_id,
        pair,
        price,
        observed_at,
        submitted_at,
        outcome,
        tx_hash,
        failure_reason
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (attempt_id) DO UPDATE
    SET outcome        = EXCLUDED.outcome,
        tx_hash        = EXCLUDED.tx_hash,
        failure_reason = EXCLUDED.failure_reason;`

	latestPendingAttemptSQL = `SELECT
        attempt_id, pair, price, observed_at, submitted_at, outcome, tx_hash, failure_reason, created_at
    FROM harvest_attempts
    WHERE outcome = 'pending'
    ORDER BY submitted_at DESC
    LIMIT 1;`

	listRecentAttemptsSQL = `SELECT
        attempt_id, pair, price, observed_at, submitted_at, outcome, tx_hash, failure_reason, created_at
    FROM harvest_attempts
    ORDER BY submitted_at DESC
    LIMIT $1;`
)

// SampleStore defines operations for price history persistence.
type SampleStore interface {
	RecordPriceSample(ctx context.Context, sample oracle.PriceSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceRecord, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceRecord, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AttemptAuditStore defines operations for the harvest attempt audit trail.
type AttemptAuditStore interface {
	UpsertAttempt(ctx context.Context, attempt engine.HarvestAttempt) error
	LatestPendingAttempt(ctx context.Context) (*engine.HarvestAttempt, error)
	ListRecentAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
}

// Store aggregates access to price samples and harvest attempts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// RecordPriceSample appends an oracle observation to the history table.
func (s *Store) RecordPriceSample(ctx context.Context, sample oracle.PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertPriceSampleSQL,
		sample.Pair,
		sample.Price.String(),
		sample.ObservedAt,
		sample.Source,
	)
	if execErr != nil {
		return fmt.Errorf("insert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples ordered by descending time.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// UpsertAttempt creates or finalises a harvest attempt row keyed by attempt id.
func (s *Store) UpsertAttempt(ctx context.Context, attempt engine.HarvestAttempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var txHash interface{}
	if attempt.TxHash != "" {
		txHash = attempt.TxHash
	}
	var reason interface{}
	if attempt.FailureReason != "" {
		reason = attempt.FailureReason
	}

	_, execErr := pool.Exec(ctx, upsertAttemptSQL,
		attempt.ID,
		attempt.Sample.Pair,
		attempt.Sample.Price.String(),
		attempt.Sample.ObservedAt,
		attempt.SubmittedAt,
		string(attempt.Outcome),
		txHash,
		reason,
	)
	if execErr != nil {
		return fmt.Errorf("upsert attempt: %w", execErr)
	}
	return nil
}

// LatestPendingAttempt returns the most recent attempt still marked pending,
// or nil when every attempt reached a terminal outcome.
func (s *Store) LatestPendingAttempt(ctx context.Context) (*engine.HarvestAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, latestPendingAttemptSQL)
	record, scanErr := scanAttempt(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, scanErr
	}

	attempt := recordToAttempt(record)
	return &attempt, nil
}

// ListRecentAttempts lists the most recent attempts.
func (s *Store) ListRecentAttempts(ctx context.Context, limit int) ([]AttemptRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAttemptsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent attempts: %w", queryErr)
	}
	defer rows.Close()

	attempts := make([]AttemptRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanAttempt(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		attempts = append(attempts, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

func collectSamples(rows pgx.Rows, sizeHint int) ([]PriceRecord, error) {
	samples := make([]PriceRecord, 0, sizeHint)
	for rows.Next() {
		var (
			record   PriceRecord
			priceStr string
		)
		if err := rows.Scan(
			&record.ID,
			&record.Pair,
			&priceStr,
			&record.ObservedAt,
			&record.Source,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}

		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		record.Price = price
		samples = append(samples, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanAttempt(row pgx.Row) (AttemptRecord, error) {
	var (
		record   AttemptRecord
		priceStr string
		txHash   sql.NullString
		reason   sql.NullString
	)

	if err := row.Scan(
		&record.AttemptID,
		&record.Pair,
		&priceStr,
		&record.ObservedAt,
		&record.SubmittedAt,
		&record.Outcome,
		&txHash,
		&reason,
		&record.CreatedAt,
	); err != nil {
		return AttemptRecord{}, err
	}

	price, convErr := decimal.NewFromString(priceStr)
	if convErr != nil {
		return AttemptRecord{}, fmt.Errorf("parse attempt price: %w", convErr)
	}
	record.Price = price

	if txHash.Valid {
		value := txHash.String
		record.TxHash = &value
	}
	if reason.Valid {
		value := reason.String
		record.FailureReason = &value
	}

	return record, nil
}

func recordToAttempt(record AttemptRecord) engine.HarvestAttempt {
	attempt := engine.HarvestAttempt{
		ID: record.AttemptID,
		Sample: oracle.PriceSample{
			Pair:       record.Pair,
			Price:      record.Price,
			ObservedAt: record.ObservedAt,
		},
		SubmittedAt: record.SubmittedAt,
		Outcome:     engine.Outcome(record.Outcome),
	}
	if record.TxHash != nil {
		attempt.TxHash = *record.TxHash
	}
	if record.FailureReason != nil {
		attempt.FailureReason = *record.FailureReason
	}
	return attempt
}

var _ SampleStore = (*Store)(nil)
var _ AttemptAuditStore = (*Store)(nil)
var _ engine.AttemptStore = (*Store)(nil)
