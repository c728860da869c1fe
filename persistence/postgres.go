// Package persistence gives sagas durable history. A saga orchestrated by
// sutra/patterns.Saga keeps its state in the caller's process; these stores
// let a caller additionally append each step's outcome somewhere durable for
// audit and replay, the same way framework/saga/persistence.go separates a
// saga's in-memory execution from how its history gets stored.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// SagaStepRecord is one completed or compensated step of a saga run.
type SagaStepRecord struct {
	SagaID      string
	StepName    string
	Status      string // "completed", "failed", "compensated"
	Error       string
	RecordedAt  time.Time
	ContextJSON json.RawMessage
}

// PostgresConfig configures the Postgres saga-history store.
type PostgresConfig struct {
	DSN          string
	TableName    string
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultPostgresConfig returns sane defaults for local development.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		TableName:    "saga_history",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
	}
}

// PostgresSagaHistory appends and queries saga step records in Postgres via
// pgx's connection pool.
type PostgresSagaHistory struct {
	config PostgresConfig
	pool   *pgxpool.Pool
}

// NewPostgresSagaHistory connects to Postgres and returns a ready store.
func NewPostgresSagaHistory(ctx context.Context, config PostgresConfig) (*PostgresSagaHistory, error) {
	if config.TableName == "" {
		config.TableName = "saga_history"
	}
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse dsn: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}

	return &PostgresSagaHistory{config: config, pool: pool}, nil
}

// Append records one step outcome.
func (s *PostgresSagaHistory) Append(ctx context.Context, rec SagaStepRecord) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (saga_id, step_name, status, error, recorded_at, context) VALUES ($1, $2, $3, $4, $5, $6)`,
		s.config.TableName,
	)
	_, err := s.pool.Exec(ctx, query, rec.SagaID, rec.StepName, rec.Status, rec.Error, rec.RecordedAt, rec.ContextJSON)
	if err != nil {
		return fmt.Errorf("persistence: append: %w", err)
	}
	return nil
}

// History returns every recorded step for sagaID, oldest first.
func (s *PostgresSagaHistory) History(ctx context.Context, sagaID string) ([]SagaStepRecord, error) {
	query := fmt.Sprintf(
		`SELECT saga_id, step_name, status, error, recorded_at, context FROM %s WHERE saga_id = $1 ORDER BY recorded_at ASC`,
		s.config.TableName,
	)
	rows, err := s.pool.Query(ctx, query, sagaID)
	if err != nil {
		return nil, fmt.Errorf("persistence: history: %w", err)
	}
	defer rows.Close()

	var records []SagaStepRecord
	for rows.Next() {
		var rec SagaStepRecord
		if err := rows.Scan(&rec.SagaID, &rec.StepName, &rec.Status, &rec.Error, &rec.RecordedAt, &rec.ContextJSON); err != nil {
			return nil, fmt.Errorf("persistence: scan: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresSagaHistory) Close() {
	s.pool.Close()
}

// Migrate applies every pending goose migration in dir, connecting through
// pgx's database/sql driver (the "pgx" driver registered by importing
// jackc/pgx/v5/stdlib) since pgxpool itself has no database/sql.DB to hand
// goose.
func Migrate(dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("persistence: open: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("persistence: set dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("persistence: migrate: %w", err)
	}
	return nil
}
