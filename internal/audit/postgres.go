package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	json "github.com/goccy/go-json"
)

// PostgresSink mirrors audit records into a single append-only table using
// a pgxpool.Pool held for the sink's lifetime, with schema setup run once
// at construction.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and ensures the audit table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect postgres: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS threepc_audit (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		node_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data JSONB,
		participant_id TEXT,
		host TEXT,
		port INT,
		occurred_at BIGINT,
		mirrored_at BIGINT
	)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Write inserts rec as a new row; audit history is append-only, mirroring
// the authoritative in-memory record rather than replacing it.
func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO threepc_audit
		(kind, node_id, transaction_id, status, data, participant_id, host, port, occurred_at, mirrored_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.Kind, rec.NodeID, rec.TransactionID, rec.Status, data,
		rec.ParticipantID, rec.Host, rec.Port, rec.OccurredAt, rec.MirroredAt)
	return err
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
