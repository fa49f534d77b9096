package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// PostgresSink appends every envelope to a durable "envelopes" table,
// for operators who want a queryable audit trail alongside the Run
// Ledger itself.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an already-open *sql.DB using the lib/pq
// driver and ensures the backing table exists.
func NewPostgresSink(db *sql.DB) (*PostgresSink, error) {
	s := &PostgresSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS envelopes (
		envelope_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		source_node_id TEXT NOT NULL,
		destination_node_id TEXT NOT NULL,
		envelope_kind TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		timestamp_utc TIMESTAMPTZ NOT NULL,
		schema_version TEXT NOT NULL,
		payload JSONB
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, env *contracts.Envelope) error {
	payloadJSON, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("postgres sink: failed to marshal payload: %w", err)
	}
	query := `
		INSERT INTO envelopes (
			envelope_id, run_id, source_node_id, destination_node_id,
			envelope_kind, payload_hash, timestamp_utc, schema_version, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (envelope_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		env.EnvelopeID, env.RunID, env.SourceNodeID, env.DestinationNodeID,
		string(env.EnvelopeKind), env.PayloadHash, env.TimestampUTC, env.SchemaVersion, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("postgres sink: insert failed: %w", err)
	}
	return nil
}
