package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/flow-engine/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS result_records (
	id                UUID PRIMARY KEY,
	session_id        TEXT        NOT NULL,
	tick              BIGINT      NOT NULL,
	total_value       NUMERIC     NOT NULL,
	incremental_value NUMERIC     NOT NULL,
	total_flow_in     NUMERIC     NOT NULL,
	total_flow_out    NUMERIC     NOT NULL,
	pit_current       NUMERIC,
	pit_capacity      NUMERIC,
	recorded_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS result_records_session_idx
	ON result_records (session_id, recorded_at DESC);
`

// PostgresStore implements Store using PostgreSQL.
// Flows and values are stored as NUMERIC via their decimal representation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the history table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertResult(ctx context.Context, rec *model.ResultRecord) error {
	r := rec.Result
	_, err := s.pool.Exec(ctx,
		`INSERT INTO result_records (id, session_id, tick, total_value, incremental_value,
		                             total_flow_in, total_flow_out, pit_current, pit_capacity, recorded_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		rec.ID, rec.SessionID, rec.Tick,
		numeric(r.TotalValue), numeric(r.IncrementalValue),
		numeric(r.TotalFlowIn), numeric(r.TotalFlowOut),
		optionalNumeric(r.PitCurrent), optionalNumeric(r.PitCapacity),
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context, sessionID string, limit int) ([]model.ResultRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, session_id, tick,
		        total_value::TEXT, incremental_value::TEXT,
		        total_flow_in::TEXT, total_flow_out::TEXT,
		        pit_current::TEXT, pit_capacity::TEXT,
		        recorded_at
		 FROM result_records WHERE session_id = $1
		 ORDER BY recorded_at DESC LIMIT $2`, sessionID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanResultRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return recs, nil
}

// scanResultRecords reads pgx rows into ResultRecord slices.
func scanResultRecords(rows pgx.Rows) ([]model.ResultRecord, error) {
	var recs []model.ResultRecord
	for rows.Next() {
		var rec model.ResultRecord
		var value, incremental, flowIn, flowOut string
		var pitCurrent, pitCapacity *string

		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Tick,
			&value, &incremental, &flowIn, &flowOut,
			&pitCurrent, &pitCapacity, &rec.RecordedAt); err != nil {
			return nil, err
		}

		rec.Result = model.Result{
			Type:             model.TypeResult,
			Tick:             rec.Tick,
			TotalValue:       parseNumeric(value),
			IncrementalValue: parseNumeric(incremental),
			TotalFlowIn:      parseNumeric(flowIn),
			TotalFlowOut:     parseNumeric(flowOut),
			PitCurrent:       parseOptionalNumeric(pitCurrent),
			PitCapacity:      parseOptionalNumeric(pitCapacity),
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func numeric(f float64) string {
	return decimal.NewFromFloat(f).String()
}

func optionalNumeric(f *float64) *string {
	if f == nil {
		return nil
	}
	s := numeric(*f)
	return &s
}

func parseNumeric(s string) float64 {
	d, _ := decimal.NewFromString(s)
	return d.InexactFloat64()
}

func parseOptionalNumeric(s *string) *float64 {
	if s == nil {
		return nil
	}
	f := parseNumeric(*s)
	return &f
}
