package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store keeps the analysis history in PostgreSQL. Only metadata is stored, never pixels.
type Store struct {
	mu   sync.Mutex // pgx.Conn is not safe for concurrent use
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS capture_analyses (
			id BIGSERIAL PRIMARY KEY,
			snapshot_id UUID NOT NULL UNIQUE,
			captured_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ DEFAULT NOW(),
			width INT NOT NULL,
			height INT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			faces_count INT NOT NULL DEFAULT 0,
			bbox JSONB,
			pitch DOUBLE PRECISION,
			roll DOUBLE PRECISION,
			yaw DOUBLE PRECISION
		);
		CREATE INDEX IF NOT EXISTS capture_analyses_captured_at_idx ON capture_analyses (captured_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// RecordAnalysis saves one history entry. Recording the same snapshot twice keeps the latest outcome.
func (s *Store) RecordAnalysis(ctx context.Context, rec types.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `
		INSERT INTO capture_analyses
			(snapshot_id, captured_at, width, height, outcome, reason, faces_count, bbox, pitch, roll, yaw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (snapshot_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			reason = EXCLUDED.reason,
			faces_count = EXCLUDED.faces_count,
			bbox = EXCLUDED.bbox,
			pitch = EXCLUDED.pitch,
			roll = EXCLUDED.roll,
			yaw = EXCLUDED.yaw,
			recorded_at = NOW()
	`, rec.SnapshotID.String(), rec.CapturedAt, rec.Width, rec.Height, rec.Outcome, rec.Reason,
		rec.FacesCount, rec.Box, rec.Pitch, rec.Roll, rec.Yaw)
	return err
}

// ListAnalyses returns the most recent entries first. A limit <= 0 returns everything.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]types.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, snapshot_id::text, captured_at, width, height, outcome, reason, faces_count, bbox, pitch, roll, yaw
		FROM capture_analyses
		ORDER BY captured_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.AnalysisRecord
	for rows.Next() {
		var rec types.AnalysisRecord
		var snapshotID string
		if err := rows.Scan(&rec.ID, &snapshotID, &rec.CapturedAt, &rec.Width, &rec.Height, &rec.Outcome,
			&rec.Reason, &rec.FacesCount, &rec.Box, &rec.Pitch, &rec.Roll, &rec.Yaw); err != nil {
			return nil, err
		}
		if rec.SnapshotID, err = uuid.Parse(snapshotID); err != nil {
			return nil, fmt.Errorf("invalid snapshot id %q: %w", snapshotID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS capture_analyses CASCADE;`)
	return err
}
