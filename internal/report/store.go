package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

// Store persists assembled reports. Reports are insert-only: a rescan
// appends a new report rather than rewriting history.
type Store interface {
	Save(ctx context.Context, report *ComplianceReport) error
	Latest(ctx context.Context, ingestionID string) (*ComplianceReport, error)
	Close() error
}

// PostgresStore keeps reports as JSONB rows, one per run.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgresStore attaches the report store to an existing database
// connection pool.
func NewPostgresStore(db *sqlx.DB, log *logger.Logger) (*PostgresStore, error) {
	store := &PostgresStore{
		db:     db,
		logger: log.WithComponent("report_store"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := `
		CREATE TABLE IF NOT EXISTS compliance_reports (
			id           BIGSERIAL PRIMARY KEY,
			ingestion_id TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			payload      JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_compliance_reports_ingestion
			ON compliance_reports (ingestion_id, generated_at DESC)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure compliance_reports table: %w", err)
	}
	return store, nil
}

// Save appends one report.
func (s *PostgresStore) Save(ctx context.Context, report *ComplianceReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO compliance_reports (ingestion_id, generated_at, payload)
		VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, report.IngestionID, report.GeneratedAt, payload); err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	s.logger.Debug("Report saved",
		zap.String("ingestion_id", report.IngestionID),
		zap.Float64("compliance_score", report.ComplianceScore),
	)
	return nil
}

// Latest returns the most recent report for an ingestion, or ErrNotFound.
func (s *PostgresStore) Latest(ctx context.Context, ingestionID string) (*ComplianceReport, error) {
	var payload []byte
	query := `
		SELECT payload FROM compliance_reports
		WHERE ingestion_id = $1
		ORDER BY generated_at DESC
		LIMIT 1`
	err := s.db.GetContext(ctx, &payload, query, ingestionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	var report ComplianceReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// Close is a no-op: the connection pool is owned by the caller.
func (s *PostgresStore) Close() error {
	return nil
}
