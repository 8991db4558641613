package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

// PostgresSource serves consent records from the local database. It is
// the source used when no external consent service is configured, and
// the target of the consent dataset loader.
type PostgresSource struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgresSource attaches the consent source to an existing pool.
func NewPostgresSource(db *sqlx.DB, log *logger.Logger) (*PostgresSource, error) {
	source := &PostgresSource{
		db:     db,
		logger: log.WithComponent("consent_store"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := `
		CREATE TABLE IF NOT EXISTS consent_records (
			id           BIGSERIAL PRIMARY KEY,
			subject_id   TEXT NOT NULL,
			consent_type TEXT NOT NULL,
			purpose      TEXT NOT NULL,
			granted      BOOLEAN NOT NULL,
			granted_at   TIMESTAMPTZ NOT NULL,
			revoked_at   TIMESTAMPTZ,
			expires_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_consent_records_subject
			ON consent_records (subject_id)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure consent_records table: %w", err)
	}
	return source, nil
}

type consentRow struct {
	SubjectID   string     `db:"subject_id"`
	ConsentType string     `db:"consent_type"`
	Purpose     string     `db:"purpose"`
	Granted     bool       `db:"granted"`
	GrantedAt   time.Time  `db:"granted_at"`
	RevokedAt   *time.Time `db:"revoked_at"`
	ExpiresAt   *time.Time `db:"expires_at"`
}

// Records returns every consent event for a subject.
func (s *PostgresSource) Records(ctx context.Context, subjectID string) ([]Record, error) {
	var rows []consentRow
	query := `
		SELECT subject_id, consent_type, purpose, granted, granted_at, revoked_at, expires_at
		FROM consent_records
		WHERE subject_id = $1
		ORDER BY granted_at`
	if err := s.db.SelectContext(ctx, &rows, query, subjectID); err != nil {
		return nil, fmt.Errorf("failed to query consent records: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record(row))
	}
	return records, nil
}

// SaveBatch inserts a batch of consent records in one transaction.
// Used by the dataset loader.
func (s *PostgresSource) SaveBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO consent_records (subject_id, consent_type, purpose, granted, granted_at, revoked_at, expires_at)
		VALUES (:subject_id, :consent_type, :purpose, :granted, :granted_at, :revoked_at, :expires_at)`
	for _, record := range records {
		if _, err := tx.NamedExecContext(ctx, query, consentRow(record)); err != nil {
			return fmt.Errorf("failed to insert consent record for %s: %w", record.SubjectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit consent records: %w", err)
	}

	s.logger.Debug("Consent batch saved", zap.Int("count", len(records)))
	return nil
}
