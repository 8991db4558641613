package masking

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

// TokenStore persists reversible token mappings. Save must be atomic:
// either every mapping of a run is recorded or none are.
type TokenStore interface {
	Save(ctx context.Context, mappings []TokenMapping) error
	Resolve(ctx context.Context, ingestionID, token string) (TokenMapping, error)
	Close() error
}

// PostgresStore is the production token store. Mappings are insert-only
// and retained for the ingestion's full audit lifetime.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logger.Logger

	// Writes are serialized per ingestion to guarantee token uniqueness
	// within a scope; distinct ingestions proceed in parallel.
	locks sync.Map // ingestion id -> *sync.Mutex
}

// NewPostgresStore connects to the token vault database.
func NewPostgresStore(cfg config.DatabaseConfig, log *logger.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &PostgresStore{
		db:     db,
		logger: log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}

	log.Info("Token store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return store, nil
}

// initialize pings the database and ensures the mappings table exists.
func (s *PostgresStore) initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS token_mappings (
			ingestion_id TEXT NOT NULL,
			token        TEXT NOT NULL,
			pii_type     TEXT NOT NULL,
			ciphertext   BYTEA NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (ingestion_id, token)
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure token_mappings table: %w", err)
	}
	return nil
}

// Save inserts a run's mappings in a single transaction.
func (s *PostgresStore) Save(ctx context.Context, mappings []TokenMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	lock := s.ingestionLock(mappings[0].IngestionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO token_mappings (ingestion_id, token, pii_type, ciphertext, created_at)
		VALUES (:ingestion_id, :token, :pii_type, :ciphertext, :created_at)`
	for _, mapping := range mappings {
		if _, err := tx.NamedExecContext(ctx, query, mapping); err != nil {
			s.logger.Error("Failed to insert token mapping",
				zap.Error(err),
				zap.String("ingestion_id", mapping.IngestionID),
				zap.String("pii_type", string(mapping.PIIType)),
			)
			return fmt.Errorf("failed to insert token mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token mappings: %w", err)
	}

	s.logger.Debug("Token mappings saved",
		zap.String("ingestion_id", mappings[0].IngestionID),
		zap.Int("count", len(mappings)),
	)
	return nil
}

// Resolve loads one mapping by (ingestion, token).
func (s *PostgresStore) Resolve(ctx context.Context, ingestionID, token string) (TokenMapping, error) {
	var mapping TokenMapping
	query := `
		SELECT ingestion_id, token, pii_type, ciphertext, created_at
		FROM token_mappings
		WHERE ingestion_id = $1 AND token = $2`
	err := s.db.GetContext(ctx, &mapping, query, ingestionID, token)
	if err == sql.ErrNoRows {
		return TokenMapping{}, fmt.Errorf("unknown token %q for ingestion %q", token, ingestionID)
	}
	if err != nil {
		return TokenMapping{}, fmt.Errorf("failed to load token mapping: %w", err)
	}
	return mapping, nil
}

// DB exposes the connection pool so sibling stores can share it.
func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) ingestionLock(ingestionID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(ingestionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
