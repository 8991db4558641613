package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

// FileFormat is a supported consent export format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat picks the format from the file extension.
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".json"), strings.HasSuffix(filename, ".jsonl"):
		return FormatJSON
	default:
		return FormatCSV
	}
}

// Result summarizes one load.
type Result struct {
	TotalRecords int64         `json:"total_records"`
	LoadedOK     int64         `json:"loaded_ok"`
	Skipped      int64         `json:"skipped"`
	Duration     time.Duration `json:"duration"`
	Errors       []string      `json:"errors,omitempty"`
}

// Loader bulk-loads consent record exports into the consent store.
type Loader struct {
	cfg    config.ETLConfig
	target *consent.PostgresSource
	logger *logger.Logger
}

// NewLoader creates a consent dataset loader.
func NewLoader(cfg config.ETLConfig, target *consent.PostgresSource, log *logger.Logger) *Loader {
	return &Loader{
		cfg:    cfg,
		target: target,
		logger: log.WithComponent("etl"),
	}
}

// LoadFile reads one export file and writes its records in batches.
func (l *Loader) LoadFile(ctx context.Context, filePath string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	format := DetectFileFormat(filePath)
	l.logger.Info("Starting consent dataset load",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", l.cfg.BatchSize),
	)

	var err error
	switch format {
	case FormatCSV:
		err = l.loadCSV(ctx, filePath, result)
	case FormatParquet:
		err = l.loadParquet(ctx, filePath, result)
	case FormatJSON:
		err = l.loadJSON(ctx, filePath, result)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	l.logger.Info("Consent dataset load completed",
		zap.Int64("total", result.TotalRecords),
		zap.Int64("loaded", result.LoadedOK),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// csvColumns is the expected header order of a consent CSV export.
var csvColumns = []string{"subject_id", "consent_type", "purpose", "granted", "granted_at", "revoked_at", "expires_at"}

func (l *Loader) loadCSV(ctx context.Context, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(csvColumns)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	l.logger.Info("CSV header detected", zap.Strings("columns", header))

	return l.loadBatches(ctx, result, func() ([]consent.Record, error) {
		var batch []consent.Record
		for len(batch) < l.cfg.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				l.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.Skipped++
				continue
			}
			result.TotalRecords++

			record, parseErr := parseCSVRecord(row)
			if parseErr != nil {
				l.logger.Warn("Invalid CSV record", zap.Error(parseErr))
				result.Skipped++
				continue
			}
			if l.cfg.ValidateData && !validRecord(record) {
				result.Skipped++
				continue
			}
			batch = append(batch, record)
		}
		return batch, nil
	})
}

func (l *Loader) loadParquet(ctx context.Context, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return l.loadBatches(ctx, result, func() ([]consent.Record, error) {
		var batch []consent.Record
		for len(batch) < l.cfg.BatchSize {
			var record consent.Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				l.logger.Warn("Failed to read Parquet record", zap.Error(err))
				result.Skipped++
				continue
			}
			result.TotalRecords++

			if l.cfg.ValidateData && !validRecord(record) {
				result.Skipped++
				continue
			}
			batch = append(batch, record)
		}
		return batch, nil
	})
}

// loadJSON reads one JSON object per line.
func (l *Loader) loadJSON(ctx context.Context, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return l.loadBatches(ctx, result, func() ([]consent.Record, error) {
		var batch []consent.Record
		for len(batch) < l.cfg.BatchSize {
			var record consent.Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				l.logger.Warn("Failed to read JSON record", zap.Error(err))
				result.Skipped++
				continue
			}
			result.TotalRecords++

			if l.cfg.ValidateData && !validRecord(record) {
				result.Skipped++
				continue
			}
			batch = append(batch, record)
		}
		return batch, nil
	})
}

func (l *Loader) loadBatches(ctx context.Context, result *Result, readBatch func() ([]consent.Record, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := l.target.SaveBatch(ctx, batch); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return fmt.Errorf("failed to save batch: %w", err)
		}
		result.LoadedOK += int64(len(batch))

		if l.cfg.ProgressReport > 0 && result.LoadedOK%int64(l.cfg.ProgressReport) == 0 {
			l.logger.Info("Load progress",
				zap.Int64("loaded", result.LoadedOK),
				zap.Int64("skipped", result.Skipped),
			)
		}
	}
}

func parseCSVRecord(row []string) (consent.Record, error) {
	if len(row) != len(csvColumns) {
		return consent.Record{}, fmt.Errorf("expected %d columns, got %d", len(csvColumns), len(row))
	}

	grantedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(row[4]))
	if err != nil {
		return consent.Record{}, fmt.Errorf("bad granted_at: %w", err)
	}

	record := consent.Record{
		SubjectID:   strings.TrimSpace(row[0]),
		ConsentType: strings.TrimSpace(row[1]),
		Purpose:     strings.TrimSpace(row[2]),
		Granted:     parseBool(row[3]),
		GrantedAt:   grantedAt,
	}
	if t, err := parseOptionalTime(row[5]); err == nil {
		record.RevokedAt = t
	}
	if t, err := parseOptionalTime(row[6]); err == nil {
		record.ExpiresAt = t
	}
	return record, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

func parseOptionalTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func validRecord(r consent.Record) bool {
	if r.SubjectID == "" || r.Purpose == "" || r.GrantedAt.IsZero() {
		return false
	}
	if r.RevokedAt != nil && r.RevokedAt.Before(r.GrantedAt) {
		return false
	}
	return true
}
