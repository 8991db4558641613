package engine

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/entity"
	"github.com/datalegis/lgpd-sentinel/internal/events"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/masking"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
	"github.com/datalegis/lgpd-sentinel/internal/report"
	"github.com/datalegis/lgpd-sentinel/internal/scoring"
)

// The aggregator keeps a few more samples than reports expose so the
// detail view is never starved by the report cap.
const aggregatorSampleCap = 5

// RunRequest is one scan request for an ingestion's payload fields.
type RunRequest struct {
	IngestionID string            `json:"ingestion_id"`
	SubjectID   string            `json:"subject_id"`
	Purpose     string            `json:"purpose"`
	Fields      map[string]string `json:"fields"`
}

// RunResult is the outcome of one completed scan run.
type RunResult struct {
	Report       *report.ComplianceReport `json:"report"`
	MaskedFields map[string]string        `json:"masked_fields"`
	Duration     time.Duration            `json:"-"`
}

// Deps are the collaborators the engine orchestrates.
type Deps struct {
	Registry   *registry.Registry
	Recognizer entity.Recognizer
	Consent    *consent.Validator
	Masker     *masking.Engine
	Scorer     *scoring.Scorer
	Reports    report.Store
	Hub        *events.Hub
}

// Engine runs the full detection pipeline: pattern matching, entity
// recognition and consent lookup fan out concurrently, then aggregate,
// mask, score and assemble run sequentially over their results.
type Engine struct {
	cfg        *config.Config
	registry   *registry.Registry
	patterns   *detect.PatternDetector
	aggregator *detect.Aggregator
	recognizer entity.Recognizer
	consent    *consent.Validator
	masker     *masking.Engine
	scorer     *scoring.Scorer
	reports    report.Store
	hub        *events.Hub
	logger     *logger.Logger
}

// New wires the engine together.
func New(cfg *config.Config, deps Deps, log *logger.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		registry:   deps.Registry,
		patterns:   detect.NewPatternDetector(deps.Registry, log),
		aggregator: detect.NewAggregator(deps.Registry, aggregatorSampleCap, log),
		recognizer: deps.Recognizer,
		consent:    deps.Consent,
		masker:     deps.Masker,
		scorer:     deps.Scorer,
		reports:    deps.Reports,
		hub:        deps.Hub,
		logger:     log.WithComponent("engine"),
	}
}

// Run executes one scan. Detection failures degrade the run; masking
// and persistence failures fail it.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := time.Now()
	log := e.logger.WithIngestion(req.IngestionID)

	fields, fieldWarnings, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	e.publish(events.Event{
		Type:        events.EventTypeRunStarted,
		Timestamp:   time.Now().UTC(),
		IngestionID: req.IngestionID,
		Data: events.RunStartedEvent{
			FieldCount: len(fields),
			SubjectID:  req.SubjectID,
		},
	})

	var (
		wg           sync.WaitGroup
		patternCands []detect.Candidate
		entityCands  []detect.Candidate
		verdict      consent.Verdict
		degraded     bool
		degradedWhy  string
	)

	fieldNames := sortedKeys(fields)

	wg.Add(3)
	go func() {
		defer wg.Done()
		for _, name := range fieldNames {
			patternCands = append(patternCands, e.patterns.Detect(ctx, name, fields[name])...)
		}
	}()
	go func() {
		defer wg.Done()
		entityCtx := ctx
		if e.cfg.Recognizer.Timeout > 0 {
			var cancel context.CancelFunc
			entityCtx, cancel = context.WithTimeout(ctx, e.cfg.Recognizer.Timeout)
			defer cancel()
		}
		for _, name := range fieldNames {
			cands, recErr := e.recognizer.Recognize(entityCtx, name, fields[name])
			if recErr != nil {
				degraded = true
				degradedWhy = recErr.Error()
				log.Warn("Entity recognition degraded", zap.Error(recErr))
				return
			}
			entityCands = append(entityCands, cands...)
		}
	}()
	go func() {
		defer wg.Done()
		verdict = e.consent.Validate(ctx, req.SubjectID, req.Purpose)
	}()
	wg.Wait()

	detections, accepted := e.aggregator.Aggregate(patternCands, entityCands)

	spans := make([]masking.Span, 0, len(accepted))
	for _, cand := range accepted {
		spans = append(spans, masking.Span{
			Type:  cand.Type,
			Value: cand.Value,
			Field: cand.Field,
			Start: cand.Start,
			End:   cand.End,
		})
	}

	maskResult, err := e.masker.Mask(ctx, req.IngestionID, fields, spans)
	if err != nil {
		return nil, NewEngineError(ErrorTypeTokenStore, err.Error(), http.StatusInternalServerError)
	}

	score, riskLevel := e.scorer.Score(detections, verdict.Status)

	warnings := make([]string, 0, len(fieldWarnings)+2)
	for _, w := range fieldWarnings {
		warnings = append(warnings, fmt.Sprintf("field %q skipped: %s", w.Field, w.Message))
	}
	if verdict.Warning != "" {
		warnings = append(warnings, verdict.Warning)
	}
	if degraded {
		warnings = append(warnings, "entity recognition unavailable: "+degradedWhy)
	}
	if len(fieldWarnings) > 0 {
		degraded = true
		if degradedWhy == "" {
			degradedWhy = "payload contained unscannable fields"
		}
	}

	rep := report.Assemble(report.Input{
		IngestionID:    req.IngestionID,
		Detections:     detections,
		MaskingActions: maskResult.Actions,
		Verdict:        verdict,
		Score:          score,
		RiskLevel:      riskLevel,
		Degraded:       degraded,
		Warnings:       warnings,
	})

	if err := e.reports.Save(ctx, rep); err != nil {
		return nil, NewEngineError(ErrorTypeReportStore, err.Error(), http.StatusInternalServerError)
	}

	duration := time.Since(start)
	e.publishOutcome(req.IngestionID, rep, degradedWhy, duration)

	log.Info("Scan run completed",
		zap.Float64("compliance_score", rep.ComplianceScore),
		zap.String("risk_level", string(rep.RiskLevel)),
		zap.String("consent_status", string(rep.ConsentStatus)),
		zap.Int("total_pii_instances", rep.TotalPIIInstances),
		zap.Bool("degraded", rep.Degraded),
		zap.Duration("duration", duration),
	)

	return &RunResult{
		Report:       rep,
		MaskedFields: maskResult.MaskedFields,
		Duration:     duration,
	}, nil
}

// validateRequest splits the payload into scannable fields and per
// field warnings. Only a payload with nothing to scan is rejected.
func validateRequest(req RunRequest) (map[string]string, []detect.FieldWarning, error) {
	if req.IngestionID == "" {
		return nil, nil, NewEngineError(ErrorTypeMalformedInput, "ingestion_id is required", http.StatusBadRequest)
	}
	if len(req.Fields) == 0 {
		return nil, nil, NewEngineError(ErrorTypeMalformedInput, "fields must not be empty", http.StatusBadRequest)
	}

	fields := make(map[string]string, len(req.Fields))
	var warnings []detect.FieldWarning
	for name, text := range req.Fields {
		if !utf8.ValidString(text) {
			warnings = append(warnings, detect.FieldWarning{
				Field:   name,
				Message: "not valid UTF-8",
			})
			continue
		}
		fields[name] = text
	}
	if len(fields) == 0 {
		return nil, nil, NewEngineError(ErrorTypeMalformedInput, "no scannable fields in payload", http.StatusBadRequest)
	}
	return fields, warnings, nil
}

func (e *Engine) publishOutcome(ingestionID string, rep *report.ComplianceReport, degradedWhy string, duration time.Duration) {
	now := time.Now().UTC()

	if rep.TotalPIIInstances > 0 {
		e.publish(events.Event{
			Type:        events.EventTypePIIDetection,
			Timestamp:   now,
			IngestionID: ingestionID,
			Data: events.PIIDetectionEvent{
				TypesDetected: rep.PIITypesDetected,
				Total:         rep.TotalPIIInstances,
			},
		})
	}
	if rep.Degraded {
		e.publish(events.Event{
			Type:        events.EventTypeDegraded,
			Timestamp:   now,
			IngestionID: ingestionID,
			Data:        events.DegradedEvent{Reason: degradedWhy},
		})
	}
	e.publish(events.Event{
		Type:        events.EventTypeRunCompleted,
		Timestamp:   now,
		IngestionID: ingestionID,
		Data: events.RunCompletedEvent{
			ComplianceScore: rep.ComplianceScore,
			RiskLevel:       string(rep.RiskLevel),
			ConsentStatus:   string(rep.ConsentStatus),
			TotalInstances:  rep.TotalPIIInstances,
			Degraded:        rep.Degraded,
			ProcessingMS:    float64(duration.Microseconds()) / 1000.0,
		},
	})
}

func (e *Engine) publish(event events.Event) {
	if e.hub != nil {
		e.hub.Publish(event)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
