package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/entity"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/masking"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
	"github.com/datalegis/lgpd-sentinel/internal/report"
	"github.com/datalegis/lgpd-sentinel/internal/scoring"
)

type stubConsentSource struct {
	records []consent.Record
	err     error
}

func (s stubConsentSource) Records(ctx context.Context, subjectID string) ([]consent.Record, error) {
	return s.records, s.err
}

type brokenRecognizer struct{}

func (brokenRecognizer) Recognize(ctx context.Context, field, text string) ([]detect.Candidate, error) {
	return nil, errors.New("model session closed")
}
func (brokenRecognizer) Ready() bool { return false }
func (brokenRecognizer) Name() string { return "broken" }
func (brokenRecognizer) Close() error { return nil }

type failingReportStore struct{}

func (failingReportStore) Save(ctx context.Context, rep *report.ComplianceReport) error {
	return errors.New("database unavailable")
}
func (failingReportStore) Latest(ctx context.Context, ingestionID string) (*report.ComplianceReport, error) {
	return nil, report.ErrNotFound
}
func (failingReportStore) Close() error { return nil }

type testHarness struct {
	engine  *Engine
	reports *report.MemoryStore
}

func newTestEngine(t *testing.T, source consent.Source, opts ...func(*Deps)) *testHarness {
	t.Helper()
	log := logger.NewNop()
	cfg := config.GetDefaults()

	reg, err := registry.New(cfg.Registry)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	recognizer, err := entity.New(cfg.Recognizer, log)
	if err != nil {
		t.Fatalf("Failed to build recognizer: %v", err)
	}
	masker, err := masking.NewEngine(cfg.Masking, masking.NewMemoryStore(), log)
	if err != nil {
		t.Fatalf("Failed to build masking engine: %v", err)
	}

	reports := report.NewMemoryStore()
	deps := Deps{
		Registry:   reg,
		Recognizer: recognizer,
		Consent:    consent.NewValidator(source, log),
		Masker:     masker,
		Scorer:     scoring.NewScorer(cfg.Scoring, log),
		Reports:    reports,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &testHarness{
		engine:  New(cfg, deps, log),
		reports: reports,
	}
}

func TestRunFullPipeline(t *testing.T) {
	h := newTestEngine(t, stubConsentSource{})
	ctx := context.Background()

	result, err := h.engine.Run(ctx, RunRequest{
		IngestionID: "ing-1",
		SubjectID:   "subj-1",
		Purpose:     "analytics",
		Fields: map[string]string{
			"descricao": "Cliente com CPF 529.982.247-25",
			"contato":   "escreva para ana@example.com",
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rep := result.Report
	if rep.TotalPIIInstances != 2 {
		t.Errorf("total = %d, want 2", rep.TotalPIIInstances)
	}
	if rep.PIITypesDetected["cpf"] != 1 || rep.PIITypesDetected["email"] != 1 {
		t.Errorf("types detected = %v", rep.PIITypesDetected)
	}
	if rep.ConsentStatus != consent.StatusMissing {
		t.Errorf("consent status = %q, want missing", rep.ConsentStatus)
	}
	// 100 - 8 (cpf) - 2 (email) - 5 (missing consent, one high instance)
	if rep.ComplianceScore != 85 {
		t.Errorf("score = %v, want 85", rep.ComplianceScore)
	}
	if rep.Degraded {
		t.Error("clean run marked degraded")
	}

	masked := result.MaskedFields["descricao"]
	if strings.Contains(masked, "529.982.247-25") {
		t.Errorf("raw CPF survived masking: %q", masked)
	}
	if !strings.Contains(masked, "[CPF_TOKEN_") {
		t.Errorf("masked field missing token: %q", masked)
	}

	stored, err := h.reports.Latest(ctx, "ing-1")
	if err != nil {
		t.Fatalf("report was not persisted: %v", err)
	}
	if stored.ComplianceScore != rep.ComplianceScore {
		t.Errorf("stored score %v != returned %v", stored.ComplianceScore, rep.ComplianceScore)
	}
}

func TestRunNoPII(t *testing.T) {
	grant := consent.Record{
		SubjectID: "subj-1",
		Purpose:   "any",
		Granted:   true,
		GrantedAt: time.Now().UTC().Add(-time.Hour),
	}
	h := newTestEngine(t, stubConsentSource{records: []consent.Record{grant}})

	result, err := h.engine.Run(context.Background(), RunRequest{
		IngestionID: "ing-2",
		SubjectID:   "subj-1",
		Purpose:     "analytics",
		Fields:      map[string]string{"nota": "nada sensivel neste texto"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rep := result.Report
	if rep.ComplianceScore != 100 || rep.RiskLevel != scoring.RiskLow {
		t.Errorf("got %v/%v, want 100/low", rep.ComplianceScore, rep.RiskLevel)
	}
	if rep.ConsentStatus != consent.StatusValid {
		t.Errorf("consent status = %q, want valid", rep.ConsentStatus)
	}
	if result.MaskedFields["nota"] != "nada sensivel neste texto" {
		t.Errorf("field altered without detections: %q", result.MaskedFields["nota"])
	}
	if !strings.Contains(rep.Narrative, "Nenhuma instancia") {
		t.Errorf("narrative = %q", rep.Narrative)
	}
}

func TestRunMalformedInput(t *testing.T) {
	h := newTestEngine(t, stubConsentSource{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  RunRequest
	}{
		{"MissingIngestionID", RunRequest{Fields: map[string]string{"f": "texto"}}},
		{"EmptyFields", RunRequest{IngestionID: "ing-3"}},
		{"AllFieldsInvalid", RunRequest{IngestionID: "ing-3", Fields: map[string]string{"f": "\xff\xfe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Run(ctx, tt.req)
			var ee *EngineError
			if !errors.As(err, &ee) {
				t.Fatalf("got %v, want EngineError", err)
			}
			if ee.Type != ErrorTypeMalformedInput || ee.Code != 400 {
				t.Errorf("got %s/%d, want malformed_input/400", ee.Type, ee.Code)
			}
		})
	}
}

func TestRunSkipsInvalidFields(t *testing.T) {
	h := newTestEngine(t, stubConsentSource{})

	result, err := h.engine.Run(context.Background(), RunRequest{
		IngestionID: "ing-4",
		SubjectID:   "subj-1",
		Fields: map[string]string{
			"ruim": "\xff\xfe",
			"bom":  "CPF 529.982.247-25 informado",
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rep := result.Report
	if !rep.Degraded {
		t.Error("run with skipped fields should be degraded")
	}
	if rep.PIITypesDetected["cpf"] != 1 {
		t.Errorf("valid field was not scanned: %v", rep.PIITypesDetected)
	}
	found := false
	for _, w := range rep.Warnings {
		if strings.Contains(w, "ruim") && strings.Contains(w, "not valid UTF-8") {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning for the skipped field: %v", rep.Warnings)
	}
}

func TestRunDegradesOnRecognizerFailure(t *testing.T) {
	h := newTestEngine(t, stubConsentSource{}, func(d *Deps) {
		d.Recognizer = brokenRecognizer{}
	})

	result, err := h.engine.Run(context.Background(), RunRequest{
		IngestionID: "ing-5",
		SubjectID:   "subj-1",
		Fields:      map[string]string{"descricao": "CPF 529.982.247-25 do cliente"},
	})
	if err != nil {
		t.Fatalf("Run should degrade, not fail: %v", err)
	}

	rep := result.Report
	if !rep.Degraded {
		t.Error("run not marked degraded")
	}
	if rep.PIITypesDetected["cpf"] != 1 {
		t.Errorf("pattern detection lost in degraded run: %v", rep.PIITypesDetected)
	}
	found := false
	for _, w := range rep.Warnings {
		if strings.Contains(w, "entity recognition unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("no degradation warning: %v", rep.Warnings)
	}
}

func TestRunReportStoreFailureFailsRun(t *testing.T) {
	h := newTestEngine(t, stubConsentSource{}, func(d *Deps) {
		d.Reports = failingReportStore{}
	})

	_, err := h.engine.Run(context.Background(), RunRequest{
		IngestionID: "ing-6",
		Fields:      map[string]string{"f": "texto simples"},
	})
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("got %v, want EngineError", err)
	}
	if ee.Type != ErrorTypeReportStore || ee.Code != 500 {
		t.Errorf("got %s/%d, want report_store/500", ee.Type, ee.Code)
	}
}
