package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/engine"
	"github.com/datalegis/lgpd-sentinel/internal/entity"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/masking"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
	"github.com/datalegis/lgpd-sentinel/internal/report"
	"github.com/datalegis/lgpd-sentinel/internal/scoring"
)

type emptyConsentSource struct{}

func (emptyConsentSource) Records(ctx context.Context, subjectID string) ([]consent.Record, error) {
	return nil, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	log := logger.NewNop()
	cfg := config.GetDefaults()
	cfg.Server.RateLimit.Enabled = false
	cfg.WebSocket.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

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

	eng := engine.New(cfg, engine.Deps{
		Registry:   reg,
		Recognizer: recognizer,
		Consent:    consent.NewValidator(emptyConsentSource{}, log),
		Masker:     masker,
		Scorer:     scoring.NewScorer(cfg.Scoring, log),
		Reports:    reports,
	}, log)

	return New(cfg, Deps{
		Engine:     eng,
		Reports:    reports,
		Registry:   reg,
		Recognizer: recognizer,
	}, log)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleScan(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("Success", func(t *testing.T) {
		body := `{"subject_id":"subj-1","purpose":"analytics","fields":{"descricao":"CPF 529.982.247-25 do cliente"}}`
		rec := doRequest(s, "POST", "/v1/ingestions/ing-1/scan", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}

		var result struct {
			Report       *report.ComplianceReport `json:"report"`
			MaskedFields map[string]string        `json:"masked_fields"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if result.Report == nil || result.Report.IngestionID != "ing-1" {
			t.Fatalf("report = %+v", result.Report)
		}
		if result.Report.PIITypesDetected["cpf"] != 1 {
			t.Errorf("types detected = %v", result.Report.PIITypesDetected)
		}
		if strings.Contains(result.MaskedFields["descricao"], "529.982.247-25") {
			t.Errorf("raw CPF in response: %q", result.MaskedFields["descricao"])
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rec := doRequest(s, "POST", "/v1/ingestions/ing-1/scan", "{not json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("EmptyFields", func(t *testing.T) {
		rec := doRequest(s, "POST", "/v1/ingestions/ing-1/scan", `{"fields":{}}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		rec := doRequest(s, "GET", "/v1/ingestions/ing-1/scan", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestHandleReportAndPII(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("NotFoundBeforeScan", func(t *testing.T) {
		rec := doRequest(s, "GET", "/v1/ingestions/sem-scan/lgpd-report", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
		rec = doRequest(s, "GET", "/v1/ingestions/sem-scan/pii", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	scanBody := `{"subject_id":"subj-1","fields":{"contato":"escreva para ana@example.com"}}`
	if rec := doRequest(s, "POST", "/v1/ingestions/ing-2/scan", scanBody); rec.Code != http.StatusOK {
		t.Fatalf("scan failed: %d %s", rec.Code, rec.Body.String())
	}

	t.Run("Report", func(t *testing.T) {
		rec := doRequest(s, "GET", "/v1/ingestions/ing-2/lgpd-report", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var rep report.ComplianceReport
		if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
			t.Fatalf("Failed to decode report: %v", err)
		}
		if rep.PIITypesDetected["email"] != 1 {
			t.Errorf("types detected = %v", rep.PIITypesDetected)
		}
	})

	t.Run("PII", func(t *testing.T) {
		rec := doRequest(s, "GET", "/v1/ingestions/ing-2/pii", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var view report.PIIView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("Failed to decode view: %v", err)
		}
		if view.TypesCheckedCount != 12 {
			t.Errorf("types checked = %d, want 12", view.TypesCheckedCount)
		}
		if view.TypesDetectedCount != 1 || view.TotalInstances != 1 {
			t.Errorf("detected = %d total = %d, want 1/1", view.TypesDetectedCount, view.TotalInstances)
		}
	})
}

func TestSampleCapsAcrossEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"subject_id":"subj-1","fields":{"lista":"CPFs: 529.982.247-25, 529.982.247-25, 529.982.247-25, 529.982.247-25"}}`
	scan := doRequest(s, "POST", "/v1/ingestions/ing-caps/scan", body)
	if scan.Code != http.StatusOK {
		t.Fatalf("scan failed: %d %s", scan.Code, scan.Body.String())
	}

	type sampleDetail struct {
		Type          string   `json:"pii_type"`
		MaskedSamples []string `json:"masked_samples"`
	}
	cpfSamples := func(t *testing.T, raw []byte, path string) int {
		t.Helper()
		var payload struct {
			ReportDetails []sampleDetail `json:"pii_details"`
			ViewDetails   []sampleDetail `json:"details"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("Failed to decode %s: %v", path, err)
		}
		for _, d := range append(payload.ReportDetails, payload.ViewDetails...) {
			if d.Type == "cpf" {
				return len(d.MaskedSamples)
			}
		}
		t.Fatalf("no cpf detail in %s", path)
		return 0
	}

	// The summary report trims to the configured cap, the fine view
	// keeps everything the aggregator sampled.
	rec := doRequest(s, "GET", "/v1/ingestions/ing-caps/lgpd-report", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}
	if got := cpfSamples(t, rec.Body.Bytes(), "lgpd-report"); got != 3 {
		t.Errorf("lgpd-report has %d cpf samples, want 3", got)
	}

	rec = doRequest(s, "GET", "/v1/ingestions/ing-caps/pii", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pii status = %d", rec.Code)
	}
	if got := cpfSamples(t, rec.Body.Bytes(), "pii"); got != 4 {
		t.Errorf("pii view has %d cpf samples, want all 4", got)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "healthy" || body["recognizer"] != "lexicon" {
		t.Errorf("health = %v", body)
	}
}

func TestHandleInfo(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doRequest(s, "GET", "/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode info: %v", err)
	}
	if body["name"] != "lgpd-sentinel" {
		t.Errorf("name = %v", body["name"])
	}
	if body["registry_types"] != float64(12) {
		t.Errorf("registry_types = %v", body["registry_types"])
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit.Enabled = true
		cfg.Server.RateLimit.RequestsPerSecond = 1
		cfg.Server.RateLimit.Burst = 1
	})

	first := doRequest(s, "GET", "/v1/ingestions/ing-9/lgpd-report", "")
	if first.Code == http.StatusTooManyRequests {
		t.Fatalf("first request already limited")
	}
	second := doRequest(s, "GET", "/v1/ingestions/ing-9/lgpd-report", "")
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", second.Code)
	}

	// Health stays outside the limited subrouter.
	if rec := doRequest(s, "GET", "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health limited: %d", rec.Code)
	}
}
