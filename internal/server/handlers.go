package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/engine"
	"github.com/datalegis/lgpd-sentinel/internal/report"
)

const maxScanBody = 10 << 20 // 10 MiB

// scanRequest is the HTTP body for a scan run.
type scanRequest struct {
	SubjectID string            `json:"subject_id"`
	Purpose   string            `json:"purpose"`
	Fields    map[string]string `json:"fields"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ingestionID := mux.Vars(r)["id"]
	log := s.logger.WithRequestID(requestID(r.Context())).WithIngestion(ingestionID)

	var body scanRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody))
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.deps.Engine.Run(r.Context(), engine.RunRequest{
		IngestionID: ingestionID,
		SubjectID:   body.SubjectID,
		Purpose:     body.Purpose,
		Fields:      body.Fields,
	})
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			log.Error("Scan run failed",
				zap.String("error_type", string(ee.Type)),
				zap.Error(err),
			)
			writeError(w, ee.Code, ee.Message)
			return
		}
		log.Error("Scan run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}

	result.Report = report.Trimmed(result.Report, s.cfg.Masking.SampleCap)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	ingestionID := mux.Vars(r)["id"]

	rep, err := s.deps.Reports.Latest(r.Context(), ingestionID)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no report for ingestion "+ingestionID)
			return
		}
		s.logger.Error("Failed to load report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	writeJSON(w, http.StatusOK, report.Trimmed(rep, s.cfg.Masking.SampleCap))
}

func (s *Server) handlePII(w http.ResponseWriter, r *http.Request) {
	ingestionID := mux.Vars(r)["id"]

	rep, err := s.deps.Reports.Latest(r.Context(), ingestionID)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no report for ingestion "+ingestionID)
			return
		}
		s.logger.Error("Failed to load report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	writeJSON(w, http.StatusOK, report.AssemblePIIView(ingestionID, rep.Detections))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.deps.Recognizer.Ready() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"recognizer": s.deps.Recognizer.Name(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":           "lgpd-sentinel",
		"version":        "0.1.0",
		"registry_types": s.deps.Registry.Len(),
		"recognizer":     s.deps.Recognizer.Name(),
		"websocket":      s.cfg.WebSocket.Enabled,
		"rate_limit":     s.cfg.Server.RateLimit.Enabled,
		"consent_cache":  s.cfg.Consent.Cache.Enabled,
		"sample_cap":     s.cfg.Masking.SampleCap,
	}
	if s.deps.Hub != nil {
		info["feed_clients"] = s.deps.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":"failed to encode response"}`)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
