package report

import (
	"time"

	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/scoring"
)

// ComplianceReport is the full LGPD report for one ingestion run.
type ComplianceReport struct {
	IngestionID       string             `json:"ingestion_id"`
	GeneratedAt       time.Time          `json:"generated_at"`
	ComplianceScore   float64            `json:"compliance_score"`
	RiskLevel         scoring.RiskLevel  `json:"risk_level"`
	PIITypesDetected  map[string]int     `json:"pii_types_detected"`
	Detections        []detect.Detection `json:"pii_details"`
	TotalPIIInstances int                `json:"total_pii_instances"`
	MaskingActions    []string           `json:"masking_actions"`
	ConsentStatus     consent.Status     `json:"consent_status"`
	ConsentRecords    []consent.Record   `json:"consent_records"`
	// ApplicableRegulations lists the LGPD articles engaged by this run.
	ApplicableRegulations []string `json:"lgpd_articles_applicable"`
	Recommendations       []string `json:"recommendations"`
	// Narrative is a human-readable summary covering both detected
	// types and types checked but absent.
	Narrative string `json:"data_analysis"`
	// Degraded is set when the run completed without the entity
	// recognizer or with unscannable fields.
	Degraded bool     `json:"degraded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PIIView is the per-type detail view, masked samples only.
type PIIView struct {
	IngestionID           string             `json:"ingestion_id"`
	TotalInstances        int                `json:"total_pii_instances"`
	TypesCheckedCount     int                `json:"types_checked_count"`
	TypesDetectedCount    int                `json:"types_detected_count"`
	TypesNotDetectedCount int                `json:"types_not_detected_count"`
	Details               []detect.Detection `json:"details"`
}
