package consent

import (
	"context"
	"time"
)

// Status is the consent outcome attached to a compliance run.
type Status string

const (
	// StatusValid means an applicable grant covers the processing purpose.
	StatusValid Status = "valid"
	// StatusMissing means no record exists for the data subject, or the
	// consent service could not be reached.
	StatusMissing Status = "missing"
	// StatusRevoked means the latest applicable record was withdrawn.
	StatusRevoked Status = "revoked"
	// StatusExpired means the latest applicable grant has lapsed.
	StatusExpired Status = "expired"
)

// Record is one consent event for a data subject, as stored by the
// consent service.
type Record struct {
	SubjectID   string     `json:"subject_id" parquet:"subject_id"`
	ConsentType string     `json:"consent_type" parquet:"consent_type"`
	Purpose     string     `json:"purpose" parquet:"purpose"`
	Granted     bool       `json:"granted" parquet:"granted"`
	GrantedAt   time.Time  `json:"granted_at" parquet:"granted_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" parquet:"revoked_at,optional"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" parquet:"expires_at,optional"`
}

// Verdict is the validator's answer for one run.
type Verdict struct {
	Status Status `json:"status"`
	// Records are the consent events considered, included in reports
	// for auditability.
	Records []Record `json:"records,omitempty"`
	// Warning is set when the verdict was reached conservatively, for
	// example after a lookup failure.
	Warning string `json:"warning,omitempty"`
}

// Source fetches consent records for a data subject. Implementations
// include the HTTP consent service client and its cached wrapper.
type Source interface {
	Records(ctx context.Context, subjectID string) ([]Record, error)
}
