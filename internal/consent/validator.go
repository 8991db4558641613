package consent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

// Validator classifies a data subject's consent position for a given
// processing purpose. A lookup failure never fails the run: the verdict
// degrades to missing, which is the conservative reading under LGPD
// Art. 8 (the controller carries the burden of proving consent).
type Validator struct {
	source Source
	logger *logger.Logger
}

// NewValidator creates a consent validator over the given source.
func NewValidator(source Source, log *logger.Logger) *Validator {
	return &Validator{
		source: source,
		logger: log.WithComponent("consent"),
	}
}

// Validate resolves the consent status for a subject and purpose.
func (v *Validator) Validate(ctx context.Context, subjectID, purpose string) Verdict {
	if subjectID == "" {
		return Verdict{Status: StatusMissing}
	}

	records, err := v.source.Records(ctx, subjectID)
	if err != nil {
		v.logger.Warn("Consent lookup failed, treating as missing",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
		return Verdict{
			Status:  StatusMissing,
			Warning: "consent lookup failed; status assumed missing",
		}
	}

	applicable := filterByPurpose(records, purpose)
	if len(applicable) == 0 {
		return Verdict{Status: StatusMissing, Records: records}
	}

	latest := latestRecord(applicable)
	return Verdict{
		Status:  classify(latest, time.Now().UTC()),
		Records: applicable,
	}
}

// filterByPurpose keeps records matching the processing purpose.
// Records granted for purpose "any" cover every purpose.
func filterByPurpose(records []Record, purpose string) []Record {
	if purpose == "" {
		return records
	}
	var out []Record
	for _, r := range records {
		if r.Purpose == purpose || r.Purpose == "any" {
			out = append(out, r)
		}
	}
	return out
}

// latestRecord picks the most recent consent event. Revocations carry
// their revocation time, so a grant followed by a revocation resolves
// to the revocation.
func latestRecord(records []Record) Record {
	latest := records[0]
	for _, r := range records[1:] {
		if effectiveTime(r).After(effectiveTime(latest)) {
			latest = r
		}
	}
	return latest
}

func effectiveTime(r Record) time.Time {
	if r.RevokedAt != nil && r.RevokedAt.After(r.GrantedAt) {
		return *r.RevokedAt
	}
	return r.GrantedAt
}

// classify maps one record to a status at the given instant.
func classify(r Record, now time.Time) Status {
	if r.RevokedAt != nil && !r.RevokedAt.After(now) {
		return StatusRevoked
	}
	if !r.Granted {
		return StatusRevoked
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return StatusExpired
	}
	return StatusValid
}
