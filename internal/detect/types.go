package detect

import (
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// Candidate is one raw detector hit before aggregation.
type Candidate struct {
	Type       registry.TypeID `json:"type"`
	Value      string          `json:"-"` // raw value, never serialized
	Field      string          `json:"field"`
	Start      int             `json:"start"`
	End        int             `json:"end"`
	Confidence float64         `json:"confidence"`
	Source     registry.Source `json:"source"`
	Validated  bool            `json:"validated"`
}

// Detection is the aggregated finding for one registry type. A Detection
// exists for every configured type, found or not, so reports can state
// what was verified-and-absent rather than silently omitting it.
type Detection struct {
	Type          registry.TypeID `json:"pii_type"`
	Tier          registry.Tier   `json:"sensitivity_tier"`
	Detected      bool            `json:"detected"`
	Count         int             `json:"occurrence_count"`
	MaskedSamples []string        `json:"masked_samples"`
	Fields        []string        `json:"fields,omitempty"`
}

// FieldWarning records a payload field that could not be scanned.
type FieldWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
