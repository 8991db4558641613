package detect

import (
	"sort"

	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/masking"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// Aggregator merges pattern and entity candidates into one Detection
// per registry type. Deterministic detectors win over probabilistic
// ones on the same span, and the final candidate set is non-overlapping
// so the masking engine can substitute spans safely.
type Aggregator struct {
	registry  *registry.Registry
	sampleCap int
	logger    *logger.Logger
}

// NewAggregator creates an aggregator over the given registry.
func NewAggregator(reg *registry.Registry, sampleCap int, log *logger.Logger) *Aggregator {
	if sampleCap <= 0 {
		sampleCap = 5
	}
	return &Aggregator{
		registry:  reg,
		sampleCap: sampleCap,
		logger:    log,
	}
}

// Aggregate resolves overlapping candidates and emits one Detection per
// registry type, with detected=false rows for everything verified but
// absent. It also returns the resolved candidate set for masking.
func (a *Aggregator) Aggregate(patternCands, entityCands []Candidate) ([]Detection, []Candidate) {
	accepted := a.resolve(patternCands)

	// Entity candidates lose to any pattern span that covers them; the
	// survivors then compete among themselves by the same rules.
	var surviving []Candidate
	for _, cand := range entityCands {
		if coveredByAny(cand, accepted) {
			continue
		}
		surviving = append(surviving, cand)
	}
	for _, cand := range a.resolve(surviving) {
		if overlapsAny(cand, accepted) {
			continue
		}
		accepted = append(accepted, cand)
	}

	sort.Slice(accepted, func(i, j int) bool {
		if accepted[i].Field != accepted[j].Field {
			return accepted[i].Field < accepted[j].Field
		}
		return accepted[i].Start < accepted[j].Start
	})

	detections := a.buildDetections(accepted)

	a.logger.Debug("aggregation complete",
		zap.Int("pattern_candidates", len(patternCands)),
		zap.Int("entity_candidates", len(entityCands)),
		zap.Int("accepted", len(accepted)),
	)

	return detections, accepted
}

// resolve picks a non-overlapping candidate subset, preferring the most
// specific span: longest match first, then checksum-validated rules,
// then registry declaration order.
func (a *Aggregator) resolve(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		li, lj := ranked[i].End-ranked[i].Start, ranked[j].End-ranked[j].Start
		if li != lj {
			return li > lj
		}
		if ranked[i].Validated != ranked[j].Validated {
			return ranked[i].Validated
		}
		oi, oj := a.registry.Order(ranked[i].Type), a.registry.Order(ranked[j].Type)
		if oi != oj {
			return oi < oj
		}
		return ranked[i].Start < ranked[j].Start
	})

	var accepted []Candidate
	for _, cand := range ranked {
		if overlapsAny(cand, accepted) {
			continue
		}
		accepted = append(accepted, cand)
	}
	return accepted
}

// buildDetections groups accepted candidates by type and emits a record
// for every registry type in declaration order.
func (a *Aggregator) buildDetections(accepted []Candidate) []Detection {
	counts := make(map[registry.TypeID]int)
	samples := make(map[registry.TypeID][]string)
	fields := make(map[registry.TypeID][]string)
	seenField := make(map[registry.TypeID]map[string]bool)

	for _, cand := range accepted {
		counts[cand.Type]++
		if len(samples[cand.Type]) < a.sampleCap {
			samples[cand.Type] = append(samples[cand.Type], masking.DisplayMask(cand.Value))
		}
		if seenField[cand.Type] == nil {
			seenField[cand.Type] = make(map[string]bool)
		}
		if !seenField[cand.Type][cand.Field] {
			seenField[cand.Type][cand.Field] = true
			fields[cand.Type] = append(fields[cand.Type], cand.Field)
		}
	}

	detections := make([]Detection, 0, a.registry.Len())
	for _, spec := range a.registry.Types() {
		count := counts[spec.ID]
		detections = append(detections, Detection{
			Type:          spec.ID,
			Tier:          spec.Tier,
			Detected:      count > 0,
			Count:         count,
			MaskedSamples: nonNil(samples[spec.ID]),
			Fields:        fields[spec.ID],
		})
	}
	return detections
}

// coveredByAny reports whether the candidate's span lies entirely inside
// an accepted span on the same field.
func coveredByAny(cand Candidate, accepted []Candidate) bool {
	for _, other := range accepted {
		if other.Field == cand.Field && other.Start <= cand.Start && cand.End <= other.End {
			return true
		}
	}
	return false
}

// overlapsAny reports whether the candidate's span intersects an
// accepted span on the same field.
func overlapsAny(cand Candidate, accepted []Candidate) bool {
	for _, other := range accepted {
		if other.Field == cand.Field && cand.Start < other.End && other.Start < cand.End {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
