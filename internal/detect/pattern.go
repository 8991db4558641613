package detect

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// contextWindow is how far around a span context keywords are searched.
const contextWindow = 30

// PatternDetector runs the registry's pattern rules over field text.
// Rules share no mutable state, so they run concurrently per field.
type PatternDetector struct {
	registry *registry.Registry
	logger   *logger.Logger
}

// NewPatternDetector creates a pattern detector over the given registry.
func NewPatternDetector(reg *registry.Registry, log *logger.Logger) *PatternDetector {
	return &PatternDetector{
		registry: reg,
		logger:   log,
	}
}

// Detect returns all pattern candidates found in one field's text.
// Candidates are ordered by span start, then registry declaration order,
// so repeated runs over identical input produce identical output.
func (d *PatternDetector) Detect(ctx context.Context, field, text string) []Candidate {
	specs := d.registry.PatternSpecs()

	var (
		mu         sync.Mutex
		candidates []Candidate
		wg         sync.WaitGroup
	)

	for _, spec := range specs {
		wg.Add(1)
		go func(spec registry.TypeSpec) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}

			found := d.matchRule(spec, field, text)
			if len(found) == 0 {
				return
			}

			mu.Lock()
			candidates = append(candidates, found...)
			mu.Unlock()
		}(spec)
	}
	wg.Wait()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return d.registry.Order(candidates[i].Type) < d.registry.Order(candidates[j].Type)
	})

	if len(candidates) > 0 {
		d.logger.Debug("pattern candidates found",
			zap.String("field", field),
			zap.Int("count", len(candidates)),
		)
	}

	return candidates
}

// matchRule applies one rule to the text: shape match, then checksum
// validation when the rule carries one, then context keywords for
// shape-only rules that require them.
func (d *PatternDetector) matchRule(spec registry.TypeSpec, field, text string) []Candidate {
	indices := spec.Pattern.FindAllStringIndex(text, -1)
	if len(indices) == 0 {
		return nil
	}

	var found []Candidate
	for _, idx := range indices {
		value := text[idx[0]:idx[1]]

		if spec.Validate != nil && !spec.Validate(value) {
			continue
		}

		if len(spec.Keywords) > 0 && !hasContextKeyword(text, idx[0], idx[1], spec.Keywords) {
			continue
		}

		found = append(found, Candidate{
			Type:       spec.ID,
			Value:      value,
			Field:      field,
			Start:      idx[0],
			End:        idx[1],
			Confidence: ruleConfidence(spec),
			Source:     registry.SourcePattern,
			Validated:  spec.Validated(),
		})
	}

	return found
}

// ruleConfidence ranks checksum-validated matches above keyword-gated
// shape matches, which in turn rank above bare shapes.
func ruleConfidence(spec registry.TypeSpec) float64 {
	switch {
	case spec.Validate != nil:
		return 1.0
	case len(spec.Keywords) > 0:
		return 0.9
	default:
		return 0.8
	}
}

// hasContextKeyword reports whether any keyword appears within the
// context window around the span.
func hasContextKeyword(text string, start, end int, keywords []string) bool {
	from := start - contextWindow
	if from < 0 {
		from = 0
	}
	to := end + contextWindow
	if to > len(text) {
		to = len(text)
	}

	window := strings.ToLower(text[from:to])
	for _, keyword := range keywords {
		if strings.Contains(window, keyword) {
			return true
		}
	}
	return false
}
