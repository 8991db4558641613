package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// ModelEntity is one labeled span from the token classification model.
type ModelEntity struct {
	Label      string // PER, LOC or ORG
	Start      int
	End        int
	Confidence float64
}

// modelBackend runs NER inference. The ONNX implementation lives behind
// the 'onnx' build tag; the default build provides no backend.
type modelBackend interface {
	Infer(ctx context.Context, text string) ([]ModelEntity, error)
	Ready() bool
	Close() error
}

// modelRecognizer adapts a model backend to the Recognizer interface.
type modelRecognizer struct {
	backend       modelBackend
	minConfidence float64
	maxTextLength int
	logger        *logger.Logger
}

func newModelRecognizer(cfg config.RecognizerConfig, backend modelBackend, log *logger.Logger) *modelRecognizer {
	return &modelRecognizer{
		backend:       backend,
		minConfidence: cfg.MinConfidence,
		maxTextLength: cfg.MaxTextLength,
		logger:        log.WithComponent("entity_model"),
	}
}

func (r *modelRecognizer) Recognize(ctx context.Context, field, text string) ([]detect.Candidate, error) {
	if !r.backend.Ready() {
		return nil, ErrUnavailable
	}
	text = truncate(text, r.maxTextLength)

	entities, err := r.backend.Infer(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var candidates []detect.Candidate
	for _, e := range entities {
		id, ok := labelToType(e.Label)
		if !ok || e.Confidence < r.minConfidence {
			continue
		}
		candidates = append(candidates, detect.Candidate{
			Type:       id,
			Value:      text[e.Start:e.End],
			Field:      field,
			Start:      e.Start,
			End:        e.End,
			Confidence: e.Confidence,
			Source:     registry.SourceEntity,
		})
	}
	return candidates, nil
}

func (r *modelRecognizer) Ready() bool { return r.backend.Ready() }

func (r *modelRecognizer) Name() string { return "onnx" }

func (r *modelRecognizer) Close() error { return r.backend.Close() }

func labelToType(label string) (registry.TypeID, bool) {
	switch strings.ToUpper(label) {
	case "PER", "PERSON":
		return registry.TypePerson, true
	case "LOC", "LOCATION":
		return registry.TypeLocation, true
	case "ORG", "ORGANIZATION":
		return registry.TypeOrganization, true
	default:
		return "", false
	}
}
