package entity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

// ErrUnavailable signals that the recognizer could not serve a request.
// Runs treat this as a degraded result, never a failed run.
var ErrUnavailable = errors.New("entity recognizer unavailable")

// Recognizer finds named entities (person, location, organization) in
// free text. Offsets are byte offsets into the field text.
type Recognizer interface {
	// Recognize returns entity candidates for one payload field.
	Recognize(ctx context.Context, field, text string) ([]detect.Candidate, error)
	// Ready reports whether the recognizer can serve requests.
	Ready() bool
	// Name identifies the active backend for health reporting.
	Name() string
	Close() error
}

// New creates the configured recognizer. An onnx backend that fails to
// initialize falls back to the lexicon recognizer so detection keeps
// running without the model.
func New(cfg config.RecognizerConfig, log *logger.Logger) (Recognizer, error) {
	switch cfg.Backend {
	case "", "lexicon":
		return NewLexiconRecognizer(cfg, log), nil
	case "onnx":
		backend := newModelBackend(log.Logger, cfg.ModelPath, cfg.TokenizerPath)
		if backend == nil {
			log.Warn("ONNX recognizer unavailable, falling back to lexicon",
				zap.String("model_path", cfg.ModelPath),
			)
			return NewLexiconRecognizer(cfg, log), nil
		}
		return newModelRecognizer(cfg, backend, log), nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend: %q", cfg.Backend)
	}
}
