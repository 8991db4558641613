//go:build !onnx
// +build !onnx

package entity

import (
	"go.uber.org/zap"
)

// Stub used when the 'onnx' build tag is not set. The factory falls
// back to the lexicon recognizer.
func newModelBackend(logger *zap.Logger, modelPath, tokenizerPath string) modelBackend {
	return nil
}
