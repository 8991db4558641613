//go:build onnx
// +build onnx

package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// onnxBackend runs a BIO token classification model through ONNX
// Runtime. Requires build tag 'onnx' and a reachable onnxruntime
// shared library.
type onnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	vocab      map[string]int64
	labels     []string
	logger     *zap.Logger
	ready      bool
	mu         sync.Mutex
}

const (
	unkTokenID = 100
	maxTokens  = 512
)

// newModelBackend initializes the ONNX Runtime NER backend. Any
// initialization failure returns nil so the caller can fall back.
func newModelBackend(logger *zap.Logger, modelPath, tokenizerPath string) modelBackend {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	vocab, labels, err := loadTokenizer(tokenizerPath)
	if err != nil {
		logger.Error("Failed to load tokenizer", zap.Error(err), zap.String("path", tokenizerPath))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelPath))
		return nil
	}
	if len(outputsInfo) == 0 {
		logger.Error("ONNX model reports no outputs", zap.String("model", modelPath))
		return nil
	}

	preferred := []string{"input_ids", "attention_mask", "token_type_ids"}
	available := map[string]bool{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = true
	}
	var inputNames []string
	for _, name := range preferred {
		if available[name] {
			inputNames = append(inputNames, name)
		}
	}
	if len(inputNames) == 0 {
		logger.Error("ONNX model exposes no recognized inputs", zap.String("model", modelPath))
		return nil
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	logger.Info("ONNX NER backend ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.Int("labels", len(labels)),
	)
	return &onnxBackend{
		session:    sess,
		inputNames: inputNames,
		outputName: outputName,
		vocab:      vocab,
		labels:     labels,
		logger:     logger,
		ready:      true,
	}
}

// tokenizerFile is the on-disk tokenizer format: a word-level vocab and
// the model's label set in logit order.
type tokenizerFile struct {
	Vocab  map[string]int64 `json:"vocab"`
	Labels []string         `json:"labels"`
}

func loadTokenizer(path string) (map[string]int64, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var tf tokenizerFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, err
	}
	if len(tf.Vocab) == 0 || len(tf.Labels) == 0 {
		return nil, nil, fmt.Errorf("tokenizer file %s missing vocab or labels", path)
	}
	return tf.Vocab, tf.Labels, nil
}

var tokenPattern = regexp.MustCompile(`\S+`)

// Infer tokenizes the text, runs the session and decodes BIO labels
// back to byte spans.
func (b *onnxBackend) Infer(ctx context.Context, text string) ([]ModelEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offsets := tokenPattern.FindAllStringIndex(text, -1)
	if len(offsets) == 0 {
		return nil, nil
	}
	if len(offsets) > maxTokens {
		offsets = offsets[:maxTokens]
	}

	n := int64(len(offsets))
	ids := make([]int64, n)
	mask := make([]int64, n)
	for i, off := range offsets {
		token := strings.ToLower(text[off[0]:off[1]])
		id, ok := b.vocab[token]
		if !ok {
			id = unkTokenID
		}
		ids[i] = id
		mask[i] = 1
	}

	shape := ort.NewShape(1, n)
	inputIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputIDs.Destroy()
	attention, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create mask tensor: %w", err)
	}
	defer attention.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, name := range b.inputNames {
		switch name {
		case "input_ids":
			inputs = append(inputs, inputIDs)
		case "attention_mask", "token_type_ids":
			inputs = append(inputs, attention)
		}
	}
	outputs := []ort.Value{nil}

	b.mu.Lock()
	err = b.session.Run(inputs, outputs)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	logitsTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	defer logitsTensor.Destroy()

	return b.decode(offsets, logitsTensor.GetData()), nil
}

// decode converts per-token logits to entity spans, merging contiguous
// tokens of the same label.
func (b *onnxBackend) decode(offsets [][]int, logits []float32) []ModelEntity {
	numLabels := len(b.labels)
	var entities []ModelEntity
	var current *ModelEntity

	for i := range offsets {
		row := logits[i*numLabels : (i+1)*numLabels]
		best, conf := argmaxSoftmax(row)
		label := b.labels[best]

		switch {
		case strings.HasPrefix(label, "B-"):
			if current != nil {
				entities = append(entities, *current)
			}
			current = &ModelEntity{
				Label:      label[2:],
				Start:      offsets[i][0],
				End:        offsets[i][1],
				Confidence: conf,
			}
		case strings.HasPrefix(label, "I-") && current != nil && label[2:] == current.Label:
			current.End = offsets[i][1]
			current.Confidence = math.Min(current.Confidence, conf)
		default:
			if current != nil {
				entities = append(entities, *current)
				current = nil
			}
		}
	}
	if current != nil {
		entities = append(entities, *current)
	}
	return entities
}

func argmaxSoftmax(row []float32) (int, float64) {
	best := 0
	for i := range row {
		if row[i] > row[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - row[best]))
	}
	return best, 1.0 / sum
}

// Ready reports whether the backend is initialized.
func (b *onnxBackend) Ready() bool { return b.ready }

// Close releases the native session.
func (b *onnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	b.ready = false
	return nil
}
