package masking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// Span is one confirmed detection to be replaced in a payload field.
type Span struct {
	Type  registry.TypeID
	Value string
	Field string
	Start int
	End   int
}

// TokenMapping is one reversible redaction: the token embedded in the
// canonical payload and the encrypted original it resolves to.
type TokenMapping struct {
	Token       string          `db:"token" json:"token"`
	IngestionID string          `db:"ingestion_id" json:"ingestion_id"`
	PIIType     registry.TypeID `db:"pii_type" json:"pii_type"`
	Ciphertext  []byte          `db:"ciphertext" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Result carries the canonical masked payload and its token mappings.
type Result struct {
	MaskedFields map[string]string
	Mappings     []TokenMapping
	Actions      []string
}

// Engine converts confirmed detections into reversible tokens. Token
// mappings are persisted before the masked payload is returned: if the
// store write fails the run must fail, never claim reversibility.
type Engine struct {
	store  TokenStore
	vault  *Vault
	logger *logger.Logger
}

// NewEngine creates a masking engine backed by the given token store.
func NewEngine(cfg config.MaskingConfig, store TokenStore, log *logger.Logger) (*Engine, error) {
	vault, err := NewVault(cfg.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	if cfg.VaultKey == "" {
		log.Warn("No vault key configured, using an ephemeral key; persisted token mappings cannot be reversed after restart")
	}
	return &Engine{
		store:  store,
		vault:  vault,
		logger: log,
	}, nil
}

// Mask replaces every span with a token and persists the mappings.
// Identical (type, value) pairs within one ingestion run share a token;
// separate runs always mint fresh tokens.
func (e *Engine) Mask(ctx context.Context, ingestionID string, fields map[string]string, spans []Span) (*Result, error) {
	byField := make(map[string][]Span)
	for _, span := range spans {
		byField[span.Field] = append(byField[span.Field], span)
	}

	tokens := make(map[string]string) // (type, value) -> token
	counts := make(map[registry.TypeID]int)
	var mappings []TokenMapping

	masked := make(map[string]string, len(fields))
	for field, text := range fields {
		fieldSpans := byField[field]

		// Replace back-to-front so earlier offsets stay valid.
		sort.Slice(fieldSpans, func(i, j int) bool {
			return fieldSpans[i].Start > fieldSpans[j].Start
		})

		for _, span := range fieldSpans {
			key := string(span.Type) + "\x00" + span.Value
			token, ok := tokens[key]
			if !ok {
				token = mintToken(span.Type)
				tokens[key] = token

				ciphertext, err := e.vault.Encrypt(span.Value)
				if err != nil {
					return nil, fmt.Errorf("failed to encrypt value: %w", err)
				}
				mappings = append(mappings, TokenMapping{
					Token:       token,
					IngestionID: ingestionID,
					PIIType:     span.Type,
					Ciphertext:  ciphertext,
					CreatedAt:   time.Now().UTC(),
				})
			}

			text = text[:span.Start] + "[" + token + "]" + text[span.End:]
			counts[span.Type]++
		}

		masked[field] = text
	}

	if len(mappings) > 0 {
		if err := e.store.Save(ctx, mappings); err != nil {
			// An unrecorded redaction is worse than no redaction.
			return nil, fmt.Errorf("failed to persist token mappings: %w", err)
		}
	}

	e.logger.Debug("masking complete",
		zap.String("ingestion_id", ingestionID),
		zap.Int("spans", len(spans)),
		zap.Int("tokens", len(mappings)),
	)

	return &Result{
		MaskedFields: masked,
		Mappings:     mappings,
		Actions:      buildActions(counts),
	}, nil
}

// Unmask resolves a token back to its original value. Access to this
// path is expected to be separately authorized by the caller.
func (e *Engine) Unmask(ctx context.Context, ingestionID, token string) (string, error) {
	mapping, err := e.store.Resolve(ctx, ingestionID, token)
	if err != nil {
		return "", fmt.Errorf("failed to resolve token: %w", err)
	}
	return e.vault.Decrypt(mapping.Ciphertext)
}

// mintToken produces a token like CPF_TOKEN_1a2b3c4d, unique per run.
func mintToken(piiType registry.TypeID) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return strings.ToUpper(string(piiType)) + "_TOKEN_" + id
}

// buildActions summarizes masking work as masked_<count>_<type> entries
// in a stable order.
func buildActions(counts map[registry.TypeID]int) []string {
	types := make([]string, 0, len(counts))
	for id := range counts {
		types = append(types, string(id))
	}
	sort.Strings(types)

	actions := make([]string, 0, len(types))
	for _, id := range types {
		actions = append(actions, fmt.Sprintf("masked_%d_%s", counts[registry.TypeID(id)], id))
	}
	return actions
}
