package masking

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

var tokenPattern = regexp.MustCompile(`^[A-Z_]+_TOKEN_[0-9a-f]{8}$`)

func newTestEngine(t *testing.T, store TokenStore) *Engine {
	t.Helper()
	eng, err := NewEngine(config.MaskingConfig{}, store, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

type failingStore struct{}

func (failingStore) Save(ctx context.Context, mappings []TokenMapping) error {
	return errors.New("store unavailable")
}

func (failingStore) Resolve(ctx context.Context, ingestionID, token string) (TokenMapping, error) {
	return TokenMapping{}, errors.New("store unavailable")
}

func (failingStore) Close() error { return nil }

func TestDisplayMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"529.982.247-25", "529********-25"},
		{"ana@example.com", "ana*********com"},
		{"abc", "***"},
		{"abcdef", "******"},
		{"", ""},
		{"José da Silva", "Jos*******lva"},
	}
	for _, tt := range tests {
		if got := DisplayMask(tt.in); got != tt.want {
			t.Errorf("DisplayMask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskReplacesSpans(t *testing.T) {
	store := NewMemoryStore()
	eng := newTestEngine(t, store)
	ctx := context.Background()

	fields := map[string]string{
		"descricao": "CPF 529.982.247-25 e email ana@example.com",
	}
	spans := []Span{
		{Type: registry.TypeCPF, Value: "529.982.247-25", Field: "descricao", Start: 4, End: 18},
		{Type: registry.TypeEmail, Value: "ana@example.com", Field: "descricao", Start: 27, End: 42},
	}

	result, err := eng.Mask(ctx, "ing-1", fields, spans)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	masked := result.MaskedFields["descricao"]
	if strings.Contains(masked, "529.982.247-25") || strings.Contains(masked, "ana@example.com") {
		t.Errorf("masked text still contains raw values: %q", masked)
	}
	if !strings.Contains(masked, "[CPF_TOKEN_") || !strings.Contains(masked, "[EMAIL_TOKEN_") {
		t.Errorf("masked text missing tokens: %q", masked)
	}

	if len(result.Mappings) != 2 {
		t.Fatalf("got %d mappings, want 2", len(result.Mappings))
	}
	for _, m := range result.Mappings {
		if !tokenPattern.MatchString(m.Token) {
			t.Errorf("token %q does not match expected format", m.Token)
		}
		if m.IngestionID != "ing-1" {
			t.Errorf("mapping ingestion id = %q", m.IngestionID)
		}
		if len(m.Ciphertext) == 0 {
			t.Error("mapping has empty ciphertext")
		}
	}

	want := []string{"masked_1_cpf", "masked_1_email"}
	if len(result.Actions) != 2 || result.Actions[0] != want[0] || result.Actions[1] != want[1] {
		t.Errorf("actions = %v, want %v", result.Actions, want)
	}

	if store.Len() != 2 {
		t.Errorf("store has %d mappings, want 2", store.Len())
	}
}

func TestMaskDeduplicatesRepeatedValues(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStore())

	fields := map[string]string{
		"a": "CPF 52998224725 citado",
		"b": "repete 52998224725 aqui",
	}
	spans := []Span{
		{Type: registry.TypeCPF, Value: "52998224725", Field: "a", Start: 4, End: 15},
		{Type: registry.TypeCPF, Value: "52998224725", Field: "b", Start: 7, End: 18},
	}

	result, err := eng.Mask(context.Background(), "ing-2", fields, spans)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	if len(result.Mappings) != 1 {
		t.Fatalf("got %d mappings, want 1 shared token", len(result.Mappings))
	}
	token := "[" + result.Mappings[0].Token + "]"
	if !strings.Contains(result.MaskedFields["a"], token) || !strings.Contains(result.MaskedFields["b"], token) {
		t.Errorf("fields do not share the token: %v", result.MaskedFields)
	}
	if len(result.Actions) != 1 || result.Actions[0] != "masked_2_cpf" {
		t.Errorf("actions = %v", result.Actions)
	}
}

func TestMaskStoreFailureFailsRun(t *testing.T) {
	eng := newTestEngine(t, failingStore{})

	spans := []Span{
		{Type: registry.TypeCPF, Value: "52998224725", Field: "f", Start: 0, End: 11},
	}
	_, err := eng.Mask(context.Background(), "ing-3", map[string]string{"f": "52998224725"}, spans)
	if err == nil {
		t.Fatal("expected error when token store save fails")
	}
	if !strings.Contains(err.Error(), "persist token mappings") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMaskNoSpans(t *testing.T) {
	eng := newTestEngine(t, failingStore{})

	fields := map[string]string{"f": "nada sensivel aqui"}
	result, err := eng.Mask(context.Background(), "ing-4", fields, nil)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}
	if result.MaskedFields["f"] != fields["f"] {
		t.Errorf("field altered without spans: %q", result.MaskedFields["f"])
	}
	if len(result.Mappings) != 0 || len(result.Actions) != 0 {
		t.Errorf("unexpected mappings or actions: %+v", result)
	}
}

func TestUnmaskRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	eng := newTestEngine(t, store)
	ctx := context.Background()

	spans := []Span{
		{Type: registry.TypeCPF, Value: "529.982.247-25", Field: "f", Start: 4, End: 18},
	}
	result, err := eng.Mask(ctx, "ing-5", map[string]string{"f": "CPF 529.982.247-25"}, spans)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	got, err := eng.Unmask(ctx, "ing-5", result.Mappings[0].Token)
	if err != nil {
		t.Fatalf("Unmask failed: %v", err)
	}
	if got != "529.982.247-25" {
		t.Errorf("Unmask = %q, want original value", got)
	}

	if _, err := eng.Unmask(ctx, "outro-ing", result.Mappings[0].Token); err == nil {
		t.Error("token resolved under a different ingestion id")
	}
}

func TestEphemeralKeyWarning(t *testing.T) {
	t.Run("EmptyKeyWarns", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		log := &logger.Logger{Logger: zap.New(core)}

		if _, err := NewEngine(config.MaskingConfig{}, NewMemoryStore(), log); err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if logs.FilterMessageSnippet("ephemeral key").Len() != 1 {
			t.Errorf("no ephemeral key warning logged, got %v", logs.All())
		}
	})

	t.Run("ConfiguredKeySilent", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		log := &logger.Logger{Logger: zap.New(core)}

		cfg := config.MaskingConfig{VaultKey: strings.Repeat("ab", 32)}
		if _, err := NewEngine(cfg, NewMemoryStore(), log); err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if logs.Len() != 0 {
			t.Errorf("unexpected warnings: %v", logs.All())
		}
	})
}

func TestVaultRejectsBadKey(t *testing.T) {
	if _, err := NewVault("not-hex"); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := NewVault("abcd"); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewVault(strings.Repeat("ab", 32)); err != nil {
		t.Errorf("valid 32-byte key rejected: %v", err)
	}
}
