package detect

import (
	"context"
	"testing"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

func newTestDetector(t *testing.T) *PatternDetector {
	t.Helper()
	reg, err := registry.New(config.RegistryConfig{})
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return NewPatternDetector(reg, logger.NewNop())
}

func findByType(cands []Candidate, id registry.TypeID) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Type == id {
			out = append(out, c)
		}
	}
	return out
}

func TestPatternDetector(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()

	t.Run("ValidCPFDetected", func(t *testing.T) {
		cands := d.Detect(ctx, "descricao", "Cliente com CPF 529.982.247-25 cadastrado")
		cpfs := findByType(cands, registry.TypeCPF)
		if len(cpfs) != 1 {
			t.Fatalf("got %d cpf candidates, want 1", len(cpfs))
		}
		c := cpfs[0]
		if c.Value != "529.982.247-25" {
			t.Errorf("value = %q", c.Value)
		}
		if !c.Validated || c.Confidence != 1.0 {
			t.Errorf("validated = %v, confidence = %v", c.Validated, c.Confidence)
		}
		if c.Field != "descricao" {
			t.Errorf("field = %q", c.Field)
		}
	})

	t.Run("InvalidChecksumRejected", func(t *testing.T) {
		cands := d.Detect(ctx, "descricao", "CPF informado: 123.456.789-00")
		if got := findByType(cands, registry.TypeCPF); len(got) != 0 {
			t.Errorf("invalid CPF produced %d candidates", len(got))
		}
	})

	t.Run("OffsetsMatchText", func(t *testing.T) {
		text := "email: ana@example.com.br fim"
		cands := d.Detect(ctx, "contato", text)
		emails := findByType(cands, registry.TypeEmail)
		if len(emails) != 1 {
			t.Fatalf("got %d email candidates, want 1", len(emails))
		}
		e := emails[0]
		if text[e.Start:e.End] != e.Value {
			t.Errorf("span %q does not match value %q", text[e.Start:e.End], e.Value)
		}
	})

	t.Run("RGRequiresContextKeyword", func(t *testing.T) {
		with := d.Detect(ctx, "doc", "RG 12.345.678-9 emitido em SP")
		if got := findByType(with, registry.TypeRG); len(got) != 1 {
			t.Fatalf("rg with keyword: got %d candidates, want 1", len(got))
		}

		without := d.Detect(ctx, "doc", "codigo interno 12.345.678-9 arquivado")
		if got := findByType(without, registry.TypeRG); len(got) != 0 {
			t.Errorf("rg without keyword: got %d candidates, want 0", len(got))
		}
	})

	t.Run("PhoneRequiresContextKeyword", func(t *testing.T) {
		with := d.Detect(ctx, "contato", "Telefone: (11) 98765-4321")
		phones := findByType(with, registry.TypePhone)
		if len(phones) != 1 {
			t.Fatalf("phone with keyword: got %d candidates, want 1", len(phones))
		}
		if phones[0].Confidence != 0.9 {
			t.Errorf("keyword-gated confidence = %v, want 0.9", phones[0].Confidence)
		}

		without := d.Detect(ctx, "contato", "lote numero 98765-4321 expedido")
		if got := findByType(without, registry.TypePhone); len(got) != 0 {
			t.Errorf("phone without keyword: got %d candidates, want 0", len(got))
		}
	})

	t.Run("BirthdateRejectsImpossibleDate", func(t *testing.T) {
		good := d.Detect(ctx, "cadastro", "Nascimento: 29/02/2020 confirmado")
		if got := findByType(good, registry.TypeBirthdate); len(got) != 1 {
			t.Fatalf("valid leap date: got %d candidates, want 1", len(got))
		}

		bad := d.Detect(ctx, "cadastro", "Nascimento: 29/02/2021 confirmado")
		if got := findByType(bad, registry.TypeBirthdate); len(got) != 0 {
			t.Errorf("impossible date: got %d candidates, want 0", len(got))
		}
	})

	t.Run("AddressDetected", func(t *testing.T) {
		cands := d.Detect(ctx, "endereco", "Entrega na Rua das Flores, 123 centro")
		if got := findByType(cands, registry.TypeAddress); len(got) != 1 {
			t.Fatalf("got %d address candidates, want 1", len(got))
		}
	})

	t.Run("DeterministicOrdering", func(t *testing.T) {
		text := "CPF 529.982.247-25 e email ana@example.com juntos"
		first := d.Detect(ctx, "f", text)
		for i := 0; i < 10; i++ {
			again := d.Detect(ctx, "f", text)
			if len(again) != len(first) {
				t.Fatalf("run %d: %d candidates, want %d", i, len(again), len(first))
			}
			for j := range first {
				if again[j] != first[j] {
					t.Fatalf("run %d: candidate %d differs", i, j)
				}
			}
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		if cands := d.Detect(ctx, "vazio", ""); len(cands) != 0 {
			t.Errorf("empty text produced %d candidates", len(cands))
		}
	})
}
