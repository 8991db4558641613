package registry

import (
	"fmt"
	"regexp"

	"github.com/datalegis/lgpd-sentinel/internal/config"
)

// Tier is the sensitivity classification of a PII type
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Source identifies which detector is responsible for a PII type
type Source string

const (
	SourcePattern Source = "pattern"
	SourceEntity  Source = "entity"
)

// TypeID identifies a PII type in the registry
type TypeID string

// Built-in PII types. Declaration order below is the documented
// tie-break order for overlapping candidate spans.
const (
	TypeCPF          TypeID = "cpf"
	TypeCNPJ         TypeID = "cnpj"
	TypeRG           TypeID = "rg"
	TypePIS          TypeID = "pis"
	TypeEmail        TypeID = "email"
	TypePhone        TypeID = "phone"
	TypeBirthdate    TypeID = "birthdate"
	TypeAddress      TypeID = "address"
	TypeBiometric    TypeID = "biometric"
	TypePerson       TypeID = "person"
	TypeLocation     TypeID = "location"
	TypeOrganization TypeID = "organization"
)

// TypeSpec describes one registry entry: how to find a PII type and how
// sensitive it is. Pattern and Validate are nil for entity-sourced types.
type TypeSpec struct {
	ID      TypeID
	Tier    Tier
	Source  Source
	Pattern *regexp.Regexp
	// Validate confirms a shape match (checksum, calendar date). A nil
	// Validate means the rule is shape-only.
	Validate func(string) bool
	// Keywords gate shape-only rules: a match counts only when one of
	// these appears near the span. Empty means no context is required.
	Keywords []string
}

// Validated reports whether this rule carries a validation function,
// which ranks it above shape-only rules during overlap resolution.
func (s TypeSpec) Validated() bool {
	return s.Validate != nil
}

// builtinSpecs returns the default registry entries in declaration order.
// Patterns cover Brazilian identity documents plus the generic PII
// shapes; person/location/organization come from the entity recognizer.
func builtinSpecs() []TypeSpec {
	return []TypeSpec{
		{
			ID:       TypeCPF,
			Tier:     TierHigh,
			Source:   SourcePattern,
			Pattern:  regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),
			Validate: ValidCPF,
		},
		{
			ID:       TypeCNPJ,
			Tier:     TierHigh,
			Source:   SourcePattern,
			Pattern:  regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`),
			Validate: ValidCNPJ,
		},
		{
			ID:       TypeRG,
			Tier:     TierHigh,
			Source:   SourcePattern,
			Pattern:  regexp.MustCompile(`\b\d{1,2}\.?\d{3}\.?\d{3}-?[0-9Xx]\b`),
			Keywords: []string{"rg", "registro geral", "identidade"},
		},
		{
			ID:       TypePIS,
			Tier:     TierHigh,
			Source:   SourcePattern,
			Pattern:  regexp.MustCompile(`\b\d{3}\.?\d{5}\.?\d{2}-?\d\b`),
			Validate: ValidPIS,
		},
		{
			ID:      TypeEmail,
			Tier:    TierLow,
			Source:  SourcePattern,
			Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		},
		{
			ID:       TypePhone,
			Tier:     TierLow,
			Source:   SourcePattern,
			Pattern:  regexp.MustCompile(`\b(?:\+55\s?)?(?:\(?\d{2}\)?\s?)?\d{4,5}-\d{4}\b`),
			Keywords: []string{"tel", "telefone", "celular", "fone", "whatsapp", "contato"},
		},
		{
			ID:       TypeBirthdate,
			Tier:     TierHigh,
			Source:   SourcePattern,
			Pattern:  regexp.MustCompile(`\b(?:0[1-9]|[12]\d|3[01])[-/](?:0[1-9]|1[0-2])[-/](?:19|20)\d{2}\b`),
			Validate: ValidDate,
		},
		{
			ID:      TypeAddress,
			Tier:    TierLow,
			Source:  SourcePattern,
			Pattern: regexp.MustCompile(`(?i)\b(?:Rua|Avenida|Av\.|Travessa|Trav\.|Praça|Pça\.|Alameda|Rodovia)\s+[A-Za-zÀ-ÿ'. ]+,?\s*\d+`),
		},
		{
			ID:      TypeBiometric,
			Tier:    TierHigh,
			Source:  SourcePattern,
			Pattern: regexp.MustCompile(`(?i)(?:impressão digital|biometria|biometric|fingerprint)[\s:]+[\w-]+`),
		},
		{ID: TypePerson, Tier: TierMedium, Source: SourceEntity},
		{ID: TypeLocation, Tier: TierMedium, Source: SourceEntity},
		{ID: TypeOrganization, Tier: TierMedium, Source: SourceEntity},
	}
}

// Registry is the configured set of PII types for a run. The set is
// fixed at construction time: every report enumerates exactly these
// types, found or not.
type Registry struct {
	specs []TypeSpec
	index map[TypeID]int
}

// New builds a registry from the built-in types minus the disabled ones,
// with custom pattern types appended in configuration order.
func New(cfg config.RegistryConfig) (*Registry, error) {
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, id := range cfg.Disabled {
		disabled[id] = true
	}

	var specs []TypeSpec
	for _, spec := range builtinSpecs() {
		if disabled[string(spec.ID)] {
			continue
		}
		specs = append(specs, spec)
	}

	for _, custom := range cfg.CustomTypes {
		if custom.ID == "" {
			return nil, fmt.Errorf("custom type with empty id")
		}
		pattern, err := regexp.Compile(custom.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for custom type %q: %w", custom.ID, err)
		}
		specs = append(specs, TypeSpec{
			ID:       TypeID(custom.ID),
			Tier:     Tier(custom.Tier),
			Source:   SourcePattern,
			Pattern:  pattern,
			Keywords: custom.Keywords,
		})
	}

	index := make(map[TypeID]int, len(specs))
	for i, spec := range specs {
		if _, exists := index[spec.ID]; exists {
			return nil, fmt.Errorf("duplicate registry type: %s", spec.ID)
		}
		index[spec.ID] = i
	}

	return &Registry{specs: specs, index: index}, nil
}

// Types returns all registry entries in declaration order.
func (r *Registry) Types() []TypeSpec {
	return r.specs
}

// Spec returns the entry for a type, if registered.
func (r *Registry) Spec(id TypeID) (TypeSpec, bool) {
	i, ok := r.index[id]
	if !ok {
		return TypeSpec{}, false
	}
	return r.specs[i], true
}

// Order returns the declaration position of a type, used as the final
// tie-break when overlapping candidates cannot otherwise be ranked.
func (r *Registry) Order(id TypeID) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return len(r.specs)
}

// PatternSpecs returns the entries served by the pattern detector.
func (r *Registry) PatternSpecs() []TypeSpec {
	var specs []TypeSpec
	for _, spec := range r.specs {
		if spec.Source == SourcePattern {
			specs = append(specs, spec)
		}
	}
	return specs
}

// EntityTypes returns the entries served by the entity recognizer.
func (r *Registry) EntityTypes() []TypeID {
	var ids []TypeID
	for _, spec := range r.specs {
		if spec.Source == SourceEntity {
			ids = append(ids, spec.ID)
		}
	}
	return ids
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.specs)
}
