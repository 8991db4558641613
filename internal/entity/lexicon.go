package entity

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// LexiconRecognizer is the pure Go entity backend: Brazilian name,
// place and organization gazetteers plus capitalization heuristics.
// It trades recall for zero runtime dependencies and is the fallback
// when the model backend is not available.
type LexiconRecognizer struct {
	minConfidence float64
	maxTextLength int
	logger        *logger.Logger
}

// NewLexiconRecognizer creates the gazetteer-based recognizer.
func NewLexiconRecognizer(cfg config.RecognizerConfig, log *logger.Logger) *LexiconRecognizer {
	return &LexiconRecognizer{
		minConfidence: cfg.MinConfidence,
		maxTextLength: cfg.MaxTextLength,
		logger:        log.WithComponent("entity_lexicon"),
	}
}

var wordPattern = regexp.MustCompile(`[\p{L}][\p{L}'.-]*`)

// Connectors allowed inside a multi-word proper noun.
var nameConnectors = map[string]bool{
	"da": true, "de": true, "do": true, "das": true, "dos": true, "e": true,
}

var honorifics = map[string]bool{
	"sr.": true, "sra.": true, "srta.": true, "dr.": true, "dra.": true,
	"sr": true, "sra": true, "dr": true, "dra": true,
}

// firstNames covers the most frequent Brazilian given names. Lowercase,
// accent-stripped lookups.
var firstNames = map[string]bool{
	"maria": true, "jose": true, "ana": true, "joao": true, "antonio": true,
	"francisco": true, "carlos": true, "paulo": true, "pedro": true, "lucas": true,
	"luiz": true, "luis": true, "marcos": true, "gabriel": true, "rafael": true,
	"daniel": true, "marcelo": true, "bruno": true, "eduardo": true, "felipe": true,
	"fernando": true, "rodrigo": true, "gustavo": true, "guilherme": true,
	"leonardo": true, "thiago": true, "tiago": true, "andre": true, "ricardo": true,
	"juliana": true, "fernanda": true, "patricia": true, "aline": true,
	"camila": true, "amanda": true, "bruna": true, "leticia": true, "julia": true,
	"beatriz": true, "larissa": true, "mariana": true, "vanessa": true,
	"adriana": true, "sandra": true, "claudia": true, "renata": true,
	"carla": true, "luciana": true, "fabiana": true, "cristiane": true,
}

// knownPlaces covers federative units and their capitals.
var knownPlaces = map[string]bool{
	"acre": true, "alagoas": true, "amapa": true, "amazonas": true,
	"bahia": true, "ceara": true, "goias": true, "maranhao": true,
	"pernambuco": true, "piaui": true, "rondonia": true, "roraima": true,
	"sergipe": true, "tocantins": true, "parana": true, "paraiba": true,
	"brasilia": true, "manaus": true, "salvador": true, "fortaleza": true,
	"recife": true, "natal": true, "maceio": true, "teresina": true,
	"goiania": true, "cuiaba": true, "curitiba": true, "florianopolis": true,
	"vitoria": true, "palmas": true, "macapa": true, "belem": true,
	"brasil": true,
	// Multi-word places, joined with a single space.
	"sao paulo": true, "rio de janeiro": true, "minas gerais": true,
	"mato grosso": true, "mato grosso do sul": true, "espirito santo": true,
	"rio grande do sul": true, "rio grande do norte": true,
	"santa catarina": true, "belo horizonte": true, "porto alegre": true,
	"campo grande": true, "joao pessoa": true, "boa vista": true,
	"porto velho": true, "rio branco": true, "aracaju": true,
}

var orgSuffixes = map[string]bool{
	"ltda": true, "ltda.": true, "s.a.": true, "s/a": true, "sa": true,
	"me": true, "epp": true, "eireli": true, "mei": true,
}

var orgCues = map[string]bool{
	"banco": true, "empresa": true, "prefeitura": true, "ministerio": true,
	"secretaria": true, "universidade": true, "instituto": true,
	"fundacao": true, "associacao": true, "cooperativa": true,
	"tribunal": true, "hospital": true, "grupo": true,
}

// Recognize scans one field with the gazetteers.
func (r *LexiconRecognizer) Recognize(_ context.Context, field, text string) ([]detect.Candidate, error) {
	text = truncate(text, r.maxTextLength)

	var candidates []detect.Candidate
	for _, group := range properNounGroups(text) {
		id, confidence := classify(group)
		if id == "" || confidence < r.minConfidence {
			continue
		}
		candidates = append(candidates, detect.Candidate{
			Type:       id,
			Value:      text[group.start:group.end],
			Field:      field,
			Start:      group.start,
			End:        group.end,
			Confidence: confidence,
			Source:     registry.SourceEntity,
		})
	}
	return candidates, nil
}

// Ready always holds for the lexicon backend.
func (r *LexiconRecognizer) Ready() bool { return true }

// Name identifies the backend.
func (r *LexiconRecognizer) Name() string { return "lexicon" }

// Close is a no-op.
func (r *LexiconRecognizer) Close() error { return nil }

// nounGroup is a run of capitalized words, connectors allowed inside.
type nounGroup struct {
	start, end int
	words      []string // normalized words, connectors included
	honorific  bool     // preceded by Sr./Sra./Dr./Dra.
}

// properNounGroups finds candidate spans: maximal runs of capitalized
// words joined by optional lowercase connectors.
func properNounGroups(text string) []nounGroup {
	matches := wordPattern.FindAllStringIndex(text, -1)

	var groups []nounGroup
	var current *nounGroup
	lastEnd := -1
	pendingHonorific := false

	flush := func() {
		if current != nil {
			// Trailing connectors never belong to the name.
			for len(current.words) > 0 && nameConnectors[current.words[len(current.words)-1]] {
				current.words = current.words[:len(current.words)-1]
			}
			if len(current.words) > 0 {
				groups = append(groups, *current)
			}
			current = nil
		}
	}

	for _, m := range matches {
		word := text[m[0]:m[1]]
		norm := normalize(word)
		capitalized := startsUpper(word)
		connector := nameConnectors[norm]

		adjacent := lastEnd >= 0 && onlySpaces(text[lastEnd:m[0]])
		switch {
		case honorifics[norm]:
			flush()
			pendingHonorific = true
			lastEnd = m[1]
			continue
		case capitalized && current != nil && adjacent:
			current.words = append(current.words, norm)
			current.end = m[1]
		case connector && current != nil && adjacent:
			current.words = append(current.words, norm)
			// End only advances when a capitalized word follows.
		case capitalized:
			flush()
			current = &nounGroup{
				start:     m[0],
				end:       m[1],
				words:     []string{norm},
				honorific: pendingHonorific && adjacent,
			}
		default:
			flush()
		}
		pendingHonorific = false
		lastEnd = m[1]
	}
	flush()
	return groups
}

// classify maps a noun group to an entity type with a confidence.
func classify(g nounGroup) (registry.TypeID, float64) {
	joined := strings.Join(g.words, " ")

	if knownPlaces[joined] {
		return registry.TypeLocation, 0.9
	}

	last := g.words[len(g.words)-1]
	if orgSuffixes[last] && len(g.words) >= 2 {
		return registry.TypeOrganization, 0.85
	}
	if orgCues[g.words[0]] && len(g.words) >= 2 {
		return registry.TypeOrganization, 0.7
	}

	if g.honorific {
		return registry.TypePerson, 0.9
	}
	if len(g.words) >= 2 && firstNames[g.words[0]] {
		return registry.TypePerson, 0.8
	}
	return "", 0
}

func startsUpper(word string) bool {
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(r)
}

func onlySpaces(s string) bool {
	return strings.TrimSpace(s) == "" && len(s) <= 2 && len(s) > 0
}

// accentReplacer strips the accents common in Portuguese so gazetteer
// lookups are accent-insensitive.
var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

func normalize(word string) string {
	return accentReplacer.Replace(strings.ToLower(word))
}

// truncate bounds text length at a rune boundary.
func truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
