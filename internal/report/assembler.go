package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
	"github.com/datalegis/lgpd-sentinel/internal/scoring"
)

// Input is everything the assembler needs from one completed run.
type Input struct {
	IngestionID    string
	Detections     []detect.Detection
	MaskingActions []string
	Verdict        consent.Verdict
	Score          float64
	RiskLevel      scoring.RiskLevel
	Degraded       bool
	Warnings       []string
}

// Assemble builds the compliance report. The assembler is pure: it
// performs no detection or scoring of its own, and equal inputs produce
// byte-equal reports apart from the generation timestamp. Detections
// are stored with all their masked samples; callers trim per surface
// with Trimmed.
func Assemble(in Input) *ComplianceReport {
	detections := in.Detections

	typesDetected := make(map[string]int)
	total := 0
	for _, d := range detections {
		if d.Detected {
			typesDetected[string(d.Type)] = d.Count
			total += d.Count
		}
	}

	return &ComplianceReport{
		IngestionID:           in.IngestionID,
		GeneratedAt:           time.Now().UTC(),
		ComplianceScore:       in.Score,
		RiskLevel:             in.RiskLevel,
		PIITypesDetected:      typesDetected,
		Detections:            detections,
		TotalPIIInstances:     total,
		MaskingActions:        nonNil(in.MaskingActions),
		ConsentStatus:         in.Verdict.Status,
		ConsentRecords:        in.Verdict.Records,
		ApplicableRegulations: applicableArticles(detections, in.Verdict.Status, in.MaskingActions, total),
		Recommendations:       scoring.Recommendations(detections, in.Verdict, in.Score, in.MaskingActions),
		Narrative:             narrative(detections, in.Verdict.Status, in.Score, in.RiskLevel, in.MaskingActions, total, in.Degraded),
		Degraded:              in.Degraded,
		Warnings:              in.Warnings,
	}
}

// Trimmed returns a copy of the report with masked sample lists bounded
// to the given cap. The stored report keeps every sample; the summary
// surface shows fewer than the fine-grained view.
func Trimmed(r *ComplianceReport, limit int) *ComplianceReport {
	out := *r
	out.Detections = trimSamples(r.Detections, limit)
	return &out
}

// AssemblePIIView builds the per-type detail view from a report's
// detections.
func AssemblePIIView(ingestionID string, detections []detect.Detection) *PIIView {
	total := 0
	detected := 0
	for _, d := range detections {
		if d.Detected {
			detected++
			total += d.Count
		}
	}
	return &PIIView{
		IngestionID:           ingestionID,
		TotalInstances:        total,
		TypesCheckedCount:     len(detections),
		TypesDetectedCount:    detected,
		TypesNotDetectedCount: len(detections) - detected,
		Details:               detections,
	}
}

// applicableArticles maps the run's findings to LGPD articles.
func applicableArticles(detections []detect.Detection, status consent.Status, actions []string, total int) []string {
	var articles []string
	if total > 0 {
		articles = append(articles, "Art. 6 - Principios", "Art. 7 - Bases Legais")
	}
	for _, d := range detections {
		if d.Detected && (d.Type == registry.TypeCPF || d.Type == registry.TypeEmail) {
			articles = append(articles, "Art. 5 - Definicoes")
			break
		}
	}
	if status == consent.StatusMissing || status == consent.StatusRevoked {
		articles = append(articles, "Art. 8 - Consentimento")
	}
	if len(actions) > 0 {
		articles = append(articles, "Art. 46 - Seguranca")
	}
	return articles
}

// narrative writes the summary paragraph. Types checked but absent are
// named explicitly so the report proves coverage, not just findings.
func narrative(detections []detect.Detection, status consent.Status, score float64, level scoring.RiskLevel, actions []string, total int, degraded bool) string {
	var detected, absent []string
	for _, d := range detections {
		if d.Detected {
			detected = append(detected, string(d.Type))
		} else {
			absent = append(absent, string(d.Type))
		}
	}

	var b strings.Builder
	if total == 0 {
		b.WriteString("Nenhuma instancia de dados pessoais foi detectada nesta ingestao. ")
		b.WriteString("Os seguintes tipos de PII foram verificados: ")
		b.WriteString(strings.Join(absent, ", "))
		b.WriteString(". Nenhum deles foi encontrado no conteudo analisado. ")
	} else {
		fmt.Fprintf(&b, "A ingestao contem %d instancias de dados pessoais distribuidas em %d tipos diferentes. ", total, len(detected))
		if len(detected) > 0 {
			fmt.Fprintf(&b, "Tipos detectados: %s. ", strings.Join(detected, ", "))
		}
		if len(absent) > 0 {
			fmt.Fprintf(&b, "Tipos verificados mas nao detectados: %s. ", strings.Join(absent, ", "))
		}
	}

	switch status {
	case consent.StatusValid:
		b.WriteString("O titular forneceu consentimento valido para o processamento. ")
	case consent.StatusMissing:
		b.WriteString("ATENCAO: Nao ha consentimento registrado para esta ingestao. ")
	case consent.StatusExpired:
		b.WriteString("ATENCAO: O consentimento registrado expirou. ")
	default:
		b.WriteString("ATENCAO: O consentimento foi revogado. ")
	}

	if degraded {
		b.WriteString("ATENCAO: A analise operou em modo degradado; o reconhecimento de entidades pode estar incompleto. ")
	}

	fmt.Fprintf(&b, "O score de conformidade e %.1f%%, indicando nivel de risco %s. ", score, strings.ToUpper(string(level)))

	if len(actions) > 0 {
		fmt.Fprintf(&b, "%d acoes de protecao LGPD foram aplicadas durante o processamento.", len(actions))
	} else {
		b.WriteString("Nenhuma acao de protecao LGPD foi registrada.")
	}
	return b.String()
}

// trimSamples bounds masked sample lists to the report cap.
func trimSamples(detections []detect.Detection, limit int) []detect.Detection {
	if limit <= 0 {
		return detections
	}
	out := make([]detect.Detection, len(detections))
	copy(out, detections)
	for i := range out {
		if len(out[i].MaskedSamples) > limit {
			out[i].MaskedSamples = out[i].MaskedSamples[:limit]
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
