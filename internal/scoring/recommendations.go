package scoring

import (
	"fmt"
	"strings"

	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// Recommendations derives remediation guidance from a run's outcome.
// The output is a fixed lookup over observed conditions so that equal
// runs produce equal reports.
func Recommendations(detections []detect.Detection, verdict consent.Verdict, score float64, maskingActions []string) []string {
	var recs []string

	totalInstances := 0
	highDetected := false
	var highTypes []string
	for _, d := range detections {
		if !d.Detected {
			continue
		}
		totalInstances += d.Count
		if d.Tier == registry.TierHigh {
			highDetected = true
			highTypes = append(highTypes, string(d.Type))
		}
	}

	switch verdict.Status {
	case consent.StatusMissing:
		if highDetected {
			recs = append(recs, "Obter consentimento explicito do titular antes de processar dados sensiveis (LGPD Art. 7 e Art. 8)")
		} else if totalInstances > 0 {
			recs = append(recs, "Registrar base legal para o tratamento dos dados pessoais identificados (LGPD Art. 7)")
		}
	case consent.StatusRevoked:
		recs = append(recs, "Cessar o tratamento dos dados do titular: consentimento revogado (LGPD Art. 8, par. 5)")
	case consent.StatusExpired:
		recs = append(recs, "Renovar o consentimento do titular: a autorizacao anterior expirou")
	}

	if highDetected {
		recs = append(recs, fmt.Sprintf("Aplicar controles de acesso reforcados aos campos com dados de alta sensibilidade (%s)", strings.Join(highTypes, ", ")))
	}

	if totalInstances > 0 && len(maskingActions) == 0 {
		recs = append(recs, "Habilitar mascaramento reversivel antes de persistir o payload canonico")
	}

	if totalInstances > 10 {
		recs = append(recs, "Revisar a necessidade de coleta: volume elevado de dados pessoais em um unico documento (principio da necessidade, LGPD Art. 6, III)")
	}

	if score < 60 {
		recs = append(recs, "Priorizar revisao manual deste documento: pontuacao de conformidade abaixo do limiar aceitavel")
	}

	if len(recs) == 0 && totalInstances > 0 {
		recs = append(recs, "Manter os controles atuais e monitorar novas ingestoes")
	}
	return recs
}
