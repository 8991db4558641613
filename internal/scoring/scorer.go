package scoring

import (
	"math"

	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/detect"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
)

// RiskLevel buckets a compliance score for reporting.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// Scorer computes the compliance score for one run. The function shape
// is fixed; every weight and threshold comes from configuration.
type Scorer struct {
	cfg    config.ScoringConfig
	logger *logger.Logger
}

// NewScorer creates a scorer with the given policy.
func NewScorer(cfg config.ScoringConfig, log *logger.Logger) *Scorer {
	return &Scorer{
		cfg:    cfg,
		logger: log.WithComponent("scoring"),
	}
}

// Score computes the compliance score from the run's detections and
// consent status. Identical inputs always yield the identical score.
func (s *Scorer) Score(detections []detect.Detection, consentStatus consent.Status) (float64, RiskLevel) {
	score := 100.0

	highInstances := 0
	for _, d := range detections {
		if !d.Detected {
			continue
		}
		score -= s.tierPenalty(d.Tier, d.Count)
		if d.Tier == registry.TierHigh {
			highInstances += d.Count
		}
	}

	if consentStatus == consent.StatusMissing || consentStatus == consent.StatusRevoked {
		penalty := float64(highInstances) * s.cfg.ConsentPenaltyPerHigh
		if penalty > s.cfg.ConsentPenaltyCap {
			penalty = s.cfg.ConsentPenaltyCap
		}
		score -= penalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	score = math.Round(score*10) / 10

	level := s.riskLevel(score)
	s.logger.Debug("Run scored",
		zap.Float64("score", score),
		zap.String("risk_level", string(level)),
		zap.String("consent_status", string(consentStatus)),
	)
	return score, level
}

// tierPenalty applies the tier weight with diminishing repeats: the
// first instance costs the full weight, each further instance is
// scaled by the diminishing factor compounded.
func (s *Scorer) tierPenalty(tier registry.Tier, count int) float64 {
	var weight float64
	switch tier {
	case registry.TierHigh:
		weight = s.cfg.TierWeights.High
	case registry.TierMedium:
		weight = s.cfg.TierWeights.Medium
	default:
		weight = s.cfg.TierWeights.Low
	}

	penalty := 0.0
	scale := 1.0
	for i := 0; i < count; i++ {
		penalty += weight * scale
		scale *= s.cfg.DiminishingFactor
	}
	return penalty
}

func (s *Scorer) riskLevel(score float64) RiskLevel {
	switch {
	case score < float64(s.cfg.Thresholds.Critical):
		return RiskCritical
	case score < float64(s.cfg.Thresholds.High):
		return RiskHigh
	case score < float64(s.cfg.Thresholds.Medium):
		return RiskMedium
	default:
		return RiskLow
	}
}
