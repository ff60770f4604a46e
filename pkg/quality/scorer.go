// pkg/quality/scorer.go
package quality

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smi-platform/smi-warehouse/pkg/config"
	"github.com/smi-platform/smi-warehouse/pkg/model"
)

// Rule names, stable across runs so dashboards can track them.
const (
	RuleNonNegativeCounts      = "non_negative_counts"
	RuleReportingWindow        = "reporting_window"
	RuleCompletenessRatio      = "completeness_ratio"
	RuleValidityRatio          = "validity_ratio"
	RuleReferentialConsistency = "referential_consistency"
)

// ReferenceReader exposes the referential-consistency view of the warehouse:
// fact rows whose dimension keys no longer resolve.
type ReferenceReader interface {
	DanglingFactReferences(ctx context.Context) ([]string, error)
}

// Scorer evaluates the fixed quality rule set against a batch. Every rule
// yields a pass/fail check with a structured detail payload; the run tracker
// attaches the checks to the current run.
type Scorer struct {
	cfg    config.PipelineConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewScorer creates a Scorer with the given policy thresholds.
func NewScorer(cfg config.PipelineConfig, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{cfg: cfg, logger: logger.Named("quality-scorer"), now: time.Now}
}

// EvaluateRecords runs the record-level rules over a batch of cleaned rows.
func (s *Scorer) EvaluateRecords(runID string, records []model.CleanedRecord) []model.QualityCheck {
	checks := []model.QualityCheck{
		s.checkNonNegative(runID, records),
		s.checkReportingWindow(runID, records),
		s.checkCompleteness(runID, records),
		s.checkValidity(runID, records),
	}

	for _, c := range checks {
		if !c.Passed {
			s.logger.Warn("Quality rule failed",
				zap.String("rule", c.Rule),
				zap.Any("detail", c.Detail))
		}
	}
	return checks
}

// EvaluateReferential verifies that every fact row references dimension keys
// that exist.
func (s *Scorer) EvaluateReferential(ctx context.Context, runID string, reader ReferenceReader) (model.QualityCheck, error) {
	dangling, err := reader.DanglingFactReferences(ctx)
	if err != nil {
		return model.QualityCheck{}, fmt.Errorf("failed to evaluate referential consistency: %w", err)
	}

	check := model.QualityCheck{
		RunID:     runID,
		Rule:      RuleReferentialConsistency,
		Passed:    len(dangling) == 0,
		CheckedAt: s.now(),
		Detail: map[string]any{
			"dangling_references": len(dangling),
		},
	}
	if len(dangling) > 0 {
		check.Detail["offending_keys"] = capStrings(dangling, 20)
		s.logger.Warn("Referential consistency violated",
			zap.Int("dangling", len(dangling)))
	}
	return check, nil
}

func (s *Scorer) checkNonNegative(runID string, records []model.CleanedRecord) model.QualityCheck {
	var offending []int64
	for i := range records {
		rec := &records[i]
		for _, v := range []int{
			rec.DecesMaternelsTotal, rec.DecesHemorragie, rec.DecesEclampsie,
			rec.DecesInfection, rec.DecesAutresComplications,
			rec.DecesNeonatals0a6Jours, rec.DecesNeonatals7a28Jours,
			rec.DecesMaternelsCommunaute, rec.DecesMaternelsAudites,
			rec.DecesNeonatalsCommunaute, rec.NaissancesVivantes,
		} {
			if v < 0 {
				offending = append(offending, rec.Sequence)
				break
			}
		}
	}

	return s.check(runID, RuleNonNegativeCounts, len(offending) == 0, map[string]any{
		"records_checked":   len(records),
		"negative_records":  len(offending),
		"offending_records": capInts(offending, 20),
	})
}

func (s *Scorer) checkReportingWindow(runID string, records []model.CleanedRecord) model.QualityCheck {
	var offending []int64
	dated := 0
	for i := range records {
		rec := &records[i]
		if !rec.HasPeriod() {
			continue
		}
		dated++
		if rec.Annee < s.cfg.ReportingWindowStart || rec.Annee > s.cfg.ReportingWindowEnd {
			offending = append(offending, rec.Sequence)
		}
	}

	return s.check(runID, RuleReportingWindow, len(offending) == 0, map[string]any{
		"window_start":      s.cfg.ReportingWindowStart,
		"window_end":        s.cfg.ReportingWindowEnd,
		"dated_records":     dated,
		"outside_window":    len(offending),
		"offending_records": capInts(offending, 20),
	})
}

func (s *Scorer) checkCompleteness(runID string, records []model.CleanedRecord) model.QualityCheck {
	ratio := flagRatio(records, func(r *model.CleanedRecord) bool { return r.IsComplete })
	return s.check(runID, RuleCompletenessRatio, ratio >= s.cfg.CompletenessThreshold, map[string]any{
		"ratio":     ratio,
		"threshold": s.cfg.CompletenessThreshold,
		"records":   len(records),
	})
}

func (s *Scorer) checkValidity(runID string, records []model.CleanedRecord) model.QualityCheck {
	ratio := flagRatio(records, func(r *model.CleanedRecord) bool { return r.IsValid })
	return s.check(runID, RuleValidityRatio, ratio >= s.cfg.ValidityThreshold, map[string]any{
		"ratio":     ratio,
		"threshold": s.cfg.ValidityThreshold,
		"records":   len(records),
	})
}

func (s *Scorer) check(runID, rule string, passed bool, detail map[string]any) model.QualityCheck {
	return model.QualityCheck{
		RunID:     runID,
		Rule:      rule,
		Passed:    passed,
		Detail:    detail,
		CheckedAt: s.now(),
	}
}

// flagRatio is the share of records satisfying the predicate. An empty
// batch counts as fully satisfying: there is nothing to be incomplete.
func flagRatio(records []model.CleanedRecord, pred func(*model.CleanedRecord) bool) float64 {
	if len(records) == 0 {
		return 1
	}
	n := 0
	for i := range records {
		if pred(&records[i]) {
			n++
		}
	}
	return float64(n) / float64(len(records))
}

func capInts(v []int64, max int) []int64 {
	if len(v) > max {
		return v[:max]
	}
	return v
}

func capStrings(v []string, max int) []string {
	if len(v) > max {
		return v[:max]
	}
	return v
}
