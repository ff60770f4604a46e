// pkg/quality/scorer_test.go
package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/smi-platform/smi-warehouse/pkg/config"
	"github.com/smi-platform/smi-warehouse/pkg/model"
)

type stubReader struct {
	dangling []string
	err      error
}

func (r *stubReader) DanglingFactReferences(ctx context.Context) ([]string, error) {
	return r.dangling, r.err
}

type ScorerSuite struct {
	suite.Suite
	scorer *Scorer
}

func (s *ScorerSuite) SetupTest() {
	s.scorer = NewScorer(config.PipelineConfig{
		CompletenessThreshold: 0.7,
		ValidityThreshold:     0.7,
		ReportingWindowStart:  2020,
		ReportingWindowEnd:    2030,
	}, nil)
}

func TestScorerSuite(t *testing.T) {
	suite.Run(t, new(ScorerSuite))
}

func record(annee int, complete, valid bool) model.CleanedRecord {
	rec := model.CleanedRecord{
		Annee:      annee,
		IsComplete: complete,
		IsValid:    valid,
	}
	if annee > 0 {
		rec.PeriodeDate = time.Date(annee, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return rec
}

func checkByRule(checks []model.QualityCheck, rule string) *model.QualityCheck {
	for i := range checks {
		if checks[i].Rule == rule {
			return &checks[i]
		}
	}
	return nil
}

func (s *ScorerSuite) TestAllRulesPassOnCleanBatch() {
	records := []model.CleanedRecord{
		record(2024, true, true),
		record(2025, true, true),
	}

	checks := s.scorer.EvaluateRecords("run-1", records)
	s.Require().Len(checks, 4)
	for _, c := range checks {
		s.True(c.Passed, "rule %s should pass", c.Rule)
		s.Equal("run-1", c.RunID)
		s.False(c.CheckedAt.IsZero())
	}
}

func (s *ScorerSuite) TestReportingWindowViolation() {
	records := []model.CleanedRecord{
		record(2024, true, true),
		record(2019, true, true),
	}

	checks := s.scorer.EvaluateRecords("run-1", records)
	c := checkByRule(checks, RuleReportingWindow)
	s.Require().NotNil(c)
	s.False(c.Passed)
	s.Equal(1, c.Detail["outside_window"])
}

func (s *ScorerSuite) TestUndatedRecordsSkipWindowRule() {
	records := []model.CleanedRecord{record(0, true, true)}

	checks := s.scorer.EvaluateRecords("run-1", records)
	c := checkByRule(checks, RuleReportingWindow)
	s.Require().NotNil(c)
	s.True(c.Passed)
	s.Equal(0, c.Detail["dated_records"])
}

func (s *ScorerSuite) TestCompletenessBelowThreshold() {
	records := []model.CleanedRecord{
		record(2024, true, true),
		record(2024, false, true),
		record(2024, false, true),
	}

	checks := s.scorer.EvaluateRecords("run-1", records)
	c := checkByRule(checks, RuleCompletenessRatio)
	s.Require().NotNil(c)
	s.False(c.Passed)
	s.InDelta(1.0/3.0, c.Detail["ratio"].(float64), 1e-9)

	v := checkByRule(checks, RuleValidityRatio)
	s.Require().NotNil(v)
	s.True(v.Passed)
}

func (s *ScorerSuite) TestValidityUsesOwnThreshold() {
	scorer := NewScorer(config.PipelineConfig{
		CompletenessThreshold: 0.9,
		ValidityThreshold:     0.5,
	}, nil)

	// 2/3 complete and 2/3 valid: fails the strict completeness bar but
	// clears the laxer validity one.
	records := []model.CleanedRecord{
		record(2024, true, true),
		record(2024, true, true),
		record(2024, false, false),
	}

	checks := scorer.EvaluateRecords("run-1", records)
	c := checkByRule(checks, RuleCompletenessRatio)
	s.Require().NotNil(c)
	s.False(c.Passed)

	v := checkByRule(checks, RuleValidityRatio)
	s.Require().NotNil(v)
	s.True(v.Passed)
	s.Equal(0.5, v.Detail["threshold"])
}

func (s *ScorerSuite) TestNonNegativeRule() {
	bad := record(2024, true, true)
	bad.Sequence = 7
	bad.DecesHemorragie = -1

	checks := s.scorer.EvaluateRecords("run-1", []model.CleanedRecord{bad})
	c := checkByRule(checks, RuleNonNegativeCounts)
	s.Require().NotNil(c)
	s.False(c.Passed)
	s.Equal(1, c.Detail["negative_records"])
}

func (s *ScorerSuite) TestEmptyBatchPasses() {
	checks := s.scorer.EvaluateRecords("run-1", nil)
	for _, c := range checks {
		s.True(c.Passed, "rule %s should pass on an empty batch", c.Rule)
	}
}

func (s *ScorerSuite) TestReferentialConsistency() {
	check, err := s.scorer.EvaluateReferential(context.Background(), "run-1", &stubReader{})
	s.Require().NoError(err)
	s.True(check.Passed)
	s.Equal(RuleReferentialConsistency, check.Rule)

	check, err = s.scorer.EvaluateReferential(context.Background(), "run-1", &stubReader{
		dangling: []string{"fait_deces_maternels: 2 rows with missing dimension keys"},
	})
	s.Require().NoError(err)
	s.False(check.Passed)
	s.Equal(1, check.Detail["dangling_references"])

	_, err = s.scorer.EvaluateReferential(context.Background(), "run-1", &stubReader{
		err: errors.New("connection lost"),
	})
	s.Require().Error(err)
}
