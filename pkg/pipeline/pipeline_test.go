// pkg/pipeline/pipeline_test.go
package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/smi-platform/smi-warehouse/pkg/config"
	"github.com/smi-platform/smi-warehouse/pkg/fact"
	"github.com/smi-platform/smi-warehouse/pkg/model"
	"github.com/smi-platform/smi-warehouse/pkg/pipeline"
	"github.com/smi-platform/smi-warehouse/pkg/quality"
	"github.com/smi-platform/smi-warehouse/pkg/source"
	"github.com/smi-platform/smi-warehouse/pkg/warehouse"
)

func f(v float64) *float64 { return &v }

type PipelineSuite struct {
	suite.Suite
	ctx   context.Context
	cfg   config.PipelineConfig
	store *warehouse.Memory
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = warehouse.NewMemory()
	s.cfg = config.PipelineConfig{
		WorkerPoolSize:        2,
		RetryAttempts:         2,
		RetryDelay:            time.Millisecond,
		CompletenessThreshold: 0.7,
		ValidityThreshold:     0.7,
		ReportingWindowStart:  2020,
		ReportingWindowEnd:    2030,
	}
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) newPipeline(wh pipeline.Warehouse) *pipeline.Pipeline {
	return pipeline.NewPipeline(s.cfg, wh, nil, zap.NewNop())
}

func (s *PipelineSuite) raw(seq int64, facility, periode string) *model.RawRecord {
	return &model.RawRecord{
		Sequence:           seq,
		SourceFile:         "export.csv",
		Pays:               "Burkina Faso",
		Region:             "Centre",
		Province:           "Kadiogo",
		DistrictSanitaire:  "Baskuy",
		Commune:            "Ouagadougou",
		FormationSanitaire: facility,
		Periode:            periode,

		DecesMaternelsTotal:      f(3),
		DecesHemorragie:          f(2),
		DecesEclampsie:           f(1),
		DecesInfection:           f(0),
		DecesAutresComplications: f(0),
		DecesNeonatals0a6Jours:   f(2),
		DecesNeonatals7a28Jours:  f(1),
		DecesMaternelsCommunaute: f(1),
		DecesMaternelsAudites:    f(2),
		DecesNeonatalsCommunaute: f(0),
		NaissancesVivantes:       f(150),

		ProportionAuditsMaternels: f(60),
		ProportionCPN1Trimestre1:  f(70),
	}
}

func (s *PipelineSuite) TestSuccessfulRun() {
	src := source.NewSliceSource("export.csv", []*model.RawRecord{
		s.raw(1, "CSPS Secteur 1", "Janvier 2024"),
		s.raw(2, "CSPS Secteur 2", "Janvier 2024"),
	})

	result, err := s.newPipeline(s.store).Run(s.ctx, "batch-1", src)
	s.Require().NoError(err)

	s.Equal(model.RunStatusSuccess, result.Status)
	s.Equal(2, result.Counts.Processed)
	s.Zero(result.Counts.Failed)
	s.Zero(result.Counts.Flagged)
	// Per facility-period: five maternal cause rows, one neonatal, one
	// indicator row.
	s.Equal(14, result.Counts.Inserted)
	s.Zero(result.Counts.Updated)
	s.Len(result.Checks, 5)
	for _, c := range result.Checks {
		s.True(c.Passed, "check %s", c.Rule)
	}

	run := s.store.Run(result.RunID)
	s.Require().NotNil(run)
	s.Equal(model.RunStatusSuccess, run.Status)
	s.False(run.CompletedAt.IsZero())
	s.Equal(2, s.store.CleanedCount())
	s.Len(s.store.Checks(), 5)
}

func (s *PipelineSuite) TestReplayConvergesOnLatestValues() {
	records := []*model.RawRecord{s.raw(1, "CSPS Secteur 1", "Janvier 2024")}

	p := s.newPipeline(s.store)
	first, err := p.Run(s.ctx, "batch-1", source.NewSliceSource("export.csv", records))
	s.Require().NoError(err)
	s.Equal(7, first.Counts.Inserted)

	// Corrected export for the same facility-period.
	corrected := s.raw(1, "CSPS Secteur 1", "Janvier 2024")
	corrected.DecesMaternelsTotal = f(2)
	corrected.DecesHemorragie = f(1)
	corrected.DecesEclampsie = f(1)

	second, err := p.Run(s.ctx, "batch-2", source.NewSliceSource("export.csv", []*model.RawRecord{corrected}))
	s.Require().NoError(err)
	s.Zero(second.Counts.Inserted)
	s.Equal(7, second.Counts.Updated)

	versions := s.store.GeographyVersions("ouagadougou_csps_secteur_1")
	s.Require().Len(versions, 1)

	cause, err := s.store.CauseByCode(s.ctx, model.CauseHemorragie)
	s.Require().NoError(err)
	stored := s.store.MaternalFact(fact.MaternalKey{
		Geo:   versions[0].GeoKey,
		Date:  20240101,
		Cause: cause.CauseKey,
	})
	s.Require().NotNil(stored)
	s.Equal(1, stored.NombreDeces)
	s.Equal("batch-2", stored.BatchID)
}

func (s *PipelineSuite) TestGeographyChangeVersionsAcrossRuns() {
	p := s.newPipeline(s.store)
	_, err := p.Run(s.ctx, "batch-1", source.NewSliceSource("export.csv", []*model.RawRecord{
		s.raw(1, "CSPS Secteur 1", "Janvier 2024"),
	}))
	s.Require().NoError(err)

	moved := s.raw(1, "CSPS Secteur 1", "Février 2024")
	moved.DistrictSanitaire = "Bogodogo"
	_, err = p.Run(s.ctx, "batch-2", source.NewSliceSource("export.csv", []*model.RawRecord{moved}))
	s.Require().NoError(err)

	versions := s.store.GeographyVersions("ouagadougou_csps_secteur_1")
	s.Require().Len(versions, 2)
	s.False(versions[0].IsCurrent)
	s.True(versions[1].IsCurrent)
	s.Equal(2, versions[1].Version)
	s.Equal("Bogodogo", versions[1].DistrictSanitaire)
}

func (s *PipelineSuite) TestFlaggedRowsStayOutOfFacts() {
	bad := s.raw(2, "CSPS Secteur 1", "not a period")

	result, err := s.newPipeline(s.store).Run(s.ctx, "batch-1", source.NewSliceSource("export.csv", []*model.RawRecord{
		s.raw(1, "CSPS Secteur 1", "Janvier 2024"),
		bad,
	}))
	s.Require().NoError(err)

	s.Equal(model.RunStatusSuccess, result.Status)
	s.Equal(2, result.Counts.Processed)
	s.Equal(1, result.Counts.Flagged)
	s.Equal(7, result.Counts.Inserted)
	// Both rows are retained in the silver layer for audit.
	s.Equal(2, s.store.CleanedCount())
}

func (s *PipelineSuite) TestClampedNegativeRowIsFlagged() {
	bad := s.raw(1, "CSPS Secteur 1", "Janvier 2024")
	bad.DecesNeonatalsCommunaute = f(-2)

	result, err := s.newPipeline(s.store).Run(s.ctx, "batch-1", source.NewSliceSource("export.csv", []*model.RawRecord{bad}))
	s.Require().NoError(err)

	// The clamp repaired the row, so it still aggregates, but the run
	// report must surface it.
	s.Equal(1, result.Counts.Flagged)
	s.Zero(result.Counts.Failed)
	s.Equal(7, result.Counts.Inserted)

	c := findCheck(result.Checks, quality.RuleValidityRatio)
	s.Require().NotNil(c)
	s.False(c.Passed)
	s.Equal(model.RunStatusPartial, result.Status)
}

func (s *PipelineSuite) TestWindowViolationYieldsPartial() {
	result, err := s.newPipeline(s.store).Run(s.ctx, "batch-1", source.NewSliceSource("export.csv", []*model.RawRecord{
		s.raw(1, "CSPS Secteur 1", "Janvier 2019"),
	}))
	s.Require().NoError(err)

	s.Equal(model.RunStatusPartial, result.Status)
	c := findCheck(result.Checks, quality.RuleReportingWindow)
	s.Require().NotNil(c)
	s.False(c.Passed)

	s.Equal(model.RunStatusPartial, s.store.Run(result.RunID).Status)
}

type missingCauseStore struct {
	*warehouse.Memory
}

func (ms *missingCauseStore) CauseByCode(ctx context.Context, code string) (*model.CauseDimensionRow, error) {
	if code == model.CauseInfection {
		return nil, model.ErrNotFound
	}
	return ms.Memory.CauseByCode(ctx, code)
}

func (s *PipelineSuite) TestFailedRowLeavesNoPartialFacts() {
	wh := &missingCauseStore{Memory: s.store}

	result, err := s.newPipeline(wh).Run(s.ctx, "batch-1", source.NewSliceSource("export.csv", []*model.RawRecord{
		s.raw(1, "CSPS Secteur 1", "Janvier 2024"),
	}))
	s.Require().NoError(err)

	s.Equal(model.RunStatusPartial, result.Status)
	s.Equal(1, result.Counts.Failed)
	s.Zero(result.Counts.Inserted)
	// The row failed on its third cause; the first two must not have been
	// staged.
	s.Zero(s.store.MaternalFactCount())
}

type failingStore struct {
	*warehouse.Memory
}

func (fs *failingStore) UpsertNeonatalFact(ctx context.Context, f *model.NeonatalDeathFact) (bool, error) {
	return false, errors.New("warehouse unavailable")
}

func (s *PipelineSuite) TestPersistenceFailureFailsRun() {
	wh := &failingStore{Memory: s.store}

	result, err := s.newPipeline(wh).Run(s.ctx, "batch-1", source.NewSliceSource("export.csv", []*model.RawRecord{
		s.raw(1, "CSPS Secteur 1", "Janvier 2024"),
	}))
	s.Require().Error(err)
	s.Require().NotNil(result)

	s.Equal(model.RunStatusFailed, result.Status)
	s.Equal(model.RunStatusFailed, s.store.Run(result.RunID).Status)
}

func findCheck(checks []model.QualityCheck, rule string) *model.QualityCheck {
	for i := range checks {
		if checks[i].Rule == rule {
			return &checks[i]
		}
	}
	return nil
}

type TrackerSuite struct {
	suite.Suite
	ctx   context.Context
	store *warehouse.Memory
}

func (s *TrackerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = warehouse.NewMemory()
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) TestLifecycle() {
	tracker, err := pipeline.NewRunTracker(s.ctx, s.store, "batch-1", zap.NewNop())
	s.Require().NoError(err)
	s.Equal(model.RunStatusPending, s.store.Run(tracker.RunID()).Status)

	s.Require().NoError(tracker.Start(s.ctx))
	s.Equal(model.RunStatusRunning, s.store.Run(tracker.RunID()).Status)

	counts := model.RunCounts{Processed: 10, Inserted: 8, Failed: 2}
	s.Require().NoError(tracker.Finalize(s.ctx, model.RunStatusPartial, counts))

	run := s.store.Run(tracker.RunID())
	s.Equal(model.RunStatusPartial, run.Status)
	s.Equal(counts, run.Counts)
	s.False(run.CompletedAt.IsZero())
}

func (s *TrackerSuite) TestIllegalTransitions() {
	tracker, err := pipeline.NewRunTracker(s.ctx, s.store, "batch-1", zap.NewNop())
	s.Require().NoError(err)

	// pending cannot jump straight to a terminal state.
	s.Require().Error(tracker.Finalize(s.ctx, model.RunStatusSuccess, model.RunCounts{}))

	s.Require().NoError(tracker.Start(s.ctx))
	s.Require().Error(tracker.Start(s.ctx))
	s.Require().Error(tracker.Finalize(s.ctx, model.RunStatusRunning, model.RunCounts{}))

	s.Require().NoError(tracker.Finalize(s.ctx, model.RunStatusSuccess, model.RunCounts{}))
	// Terminal states never transition again.
	s.Require().Error(tracker.Finalize(s.ctx, model.RunStatusFailed, model.RunCounts{}))
}
