// pkg/warehouse/memory_test.go
package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/smi-platform/smi-warehouse/pkg/fact"
	"github.com/smi-platform/smi-warehouse/pkg/model"
)

type MemorySuite struct {
	suite.Suite
	ctx   context.Context
	store *Memory
}

func (s *MemorySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemory()
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) geoRow(version int, current bool) *model.GeographyDimensionRow {
	return &model.GeographyDimensionRow{
		GeographyAttributes: model.GeographyAttributes{
			Pays:               "Burkina Faso",
			Region:             "Centre",
			Province:           "Kadiogo",
			DistrictSanitaire:  "Baskuy",
			Commune:            "Ouagadougou",
			FormationSanitaire: "Csps Secteur 4",
			GeoID:              "ouagadougou_csps_secteur_4",
		},
		EffectiveDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: model.OpenEndedExpiration,
		IsCurrent:      current,
		Version:        version,
	}
}

func (s *MemorySuite) TestSecondCurrentVersionRejected() {
	first := s.geoRow(1, true)
	s.Require().NoError(s.store.InsertGeography(s.ctx, first))
	s.NotZero(first.GeoKey)

	err := s.store.InsertGeography(s.ctx, s.geoRow(2, true))
	s.Require().ErrorIs(err, model.ErrVersionConflict)
}

func (s *MemorySuite) TestExpireAndInsert() {
	first := s.geoRow(1, true)
	s.Require().NoError(s.store.InsertGeography(s.ctx, first))

	next := s.geoRow(2, true)
	next.DistrictSanitaire = "Bogodogo"
	next.EffectiveDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.ExpireAndInsertGeography(s.ctx, first, next))
	s.NotEqual(first.GeoKey, next.GeoKey)

	versions := s.store.GeographyVersions(first.GeoID)
	s.Require().Len(versions, 2)
	s.False(versions[0].IsCurrent)
	s.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), versions[0].ExpirationDate)
	s.True(versions[1].IsCurrent)

	current, err := s.store.CurrentGeography(s.ctx, first.GeoID)
	s.Require().NoError(err)
	s.Equal(next.GeoKey, current.GeoKey)
}

func (s *MemorySuite) TestExpireStaleVersionConflicts() {
	first := s.geoRow(1, true)
	s.Require().NoError(s.store.InsertGeography(s.ctx, first))

	next := s.geoRow(2, true)
	s.Require().NoError(s.store.ExpireAndInsertGeography(s.ctx, first, next))

	// first is no longer current; expiring it again must fail.
	again := s.geoRow(2, true)
	err := s.store.ExpireAndInsertGeography(s.ctx, first, again)
	s.Require().ErrorIs(err, model.ErrVersionConflict)
}

func (s *MemorySuite) TestCurrentGeographyNotFound() {
	_, err := s.store.CurrentGeography(s.ctx, "missing")
	s.Require().ErrorIs(err, model.ErrNotFound)
}

func (s *MemorySuite) TestCausesSeeded() {
	for _, code := range []string{
		model.CauseHemorragie, model.CauseEclampsie, model.CauseInfection,
		model.CauseAutresComplications, model.CauseCommunaute,
	} {
		row, err := s.store.CauseByCode(s.ctx, code)
		s.Require().NoError(err, "cause %s", code)
		s.NotZero(row.CauseKey)
	}

	_, err := s.store.CauseByCode(s.ctx, "accident")
	s.Require().ErrorIs(err, model.ErrNotFound)
}

func (s *MemorySuite) TestFactUpsertCreatedFlag() {
	f := &model.MaternalDeathFact{GeoKey: 1, DateKey: 20240101, CauseKey: 1, NombreDeces: 3, BatchID: "b1"}

	created, err := s.store.UpsertMaternalFact(s.ctx, f)
	s.Require().NoError(err)
	s.True(created)

	f.NombreDeces = 5
	f.BatchID = "b2"
	created, err = s.store.UpsertMaternalFact(s.ctx, f)
	s.Require().NoError(err)
	s.False(created)

	stored := s.store.MaternalFact(fact.MaternalKey{Geo: 1, Date: 20240101, Cause: 1})
	s.Equal(5, stored.NombreDeces)
	s.Equal("b2", stored.BatchID)
}

func (s *MemorySuite) TestRunLifecyclePersistence() {
	run := &model.PipelineRun{RunID: "r1", BatchID: "b1", Status: model.RunStatusPending, StartedAt: time.Now()}
	s.Require().NoError(s.store.CreateRun(s.ctx, run))

	run.Status = model.RunStatusRunning
	s.Require().NoError(s.store.UpdateRun(s.ctx, run))
	s.Equal(model.RunStatusRunning, s.store.Run("r1").Status)

	err := s.store.UpdateRun(s.ctx, &model.PipelineRun{RunID: "ghost"})
	s.Require().ErrorIs(err, model.ErrNotFound)
}

func (s *MemorySuite) TestDanglingFactReferences() {
	geo := s.geoRow(1, true)
	s.Require().NoError(s.store.InsertGeography(s.ctx, geo))
	_, err := s.store.EnsureTime(s.ctx, model.TimeDimensionRow{DateKey: 20240101})
	s.Require().NoError(err)
	cause, err := s.store.CauseByCode(s.ctx, model.CauseHemorragie)
	s.Require().NoError(err)

	_, err = s.store.UpsertMaternalFact(s.ctx, &model.MaternalDeathFact{
		GeoKey: geo.GeoKey, DateKey: 20240101, CauseKey: cause.CauseKey,
	})
	s.Require().NoError(err)

	dangling, err := s.store.DanglingFactReferences(s.ctx)
	s.Require().NoError(err)
	s.Empty(dangling)

	_, err = s.store.UpsertNeonatalFact(s.ctx, &model.NeonatalDeathFact{GeoKey: 999, DateKey: 20240101})
	s.Require().NoError(err)

	dangling, err = s.store.DanglingFactReferences(s.ctx)
	s.Require().NoError(err)
	s.Len(dangling, 1)
}
