// pkg/dimension/resolver_test.go
package dimension_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/smi-platform/smi-warehouse/pkg/dimension"
	"github.com/smi-platform/smi-warehouse/pkg/model"
	"github.com/smi-platform/smi-warehouse/pkg/warehouse"
)

func TestDateKey(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := dimension.DateKey(date); got != 20240301 {
		t.Errorf("DateKey = %d, want 20240301", got)
	}
}

func TestBuildTimeRow(t *testing.T) {
	row := dimension.BuildTimeRow(time.Date(2024, 8, 5, 13, 30, 0, 0, time.UTC))

	if row.DateKey != 20240805 {
		t.Errorf("DateKey = %d", row.DateKey)
	}
	if row.Annee != 2024 || row.Mois != 8 || row.Jour != 5 {
		t.Errorf("date parts = %d-%d-%d", row.Annee, row.Mois, row.Jour)
	}
	if row.Trimestre != 3 || row.Semestre != 2 {
		t.Errorf("trimestre/semestre = %d/%d", row.Trimestre, row.Semestre)
	}
	if row.NomMois != "août" || row.JourSemaine != "lundi" {
		t.Errorf("names = %q/%q", row.NomMois, row.JourSemaine)
	}
	if row.Saison != "saison des pluies" {
		t.Errorf("saison = %q", row.Saison)
	}
	if !row.EstJourFerie {
		t.Error("august 5 should be flagged as a holiday")
	}
	if row.EstDebutMois || row.EstFinMois {
		t.Error("august 5 is neither first nor last of month")
	}

	eom := dimension.BuildTimeRow(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	if !eom.EstFinMois {
		t.Error("february 29 of a leap year should be end of month")
	}
	if eom.Saison != "saison sèche" {
		t.Errorf("february saison = %q", eom.Saison)
	}
}

func TestBuildTimeRowDeterministic(t *testing.T) {
	date := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)
	if dimension.BuildTimeRow(date) != dimension.BuildTimeRow(date) {
		t.Error("BuildTimeRow must be a pure function of the date")
	}
}

type ResolverSuite struct {
	suite.Suite
	ctx      context.Context
	store    *warehouse.Memory
	resolver *dimension.Resolver
	clock    time.Time
}

func (s *ResolverSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = warehouse.NewMemory()
	s.clock = time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
	s.resolver = dimension.NewResolver(s.store, nil).WithClock(func() time.Time { return s.clock })
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) attrs(district string) model.GeographyAttributes {
	return model.GeographyAttributes{
		Pays:               "Burkina Faso",
		Region:             "Centre Ouest",
		Province:           "Boulkiemde",
		DistrictSanitaire:  district,
		Commune:            "Koudougou",
		FormationSanitaire: "Csps Secteur 1",
		GeoID:              "koudougou_csps_secteur_1",
	}
}

func (s *ResolverSuite) TestFirstSightingCreatesVersionOne() {
	key, err := s.resolver.ResolveGeography(s.ctx, s.attrs("Koudougou"))
	s.Require().NoError(err)
	s.NotZero(key)

	versions := s.store.GeographyVersions(s.attrs("Koudougou").GeoID)
	s.Require().Len(versions, 1)
	s.Equal(1, versions[0].Version)
	s.True(versions[0].IsCurrent)
	s.Equal(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), versions[0].EffectiveDate)
	s.Equal(model.OpenEndedExpiration, versions[0].ExpirationDate)
}

func (s *ResolverSuite) TestUnchangedAttributesReuseKey() {
	first, err := s.resolver.ResolveGeography(s.ctx, s.attrs("Koudougou"))
	s.Require().NoError(err)

	second, err := s.resolver.ResolveGeography(s.ctx, s.attrs("Koudougou"))
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Len(s.store.GeographyVersions(s.attrs("Koudougou").GeoID), 1)
}

func (s *ResolverSuite) TestAttributeChangeCreatesNewVersion() {
	first, err := s.resolver.ResolveGeography(s.ctx, s.attrs("Koudougou"))
	s.Require().NoError(err)

	s.clock = s.clock.AddDate(0, 1, 0)
	second, err := s.resolver.ResolveGeography(s.ctx, s.attrs("Koudougou Nord"))
	s.Require().NoError(err)
	s.NotEqual(first, second)

	versions := s.store.GeographyVersions(s.attrs("Koudougou").GeoID)
	s.Require().Len(versions, 2)

	expired, current := versions[0], versions[1]
	s.False(expired.IsCurrent)
	s.Equal(1, expired.Version)
	s.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), expired.ExpirationDate)

	s.True(current.IsCurrent)
	s.Equal(2, current.Version)
	s.Equal("Koudougou Nord", current.DistrictSanitaire)
	s.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), current.EffectiveDate)
}

func (s *ResolverSuite) TestConcurrentResolutionSingleVersion() {
	const writers = 16

	var wg sync.WaitGroup
	keys := make([]model.GeographyKey, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := s.resolver.ResolveGeography(s.ctx, s.attrs("Koudougou"))
			s.NoError(err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	versions := s.store.GeographyVersions(s.attrs("Koudougou").GeoID)
	s.Require().Len(versions, 1)
	for _, key := range keys {
		s.Equal(versions[0].GeoKey, key)
	}
}

func (s *ResolverSuite) TestResolveTimeCreatesRow() {
	key, err := s.resolver.ResolveTime(s.ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Equal(20240101, key)

	row, ok := s.store.TimeRow(20240101)
	s.Require().True(ok)
	s.Equal("janvier", row.NomMois)
	s.True(row.EstDebutMois)
	s.True(row.EstJourFerie)
}

func (s *ResolverSuite) TestResolveCause() {
	key, err := s.resolver.ResolveCause(s.ctx, model.CauseHemorragie)
	s.Require().NoError(err)
	s.NotZero(key)

	_, err = s.resolver.ResolveCause(s.ctx, "accident")
	var unknown *model.UnknownCauseError
	s.Require().ErrorAs(err, &unknown)
	s.Equal("accident", unknown.Code)
}
