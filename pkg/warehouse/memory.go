// pkg/warehouse/memory.go
package warehouse

import (
	"context"
	"sync"

	"github.com/smi-platform/smi-warehouse/pkg/dimension"
	"github.com/smi-platform/smi-warehouse/pkg/fact"
	"github.com/smi-platform/smi-warehouse/pkg/model"
)

// Memory is an in-memory warehouse with the same atomicity guarantees as the
// PostgreSQL store: one current geography version per natural key, one fact
// row per key tuple. Backs tests and dry runs.
type Memory struct {
	mu sync.Mutex

	nextGeoKey   int64
	nextCauseKey int64
	geoVersions  map[string][]*model.GeographyDimensionRow
	geoByKey     map[model.GeographyKey]*model.GeographyDimensionRow
	times        map[int]model.TimeDimensionRow
	causesByCode map[string]*model.CauseDimensionRow
	causesByKey  map[model.CauseKey]*model.CauseDimensionRow

	maternal   map[fact.MaternalKey]*model.MaternalDeathFact
	neonatal   map[fact.FacilityPeriodKey]*model.NeonatalDeathFact
	indicators map[fact.FacilityPeriodKey]*model.IndicatorFact

	cleaned []model.CleanedRecord
	runs    map[string]*model.PipelineRun
	checks  []model.QualityCheck
}

// NewMemory creates an empty in-memory warehouse with the cause taxonomy
// seeded.
func NewMemory() *Memory {
	m := &Memory{
		geoVersions:  make(map[string][]*model.GeographyDimensionRow),
		geoByKey:     make(map[model.GeographyKey]*model.GeographyDimensionRow),
		times:        make(map[int]model.TimeDimensionRow),
		causesByCode: make(map[string]*model.CauseDimensionRow),
		causesByKey:  make(map[model.CauseKey]*model.CauseDimensionRow),
		maternal:     make(map[fact.MaternalKey]*model.MaternalDeathFact),
		neonatal:     make(map[fact.FacilityPeriodKey]*model.NeonatalDeathFact),
		indicators:   make(map[fact.FacilityPeriodKey]*model.IndicatorFact),
		runs:         make(map[string]*model.PipelineRun),
	}
	for _, c := range model.SeedCauses() {
		m.nextCauseKey++
		row := c
		row.CauseKey = model.CauseKey(m.nextCauseKey)
		m.causesByCode[row.Code] = &row
		m.causesByKey[row.CauseKey] = &row
	}
	return m
}

// --- dimension.Store ---

func (m *Memory) CurrentGeography(ctx context.Context, geoID string) (*model.GeographyDimensionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.geoVersions[geoID] {
		if row.IsCurrent {
			copied := *row
			return &copied, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *Memory) InsertGeography(ctx context.Context, row *model.GeographyDimensionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Emulates the partial unique index on (geo_id) WHERE is_current.
	for _, existing := range m.geoVersions[row.GeoID] {
		if existing.IsCurrent {
			return model.ErrVersionConflict
		}
	}

	m.nextGeoKey++
	row.GeoKey = model.GeographyKey(m.nextGeoKey)
	copied := *row
	m.geoVersions[row.GeoID] = append(m.geoVersions[row.GeoID], &copied)
	m.geoByKey[copied.GeoKey] = &copied
	return nil
}

func (m *Memory) ExpireAndInsertGeography(ctx context.Context, current, next *model.GeographyDimensionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.geoByKey[current.GeoKey]
	if stored == nil || !stored.IsCurrent {
		// Someone else already expired this version.
		return model.ErrVersionConflict
	}

	stored.IsCurrent = false
	stored.ExpirationDate = dimension.ExpirationFor(next.EffectiveDate)

	m.nextGeoKey++
	next.GeoKey = model.GeographyKey(m.nextGeoKey)
	copied := *next
	m.geoVersions[next.GeoID] = append(m.geoVersions[next.GeoID], &copied)
	m.geoByKey[copied.GeoKey] = &copied
	return nil
}

func (m *Memory) EnsureTime(ctx context.Context, row model.TimeDimensionRow) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.times[row.DateKey]; !ok {
		m.times[row.DateKey] = row
	}
	return row.DateKey, nil
}

func (m *Memory) CauseByCode(ctx context.Context, code string) (*model.CauseDimensionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.causesByCode[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

// --- fact.Store ---

func (m *Memory) UpsertMaternalFact(ctx context.Context, f *model.MaternalDeathFact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fact.MaternalKey{Geo: f.GeoKey, Date: f.DateKey, Cause: f.CauseKey}
	_, existed := m.maternal[key]
	copied := *f
	m.maternal[key] = &copied
	return !existed, nil
}

func (m *Memory) UpsertNeonatalFact(ctx context.Context, f *model.NeonatalDeathFact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fact.FacilityPeriodKey{Geo: f.GeoKey, Date: f.DateKey}
	_, existed := m.neonatal[key]
	copied := *f
	m.neonatal[key] = &copied
	return !existed, nil
}

func (m *Memory) UpsertIndicatorFact(ctx context.Context, f *model.IndicatorFact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fact.FacilityPeriodKey{Geo: f.GeoKey, Date: f.DateKey}
	_, existed := m.indicators[key]
	copied := *f
	m.indicators[key] = &copied
	return !existed, nil
}

// --- silver retention ---

func (m *Memory) InsertCleanedRecords(ctx context.Context, batchID string, records []model.CleanedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleaned = append(m.cleaned, records...)
	return nil
}

// --- run tracking ---

func (m *Memory) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *run
	m.runs[run.RunID] = &copied
	return nil
}

func (m *Memory) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.RunID]; !ok {
		return model.ErrNotFound
	}
	copied := *run
	m.runs[run.RunID] = &copied
	return nil
}

func (m *Memory) InsertQualityChecks(ctx context.Context, checks []model.QualityCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks = append(m.checks, checks...)
	return nil
}

// --- quality.ReferenceReader ---

func (m *Memory) DanglingFactReferences(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dangling []string
	for key := range m.maternal {
		if m.geoByKey[key.Geo] == nil {
			dangling = append(dangling, "fait_deces_maternels: missing geo_key")
		}
		if _, ok := m.times[key.Date]; !ok {
			dangling = append(dangling, "fait_deces_maternels: missing date_key")
		}
		if m.causesByKey[key.Cause] == nil {
			dangling = append(dangling, "fait_deces_maternels: missing cause_key")
		}
	}
	for key := range m.neonatal {
		if m.geoByKey[key.Geo] == nil {
			dangling = append(dangling, "fait_deces_neonatals: missing geo_key")
		}
		if _, ok := m.times[key.Date]; !ok {
			dangling = append(dangling, "fait_deces_neonatals: missing date_key")
		}
	}
	for key := range m.indicators {
		if m.geoByKey[key.Geo] == nil {
			dangling = append(dangling, "fait_indicateurs_smi: missing geo_key")
		}
		if _, ok := m.times[key.Date]; !ok {
			dangling = append(dangling, "fait_indicateurs_smi: missing date_key")
		}
	}
	return dangling, nil
}

// --- inspection helpers for tests and verification ---

// GeographyVersions returns every stored version for a natural key, ordered
// as inserted.
func (m *Memory) GeographyVersions(geoID string) []model.GeographyDimensionRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]model.GeographyDimensionRow, 0, len(m.geoVersions[geoID]))
	for _, r := range m.geoVersions[geoID] {
		rows = append(rows, *r)
	}
	return rows
}

// MaternalFact returns the stored fact for a key tuple, or nil.
func (m *Memory) MaternalFact(key fact.MaternalKey) *model.MaternalDeathFact {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.maternal[key]; ok {
		copied := *f
		return &copied
	}
	return nil
}

// NeonatalFact returns the stored fact for a key tuple, or nil.
func (m *Memory) NeonatalFact(key fact.FacilityPeriodKey) *model.NeonatalDeathFact {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.neonatal[key]; ok {
		copied := *f
		return &copied
	}
	return nil
}

// IndicatorFact returns the stored fact for a key tuple, or nil.
func (m *Memory) IndicatorFact(key fact.FacilityPeriodKey) *model.IndicatorFact {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.indicators[key]; ok {
		copied := *f
		return &copied
	}
	return nil
}

// MaternalFactCount returns the number of stored maternal fact rows.
func (m *Memory) MaternalFactCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.maternal)
}

// Run returns a stored run, or nil.
func (m *Memory) Run(runID string) *model.PipelineRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.runs[runID]; ok {
		copied := *r
		return &copied
	}
	return nil
}

// Checks returns every persisted quality check.
func (m *Memory) Checks() []model.QualityCheck {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.QualityCheck, len(m.checks))
	copy(out, m.checks)
	return out
}

// CleanedCount returns the number of retained silver rows.
func (m *Memory) CleanedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cleaned)
}

// TimeRow returns a stored time dimension row.
func (m *Memory) TimeRow(dateKey int) (model.TimeDimensionRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.times[dateKey]
	return row, ok
}
