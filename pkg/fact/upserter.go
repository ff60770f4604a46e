// pkg/fact/upserter.go
package fact

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smi-platform/smi-warehouse/pkg/model"
)

// Store is the warehouse surface facts are written through. Each upsert must
// be atomic per key tuple: concurrent upserts for the same tuple must not
// both insert. The returned flag distinguishes insert from update.
type Store interface {
	UpsertMaternalFact(ctx context.Context, f *model.MaternalDeathFact) (created bool, err error)
	UpsertNeonatalFact(ctx context.Context, f *model.NeonatalDeathFact) (created bool, err error)
	UpsertIndicatorFact(ctx context.Context, f *model.IndicatorFact) (created bool, err error)
}

// MaternalKey identifies one maternal-death fact row.
type MaternalKey struct {
	Geo   model.GeographyKey
	Date  int
	Cause model.CauseKey
}

// FacilityPeriodKey identifies one neonatal or indicator fact row.
type FacilityPeriodKey struct {
	Geo  model.GeographyKey
	Date int
}

type neonatalAccum struct {
	deces0a6   int
	deces7a28  int
	communaute int
	naissances int
}

type indicatorAccum struct {
	sumCPN1      float64
	sumPropAudit float64
	sumScore     float64
	audites      int
	deces        int
	rows         int
}

// Upserter accumulates a batch's measures per dimension-key tuple, then
// writes exactly one fact row per tuple. Additive measures from multiple raw
// rows mapping to the same tuple are summed; derived measures are recomputed
// from the accumulated totals at flush time. Because stored values are
// replaced, not added to, re-running a batch converges to the same state.
type Upserter struct {
	store   Store
	logger  *zap.Logger
	batchID string
	now     func() time.Time

	maternal   map[MaternalKey]int
	neonatal   map[FacilityPeriodKey]*neonatalAccum
	indicators map[FacilityPeriodKey]*indicatorAccum
}

// UpsertResult summarizes one flush.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// NewUpserter creates an Upserter for one batch.
func NewUpserter(store Store, batchID string, logger *zap.Logger) *Upserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upserter{
		store:      store,
		logger:     logger.Named("fact-upserter"),
		batchID:    batchID,
		now:        time.Now,
		maternal:   make(map[MaternalKey]int),
		neonatal:   make(map[FacilityPeriodKey]*neonatalAccum),
		indicators: make(map[FacilityPeriodKey]*indicatorAccum),
	}
}

// AddMaternal accumulates maternal deaths for one cause at one
// facility-period.
func (u *Upserter) AddMaternal(key MaternalKey, deces int) {
	u.maternal[key] += deces
}

// AddNeonatal accumulates neonatal death bands for one facility-period.
func (u *Upserter) AddNeonatal(key FacilityPeriodKey, rec *model.CleanedRecord) {
	acc, ok := u.neonatal[key]
	if !ok {
		acc = &neonatalAccum{}
		u.neonatal[key] = acc
	}
	acc.deces0a6 += rec.DecesNeonatals0a6Jours
	acc.deces7a28 += rec.DecesNeonatals7a28Jours
	acc.communaute += rec.DecesNeonatalsCommunaute
	acc.naissances += rec.NaissancesVivantes
}

// AddIndicator accumulates reported indicators for one facility-period.
func (u *Upserter) AddIndicator(key FacilityPeriodKey, rec *model.CleanedRecord) {
	acc, ok := u.indicators[key]
	if !ok {
		acc = &indicatorAccum{}
		u.indicators[key] = acc
	}
	acc.sumCPN1 += rec.TauxCPN1Trimestre1
	acc.sumPropAudit += rec.ProportionAudits
	acc.sumScore += rec.DataQualityScore
	acc.audites += rec.DecesMaternelsAudites
	acc.deces += rec.TotalDecesMaternelsCalcule
	acc.rows++
}

// Flush writes every accumulated tuple. Derived columns are computed here,
// from the accumulated components only: a stored total can never drift from
// the sum of its parts.
func (u *Upserter) Flush(ctx context.Context) (UpsertResult, error) {
	var res UpsertResult
	now := u.now()

	for key, deces := range u.maternal {
		created, err := u.store.UpsertMaternalFact(ctx, &model.MaternalDeathFact{
			GeoKey:      key.Geo,
			DateKey:     key.Date,
			CauseKey:    key.Cause,
			NombreDeces: deces,
			BatchID:     u.batchID,
			UpdatedAt:   now,
		})
		if err != nil {
			return res, fmt.Errorf("failed to upsert maternal fact: %w", err)
		}
		res.count(created)
	}

	for key, acc := range u.neonatal {
		total := acc.deces0a6 + acc.deces7a28
		taux := 0.0
		if acc.naissances > 0 {
			taux = float64(total) / float64(acc.naissances) * 1000
		}
		created, err := u.store.UpsertNeonatalFact(ctx, &model.NeonatalDeathFact{
			GeoKey:                 key.Geo,
			DateKey:                key.Date,
			Deces0a6Jours:          acc.deces0a6,
			Deces7a28Jours:         acc.deces7a28,
			DecesCommunaute:        acc.communaute,
			TotalDeces:             total,
			NaissancesVivantes:     acc.naissances,
			TauxMortaliteNeonatale: taux,
			BatchID:                u.batchID,
			UpdatedAt:              now,
		})
		if err != nil {
			return res, fmt.Errorf("failed to upsert neonatal fact: %w", err)
		}
		res.count(created)
	}

	for key, acc := range u.indicators {
		tauxAudit := 0.0
		if acc.deces > 0 {
			tauxAudit = float64(acc.audites) / float64(acc.deces)
		}
		created, err := u.store.UpsertIndicatorFact(ctx, &model.IndicatorFact{
			GeoKey:             key.Geo,
			DateKey:            key.Date,
			TauxCPN1Trimestre1: acc.sumCPN1 / float64(acc.rows),
			ProportionAudits:   acc.sumPropAudit / float64(acc.rows),
			TauxAudit:          tauxAudit,
			ScoreQualiteMoyen:  acc.sumScore / float64(acc.rows),
			BatchID:            u.batchID,
			UpdatedAt:          now,
		})
		if err != nil {
			return res, fmt.Errorf("failed to upsert indicator fact: %w", err)
		}
		res.count(created)
	}

	u.logger.Info("Flushed facts",
		zap.String("batchID", u.batchID),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated))

	return res, nil
}

// Pending returns the number of accumulated tuples not yet flushed.
func (u *Upserter) Pending() int {
	return len(u.maternal) + len(u.neonatal) + len(u.indicators)
}

func (r *UpsertResult) count(created bool) {
	if created {
		r.Inserted++
	} else {
		r.Updated++
	}
}
