// pkg/model/fact.go
package model

import "time"

// MaternalDeathFact is one row of fait_deces_maternels, keyed by
// (GeoKey, DateKey, CauseKey). NombreDeces is additive.
type MaternalDeathFact struct {
	GeoKey   GeographyKey
	DateKey  int
	CauseKey CauseKey

	NombreDeces int

	BatchID   string
	UpdatedAt time.Time
}

// NeonatalDeathFact is one row of fait_deces_neonatals, keyed by
// (GeoKey, DateKey). TotalDeces is always recomputed as the sum of the two
// age bands; TauxMortaliteNeonatale is recomputed from the updated additive
// totals at write time, never summed.
type NeonatalDeathFact struct {
	GeoKey  GeographyKey
	DateKey int

	Deces0a6Jours      int
	Deces7a28Jours     int
	DecesCommunaute    int
	TotalDeces         int
	NaissancesVivantes int

	TauxMortaliteNeonatale float64 // per 1000 live births

	BatchID   string
	UpdatedAt time.Time
}

// IndicatorFact is one row of fait_indicateurs_smi, keyed by
// (GeoKey, DateKey). Proportions are averaged over the contributing rows of
// a batch; they are only meaningful at this grain.
type IndicatorFact struct {
	GeoKey  GeographyKey
	DateKey int

	TauxCPN1Trimestre1 float64
	ProportionAudits   float64
	TauxAudit          float64
	ScoreQualiteMoyen  float64

	BatchID   string
	UpdatedAt time.Time
}
