// pkg/model/dimension.go
package model

import "time"

// Surrogate dimension keys. Zero is never a valid key.
type (
	GeographyKey int64
	CauseKey     int64
)

// OpenEndedExpiration marks a geography version that is still current.
var OpenEndedExpiration = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// GeographyAttributes are the tracked attributes of a facility. GeoID is the
// natural key; any change in the other fields produces a new SCD2 version.
type GeographyAttributes struct {
	Pays               string
	Region             string
	Province           string
	DistrictSanitaire  string
	Commune            string
	FormationSanitaire string
	GeoID              string
}

// GeographyDimensionRow is one version of a facility in dim_geographie.
// Invariant: per GeoID at most one row has IsCurrent set, versions are
// contiguous starting at 1, and validity intervals do not overlap.
type GeographyDimensionRow struct {
	GeoKey GeographyKey
	GeographyAttributes

	EffectiveDate  time.Time
	ExpirationDate time.Time
	IsCurrent      bool
	Version        int
}

// TimeDimensionRow is one calendar date in dim_temps. Every field is a pure
// function of Date; rows are immutable once created.
type TimeDimensionRow struct {
	DateKey int // deterministic YYYYMMDD integer
	Date    time.Time

	Annee     int
	Trimestre int
	Mois      int
	Semaine   int // ISO week
	Jour      int
	Semestre  int

	NomMois     string
	JourSemaine string
	Saison      string

	EstDebutMois bool
	EstFinMois   bool
	EstJourFerie bool
}

// CauseDimensionRow is one entry of the closed obstetric-cause taxonomy.
type CauseDimensionRow struct {
	CauseKey  CauseKey
	Code      string
	Libelle   string
	Categorie string
}

// CauseCodes of the controlled vocabulary. Resolution of any other code is
// an error, never a silent insert.
const (
	CauseHemorragie          = "hemorragie"
	CauseEclampsie           = "eclampsie"
	CauseInfection           = "infection"
	CauseAutresComplications = "autres_complications"
	CauseCommunaute          = "communaute"
)

// SeedCauses returns the reference cause list loaded at warehouse setup.
func SeedCauses() []CauseDimensionRow {
	return []CauseDimensionRow{
		{Code: CauseHemorragie, Libelle: "Hémorragie", Categorie: "complication obstétricale"},
		{Code: CauseEclampsie, Libelle: "Éclampsie", Categorie: "complication obstétricale"},
		{Code: CauseInfection, Libelle: "Infection", Categorie: "complication obstétricale"},
		{Code: CauseAutresComplications, Libelle: "Autres complications obstétricales", Categorie: "complication obstétricale"},
		{Code: CauseCommunaute, Libelle: "Décès rapporté en communauté", Categorie: "communauté"},
	}
}
