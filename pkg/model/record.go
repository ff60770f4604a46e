// pkg/model/record.go
package model

import (
	"math"
	"time"
)

// RawRecord is one Bronze row: a single facility-period survey report exactly
// as it arrived from the source, before any cleaning. Numeric fields are
// pointers so that "missing" (nil) can be told apart from "reported zero".
// A source that carries a present-but-non-numeric cell stores NaN; the
// normalizer is the only component that interprets these sentinels.
type RawRecord struct {
	// Ingestion identity
	Sequence   int64  // ingestion sequence number within the source
	SourceFile string // file or staging-table tag the row came from

	// Facility hierarchy (free text, source formatting preserved)
	Pays               string
	Region             string
	Province           string
	DistrictSanitaire  string
	Commune            string
	FormationSanitaire string

	// Reporting period as a locale-formatted label, e.g. "Janvier 2024"
	Periode string

	// Maternal deaths by obstetric cause
	DecesMaternelsTotal      *float64
	DecesHemorragie          *float64
	DecesEclampsie           *float64
	DecesInfection           *float64
	DecesAutresComplications *float64

	// Neonatal deaths by age band
	DecesNeonatals0a6Jours  *float64
	DecesNeonatals7a28Jours *float64

	// Community-reported deaths and audits
	DecesMaternelsCommunaute *float64
	DecesMaternelsAudites    *float64
	DecesNeonatalsCommunaute *float64

	// Context and reported indicators
	NaissancesVivantes       *float64
	ProportionAuditsMaternels *float64 // already a percentage in the source
	ProportionCPN1Trimestre1  *float64 // already a percentage in the source
}

// NonNumeric is the sentinel stored by sources for cells that were present
// but could not be read as a number.
func NonNumeric() *float64 {
	v := math.NaN()
	return &v
}

// CleanedRecord is one Silver row: the validated, typed form of a RawRecord.
// Counts are non-negative integers, the period is resolved to a calendar
// date, and derived rates are precomputed with the documented conventions.
type CleanedRecord struct {
	Sequence   int64
	SourceFile string

	// Normalized geography
	Pays               string
	Region             string
	Province           string
	DistrictSanitaire  string
	Commune            string
	FormationSanitaire string
	GeoID              string // natural key: lowercased hierarchy path

	// Resolved period. PeriodeDate is the zero time when the period label
	// could not be parsed; such rows carry HasAnomalies and are kept for
	// audit but excluded from fact aggregation.
	PeriodeDate time.Time
	Annee       int
	Mois        int
	Trimestre   int
	Semestre    int

	// Counts, zero-filled and clamped to >= 0
	DecesMaternelsTotal      int
	DecesHemorragie          int
	DecesEclampsie           int
	DecesInfection           int
	DecesAutresComplications int
	DecesNeonatals0a6Jours   int
	DecesNeonatals7a28Jours  int
	DecesMaternelsCommunaute int
	DecesMaternelsAudites    int
	DecesNeonatalsCommunaute int
	NaissancesVivantes       int

	// Derived measures. Totals are recomputed from components, never taken
	// from the source; rates evaluate to 0 when their denominator is 0.
	TotalDecesMaternelsCalcule int
	TotalDecesNeonatals        int
	TauxAudit                  float64 // audited / total maternal deaths
	TauxMortaliteMaternelle    float64 // per 100k live births
	TauxMortaliteNeonatale     float64 // per 1000 live births
	TauxCPN1Trimestre1         float64 // reported proportion, passed through
	ProportionAudits           float64 // reported proportion, passed through

	// Quality flags
	IsComplete       bool
	IsValid          bool
	HasAnomalies     bool
	DataQualityScore float64 // in [0,1]
}

// HasPeriod reports whether the reporting period resolved to a real date.
func (r *CleanedRecord) HasPeriod() bool {
	return !r.PeriodeDate.IsZero()
}

// HasGeography reports whether every level of the facility hierarchy is
// present after normalization.
func (r *CleanedRecord) HasGeography() bool {
	return r.Pays != "" && r.Region != "" && r.Province != "" &&
		r.DistrictSanitaire != "" && r.Commune != "" && r.FormationSanitaire != ""
}

// QualityNote records one local repair or observation made while cleaning a
// row. Notes are advisory: the row always flows downstream.
type QualityNote struct {
	Sequence int64
	Field    string
	Reason   string
	Original string
}
