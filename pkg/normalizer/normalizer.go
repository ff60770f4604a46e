// pkg/normalizer/normalizer.go
package normalizer

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/smi-platform/smi-warehouse/pkg/model"
)

// Weights of the composite data quality score. Policy constants: stable
// across runs so scores stay comparable.
const (
	weightCompleteness = 0.4
	weightValidity     = 0.4
	weightAnomalyFree  = 0.2
)

// Scaling conventions for derived mortality rates. The source carries no
// reference population, so both rates are expressed against reported live
// births: maternal per 100k, neonatal per 1000. A row without live births
// reports 0 for both rates.
const (
	maternalRateScale = 100_000.0
	neonatalRateScale = 1_000.0
)

// Normalizer turns one raw survey row into a validated, typed record. It
// never fails on a malformed row: bad cells are repaired locally, noted, and
// reflected in the record's quality flags.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger.Named("normalizer")}
}

// Normalize cleans a single raw record and reports every repair it made.
func (n *Normalizer) Normalize(raw *model.RawRecord) (model.CleanedRecord, []model.QualityNote) {
	rec := model.CleanedRecord{
		Sequence:   raw.Sequence,
		SourceFile: raw.SourceFile,
		IsComplete: true,
		IsValid:    true,
	}
	var notes []model.QualityNote

	note := func(field, reason, original string) {
		notes = append(notes, model.QualityNote{
			Sequence: raw.Sequence,
			Field:    field,
			Reason:   reason,
			Original: original,
		})
	}

	// Counters: missing cells are zero-filled and mark the row incomplete;
	// non-numeric or negative cells are clamped to zero and mark it invalid.
	// Clamping over failing is deliberate: a mostly-good batch must commit.
	coerceCount := func(field string, v *float64) int {
		switch {
		case v == nil:
			rec.IsComplete = false
			note(field, "missing value zero-filled", "")
			return 0
		case math.IsNaN(*v):
			rec.IsValid = false
			note(field, "non-numeric value clamped to zero", "NaN")
			return 0
		case *v < 0:
			rec.IsValid = false
			note(field, "negative value clamped to zero", fmt.Sprintf("%g", *v))
			return 0
		default:
			return int(math.Round(*v))
		}
	}

	// Proportions arrive as percentages and may legitimately be absent, so
	// a missing proportion does not count against completeness.
	coerceProportion := func(field string, v *float64) float64 {
		switch {
		case v == nil:
			return 0
		case math.IsNaN(*v):
			rec.IsValid = false
			note(field, "non-numeric value clamped to zero", "NaN")
			return 0
		case *v < 0:
			rec.IsValid = false
			note(field, "negative value clamped to zero", fmt.Sprintf("%g", *v))
			return 0
		default:
			return *v
		}
	}

	// Geography
	rec.Pays = NormalizeGeoName(raw.Pays)
	rec.Region = NormalizeGeoName(raw.Region)
	rec.Province = NormalizeGeoName(raw.Province)
	rec.DistrictSanitaire = NormalizeGeoName(raw.DistrictSanitaire)
	rec.Commune = NormalizeGeoName(raw.Commune)
	rec.FormationSanitaire = NormalizeGeoName(raw.FormationSanitaire)

	if rec.HasGeography() {
		// The natural key is the facility identity (commune + formation).
		// Administrative levels above it are versioned attributes of the
		// dimension, so a redistricted facility keeps its key.
		rec.GeoID = GeoID(rec.Commune, rec.FormationSanitaire)
	} else {
		rec.HasAnomalies = true
		note("geographie", "incomplete facility hierarchy", "")
	}

	// Period
	if date, err := ParsePeriod(raw.Periode); err != nil {
		rec.HasAnomalies = true
		note("periode", "unparseable period label", raw.Periode)
		n.logger.Debug("Unparseable period",
			zap.Int64("sequence", raw.Sequence),
			zap.String("periode", raw.Periode))
	} else {
		rec.PeriodeDate = date
		rec.Annee = date.Year()
		rec.Mois = int(date.Month())
		rec.Trimestre = (rec.Mois-1)/3 + 1
		if rec.Mois <= 6 {
			rec.Semestre = 1
		} else {
			rec.Semestre = 2
		}
	}

	// Counters
	rec.DecesMaternelsTotal = coerceCount("deces_maternels_total", raw.DecesMaternelsTotal)
	rec.DecesHemorragie = coerceCount("deces_hemorragie", raw.DecesHemorragie)
	rec.DecesEclampsie = coerceCount("deces_eclampsie", raw.DecesEclampsie)
	rec.DecesInfection = coerceCount("deces_infection", raw.DecesInfection)
	rec.DecesAutresComplications = coerceCount("deces_autres_complications", raw.DecesAutresComplications)
	rec.DecesNeonatals0a6Jours = coerceCount("deces_neonatals_0_6_jours", raw.DecesNeonatals0a6Jours)
	rec.DecesNeonatals7a28Jours = coerceCount("deces_neonatals_7_28_jours", raw.DecesNeonatals7a28Jours)
	rec.DecesMaternelsCommunaute = coerceCount("deces_maternels_communaute", raw.DecesMaternelsCommunaute)
	rec.DecesMaternelsAudites = coerceCount("deces_maternels_audites", raw.DecesMaternelsAudites)
	rec.DecesNeonatalsCommunaute = coerceCount("deces_neonatals_communaute", raw.DecesNeonatalsCommunaute)
	rec.NaissancesVivantes = coerceCount("naissances_vivantes", raw.NaissancesVivantes)

	// Proportions
	rec.TauxCPN1Trimestre1 = coerceProportion("proportion_cpn1_trimestre1", raw.ProportionCPN1Trimestre1)
	rec.ProportionAudits = coerceProportion("proportion_audits_maternels", raw.ProportionAuditsMaternels)

	// Derived measures. Totals come from components, never from the source.
	rec.TotalDecesMaternelsCalcule = rec.DecesHemorragie + rec.DecesEclampsie +
		rec.DecesInfection + rec.DecesAutresComplications
	rec.TotalDecesNeonatals = rec.DecesNeonatals0a6Jours + rec.DecesNeonatals7a28Jours

	if raw.DecesMaternelsTotal != nil && !math.IsNaN(*raw.DecesMaternelsTotal) &&
		rec.DecesMaternelsTotal != rec.TotalDecesMaternelsCalcule {
		rec.HasAnomalies = true
		note("deces_maternels_total", "reported total differs from sum of causes",
			fmt.Sprintf("%d != %d", rec.DecesMaternelsTotal, rec.TotalDecesMaternelsCalcule))
	}

	rec.TauxAudit = safeRatio(float64(rec.DecesMaternelsAudites), float64(maternalDeaths(&rec)))
	rec.TauxMortaliteMaternelle = safeRatio(float64(maternalDeaths(&rec)), float64(rec.NaissancesVivantes)) * maternalRateScale
	rec.TauxMortaliteNeonatale = safeRatio(float64(rec.TotalDecesNeonatals), float64(rec.NaissancesVivantes)) * neonatalRateScale

	rec.DataQualityScore = qualityScore(rec.IsComplete, rec.IsValid, rec.HasAnomalies)

	return rec, notes
}

// maternalDeaths is the authoritative maternal death count of a cleaned row:
// the recomputed sum of causes, falling back to the reported total when no
// cause-level counts were given.
func maternalDeaths(rec *model.CleanedRecord) int {
	if rec.TotalDecesMaternelsCalcule > 0 {
		return rec.TotalDecesMaternelsCalcule
	}
	return rec.DecesMaternelsTotal
}

// safeRatio divides without ever faulting: a zero denominator yields 0.
func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// qualityScore combines the three flags into a composite in [0,1]:
// completeness 0.4, validity 0.4, anomaly-free 0.2.
func qualityScore(complete, valid, anomalies bool) float64 {
	score := 0.0
	if complete {
		score += weightCompleteness
	}
	if valid {
		score += weightValidity
	}
	if !anomalies {
		score += weightAnomalyFree
	}
	return score
}
