// pkg/dimension/time.go
package dimension

import (
	"time"

	"github.com/smi-platform/smi-warehouse/pkg/model"
)

var frenchMonthNames = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

var frenchDayNames = [...]string{
	"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi",
}

// Fixed-date national holidays observed in reporting.
var fixedHolidays = map[[2]int]bool{
	{1, 1}:   true, // jour de l'an
	{5, 1}:   true, // fête du travail
	{8, 5}:   true, // fête de l'indépendance
	{12, 11}: true, // proclamation de la république
	{12, 25}: true, // Noël
}

// DateKey returns the deterministic YYYYMMDD integer key of a date.
func DateKey(date time.Time) int {
	return date.Year()*10000 + int(date.Month())*100 + date.Day()
}

// BuildTimeRow derives every dim_temps field from a date. Pure function:
// the same date always produces the same row.
func BuildTimeRow(date time.Time) model.TimeDimensionRow {
	date = date.UTC().Truncate(24 * time.Hour)
	_, week := date.ISOWeek()
	month := int(date.Month())

	semestre := 1
	if month > 6 {
		semestre = 2
	}

	// Sahel calendar: the rainy season spans June through October.
	saison := "saison sèche"
	if month >= 6 && month <= 10 {
		saison = "saison des pluies"
	}

	lastOfMonth := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, -1)

	return model.TimeDimensionRow{
		DateKey: DateKey(date),
		Date:    date,

		Annee:     date.Year(),
		Trimestre: (month-1)/3 + 1,
		Mois:      month,
		Semaine:   week,
		Jour:      date.Day(),
		Semestre:  semestre,

		NomMois:     frenchMonthNames[month-1],
		JourSemaine: frenchDayNames[int(date.Weekday())],
		Saison:      saison,

		EstDebutMois: date.Day() == 1,
		EstFinMois:   date.Day() == lastOfMonth.Day(),
		EstJourFerie: fixedHolidays[[2]int{month, date.Day()}],
	}
}
