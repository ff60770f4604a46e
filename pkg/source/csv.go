// pkg/source/csv.go
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/smi-platform/smi-warehouse/pkg/model"
	"github.com/smi-platform/smi-warehouse/pkg/normalizer"
)

// Canonical column names after header normalization. These mirror the survey
// platform's export headers, shortened the same way across every source.
const (
	colPays      = "pays"
	colRegion    = "region"
	colProvince  = "province"
	colDistrict  = "district_sanitaire"
	colCommune   = "commune_arrondissement"
	colFormation = "formation_sanitaire"
	colPeriode   = "periode"

	colDecesMatTotal      = "deces_mat"
	colDecesMatHemorragie = "deces_mat_hemorragie"
	colDecesMatEclampsie  = "deces_mat_eclampsie"
	colDecesMatInfections = "deces_mat_infections"
	colDecesMatAutres     = "deces_mat_autres_complications_obstetricales"

	colDecesNeo0a6  = "deces_neo_0_6_jours"
	colDecesNeo7a28 = "deces_neo_7_28_jours"

	colDecesMatCommunaute = "nombre_de_deces_maternel_en_communaute"
	colDecesMatAudites    = "nombre_de_deces_maternels_audites"
	colDecesNeoCommunaute = "nombre_de_deces_neonatal_en_communaute"

	colNaissancesVivantes = "naissances_vivantes"
	colPropAudits         = "smi_proportion_de_deces_maternels_audites"
	colPropCPN1           = "smi_proportion_de_femmes_vues_au_1er_trimestre_pour_la_cpn1"
)

// requiredColumns is the bronze column contract: a stream missing any of
// these is rejected as a whole.
var requiredColumns = []string{
	colPays, colRegion, colProvince, colDistrict, colCommune, colFormation,
	colPeriode,
	colDecesMatTotal, colDecesMatHemorragie, colDecesMatEclampsie,
	colDecesMatInfections, colDecesMatAutres,
	colDecesNeo0a6, colDecesNeo7a28,
}

// headerReplacements shortens the survey platform's verbose column prefixes
// before snake_casing, matching the platform's historical naming.
var headerReplacements = []struct{ old, new string }{
	{"deces maternels par cause de complication obstetricale", "deces_mat"},
	{"nouveau-nes decedes de", "deces_neo"},
	{"smi-", "smi_"},
}

// NormalizeHeader folds a source column header to its canonical snake_case
// name: diacritics stripped, lowercased, prefixes shortened, punctuation
// collapsed to single underscores.
func NormalizeHeader(header string) string {
	name := strings.ToLower(normalizer.StripDiacritics(strings.TrimSpace(header)))
	name = strings.Join(strings.Fields(name), " ")

	for _, r := range headerReplacements {
		name = strings.ReplaceAll(name, r.old, r.new)
	}

	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}

	name = b.String()
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

// CSVSource streams raw records from a survey export dropped as a CSV file.
type CSVSource struct {
	file    *os.File
	reader  *csv.Reader
	name    string
	columns map[string]int
	seq     int64
	logger  *zap.Logger
}

// NewCSVSource opens a CSV export and validates its header against the
// bronze column contract. A contract mismatch is fatal for the whole run.
func NewCSVSource(path string, logger *zap.Logger) (*CSVSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read source header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[NormalizeHeader(h)] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		file.Close()
		return nil, &model.SourceFormatError{Source: filepath.Base(path), Missing: missing}
	}

	logger.Info("Opened CSV source",
		zap.String("file", filepath.Base(path)),
		zap.Int("columns", len(header)))

	return &CSVSource{
		file:    file,
		reader:  reader,
		name:    filepath.Base(path),
		columns: columns,
		logger:  logger.Named("csv-source"),
	}, nil
}

func (s *CSVSource) Name() string { return s.name }

func (s *CSVSource) Next(ctx context.Context) (*model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read source row: %w", err)
	}

	s.seq++
	cell := func(col string) string {
		idx, ok := s.columns[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	return &model.RawRecord{
		Sequence:   s.seq,
		SourceFile: s.name,

		Pays:               cell(colPays),
		Region:             cell(colRegion),
		Province:           cell(colProvince),
		DistrictSanitaire:  cell(colDistrict),
		Commune:            cell(colCommune),
		FormationSanitaire: cell(colFormation),
		Periode:            cell(colPeriode),

		DecesMaternelsTotal:      parseCell(cell(colDecesMatTotal)),
		DecesHemorragie:          parseCell(cell(colDecesMatHemorragie)),
		DecesEclampsie:           parseCell(cell(colDecesMatEclampsie)),
		DecesInfection:           parseCell(cell(colDecesMatInfections)),
		DecesAutresComplications: parseCell(cell(colDecesMatAutres)),

		DecesNeonatals0a6Jours:  parseCell(cell(colDecesNeo0a6)),
		DecesNeonatals7a28Jours: parseCell(cell(colDecesNeo7a28)),

		DecesMaternelsCommunaute: parseCell(cell(colDecesMatCommunaute)),
		DecesMaternelsAudites:    parseCell(cell(colDecesMatAudites)),
		DecesNeonatalsCommunaute: parseCell(cell(colDecesNeoCommunaute)),

		NaissancesVivantes:        parseCell(cell(colNaissancesVivantes)),
		ProportionAuditsMaternels: parseCell(cell(colPropAudits)),
		ProportionCPN1Trimestre1:  parseCell(cell(colPropCPN1)),
	}, nil
}

func (s *CSVSource) Close() error {
	return s.file.Close()
}

// parseCell reads one numeric cell: empty means missing (nil), anything that
// does not parse becomes the non-numeric sentinel for the normalizer to
// clamp and flag.
func parseCell(raw string) *float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	// Source exports use a comma decimal separator in some locales.
	trimmed = strings.ReplaceAll(trimmed, ",", ".")
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return model.NonNumeric()
	}
	return &v
}
