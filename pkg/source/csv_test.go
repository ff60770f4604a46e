// pkg/source/csv_test.go
package source

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/smi-platform/smi-warehouse/pkg/model"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Pays", "pays"},
		{"District Sanitaire", "district_sanitaire"},
		{"Commune / Arrondissement", "commune_arrondissement"},
		{"Période", "periode"},
		{"Décès maternels par cause de complication obstétricale", "deces_mat"},
		{"Décès maternels par cause de complication obstétricale - Hémorragie", "deces_mat_hemorragie"},
		{"Nouveau-nés décédés de 0-6 jours", "deces_neo_0_6_jours"},
		{"SMI-Proportion de décès maternels audités", "smi_proportion_de_deces_maternels_audites"},
		{"  Naissances   Vivantes ", "naissances_vivantes"},
	}
	for _, tc := range cases {
		if got := NormalizeHeader(tc.in); got != tc.want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

const validHeader = "Pays,Région,Province,District Sanitaire,Commune / Arrondissement," +
	"Formation Sanitaire,Période," +
	"Décès maternels par cause de complication obstétricale," +
	"Décès maternels par cause de complication obstétricale - Hémorragie," +
	"Décès maternels par cause de complication obstétricale - Éclampsie," +
	"Décès maternels par cause de complication obstétricale - Infections," +
	"Décès maternels par cause de complication obstétricale - Autres complications obstétricales," +
	"Nouveau-nés décédés de 0-6 jours,Nouveau-nés décédés de 7-28 jours," +
	"Nombre de décès maternel en communauté,Nombre de décès maternels audités," +
	"Nombre de décès néonatal en communauté,Naissances vivantes," +
	"SMI-Proportion de décès maternels audités," +
	"SMI-Proportion de femmes vues au 1er trimestre pour la CPN1"

type CSVSourceSuite struct {
	suite.Suite
	ctx context.Context
	dir string
}

func (s *CSVSourceSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
}

func TestCSVSourceSuite(t *testing.T) {
	suite.Run(t, new(CSVSourceSuite))
}

func (s *CSVSourceSuite) writeFile(name, content string) string {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (s *CSVSourceSuite) TestReadsRecords() {
	content := validHeader + "\n" +
		"Burkina Faso,Centre,Kadiogo,Baskuy,Ouagadougou,CSPS Secteur 4,Janvier 2024," +
		"3,2,1,0,0,2,1,1,2,0,150,\"60,5\",70\n" +
		"Burkina Faso,Centre,Kadiogo,Baskuy,Ouagadougou,CSPS Secteur 5,Janvier 2024," +
		",1,,0,0,1,0,0,1,0,abc,,\n"

	src, err := NewCSVSource(s.writeFile("export.csv", content), nil)
	s.Require().NoError(err)
	defer src.Close()

	s.Equal("export.csv", src.Name())

	first, err := src.Next(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), first.Sequence)
	s.Equal("Burkina Faso", first.Pays)
	s.Equal("CSPS Secteur 4", first.FormationSanitaire)
	s.Equal("Janvier 2024", first.Periode)
	s.Require().NotNil(first.DecesMaternelsTotal)
	s.InDelta(3, *first.DecesMaternelsTotal, 1e-9)
	// Comma decimal separator is accepted.
	s.Require().NotNil(first.ProportionAuditsMaternels)
	s.InDelta(60.5, *first.ProportionAuditsMaternels, 1e-9)

	second, err := src.Next(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), second.Sequence)
	// Empty cells stay missing, unreadable cells become the sentinel.
	s.Nil(second.DecesMaternelsTotal)
	s.Nil(second.ProportionAuditsMaternels)
	s.Require().NotNil(second.NaissancesVivantes)
	s.True(math.IsNaN(*second.NaissancesVivantes))

	_, err = src.Next(s.ctx)
	s.Require().ErrorIs(err, io.EOF)
}

func (s *CSVSourceSuite) TestRejectsMissingColumns() {
	content := "Pays,Région,Période\nBurkina Faso,Centre,Janvier 2024\n"

	_, err := NewCSVSource(s.writeFile("broken.csv", content), nil)
	var formatErr *model.SourceFormatError
	s.Require().ErrorAs(err, &formatErr)
	s.Equal("broken.csv", formatErr.Source)
	s.Contains(formatErr.Missing, "province")
	s.Contains(formatErr.Missing, "deces_mat")
}

func (s *CSVSourceSuite) TestMissingFile() {
	_, err := NewCSVSource(filepath.Join(s.dir, "nope.csv"), nil)
	s.Require().Error(err)
	s.False(errors.Is(err, io.EOF))
}

func (s *CSVSourceSuite) TestCancelledContext() {
	content := validHeader + "\n"
	src, err := NewCSVSource(s.writeFile("export.csv", content), nil)
	s.Require().NoError(err)
	defer src.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err = src.Next(ctx)
	s.Require().ErrorIs(err, context.Canceled)
}
