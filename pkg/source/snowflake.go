// pkg/source/snowflake.go
package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/smi-platform/smi-warehouse/pkg/config"
	"github.com/smi-platform/smi-warehouse/pkg/connector"
	"github.com/smi-platform/smi-warehouse/pkg/model"
)

// SnowflakeSource streams raw records from the national staging warehouse,
// where the survey platform drops its monthly exports. Rows are read once,
// in staging order, from the configured staging table.
type SnowflakeSource struct {
	db     *sql.DB
	rows   *sql.Rows
	cancel context.CancelFunc
	name   string
	seq    int64
	logger *zap.Logger
}

// NewSnowflakeSource connects to Snowflake and opens a cursor over the
// staging table. The column contract is validated before the first row is
// returned; a mismatch fails the whole run.
func NewSnowflakeSource(ctx context.Context, cfg *config.SnowflakeConfig, logger *zap.Logger) (*SnowflakeSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("snowflake-source")

	logger.Info("Connecting to Snowflake staging",
		zap.String("account", cfg.Account),
		zap.String("database", cfg.Database),
		zap.String("warehouse", cfg.Warehouse),
		zap.String("table", cfg.StagingTable))

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Snowflake connection: %w", err)
	}

	if err := connector.PingWithTimeout(ctx, db, 10*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Snowflake: %w", err)
	}

	// The cursor stays open for the whole run; the deadline bounds it and is
	// released on Close.
	queryCtx := ctx
	cancel := context.CancelFunc(func() {})
	if cfg.QueryTimeout > 0 {
		queryCtx, cancel = context.WithTimeout(ctx, cfg.QueryTimeout)
	}

	query := fmt.Sprintf(`
		SELECT
			PAYS, REGION, PROVINCE, DISTRICT_SANITAIRE, COMMUNE, FORMATION_SANITAIRE,
			PERIODE,
			DECES_MAT_TOTAL, DECES_MAT_HEMORRAGIE, DECES_MAT_ECLAMPSIE,
			DECES_MAT_INFECTIONS, DECES_MAT_AUTRES_COMPLICATIONS,
			DECES_NEO_0_6_JOURS, DECES_NEO_7_28_JOURS,
			DECES_MATERNELS_COMMUNAUTE, DECES_MATERNELS_AUDITES, DECES_NEONATALS_COMMUNAUTE,
			NAISSANCES_VIVANTES, PROPORTION_AUDITS_MATERNELS, PROPORTION_CPN1_TRIMESTRE1
		FROM %s
		ORDER BY PERIODE, FORMATION_SANITAIRE`, cfg.StagingTable)

	rows, err := db.QueryContext(queryCtx, query)
	if err != nil {
		cancel()
		db.Close()
		return nil, &model.SourceFormatError{
			Source:  cfg.StagingTable,
			Missing: []string{fmt.Sprintf("staging query failed: %v", err)},
		}
	}

	return &SnowflakeSource{
		db:     db,
		rows:   rows,
		cancel: cancel,
		name:   cfg.StagingTable,
		logger: logger,
	}, nil
}

func (s *SnowflakeSource) Name() string { return s.name }

func (s *SnowflakeSource) Next(ctx context.Context) (*model.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate staging rows: %w", err)
		}
		return nil, io.EOF
	}

	var (
		geo  [6]sql.NullString
		per  sql.NullString
		nums [13]sql.NullFloat64
	)
	dest := make([]any, 0, 20)
	for i := range geo {
		dest = append(dest, &geo[i])
	}
	dest = append(dest, &per)
	for i := range nums {
		dest = append(dest, &nums[i])
	}

	if err := s.rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan staging row: %w", err)
	}

	s.seq++
	return &model.RawRecord{
		Sequence:   s.seq,
		SourceFile: s.name,

		Pays:               geo[0].String,
		Region:             geo[1].String,
		Province:           geo[2].String,
		DistrictSanitaire:  geo[3].String,
		Commune:            geo[4].String,
		FormationSanitaire: geo[5].String,
		Periode:            per.String,

		DecesMaternelsTotal:      nullableFloat(nums[0]),
		DecesHemorragie:          nullableFloat(nums[1]),
		DecesEclampsie:           nullableFloat(nums[2]),
		DecesInfection:           nullableFloat(nums[3]),
		DecesAutresComplications: nullableFloat(nums[4]),

		DecesNeonatals0a6Jours:  nullableFloat(nums[5]),
		DecesNeonatals7a28Jours: nullableFloat(nums[6]),

		DecesMaternelsCommunaute: nullableFloat(nums[7]),
		DecesMaternelsAudites:    nullableFloat(nums[8]),
		DecesNeonatalsCommunaute: nullableFloat(nums[9]),

		NaissancesVivantes:        nullableFloat(nums[10]),
		ProportionAuditsMaternels: nullableFloat(nums[11]),
		ProportionCPN1Trimestre1:  nullableFloat(nums[12]),
	}, nil
}

func (s *SnowflakeSource) Close() error {
	if s.rows != nil {
		s.rows.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	return s.db.Close()
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
