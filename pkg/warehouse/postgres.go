// pkg/warehouse/postgres.go
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/smi-platform/smi-warehouse/pkg/config"
	"github.com/smi-platform/smi-warehouse/pkg/connector"
	"github.com/smi-platform/smi-warehouse/pkg/dimension"
	"github.com/smi-platform/smi-warehouse/pkg/model"
	"go.uber.org/zap"
)

// Postgres is the warehouse backed by PostgreSQL. It implements the dimension
// store, the fact store, run tracking and the referential quality reader.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgres opens a connection pool to the warehouse and verifies it with a
// bounded ping.
func NewPostgres(ctx context.Context, cfg *config.PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	db, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	connector.ApplyConnectionSettings(db.DB, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)

	if err := connector.PingWithTimeout(ctx, db.DB, 10*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("Connected to PostgreSQL warehouse",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return &Postgres{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	connector.LogConnectionStats(p.logger, "postgres", p.db.DB)
	return p.db.Close()
}

// EnsureSchema creates the silver, gold and meta objects and seeds the cause
// taxonomy. Safe to call on every startup.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	for _, cause := range model.SeedCauses() {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO gold.dim_cause (code, libelle, categorie)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (code) DO NOTHING`,
			cause.Code, cause.Libelle, cause.Categorie,
		)
		if err != nil {
			return fmt.Errorf("failed to seed cause %q: %w", cause.Code, err)
		}
	}

	p.logger.Info("Warehouse schema verified")
	return nil
}

// --- dimension.Store ---

func (p *Postgres) CurrentGeography(ctx context.Context, geoID string) (*model.GeographyDimensionRow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT geo_key, geo_id, pays, region, province, district_sanitaire,
		        commune, formation_sanitaire, effective_date, expiration_date,
		        is_current, version
		   FROM gold.dim_geographie
		  WHERE geo_id = $1 AND is_current`,
		geoID,
	)

	var out model.GeographyDimensionRow
	err := row.Scan(
		&out.GeoKey, &out.GeoID, &out.Pays, &out.Region, &out.Province,
		&out.DistrictSanitaire, &out.Commune, &out.FormationSanitaire,
		&out.EffectiveDate, &out.ExpirationDate, &out.IsCurrent, &out.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current geography %q: %w", geoID, err)
	}
	return &out, nil
}

func (p *Postgres) InsertGeography(ctx context.Context, row *model.GeographyDimensionRow) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO gold.dim_geographie
		        (geo_id, pays, region, province, district_sanitaire, commune,
		         formation_sanitaire, effective_date, expiration_date,
		         is_current, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING geo_key`,
		row.GeoID, row.Pays, row.Region, row.Province, row.DistrictSanitaire,
		row.Commune, row.FormationSanitaire, row.EffectiveDate,
		row.ExpirationDate, row.IsCurrent, row.Version,
	).Scan(&row.GeoKey)
	if isUniqueViolation(err) {
		return model.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert geography version %q: %w", row.GeoID, err)
	}
	return nil
}

func (p *Postgres) ExpireAndInsertGeography(ctx context.Context, current, next *model.GeographyDimensionRow) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin SCD2 transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE gold.dim_geographie
		    SET is_current = FALSE, expiration_date = $1
		  WHERE geo_key = $2 AND is_current`,
		dimension.ExpirationFor(next.EffectiveDate), current.GeoKey,
	)
	if err != nil {
		return fmt.Errorf("failed to expire geography version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read expiration result: %w", err)
	}
	if affected == 0 {
		// Another writer already expired this version.
		return model.ErrVersionConflict
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO gold.dim_geographie
		        (geo_id, pays, region, province, district_sanitaire, commune,
		         formation_sanitaire, effective_date, expiration_date,
		         is_current, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING geo_key`,
		next.GeoID, next.Pays, next.Region, next.Province,
		next.DistrictSanitaire, next.Commune, next.FormationSanitaire,
		next.EffectiveDate, next.ExpirationDate, next.IsCurrent, next.Version,
	).Scan(&next.GeoKey)
	if isUniqueViolation(err) {
		return model.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert successor geography version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit SCD2 transaction: %w", err)
	}
	return nil
}

func (p *Postgres) EnsureTime(ctx context.Context, row model.TimeDimensionRow) (int, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO gold.dim_temps
		        (date_key, date_complete, annee, trimestre, mois, semaine,
		         jour, semestre, nom_mois, jour_semaine, saison,
		         est_debut_mois, est_fin_mois, est_jour_ferie)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (date_key) DO NOTHING`,
		row.DateKey, row.Date, row.Annee, row.Trimestre, row.Mois, row.Semaine,
		row.Jour, row.Semestre, row.NomMois, row.JourSemaine, row.Saison,
		row.EstDebutMois, row.EstFinMois, row.EstJourFerie,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure time row %d: %w", row.DateKey, err)
	}
	return row.DateKey, nil
}

func (p *Postgres) CauseByCode(ctx context.Context, code string) (*model.CauseDimensionRow, error) {
	var out model.CauseDimensionRow
	err := p.db.QueryRowContext(ctx,
		`SELECT cause_key, code, libelle, categorie FROM gold.dim_cause WHERE code = $1`,
		code,
	).Scan(&out.CauseKey, &out.Code, &out.Libelle, &out.Categorie)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cause %q: %w", code, err)
	}
	return &out, nil
}

// --- fact.Store ---

// Fact upserts are single ON CONFLICT statements keyed by the dimension
// tuple, so concurrent writers and replays converge on the latest values.
// xmax = 0 distinguishes a fresh insert from an update of an existing row.

func (p *Postgres) UpsertMaternalFact(ctx context.Context, f *model.MaternalDeathFact) (bool, error) {
	var inserted bool
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO gold.fait_deces_maternels
		        (geo_key, date_key, cause_key, nombre_deces, batch_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (geo_key, date_key, cause_key) DO UPDATE
		    SET nombre_deces = EXCLUDED.nombre_deces,
		        batch_id     = EXCLUDED.batch_id,
		        updated_at   = EXCLUDED.updated_at
		 RETURNING (xmax = 0) AS inserted`,
		f.GeoKey, f.DateKey, f.CauseKey, f.NombreDeces, f.BatchID, f.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert maternal fact: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) UpsertNeonatalFact(ctx context.Context, f *model.NeonatalDeathFact) (bool, error) {
	var inserted bool
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO gold.fait_deces_neonatals
		        (geo_key, date_key, deces_0_6_jours, deces_7_28_jours,
		         deces_communaute, total_deces, naissances_vivantes,
		         taux_mortalite_neonatale, batch_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (geo_key, date_key) DO UPDATE
		    SET deces_0_6_jours          = EXCLUDED.deces_0_6_jours,
		        deces_7_28_jours         = EXCLUDED.deces_7_28_jours,
		        deces_communaute         = EXCLUDED.deces_communaute,
		        total_deces              = EXCLUDED.total_deces,
		        naissances_vivantes      = EXCLUDED.naissances_vivantes,
		        taux_mortalite_neonatale = EXCLUDED.taux_mortalite_neonatale,
		        batch_id                 = EXCLUDED.batch_id,
		        updated_at               = EXCLUDED.updated_at
		 RETURNING (xmax = 0) AS inserted`,
		f.GeoKey, f.DateKey, f.Deces0a6Jours, f.Deces7a28Jours,
		f.DecesCommunaute, f.TotalDeces, f.NaissancesVivantes,
		f.TauxMortaliteNeonatale, f.BatchID, f.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert neonatal fact: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) UpsertIndicatorFact(ctx context.Context, f *model.IndicatorFact) (bool, error) {
	var inserted bool
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO gold.fait_indicateurs_smi
		        (geo_key, date_key, taux_cpn1_trimestre1, proportion_audits,
		         taux_audit, score_qualite_moyen, batch_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (geo_key, date_key) DO UPDATE
		    SET taux_cpn1_trimestre1 = EXCLUDED.taux_cpn1_trimestre1,
		        proportion_audits    = EXCLUDED.proportion_audits,
		        taux_audit           = EXCLUDED.taux_audit,
		        score_qualite_moyen  = EXCLUDED.score_qualite_moyen,
		        batch_id             = EXCLUDED.batch_id,
		        updated_at           = EXCLUDED.updated_at
		 RETURNING (xmax = 0) AS inserted`,
		f.GeoKey, f.DateKey, f.TauxCPN1Trimestre1, f.ProportionAudits,
		f.TauxAudit, f.ScoreQualiteMoyen, f.BatchID, f.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert indicator fact: %w", err)
	}
	return inserted, nil
}

// --- silver retention ---

// InsertCleanedRecords appends the validated rows of one batch to the silver
// layer inside a single transaction.
func (p *Postgres) InsertCleanedRecords(ctx context.Context, batchID string, records []model.CleanedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin silver transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO silver.deces_maternels_clean
		        (geo_id, pays, region, province, district_sanitaire, commune,
		         formation_sanitaire, periode_date, annee, mois,
		         deces_mat, deces_mat_hemorragie, deces_mat_eclampsie,
		         deces_mat_infection, deces_mat_autres, deces_mat_communaute,
		         deces_mat_audites, deces_neo_0_6j, deces_neo_7_28j,
		         deces_neo_communaute, naissances_vivantes,
		         taux_cpn1_trimestre1, proportion_audits,
		         is_complete, is_valid, has_anomalies, data_quality_score,
		         batch_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26,
		         $27, $28)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare silver insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var periode sql.NullTime
		if r.HasPeriod() {
			periode = sql.NullTime{Time: r.PeriodeDate, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			r.GeoID, r.Pays, r.Region, r.Province, r.DistrictSanitaire,
			r.Commune, r.FormationSanitaire, periode, r.Annee, r.Mois,
			r.TotalDecesMaternelsCalcule, r.DecesHemorragie, r.DecesEclampsie,
			r.DecesInfection, r.DecesAutresComplications,
			r.DecesMaternelsCommunaute, r.DecesMaternelsAudites,
			r.DecesNeonatals0a6Jours, r.DecesNeonatals7a28Jours,
			r.DecesNeonatalsCommunaute, r.NaissancesVivantes,
			r.TauxCPN1Trimestre1, r.ProportionAudits,
			r.IsComplete, r.IsValid, r.HasAnomalies, r.DataQualityScore,
			batchID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert silver row (sequence %d): %w", r.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit silver transaction: %w", err)
	}
	return nil
}

// --- run tracking ---

func (p *Postgres) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO meta.pipeline_runs
		        (run_id, batch_id, status, started_at, processed, inserted,
		         updated, failed, flagged)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.RunID, run.BatchID, string(run.Status), run.StartedAt,
		run.Counts.Processed, run.Counts.Inserted, run.Counts.Updated,
		run.Counts.Failed, run.Counts.Flagged,
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.RunID, err)
	}
	return nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	var completed sql.NullTime
	if !run.CompletedAt.IsZero() {
		completed = sql.NullTime{Time: run.CompletedAt, Valid: true}
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE meta.pipeline_runs
		    SET status = $1, completed_at = $2, duration_ms = $3,
		        processed = $4, inserted = $5, updated = $6, failed = $7,
		        flagged = $8
		  WHERE run_id = $9`,
		string(run.Status), completed, run.Duration.Milliseconds(),
		run.Counts.Processed, run.Counts.Inserted, run.Counts.Updated,
		run.Counts.Failed, run.Counts.Flagged, run.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.RunID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read run update result: %w", err)
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertQualityChecks(ctx context.Context, checks []model.QualityCheck) error {
	for _, check := range checks {
		detail, err := json.Marshal(check.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode quality check detail: %w", err)
		}
		_, err = p.db.ExecContext(ctx,
			`INSERT INTO meta.quality_checks (run_id, rule, passed, detail, checked_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			check.RunID, check.Rule, check.Passed, detail, check.CheckedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert quality check %q: %w", check.Rule, err)
		}
	}
	return nil
}

// --- quality.ReferenceReader ---

// DanglingFactReferences scans each fact table for dimension keys without a
// matching dimension row.
func (p *Postgres) DanglingFactReferences(ctx context.Context) ([]string, error) {
	queries := []struct {
		label string
		query string
	}{
		{
			label: "fait_deces_maternels",
			query: `SELECT COUNT(*) FROM gold.fait_deces_maternels f
			        LEFT JOIN gold.dim_geographie g ON g.geo_key = f.geo_key
			        LEFT JOIN gold.dim_temps t ON t.date_key = f.date_key
			        LEFT JOIN gold.dim_cause c ON c.cause_key = f.cause_key
			        WHERE g.geo_key IS NULL OR t.date_key IS NULL OR c.cause_key IS NULL`,
		},
		{
			label: "fait_deces_neonatals",
			query: `SELECT COUNT(*) FROM gold.fait_deces_neonatals f
			        LEFT JOIN gold.dim_geographie g ON g.geo_key = f.geo_key
			        LEFT JOIN gold.dim_temps t ON t.date_key = f.date_key
			        WHERE g.geo_key IS NULL OR t.date_key IS NULL`,
		},
		{
			label: "fait_indicateurs_smi",
			query: `SELECT COUNT(*) FROM gold.fait_indicateurs_smi f
			        LEFT JOIN gold.dim_geographie g ON g.geo_key = f.geo_key
			        LEFT JOIN gold.dim_temps t ON t.date_key = f.date_key
			        WHERE g.geo_key IS NULL OR t.date_key IS NULL`,
		},
	}

	var dangling []string
	for _, q := range queries {
		var count int
		if err := p.db.QueryRowContext(ctx, q.query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to check references in %s: %w", q.label, err)
		}
		if count > 0 {
			dangling = append(dangling, fmt.Sprintf("%s: %d rows with missing dimension keys", q.label, count))
		}
	}
	return dangling, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
