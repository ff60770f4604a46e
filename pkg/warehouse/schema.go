// pkg/warehouse/schema.go
package warehouse

// schemaStatements creates the silver, gold and meta layers. Statements are
// idempotent so EnsureSchema can run on every startup.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS silver`,
	`CREATE SCHEMA IF NOT EXISTS gold`,
	`CREATE SCHEMA IF NOT EXISTS meta`,

	`CREATE TABLE IF NOT EXISTS silver.deces_maternels_clean (
		id                  BIGSERIAL PRIMARY KEY,
		geo_id              TEXT NOT NULL,
		pays                TEXT NOT NULL,
		region              TEXT NOT NULL,
		province            TEXT NOT NULL,
		district_sanitaire  TEXT NOT NULL,
		commune             TEXT NOT NULL,
		formation_sanitaire TEXT NOT NULL,
		periode_date        DATE,
		annee               INT,
		mois                INT,
		deces_mat           INT NOT NULL,
		deces_mat_hemorragie INT NOT NULL,
		deces_mat_eclampsie  INT NOT NULL,
		deces_mat_infection  INT NOT NULL,
		deces_mat_autres     INT NOT NULL,
		deces_mat_communaute INT NOT NULL,
		deces_mat_audites    INT NOT NULL,
		deces_neo_0_6j       INT NOT NULL,
		deces_neo_7_28j      INT NOT NULL,
		deces_neo_communaute INT NOT NULL,
		naissances_vivantes  INT NOT NULL,
		taux_cpn1_trimestre1 DOUBLE PRECISION NOT NULL,
		proportion_audits    DOUBLE PRECISION NOT NULL,
		is_complete          BOOLEAN NOT NULL,
		is_valid             BOOLEAN NOT NULL,
		has_anomalies        BOOLEAN NOT NULL,
		data_quality_score   DOUBLE PRECISION NOT NULL,
		batch_id             TEXT NOT NULL,
		loaded_at            TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS gold.dim_geographie (
		geo_key             BIGSERIAL PRIMARY KEY,
		geo_id              TEXT NOT NULL,
		pays                TEXT NOT NULL,
		region              TEXT NOT NULL,
		province            TEXT NOT NULL,
		district_sanitaire  TEXT NOT NULL,
		commune             TEXT NOT NULL,
		formation_sanitaire TEXT NOT NULL,
		effective_date      DATE NOT NULL,
		expiration_date     DATE NOT NULL,
		is_current          BOOLEAN NOT NULL,
		version             INT NOT NULL
	)`,
	// One live version per facility. Violations surface as 23505 and are
	// translated to a version conflict for the resolver to retry.
	`CREATE UNIQUE INDEX IF NOT EXISTS dim_geographie_current_uq
		ON gold.dim_geographie (geo_id) WHERE is_current`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dim_geographie_version_uq
		ON gold.dim_geographie (geo_id, version)`,

	`CREATE TABLE IF NOT EXISTS gold.dim_temps (
		date_key      INT PRIMARY KEY,
		date_complete DATE NOT NULL,
		annee         INT NOT NULL,
		trimestre     INT NOT NULL,
		mois          INT NOT NULL,
		semaine       INT NOT NULL,
		jour          INT NOT NULL,
		semestre      INT NOT NULL,
		nom_mois      TEXT NOT NULL,
		jour_semaine  TEXT NOT NULL,
		saison        TEXT NOT NULL,
		est_debut_mois BOOLEAN NOT NULL,
		est_fin_mois   BOOLEAN NOT NULL,
		est_jour_ferie BOOLEAN NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS gold.dim_cause (
		cause_key BIGSERIAL PRIMARY KEY,
		code      TEXT NOT NULL UNIQUE,
		libelle   TEXT NOT NULL,
		categorie TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS gold.fait_deces_maternels (
		geo_key      BIGINT NOT NULL REFERENCES gold.dim_geographie (geo_key),
		date_key     INT NOT NULL REFERENCES gold.dim_temps (date_key),
		cause_key    BIGINT NOT NULL REFERENCES gold.dim_cause (cause_key),
		nombre_deces INT NOT NULL,
		batch_id     TEXT NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (geo_key, date_key, cause_key)
	)`,

	`CREATE TABLE IF NOT EXISTS gold.fait_deces_neonatals (
		geo_key             BIGINT NOT NULL REFERENCES gold.dim_geographie (geo_key),
		date_key            INT NOT NULL REFERENCES gold.dim_temps (date_key),
		deces_0_6_jours     INT NOT NULL,
		deces_7_28_jours    INT NOT NULL,
		deces_communaute    INT NOT NULL,
		total_deces         INT NOT NULL,
		naissances_vivantes INT NOT NULL,
		taux_mortalite_neonatale DOUBLE PRECISION NOT NULL,
		batch_id            TEXT NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (geo_key, date_key)
	)`,

	`CREATE TABLE IF NOT EXISTS gold.fait_indicateurs_smi (
		geo_key              BIGINT NOT NULL REFERENCES gold.dim_geographie (geo_key),
		date_key             INT NOT NULL REFERENCES gold.dim_temps (date_key),
		taux_cpn1_trimestre1 DOUBLE PRECISION NOT NULL,
		proportion_audits    DOUBLE PRECISION NOT NULL,
		taux_audit           DOUBLE PRECISION NOT NULL,
		score_qualite_moyen  DOUBLE PRECISION NOT NULL,
		batch_id             TEXT NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (geo_key, date_key)
	)`,

	`CREATE TABLE IF NOT EXISTS meta.pipeline_runs (
		run_id       TEXT PRIMARY KEY,
		batch_id     TEXT NOT NULL,
		status       TEXT NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		duration_ms  BIGINT,
		processed    INT NOT NULL DEFAULT 0,
		inserted     INT NOT NULL DEFAULT 0,
		updated      INT NOT NULL DEFAULT 0,
		failed       INT NOT NULL DEFAULT 0,
		flagged      INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS meta.quality_checks (
		id         BIGSERIAL PRIMARY KEY,
		run_id     TEXT NOT NULL,
		rule       TEXT NOT NULL,
		passed     BOOLEAN NOT NULL,
		detail     JSONB,
		checked_at TIMESTAMPTZ NOT NULL
	)`,
}
