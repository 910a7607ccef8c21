// Package migration bootstraps the Postgres schema used by the record store.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type migrationStep struct {
	Name string
	SQL  string
}

// Records keep the merged entity as a JSONB body; id and entity are
// duplicated into columns for lookup and listing.
var steps = []migrationStep{
	{
		Name: "create_table_records",
		SQL: `CREATE TABLE IF NOT EXISTS records (
  id         TEXT        PRIMARY KEY,
  entity     TEXT        NOT NULL,
  body       JSONB       NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_records_entity_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_records_entity_created_at ON records (entity, created_at DESC);`,
	},
}

// EnsureMigrated checks if the 'records' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log zerolog.Logger, dbHost string) error {
	start := time.Now()
	log = log.With().Str("component", "database").Str("db_host", dbHost).Logger()

	log.Info().Str("status", "starting").Msg("db_migration_check")

	var exists bool
	err := db.QueryRowContext(ctx, "SELECT to_regclass('public.records') IS NOT NULL").Scan(&exists)
	if err != nil {
		log.Error().Err(err).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("db_migration_failed")
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info().Str("status", "success").
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("db_migration_skip")
		return nil
	}

	log.Info().Str("status", "in_progress").Msg("db_migration_start")

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error().Err(err).
				Str("migration_step", step.Name).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
				Msg("db_migration_failed")
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info().Str("status", "success").
			Str("migration_step", step.Name).
			Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
			Msg("db_migration_step")
	}

	log.Info().Str("status", "success").
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("db_migration_success")

	return nil
}
