package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// notifyChannel carries {"op","id","old_status"} for every committed row
// change. Payloads stay small because NOTIFY caps them at 8000 bytes.
const notifyChannel = "ingestion_changes"

// Migration is one idempotent schema step.
type Migration struct {
	Name string
	Up   func(ctx context.Context, pool *pgxpool.Pool) error
}

// Migrations lists schema steps in the order they are applied.
var Migrations = []Migration{
	{Name: "create_ingestion_records", Up: execStep(`
		CREATE TABLE IF NOT EXISTS ingestion_records (
			id             TEXT PRIMARY KEY,
			source_url     TEXT NOT NULL UNIQUE,
			status         TEXT NOT NULL CHECK (status IN ('pending', 'scraped', 'parsing', 'parsed', 'failed', 'parse-failed')),
			content        TEXT,
			page_meta      JSONB,
			extracted_data JSONB,
			error_message  TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS ingestion_records_status_idx ON ingestion_records (status, created_at);
	`)},
	{Name: "notify_ingestion_changes", Up: execStep(`
		CREATE OR REPLACE FUNCTION notify_ingestion_change() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'INSERT' THEN
				PERFORM pg_notify('ingestion_changes',
					json_build_object('op', TG_OP, 'id', NEW.id)::text);
			ELSE
				PERFORM pg_notify('ingestion_changes',
					json_build_object('op', TG_OP, 'id', NEW.id, 'old_status', OLD.status)::text);
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS ingestion_records_notify ON ingestion_records;
		CREATE TRIGGER ingestion_records_notify
			AFTER INSERT OR UPDATE ON ingestion_records
			FOR EACH ROW EXECUTE FUNCTION notify_ingestion_change();
	`)},
}

func execStep(sql string) func(ctx context.Context, pool *pgxpool.Pool) error {
	return func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, sql)
		return err
	}
}

// Migrate applies every migration. Each step is safe to re-run.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range Migrations {
		if err := m.Up(ctx, s.pool); err != nil {
			s.logger.Error("migration failed", "name", m.Name, "error", err)
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		s.logger.Debug("migration completed", "name", m.Name)
	}
	return nil
}
