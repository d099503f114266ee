package sqlite

import (
	"context"
	"fmt"
)

// columnSpec is one column of an additive migration: name plus the DDL
// fragment to append after ADD COLUMN.
type columnSpec struct {
	name string
	ddl  string
}

var tables = []struct {
	name    string
	create  string
	columns []columnSpec
}{
	{
		name: "queue_entries",
		create: `CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY
		)`,
		columns: []columnSpec{
			{"contact_id", "TEXT NOT NULL DEFAULT ''"},
			{"phone", "TEXT NOT NULL DEFAULT ''"},
			{"first_name", "TEXT NOT NULL DEFAULT ''"},
			{"full_name", "TEXT NOT NULL DEFAULT ''"},
			{"email", "TEXT NOT NULL DEFAULT ''"},
			{"full_address", "TEXT NOT NULL DEFAULT ''"},
			{"attempt_index", "INTEGER NOT NULL DEFAULT 0"},
			{"status", "TEXT NOT NULL DEFAULT 'pending'"},
			{"scheduled_at", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"first_attempt_at", "TEXT NOT NULL DEFAULT ''"},
			{"last_attempt_at", "TEXT"},
			{"last_error", "TEXT NOT NULL DEFAULT ''"},
			{"call_options_blob", "BLOB"},
			{"initial_signed_url", "TEXT NOT NULL DEFAULT ''"},
			{"past_call_summary", "TEXT NOT NULL DEFAULT ''"},
			{"original_conv_id", "TEXT NOT NULL DEFAULT ''"},
			{"is_abrupt_retry", "INTEGER NOT NULL DEFAULT 0"},
		},
	},
	{
		name: "call_state",
		create: `CREATE TABLE IF NOT EXISTS call_state (
			call_id TEXT PRIMARY KEY
		)`,
		columns: []columnSpec{
			{"contact_id", "TEXT NOT NULL DEFAULT ''"},
			{"phone", "TEXT NOT NULL DEFAULT ''"},
			{"attempt_index", "INTEGER NOT NULL DEFAULT 0"},
			{"status", "TEXT NOT NULL DEFAULT ''"},
			{"created_at", "TEXT NOT NULL DEFAULT ''"},
			{"signed_url", "TEXT NOT NULL DEFAULT ''"},
			{"first_name", "TEXT NOT NULL DEFAULT ''"},
			{"full_name", "TEXT NOT NULL DEFAULT ''"},
			{"email", "TEXT NOT NULL DEFAULT ''"},
			{"full_address", "TEXT NOT NULL DEFAULT ''"},
			{"answered_by", "TEXT NOT NULL DEFAULT ''"},
			{"conversation_id", "TEXT NOT NULL DEFAULT ''"},
			{"first_attempt_at", "TEXT NOT NULL DEFAULT ''"},
			{"retry_scheduled", "INTEGER NOT NULL DEFAULT 0"},
			{"past_call_summary", "TEXT NOT NULL DEFAULT ''"},
			{"original_conv_id", "TEXT NOT NULL DEFAULT ''"},
		},
	},
	{
		name: "oauth_tokens",
		create: `CREATE TABLE IF NOT EXISTS oauth_tokens (
			location_id TEXT PRIMARY KEY
		)`,
		columns: []columnSpec{
			{"access_token", "TEXT NOT NULL DEFAULT ''"},
			{"refresh_token", "TEXT NOT NULL DEFAULT ''"},
			{"expires_at", "TEXT NOT NULL DEFAULT ''"},
		},
	},
}

// migrate creates the three required tables if absent, then adds any
// missing columns. Never drops or renames a column: schema evolution is
// additive only.
func (s *Store) migrate(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, t.create); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}

		existing, err := s.existingColumns(ctx, t.name)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", t.name, err)
		}

		for _, col := range t.columns {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t.name, col.name, col.ddl)
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.name, col.name, err)
			}
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_dispatch ON queue_entries (status, scheduled_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_stale ON queue_entries (status, last_attempt_at)`,
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

func (s *Store) existingColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
