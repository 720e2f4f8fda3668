// Package storage persists the normalized case hierarchy, the raw payload
// archive, ingestion checkpoints and the run ledger in PostgreSQL or SQLite.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/database"
)

// schema uses {{serial}}, {{bigint}}, {{ts}}, {{blob}} and {{json}}
// placeholders for the column types that differ per dialect.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cases (
		id {{serial}},
		external_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		court TEXT,
		state TEXT,
		jurisdiction TEXT,
		status TEXT,
		remote_updated_at {{ts}},
		documents_url TEXT,
		dockets_url TEXT,
		metadata_json {{json}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dockets (
		id {{serial}},
		external_id TEXT NOT NULL UNIQUE,
		case_id {{bigint}} NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		case_external_id TEXT NOT NULL,
		docket_number TEXT,
		court TEXT,
		state TEXT,
		is_main BOOLEAN,
		metadata_json {{json}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dockets_case_id ON dockets (case_id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id {{serial}},
		external_id TEXT NOT NULL UNIQUE,
		case_id {{bigint}} NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		docket_id {{bigint}} NOT NULL REFERENCES dockets(id) ON DELETE CASCADE,
		case_external_id TEXT NOT NULL,
		docket_external_id TEXT NOT NULL,
		title TEXT NOT NULL,
		document_type TEXT,
		filed_date {{ts}},
		court TEXT,
		subject TEXT,
		external_url TEXT,
		text_url TEXT,
		has_text BOOLEAN NOT NULL,
		text TEXT,
		summary TEXT,
		metadata_json {{json}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_docket_id ON documents (docket_id)`,
	`CREATE TABLE IF NOT EXISTS raw_api_payloads (
		id {{serial}},
		content_hash TEXT NOT NULL UNIQUE,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		source TEXT,
		first_run_id TEXT,
		payload {{blob}} NOT NULL,
		first_seen_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at {{ts}} NOT NULL,
		finished_at {{ts}},
		requested_since {{ts}},
		effective_since {{ts}},
		case_limit INTEGER,
		checkpoint_key TEXT,
		resumed_from_checkpoint BOOLEAN NOT NULL,
		cases_ingested INTEGER NOT NULL DEFAULT 0,
		dockets_ingested INTEGER NOT NULL DEFAULT 0,
		documents_ingested INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_checkpoints (
		key TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		last_case_external_id TEXT,
		last_case_updated_at {{ts}},
		last_run_id TEXT,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
}

func render(stmt string, d database.Dialect) string {
	return strings.NewReplacer(
		"{{serial}}", d.SerialPK,
		"{{bigint}}", d.BigInt,
		"{{ts}}", d.Timestamp,
		"{{blob}}", d.Blob,
		"{{json}}", d.JSON,
	).Replace(stmt)
}

// Migrate creates every table and index that does not exist yet. It is safe
// to run before each invocation.
func Migrate(ctx context.Context, db *database.Client) error {
	for _, stmt := range schema {
		if _, err := db.DB.ExecContext(ctx, render(stmt, db.Dialect)); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
