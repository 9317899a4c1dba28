package coordinator

// migrations.go holds the coordinator's SQL schema as numbered, forward-only
// migrations embedded in the binary. The schema file is authoritative: row
// types in pqstore.go are written against it by hand.

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; each entry runs in its own transaction
// together with the bookkeeping insert.
var migrations = []string{
	// 1: initial schema.
	`
CREATE TABLE ledger_accounts (
	address TEXT PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
);

CREATE TABLE jobs (
	id           TEXT PRIMARY KEY,
	client_addr  TEXT NOT NULL,
	client_nonce TEXT NOT NULL,
	status       TEXT NOT NULL,
	submitted_at BIGINT NOT NULL,
	doc          JSONB NOT NULL,
	UNIQUE (client_addr, client_nonce)
);
CREATE INDEX jobs_status_idx ON jobs (status);

CREATE TABLE escrow (
	job_id      TEXT PRIMARY KEY REFERENCES jobs (id),
	client_addr TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	state       TEXT NOT NULL
);

CREATE TABLE receipts (
	receipt_id TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL UNIQUE,
	doc        JSONB NOT NULL
);

CREATE TABLE tenants (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	address      TEXT NOT NULL,
	api_key_hash TEXT NOT NULL,
	disabled     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE audit_log (
	seq    BIGSERIAL PRIMARY KEY,
	ts     BIGINT NOT NULL,
	job_id TEXT,
	kind   TEXT NOT NULL,
	detail TEXT
);
`,
}

// Migrate applies every migration past the database's current version. It is
// safe to call on every startup.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("could not create migration table: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("could not read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
	}
	return nil
}
