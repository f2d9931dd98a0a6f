package postgres

import "github.com/jmoiron/sqlx"

// schema mirrors the hosted database's tables. Statements are idempotent
// so startup against an already-provisioned database is a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    group_name TEXT NOT NULL,
    group_photo TEXT NOT NULL DEFAULT '',
    group_description TEXT NOT NULL DEFAULT '',
    total_amount DOUBLE PRECISION NOT NULL,
    number_of_people INTEGER NOT NULL,
    split_amount DOUBLE PRECISION NOT NULL,
    amount_paid DOUBLE PRECISION NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'open',
    creator_address TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS group_payments (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    payer_address TEXT NOT NULL,
    amount_paid DOUBLE PRECISION NOT NULL,
    signature TEXT NOT NULL DEFAULT '',
    paid_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    wallet_address TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_intents (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    payer_address TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    signature TEXT NOT NULL,
    last_valid_block_height BIGINT NOT NULL,
    submitted_at BIGINT NOT NULL,
    resolved BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_group_payments_group_id ON group_payments(group_id);
CREATE INDEX IF NOT EXISTS idx_payment_intents_group_id ON payment_intents(group_id, resolved);
CREATE INDEX IF NOT EXISTS idx_groups_creator_address ON groups(creator_address);
CREATE UNIQUE INDEX IF NOT EXISTS idx_group_payments_signature
    ON group_payments(signature) WHERE signature != '';
`

// runMigrations executes the schema setup.
func runMigrations(db *sqlx.DB) error {
	_, err := db.Exec(schema)
	return err
}
