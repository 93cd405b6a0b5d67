package database

import "context"

// The gateway provisions its own schema: kiosk boxes are installed from an
// image and there is no operator on hand to run migrations.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		mac_address      TEXT PRIMARY KEY,
		ip_address       TEXT NOT NULL,
		remaining_seconds INTEGER NOT NULL DEFAULT 0,
		total_paid       NUMERIC(10,2) NOT NULL DEFAULT 0,
		download_kbps    INTEGER NOT NULL DEFAULT 0,
		upload_kbps      INTEGER NOT NULL DEFAULT 0,
		token            TEXT UNIQUE,
		token_expires_at TIMESTAMPTZ,
		session_type     TEXT NOT NULL DEFAULT 'coin',
		is_paused        BOOLEAN NOT NULL DEFAULT FALSE,
		voucher_code     TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_ip ON sessions (ip_address)`,

	`CREATE TABLE IF NOT EXISTS rates (
		id            SERIAL PRIMARY KEY,
		amount        NUMERIC(10,2) NOT NULL,
		minutes       INTEGER NOT NULL,
		download_kbps INTEGER NOT NULL DEFAULT 0,
		upload_kbps   INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS vouchers (
		code       TEXT PRIMARY KEY,
		minutes    INTEGER NOT NULL,
		price      NUMERIC(10,2) NOT NULL DEFAULT 0,
		used_by    TEXT,
		used_at    TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS network_bridges (
		name    TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		ports   TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS network_vlans (
		name      TEXT PRIMARY KEY,
		parent    TEXT NOT NULL,
		vlan_id   INTEGER NOT NULL,
		address   TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS hotspot_scopes (
		interface   TEXT PRIMARY KEY,
		range_start TEXT NOT NULL,
		range_end   TEXT NOT NULL,
		lease_hours INTEGER NOT NULL DEFAULT 12,
		dns_server  TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS wireless_aps (
		interface  TEXT PRIMARY KEY,
		ssid       TEXT NOT NULL,
		channel    INTEGER NOT NULL DEFAULT 1,
		passphrase TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS qos_settings (
		interface       TEXT PRIMARY KEY,
		total_down_kbps INTEGER NOT NULL DEFAULT 0,
		total_up_kbps   INTEGER NOT NULL DEFAULT 0
	)`,
}

// EnsureSchema creates all tables the gateway needs. Every statement is
// idempotent so repeated boots are safe.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
