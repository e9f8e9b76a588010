package migrations

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SchemaVersion is bumped whenever a statement below changes shape.
const SchemaVersion = 2

// Run creates the database schema required by the inventory service.
// Every statement is idempotent so it is safe to call on each start.
func Run(db *sqlx.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS _schema_version (
            version INTEGER PRIMARY KEY
        );`,
		`CREATE TABLE IF NOT EXISTS locations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            type TEXT NOT NULL CHECK(type IN ('HUB', 'WARD', 'REMOTE')),
            parent_hub_id INTEGER,
            version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(parent_hub_id) REFERENCES locations(id)
        );`,
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL CHECK(role IN ('PHARMACIST', 'PHARMACY_TECH', 'NURSE')),
            location_id INTEGER NOT NULL,
            can_delegate INTEGER NOT NULL DEFAULT 0,
            is_supervisor INTEGER NOT NULL DEFAULT 0,
            email TEXT,
            mobile_number TEXT,
            is_active INTEGER NOT NULL DEFAULT 1,
            must_change_password INTEGER NOT NULL DEFAULT 0,
            reset_token TEXT,
            reset_token_expiry TEXT,
            version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(location_id) REFERENCES locations(id)
        );`,
		`CREATE TABLE IF NOT EXISTS drugs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            category TEXT,
            storage_temp TEXT,
            unit_price REAL NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stock_levels (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            location_id INTEGER NOT NULL,
            drug_id INTEGER NOT NULL,
            min_stock INTEGER NOT NULL DEFAULT 0,
            version INTEGER NOT NULL DEFAULT 1,
            UNIQUE(location_id, drug_id),
            FOREIGN KEY(location_id) REFERENCES locations(id),
            FOREIGN KEY(drug_id) REFERENCES drugs(id)
        );`,
		`CREATE TABLE IF NOT EXISTS vials (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            asset_id TEXT NOT NULL UNIQUE,
            drug_id INTEGER NOT NULL,
            batch_number TEXT NOT NULL,
            expiry_date TEXT NOT NULL,
            location_id INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'AVAILABLE'
                CHECK(status IN ('AVAILABLE', 'USED_CLINICAL', 'DISCARDED', 'IN_TRANSIT')),
            discard_reason TEXT,
            patient_mrn TEXT,
            clinical_notes TEXT,
            goods_receipt_number TEXT,
            disposal_register_number TEXT,
            used_at TEXT,
            used_by INTEGER,
            version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(drug_id) REFERENCES drugs(id),
            FOREIGN KEY(location_id) REFERENCES locations(id),
            FOREIGN KEY(used_by) REFERENCES users(id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_vials_location_status ON vials(location_id, status);`,
		`CREATE TABLE IF NOT EXISTS transfers (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            from_location_id INTEGER NOT NULL,
            to_location_id INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'PENDING'
                CHECK(status IN ('PENDING', 'IN_TRANSIT', 'COMPLETED', 'CANCELLED')),
            created_by INTEGER NOT NULL,
            approved_by INTEGER,
            completed_by INTEGER,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            approved_at TEXT,
            completed_at TEXT,
            version INTEGER NOT NULL DEFAULT 1,
            FOREIGN KEY(from_location_id) REFERENCES locations(id),
            FOREIGN KEY(to_location_id) REFERENCES locations(id),
            FOREIGN KEY(created_by) REFERENCES users(id),
            FOREIGN KEY(approved_by) REFERENCES users(id),
            FOREIGN KEY(completed_by) REFERENCES users(id)
        );`,
		`CREATE TABLE IF NOT EXISTS transfer_items (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            transfer_id INTEGER NOT NULL,
            vial_id INTEGER NOT NULL,
            FOREIGN KEY(transfer_id) REFERENCES transfers(id),
            FOREIGN KEY(vial_id) REFERENCES vials(id)
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            action TEXT NOT NULL,
            details TEXT,
            timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id)
        );`,
		`CREATE TABLE IF NOT EXISTS settings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            location_id INTEGER NOT NULL UNIQUE,
            printer_ip TEXT,
            printer_port TEXT,
            label_width INTEGER NOT NULL DEFAULT 50,
            label_height INTEGER NOT NULL DEFAULT 25,
            margin_top INTEGER NOT NULL DEFAULT 0,
            margin_right INTEGER NOT NULL DEFAULT 0,
            updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(location_id) REFERENCES locations(id)
        );`,
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO _schema_version (version) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM _schema_version WHERE version >= ?)`, SchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Version reports the highest schema version recorded in the database.
func Version(db *sqlx.DB) (int, error) {
	var v int
	err := db.Get(&v, `SELECT COALESCE(MAX(version), 0) FROM _schema_version`)
	return v, err
}
