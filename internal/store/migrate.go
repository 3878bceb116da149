package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4/database"
)

const versionTable = "schema_migrations"

// migrationDriver adapts our open connection to golang-migrate's database
// driver interface. The stock sqlite drivers each pin their own CGo or
// WASM runtime; running migrations through the connection we already hold
// keeps a single sqlite implementation in the binary.
type migrationDriver struct {
	db     *sql.DB
	locked atomic.Bool
}

var _ database.Driver = (*migrationDriver)(nil)

// Open is part of the driver interface; the instance is already bound to
// a connection, so the url is ignored.
func (d *migrationDriver) Open(string) (database.Driver, error) {
	return d, nil
}

// Close is a no-op. The connection is owned by DB, not the migrator.
func (d *migrationDriver) Close() error {
	return nil
}

func (d *migrationDriver) Lock() error {
	if !d.locked.CompareAndSwap(false, true) {
		return database.ErrLocked
	}
	return nil
}

func (d *migrationDriver) Unlock() error {
	d.locked.Store(false)
	return nil
}

func (d *migrationDriver) Run(migration io.Reader) error {
	stmts, err := io.ReadAll(migration)
	if err != nil {
		return fmt.Errorf("failed to read migration: %w", err)
	}
	if _, err := d.db.Exec(string(stmts)); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

func (d *migrationDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin version update: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM " + versionTable); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear version: %w", err)
	}

	// NilVersion means no migration has been applied; keep the table empty.
	if version >= 0 {
		if _, err := tx.Exec("INSERT INTO "+versionTable+" (version, dirty) VALUES (?, ?)", version, dirty); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version update: %w", err)
	}
	return nil
}

func (d *migrationDriver) Version() (int, bool, error) {
	var (
		version int
		dirty   bool
	)
	err := d.db.QueryRow("SELECT version, dirty FROM " + versionTable + " LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

func (d *migrationDriver) Drop() error {
	rows, err := d.db.Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	for _, name := range tables {
		if _, err := d.db.Exec("DROP TABLE IF EXISTS " + name); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", name, err)
		}
	}
	return nil
}

func (d *migrationDriver) ensureVersionTable() error {
	_, err := d.db.Exec("CREATE TABLE IF NOT EXISTS " + versionTable + " (version BIGINT NOT NULL PRIMARY KEY, dirty BOOLEAN NOT NULL)")
	if err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}
	return nil
}
