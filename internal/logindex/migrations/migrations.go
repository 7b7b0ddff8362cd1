// Package migrations embeds and applies the audit index schema.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFiles embed.FS

// Status describes an index schema relative to the embedded migrations.
type Status struct {
	Version   uint
	Latest    uint
	Versioned bool // false for a database migrate has never touched
	Dirty     bool
}

// Current reports whether the schema is exactly at the latest version.
func (s Status) Current() bool {
	return s.Versioned && !s.Dirty && s.Version == s.Latest
}

// NeedsRebuild reports whether the schema cannot be brought up to date by
// migrating forward: a previous migration failed part way, or the index was
// written by a newer binary.
func (s Status) NeedsRebuild() bool {
	return s.Dirty || s.Version > s.Latest
}

func (s Status) String() string {
	switch {
	case !s.Versioned:
		return fmt.Sprintf("unversioned (latest %d)", s.Latest)
	case s.Dirty:
		return fmt.Sprintf("dirty at %d (latest %d)", s.Version, s.Latest)
	default:
		return fmt.Sprintf("version %d (latest %d)", s.Version, s.Latest)
	}
}

// Inspect reads the schema version of db. It creates the migrate version
// table if missing but applies no migrations.
func Inspect(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	// m is not closed: closing it closes db, which the caller owns.

	latest, err := LatestVersion()
	if err != nil {
		return Status{}, err
	}
	st := Status{Latest: latest}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return st, nil
	case err != nil:
		return Status{}, fmt.Errorf("reading index version: %w", err)
	}
	st.Version, st.Dirty, st.Versioned = version, dirty, true
	return st, nil
}

// CheckStatus returns nil if the schema is at the latest embedded version.
func CheckStatus(db *sql.DB) error {
	st, err := Inspect(db)
	if err != nil {
		return err
	}
	if !st.Current() {
		return fmt.Errorf("index schema is %s", st)
	}
	return nil
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an
// error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating index: %w", err)
	}
	return nil
}

// LatestVersion returns the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// lastVersion walks src to its final migration; Next fails past the end.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no migrations embedded: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
