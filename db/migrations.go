package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var fs embed.FS

func newMigrate(databaseURL string) (*migrate.Migrate, error) {
	d, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	// Create a new source instance using the embedded migrations for the dialect
	src, err := iofs.New(fs, "migrations/"+d.driver)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error creating migrate instance: %w", err)
	}
	return m, nil
}

// Migrate runs the database migrations using golang-migrate
func Migrate(databaseURL string) error {
	log.WithField("database", redact(databaseURL)).Info("Running migrations")

	m, err := newMigrate(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.WithFields(log.Fields{
			"version": version,
			"dirty":   dirty,
		}).Info("Migrations done")
	}
	return nil
}

// Rollback reverts the most recent migration
func Rollback(databaseURL string) error {
	log.WithField("database", redact(databaseURL)).Info("Rolling back last migration")

	m, err := newMigrate(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
