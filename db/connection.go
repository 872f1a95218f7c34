package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	sqliteScheme = "sqlite://"
	DefaultURL   = sqliteScheme + "rexml.db"
)

// dialect describes how to reach a database given its URL
type dialect struct {
	driver string
	dsn    string
	flavor sqlbuilder.Flavor
}

func parseURL(databaseURL string) (dialect, error) {
	switch {
	case strings.HasPrefix(databaseURL, sqliteScheme):
		path := strings.TrimPrefix(databaseURL, sqliteScheme)
		if path == "" {
			return dialect{}, fmt.Errorf("sqlite url %q has no path", databaseURL)
		}
		return dialect{driver: "sqlite", dsn: path, flavor: sqlbuilder.SQLite}, nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return dialect{driver: "postgres", dsn: databaseURL, flavor: sqlbuilder.PostgreSQL}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database url %q, expected sqlite:// or postgres://", databaseURL)
	}
}

func connection(databaseURL string, readOnly bool) (*sql.DB, sqlbuilder.Flavor, error) {
	d, err := parseURL(databaseURL)
	if err != nil {
		return nil, 0, err
	}

	if d.driver == "postgres" {
		db, err := sql.Open(d.driver, d.dsn)
		if err != nil {
			return nil, 0, err
		}
		db.SetMaxOpenConns(20)           // Allow multiple concurrent operations
		db.SetMaxIdleConns(10)           // Keep some connections ready
		db.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
		db.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour
		return db, d.flavor, nil
	}

	// Enable foreign keys and WAL mode
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", d.dsn)
	if readOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", d.dsn)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, 0, err
	}

	if readOnly {
		db.SetMaxOpenConns(4) // Allow multiple concurrent readers
		db.SetMaxIdleConns(2)
	} else {
		db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(time.Hour)

	if _, err := db.Exec(`
		PRAGMA synchronous = NORMAL;
		PRAGMA cache_size = -32000; -- 32MB cache
		PRAGMA temp_store = MEMORY;
	`); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return db, d.flavor, nil
}
