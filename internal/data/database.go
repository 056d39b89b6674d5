package data

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go-treewiki/internal/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Supported content store drivers.
const (
	DriverSQLite3 = "sqlite3"
	DriverMySQL   = "mysql"
)

// NewDB creates a new database connection pool for the content store.
func NewDB(cfg config.DBConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite3
	}
	if driver != DriverSQLite3 && driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	// sqlx.Connect opens a connection and pings it to verify it's alive.
	db, err := sqlx.Connect(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite3 {
		if IsMemoryDSN(cfg.DSN) {
			// Every new connection to an unshared in-memory database is a
			// fresh, empty database.
			db.SetMaxOpenConns(1)
		} else {
			if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to configure sqlite: %w", err)
			}
			db.SetMaxOpenConns(4)
			db.SetMaxIdleConns(4)
		}
	}
	return db, nil
}

// IsMemoryDSN reports whether a SQLite DSN names an in-memory database.
func IsMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// ApplyMigrations runs all up migrations embedded in the binary against db.
func ApplyMigrations(db *sqlx.DB, driver string) error {
	if driver == "" {
		driver = DriverSQLite3
	}
	source, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("failed to open migrations for %s: %w", driver, err)
	}

	var instance database.Driver
	switch driver {
	case DriverSQLite3:
		instance, err = migratesqlite3.WithInstance(db.DB, &migratesqlite3.Config{})
	case DriverMySQL:
		instance, err = migratemysql.WithInstance(db.DB, &migratemysql.Config{})
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, instance)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Up applies all available up migrations. The migrate instance is not
	// closed here because closing it would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// writeLocks serializes writers per database handle. SQLite allows a single
// writer; holding the lock around a transaction avoids SQLITE_BUSY on lock
// upgrades.
var writeLocks sync.Map

func writerFor(db *sqlx.DB) *sync.Mutex {
	mu, _ := writeLocks.LoadOrStore(db, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
