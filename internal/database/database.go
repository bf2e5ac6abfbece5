package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"duet/internal/constants"
	"duet/internal/migrations"
	"duet/internal/security"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Options selects the storage backend.
type Options struct {
	Driver     string
	Path       string // sqlite3 file
	DSN        string // mysql data source name
	Encryption EncryptionOptions
}

// Database is the durable store behind every repository interface of the service.
type Database struct {
	db        *sql.DB
	driver    string
	encryptor *encryptor
}

func New(ctx context.Context, opts Options) (*Database, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}

	encryptor, err := NewEncryptor(opts.Encryption)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	var db *sql.DB
	switch opts.Driver {
	case DriverSQLite:
		db, err = openSQLite(opts.Path)
	case DriverMySQL:
		db, err = openMySQL(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db, driver: opts.Driver, encryptor: encryptor}
	if err := d.Migrate(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close error: %v)", err, closeErr)
		}
		return nil, err
	}

	return d, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate", dbPath, constants.DefaultBusyTimeoutMs)
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; conditional updates stay linearizable without SQLITE_BUSY churn
	db.SetMaxOpenConns(1)
	return db, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql driver requires a DSN")
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Migrate applies the bundled schema for the active driver. It is safe to run repeatedly.
func (d *Database) Migrate(ctx context.Context) error {
	statements, err := migrations.Statements(d.driver)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Driver returns the name of the active SQL driver.
func (d *Database) Driver() string {
	return d.driver
}

// Ping checks that the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// isUniqueViolation reports whether err is a duplicate-key failure from either driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
