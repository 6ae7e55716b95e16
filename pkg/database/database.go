package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver       string        `split_words:"true" default:"sqlite"`
	DSN          string        `envconfig:"DSN" default:"file:travel.sqlite?cache=shared"`
	MaxOpenConns int           `split_words:"true" default:"4"`
	DialTimeout  time.Duration `split_words:"true" default:"5s"`
}

// Open returns a bun.DB for the configured driver. SQLite is opened through
// mattn/go-sqlite3; Postgres through pgdriver.
func Open(cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}

	var db *bun.DB
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres, "pg":
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.DialTimeout > 0 {
			opts = append(opts, pgdriver.WithDialTimeout(cfg.DialTimeout))
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite, "sqlite3", "":
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// go-sqlite3 serializes writers; a single connection keeps in-memory DSNs coherent.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	return db, nil
}

// MustOpen is Open that panics, for use in main.
func MustOpen(cfg Config) *bun.DB {
	db, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	return db
}
