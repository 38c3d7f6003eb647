package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// Migrate applies every embedded migration for the dialect.
func Migrate(db *sql.DB, dialect Dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, dialect.migrationsDir()); err != nil {
		return fmt.Errorf("error migrating sql schema: %w", err)
	}
	return nil
}

// NewPostgresRepository bridges the pgx pool into database/sql, runs migrations and
// returns the repository.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool) (*SQLRepository, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is nil")
	}
	db := stdlib.OpenDBFromPool(pool)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db, DialectPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Println("level=info component=store msg=\"postgres schema up to date\"")
	return NewSQLRepository(db, DialectPostgres), nil
}

// NewSQLiteRepository opens (or creates) a SQLite database file, runs migrations and
// pins the pool to one connection so every transaction is serialised.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLRepository, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if trimmed == ":memory:" {
		return nil, errors.New("in-memory sqlite is not supported; use a file path")
	}
	dsn := trimmed
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := Migrate(db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	log.Printf("level=info component=store msg=\"sqlite schema up to date\" path=%s", trimmed)
	return NewSQLRepository(db, DialectSQLite), nil
}
