// Package postgres implements repository.UserRepository on PostgreSQL through
// the pgx database/sql driver. The schema is managed by goose migrations
// embedded in the binary.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sakif/incubator/internal/repository/postgres/migrations"
)

// DB is the Postgres-backed credential store.
type DB struct {
	conn *sql.DB
}

// New opens a connection pool for dsn, verifies it and applies pending
// migrations.
func New(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := NewWithConn(conn)
	if err := db.RunMigrations(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}

	return db, nil
}

// NewWithConn wraps an already-open pool. Migrations are not run.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// RunMigrations sets up goose with the embedded migrations and runs them.
func (db *DB) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db.conn, ".")
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return storeError("pinging database", err)
	}
	return nil
}
