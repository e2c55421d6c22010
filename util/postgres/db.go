package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// RuntimeConfigTable holds the single row of gateway runtime tunables.
const RuntimeConfigTable = "hubgate_runtime_config"

// DB wraps a PostgreSQL database connection with utility methods
type DB struct {
	conn   *sql.DB
	config *Config
}

// NewDB creates a new database connection using the provided configuration.
// The connection is lazy; use Ping to check reachability.
func NewDB(config *Config) (*DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	conn, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The gateway touches the database only when runtime config changes.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn:   conn,
		config: config,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Connection returns the underlying sql.DB connection
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// Ping checks if the database connection is alive
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// InitSchema creates the runtime config table if it does not exist.
// The table is keyed by a fixed id so it never holds more than one row.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ` + RuntimeConfigTable + ` (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		data JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
