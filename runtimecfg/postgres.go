package runtimecfg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaonanln/hubgate/util/postgres"
)

// PostgresBackend keeps the configuration in a single-row table.
type PostgresBackend struct {
	db *postgres.DB
}

// NewPostgresBackend connects to the database and creates the table if needed.
func NewPostgresBackend(ctx context.Context, cfg *postgres.Config) (*PostgresBackend, error) {
	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Load(ctx context.Context) (Config, error) {
	var data []byte
	err := b.db.Connection().QueryRowContext(ctx,
		`SELECT data FROM `+postgres.RuntimeConfigTable+` WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to query runtime config: %w", err)
	}
	return decodeStored(data)
}

func (b *PostgresBackend) Save(ctx context.Context, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode runtime config: %w", err)
	}
	_, err = b.db.Connection().ExecContext(ctx,
		`INSERT INTO `+postgres.RuntimeConfigTable+` (id, data, updated_at)
		VALUES (1, $1, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = CURRENT_TIMESTAMP`,
		string(data))
	if err != nil {
		return fmt.Errorf("failed to store runtime config: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
