package testutil

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/xiaonanln/hubgate/util/postgres"
)

var invalidDBNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeDBName turns a test name into a PostgreSQL database name:
// lowercase, [a-z0-9_] only, not starting with a digit, at most 63 chars.
func sanitizeDBName(testName string) string {
	name := strings.ToLower(invalidDBNameChars.ReplaceAllString(testName, "_"))
	if len(name) > 0 && name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

func localPostgresConfig(database string) *postgres.Config {
	return &postgres.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: database,
		SSLMode:  "disable",
	}
}

// CreateTestDatabase creates a fresh database named after the running test and
// returns a connection to it. The database is dropped when the test completes.
// If PostgreSQL is not available, the test is skipped.
func CreateTestDatabase(t *testing.T) (*postgres.DB, *postgres.Config) {
	t.Helper()

	dbName := sanitizeDBName(t.Name())
	adminDB, err := postgres.NewDB(localPostgresConfig("postgres"))
	if err != nil {
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
		return nil, nil
	}

	ctx := context.Background()
	_, _ = adminDB.Connection().ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName))
	if _, err := adminDB.Connection().ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test - PostgreSQL not available: %v", err)
		return nil, nil
	}
	adminDB.Close()

	cfg := localPostgresConfig(dbName)
	db, err := postgres.NewDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - failed to connect to test database: %v", err)
		return nil, nil
	}

	t.Cleanup(func() {
		db.Close()
		cleanupDB, err := postgres.NewDB(localPostgresConfig("postgres"))
		if err != nil {
			t.Logf("Warning: failed to connect for cleanup: %v", err)
			return
		}
		defer cleanupDB.Close()
		if _, err := cleanupDB.Connection().ExecContext(context.Background(),
			fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("Warning: failed to drop test database: %v", err)
		}
	})

	return db, cfg
}
