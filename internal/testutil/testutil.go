package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"

	"github.com/kpessa/delphi-webapp/internal/database"
)

// TestDatabase holds a migrated PostgreSQL test container
type TestDatabase struct {
	Container    *postgres.PostgresContainer
	DB           *sqlx.DB
	DBConnString string
}

// SetupPostgres starts a PostgreSQL container and applies all migrations.
// Tests calling it are skipped under -short. The container is terminated
// when the test finishes.
func SetupPostgres(t *testing.T) *TestDatabase {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18",
		postgres.WithDatabase("delphi_test"),
		postgres.WithUsername("delphi_test"),
		postgres.WithPassword("delphi_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	tdb := &TestDatabase{Container: container}
	t.Cleanup(func() { tdb.cleanup(t) })

	tdb.DBConnString, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	tdb.DB, err = sqlx.Connect("postgres", tdb.DBConnString)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	dir, err := migrationsDir()
	if err != nil {
		t.Fatalf("Failed to locate migrations: %v", err)
	}
	if _, err := database.NewMigrationExecutor(tdb.DB).Run(ctx, os.DirFS(dir)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return tdb
}

func (tdb *TestDatabase) cleanup(t *testing.T) {
	t.Helper()

	if tdb.DB != nil {
		_ = tdb.DB.Close()
	}
	if tdb.Container != nil {
		if err := tdb.Container.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
}

// migrationsDir walks up from the working directory to the repository's
// migrations folder, so tests in any package depth find it
func migrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("migrations directory not found")
		}
		dir = parent
	}
}
