package migrations

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping migration integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return pool
}

func runSQL(t *testing.T, pool *pgxpool.Pool, filename string) {
	t.Helper()
	sql, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = pool.Exec(ctx, string(sql))
	if err != nil {
		t.Fatalf("failed to execute %s: %v", filename, err)
	}
}

func TestMigration_UpCreatesAllTables(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	for _, table := range []string{"document_classes", "document_chunks"} {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after up migration", table)
		}
	}
}

func TestMigration_UpIsIdempotent(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")
	runSQL(t, pool, "001_initial_schema.up.sql")
}

func TestMigration_SeedsTwelveClasses(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	var count int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM document_classes").Scan(&count); err != nil {
		t.Fatalf("failed to count document_classes: %v", err)
	}
	if count != 12 {
		t.Errorf("document_classes count = %d, want 12", count)
	}
}

func TestMigration_VectorColumnExists(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	var dataType string
	err := pool.QueryRow(ctx, `
		SELECT udt_name FROM information_schema.columns
		WHERE table_name = 'document_chunks' AND column_name = 'embedding'
	`).Scan(&dataType)
	if err != nil {
		t.Fatalf("failed to check embedding column: %v", err)
	}
	if dataType != "vector" {
		t.Errorf("embedding column type = %q, want %q", dataType, "vector")
	}
}

func TestMigration_DownAndUpCycle(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.down.sql")
	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'document_chunks')",
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if !exists {
		t.Error("document_chunks does not exist after down+up cycle")
	}
}
