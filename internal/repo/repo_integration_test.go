package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"taskboard/migrations"
)

// openTestDB connects to PG_DSN, applies migrations and empties every table.
// Tests using it are skipped when PG_DSN is not set.
func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set (integration test)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	if err := migrations.Up(sqlDB); err != nil {
		t.Fatal(err)
	}

	if _, err := pool.Exec(ctx, `TRUNCATE task_assignees, tasks, categories, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatal(err)
	}
	return pool
}

func mustCreateUser(t *testing.T, r *PGUserRepo, username string) int64 {
	t.Helper()
	u, err := r.Create(context.Background(), username, username+"@x.com", "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u.ID
}
