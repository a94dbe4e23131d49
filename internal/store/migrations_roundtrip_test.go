package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// schemaGuards are the database objects the gate relies on for its
// invariants. A down/up cycle must drop and restore all of them.
var schemaGuards = []struct {
	name  string
	query string
	arg   string
}{
	{name: "update trigger", query: `SELECT EXISTS(SELECT 1 FROM pg_trigger WHERE tgname=$1 AND NOT tgisinternal)`, arg: "trg_versions_block_update"},
	{name: "delete trigger", query: `SELECT EXISTS(SELECT 1 FROM pg_trigger WHERE tgname=$1 AND NOT tgisinternal)`, arg: "trg_versions_block_delete"},
	{name: "pending index", query: `SELECT EXISTS(SELECT 1 FROM pg_indexes WHERE schemaname='public' AND indexname=$1)`, arg: pendingRequestIndex},
}

func TestMigrationsDownUpRestoresReleaseGuards(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("MODHUB_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("MODHUB_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	dir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	requireGuards(t, ctx, db, true)

	if err := applyDownMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	requireGuards(t, ctx, db, false)

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
	requireGuards(t, ctx, db, true)

	mustExec(t, ctx, db, `INSERT INTO content_items (id, owner_id, title, status) VALUES ('itm_rt', 'usr_owner', 'Round trip', 'published')`)
	mustExec(t, ctx, db, `INSERT INTO versions (id, item_id, number, external_url, created_by) VALUES ('ver_rt', 'itm_rt', '1.0.0', 'https://example.test/a.zip', 'usr_owner')`)

	_, err = db.ExecContext(ctx, `UPDATE versions SET number='9.9.9' WHERE id='ver_rt'`)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "55000" {
		t.Fatalf("expected version update to fail with 55000, got %v", err)
	}
	_, err = db.ExecContext(ctx, `DELETE FROM versions WHERE id='ver_rt'`)
	if !errors.As(err, &pgErr) || pgErr.Code != "55000" {
		t.Fatalf("expected version delete to fail with 55000, got %v", err)
	}

	insertPending := `INSERT INTO update_requests (id, item_id, submitter_id, number, external_url) VALUES ($1, 'itm_rt', 'usr_owner', $2, 'https://example.test/b.zip')`
	mustExec(t, ctx, db, insertPending, "req_rt_1", "1.1.0")
	_, err = db.ExecContext(ctx, insertPending, "req_rt_2", "1.2.0")
	if !isUniqueViolation(err, pendingRequestIndex) {
		t.Fatalf("expected second pending request to hit %s, got %v", pendingRequestIndex, err)
	}
}

func requireGuards(t *testing.T, ctx context.Context, db *sql.DB, want bool) {
	t.Helper()
	for _, guard := range schemaGuards {
		var exists bool
		if err := db.QueryRowContext(ctx, guard.query, guard.arg).Scan(&exists); err != nil {
			t.Fatalf("look up %s: %v", guard.name, err)
		}
		if exists != want {
			t.Fatalf("%s %s: exists=%v, want %v", guard.name, guard.arg, exists, want)
		}
	}
}

func mustExec(t *testing.T, ctx context.Context, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

// applyDownMigrations runs every *.down.sql file in reverse name order.
func applyDownMigrations(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".down.sql") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, file := range files {
		contents, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(contents)) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("down %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}
