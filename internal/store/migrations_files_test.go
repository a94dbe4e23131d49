package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestUpMigrationsSkipsDownFilesAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_comments.up.sql", "0001_init.down.sql", "0001_init.up.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := upMigrations(dir)
	if err != nil {
		t.Fatalf("upMigrations: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 up migrations, got %v", files)
	}
	if filepath.Base(files[0]) != "0001_init.up.sql" || filepath.Base(files[1]) != "0002_comments.up.sql" {
		t.Fatalf("unexpected order: %v", files)
	}
}
