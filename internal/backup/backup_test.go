package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newManager(t *testing.T, retention time.Duration) (*Manager, string, string) {
	t.Helper()
	configDir := t.TempDir()
	backupDir := filepath.Join(configDir, "backups")

	if err := os.WriteFile(filepath.Join(configDir, "settings.yml"), []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	dbPath := filepath.Join(t.TempDir(), "library.sqlite")
	if err := os.WriteFile(dbPath, []byte("sqlite bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	return New(configDir, backupDir, dbPath, retention, zerolog.Nop()), configDir, backupDir
}

func TestRun_CopiesConfigAndDatabase(t *testing.T) {
	m, _, backupDir := newManager(t, 24*time.Hour)

	dir, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if filepath.Dir(dir) != backupDir {
		t.Errorf("backup landed in %q, want inside %q", dir, backupDir)
	}
	if _, err := time.Parse(timestampLayout, filepath.Base(dir)); err != nil {
		t.Errorf("backup directory name %q is not a timestamp: %v", filepath.Base(dir), err)
	}

	settings, err := os.ReadFile(filepath.Join(dir, "settings.yml"))
	if err != nil {
		t.Fatalf("settings copy missing: %v", err)
	}
	if string(settings) != "log_level: info\n" {
		t.Errorf("settings copy content = %q", settings)
	}
	db, err := os.ReadFile(filepath.Join(dir, "library.sqlite"))
	if err != nil {
		t.Fatalf("database copy missing: %v", err)
	}
	if string(db) != "sqlite bytes" {
		t.Errorf("database copy content = %q", db)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".partial" {
			t.Errorf("partial file left behind: %s", entry.Name())
		}
	}
}

func TestRun_SkipsBackupSubdirectory(t *testing.T) {
	m, _, _ := newManager(t, 24*time.Hour)

	// The backups directory lives inside the config directory; a second
	// run must not recurse into the first run's output.
	first, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	second, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() second error = %v", err)
	}
	if first == second {
		t.Skip("runs landed in the same second")
	}
	if _, err := os.Stat(filepath.Join(second, "backups")); !os.IsNotExist(err) {
		t.Error("backup recursed into the backups directory")
	}
}

func TestPrune_RemovesExpiredKeepsFresh(t *testing.T) {
	m, _, backupDir := newManager(t, 24*time.Hour)

	expired := filepath.Join(backupDir, time.Now().UTC().Add(-48*time.Hour).Format(timestampLayout))
	fresh := filepath.Join(backupDir, time.Now().UTC().Add(-1*time.Hour).Format(timestampLayout))
	unrelated := filepath.Join(backupDir, "keep-me")
	for _, dir := range []string{expired, fresh, unrelated} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
	}

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired backup was not pruned")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh backup was pruned: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("non-timestamp directory was pruned: %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	m, _, _ := newManager(t, 24*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Run(ctx); err == nil {
		t.Error("Run() with a cancelled context should fail")
	}
}

func TestSweep_RemovesPartials(t *testing.T) {
	m, _, backupDir := newManager(t, 24*time.Hour)

	sub := filepath.Join(backupDir, time.Now().UTC().Format(timestampLayout))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	partial := filepath.Join(sub, "library.sqlite.partial")
	complete := filepath.Join(sub, "settings.yml")
	for _, path := range []string{partial, complete} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	m.Sweep()

	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Error("Sweep() left the partial file")
	}
	if _, err := os.Stat(complete); err != nil {
		t.Errorf("Sweep() removed a completed file: %v", err)
	}
}
