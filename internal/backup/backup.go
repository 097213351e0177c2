// Package backup rotates persistent-state backups: the config directory's
// settings files and the database file are copied into timestamped
// directories under config/backups, pruned by a retention window.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// timestampLayout names each backup directory.
const timestampLayout = "2006-01-02_15-04-05"

// Manager creates and prunes backups.
type Manager struct {
	configDir string
	backupDir string
	dbPath    string
	retention time.Duration
	logger    zerolog.Logger
}

// New creates a backup manager. retention bounds how long old backups are
// kept.
func New(configDir, backupDir, dbPath string, retention time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		configDir: configDir,
		backupDir: backupDir,
		dbPath:    dbPath,
		retention: retention,
		logger:    logger.With().Str("component", "backup").Logger(),
	}
}

// Run takes one backup and prunes expired ones. Returns the new backup
// directory.
func (m *Manager) Run(ctx context.Context) (string, error) {
	dir := filepath.Join(m.backupDir, time.Now().UTC().Format(timestampLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	if err := m.copyConfigFiles(ctx, dir); err != nil {
		return "", err
	}
	if err := copyFile(m.dbPath, filepath.Join(dir, filepath.Base(m.dbPath))); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}

	if err := m.prune(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to prune expired backups")
	}
	m.logger.Info().Str("dir", dir).Msg("Backup complete")
	return dir, nil
}

// copyConfigFiles copies the top-level settings files of the config
// directory, skipping the backups themselves.
func (m *Manager) copyConfigFiles(ctx context.Context, dest string) error {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return fmt.Errorf("failed to read config directory: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(m.configDir, entry.Name())
		if err := copyFile(src, filepath.Join(dest, entry.Name())); err != nil {
			return fmt.Errorf("failed to back up %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// prune removes backup directories older than the retention window. The
// directory name is the authoritative timestamp; unparseable names are
// left alone.
func (m *Manager) prune() error {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().UTC().Add(-m.retention)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ts, err := time.Parse(timestampLayout, entry.Name())
		if err != nil {
			continue
		}
		if ts.After(cutoff) {
			continue
		}
		path := filepath.Join(m.backupDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		m.logger.Debug().Str("dir", path).Msg("Pruned expired backup")
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// Sweep removes leftover partial files from an interrupted backup.
func (m *Manager) Sweep() {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			if strings.HasSuffix(entry.Name(), ".partial") {
				os.Remove(filepath.Join(m.backupDir, entry.Name()))
			}
			continue
		}
		sub := filepath.Join(m.backupDir, entry.Name())
		files, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".partial") {
				os.Remove(filepath.Join(sub, f.Name()))
			}
		}
	}
}
