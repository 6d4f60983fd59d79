package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the number of config backups kept per file.
	MaxBackups = 3

	// BackupSuffix separates the config file name from the backup timestamp.
	BackupSuffix = ".bak"
)

// now is replaced in tests.
var now = time.Now

// Backup copies path to path.bak.<timestamp> and prunes all but the newest
// MaxBackups copies. Returns "" and nil if path does not exist.
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, now().Format("20060102-150405.000"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Pruning is best effort; the backup itself succeeded.
	_ = pruneBackups(path)
	return backupPath, nil
}

// ListBackups returns the backups of path, newest first. The timestamp
// suffix sorts lexically in time order.
func ListBackups(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(filepath.Dir(path), entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func pruneBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil || len(backups) <= MaxBackups {
		return err
	}
	for _, b := range backups[MaxBackups:] {
		_ = os.Remove(b)
	}
	return nil
}

// WriteFile writes c to path, backing up any existing file first.
// Returns the backup path, if one was made.
func (c *Config) WriteFile(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	backup, err := Backup(path)
	if err != nil {
		return "", err
	}
	return backup, c.WriteYAML(path)
}
