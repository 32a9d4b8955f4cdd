// Package home manages the labscan home directory (~/.labscan).
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultDirName is the default name for the labscan home directory.
	DefaultDirName = ".labscan"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// LogsDirName is the subdirectory for rotated log files.
	LogsDirName = "logs"

	// ExportsDirName is the subdirectory for spreadsheet exports.
	ExportsDirName = "exports"
)

// Dir represents the labscan home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.labscan).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// LogsDir returns the directory for log files.
func (d *Dir) LogsDir() string {
	return filepath.Join(d.path, LogsDirName)
}

// LogPath returns the default log file path.
func (d *Dir) LogPath() string {
	return filepath.Join(d.LogsDir(), "labscan.log")
}

// ExportsDir returns the directory for exported spreadsheets.
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, ExportsDirName)
}

// ExportPath returns a timestamped export path for a source document,
// e.g. exports/laudo_20260102-150405.xlsx.
func (d *Dir) ExportPath(document string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(document), filepath.Ext(document))
	if base == "" || base == "." {
		base = "extraction"
	}
	return filepath.Join(d.ExportsDir(), fmt.Sprintf("%s_%s.xlsx", base, at.Format("20060102-150405")))
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.LogsDir(), d.ExportsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
