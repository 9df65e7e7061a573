// ABOUTME: Installs bundled skill files into the agent workspace
// ABOUTME: Embedded TOML manifest plus markdown skills, materialized under <workdir>/skills

package skills

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

//go:embed all:bundled
var bundledFS embed.FS

// Manifest describes the skill set shipped with the binary.
type Manifest struct {
	Version int     `toml:"version"`
	Skills  []Skill `toml:"skills"`
}

// Skill is one bundled skill file.
type Skill struct {
	Name        string `toml:"name"`
	File        string `toml:"file"`
	Description string `toml:"description"`
}

// loadManifest parses the embedded manifest and checks that every entry
// points at a file that actually shipped.
func loadManifest() (*Manifest, error) {
	data, err := fs.ReadFile(bundledFS, "bundled/manifest.toml")
	if err != nil {
		return nil, fmt.Errorf("reading bundled manifest: %w", err)
	}

	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("parsing bundled manifest: %w", err)
	}

	for _, s := range m.Skills {
		if s.Name == "" || s.File == "" {
			return nil, fmt.Errorf("manifest entry missing name or file: %+v", s)
		}
		if _, err := fs.Stat(bundledFS, "bundled/"+s.File); err != nil {
			return nil, fmt.Errorf("manifest references missing file %q: %w", s.File, err)
		}
	}
	return &m, nil
}

// Install materializes the bundled skills under <workdir>/skills. Files are
// written when missing or when their content drifted from the bundled copy,
// so repeat runs are no-ops once the workspace is current.
func Install(workdir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "skills")

	m, err := loadManifest()
	if err != nil {
		return err
	}

	dir := filepath.Join(workdir, "skills")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating skills directory: %w", err)
	}

	installed := 0
	for _, s := range m.Skills {
		want, err := fs.ReadFile(bundledFS, "bundled/"+s.File)
		if err != nil {
			return fmt.Errorf("reading bundled skill %q: %w", s.Name, err)
		}

		dest := filepath.Join(dir, s.File)
		have, err := os.ReadFile(dest)
		if err == nil && bytes.Equal(have, want) {
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading installed skill %q: %w", s.Name, err)
		}

		if err := os.WriteFile(dest, want, 0644); err != nil {
			return fmt.Errorf("installing skill %q: %w", s.Name, err)
		}
		logger.Info("installed skill", "name", s.Name, "file", dest)
		installed++
	}

	if installed == 0 {
		logger.Debug("skills up to date", "dir", dir, "count", len(m.Skills))
	}
	return nil
}
