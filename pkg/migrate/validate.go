package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

// listMigrations returns the .sql entries of dir. Files that do not follow
// the <version>_<name>.sql layout are an error.
func listMigrations(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	var out []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m, ok := parseMigrationFile(e.Name())
		if !ok {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", e.Name())
		}
		out = append(out, m)
	}
	return out, nil
}

// ValidateDir checks every migration in dir: filename layout, unique
// versions and names, and an Up section followed by a Down section.
func ValidateDir(dir string) error {
	if dir == "" {
		return errDirRequired
	}
	files, err := listMigrations(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %q", dir)
	}

	versions := make(map[string]string, len(files))
	names := make(map[string]string, len(files))
	for _, m := range files {
		if prev, ok := versions[m.Version]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m.Version, prev, m.File)
		}
		versions[m.Version] = m.File
		if prev, ok := names[m.Name]; ok {
			return fmt.Errorf("duplicate migration name %q in %q and %q", m.Name, prev, m.File)
		}
		names[m.Name] = m.File

		if err := checkSections(filepath.Join(dir, m.File)); err != nil {
			return err
		}
	}
	return nil
}

func checkSections(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %q: %w", path, err)
	}
	txt := string(b)
	up := strings.Index(txt, upMarker)
	down := strings.Index(txt, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing %q", filepath.Base(path), upMarker)
	case down < 0:
		return fmt.Errorf("migration %q missing %q", filepath.Base(path), downMarker)
	case down < up:
		return fmt.Errorf("migration %q has Down before Up", filepath.Base(path))
	}
	return nil
}
