package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	unsafeRunRe = regexp.MustCompile(`[^a-z0-9]+`)

	errDirRequired = errors.New("migrations dir is required")
)

// migrationFile is a parsed <version>_<name>.sql entry.
type migrationFile struct {
	Version string
	Name    string
	File    string
}

func parseMigrationFile(file string) (migrationFile, bool) {
	m := fileNameRe.FindStringSubmatch(file)
	if m == nil {
		return migrationFile{}, false
	}
	return migrationFile{Version: m[1], Name: m[2], File: file}, true
}

// slug lowercases name and collapses anything outside [a-z0-9] into a
// single underscore.
func slug(name string) string {
	s := unsafeRunRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(s, "_")
}

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration named
// <YYYYMMDDHHMMSS>_<slug>.sql into dir and returns its path. A name already
// used by another migration in dir is rejected.
func CreateSQLMigration(dir string, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now().UTC())
}

func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", errDirRequired
	}
	safe := slug(name)
	if safe == "" {
		return "", fmt.Errorf("migration name %q is empty after sanitizing", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	existing, err := listMigrations(dir)
	if err != nil {
		return "", err
	}
	for _, m := range existing {
		if m.Name == safe {
			return "", fmt.Errorf("migration %q already exists as %s", safe, m.File)
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now.Format(versionLayout), safe))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, safe); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}
