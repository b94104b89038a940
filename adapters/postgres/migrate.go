package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"gopade/internal"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationFile is one versioned schema change, named NNN_description.sql.
type MigrationFile struct {
	Version  string
	Name     string
	SQL      string
	Checksum string
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version string
	Name    string
	Applied bool
}

// Migrator applies the embedded migrations in version order, recording
// each with its checksum.
type Migrator struct {
	db     *sqlx.DB
	files  fs.FS
	logger *internal.Logger
}

// NewMigrator creates a migrator for the embedded migrations.
func NewMigrator(db *sqlx.DB, logger *internal.Logger) *Migrator {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Migrator{db: db, files: migrationFiles, logger: logger}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return dbError("create migrations table", err)
	}
	return nil
}

// Up applies every pending migration and returns the versions applied. A
// migration whose file changed after it was applied is an error.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.migrations()
	if err != nil {
		return nil, err
	}

	var done []string
	for _, file := range files {
		if sum, ok := applied[file.Version]; ok {
			if sum != file.Checksum {
				return done, fmt.Errorf("migration %s changed after it was applied", file.Version)
			}
			continue
		}
		if err := m.apply(ctx, file); err != nil {
			return done, fmt.Errorf("failed to apply migration %s: %w", file.Version, err)
		}
		m.logger.Info("[migrate] applied %s_%s", file.Version, file.Name)
		done = append(done, file.Version)
	}
	return done, nil
}

// Status lists every migration and whether it is applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.migrations()
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(files))
	for i, f := range files {
		_, ok := applied[f.Version]
		out[i] = MigrationStatus{Version: f.Version, Name: f.Name, Applied: ok}
	}
	return out, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Version  string `db:"version"`
		Checksum string `db:"checksum"`
	}
	if err := m.db.SelectContext(ctx, &rows, "SELECT version, checksum FROM schema_migrations"); err != nil {
		return nil, dbError("read applied migrations", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Version] = r.Checksum
	}
	return out, nil
}

func (m *Migrator) migrations() ([]MigrationFile, error) {
	paths, err := fs.Glob(m.files, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	var files []MigrationFile
	for _, p := range paths {
		version, name, ok := strings.Cut(strings.TrimSuffix(path.Base(p), ".sql"), "_")
		if !ok {
			continue
		}
		data, err := fs.ReadFile(m.files, p)
		if err != nil {
			return nil, err
		}
		files = append(files, MigrationFile{
			Version:  version,
			Name:     name,
			SQL:      string(data),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(data)),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

func (m *Migrator) apply(ctx context.Context, file MigrationFile) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbError("begin migration", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(file.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return dbError("execute migration", err)
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)"),
		file.Version, file.Checksum); err != nil {
		return dbError("record migration", err)
	}
	return tx.Commit()
}

// splitStatements splits a migration on semicolons, dropping comment-only
// and empty statements.
func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}
