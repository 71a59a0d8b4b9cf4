// Package migrate applies the schema migrations and seed data embedded in the
// binary.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"bookwell.io/internal/obs"
)

//go:embed migrations/*.sql seeds/*.sql
var embedded embed.FS

const (
	migrationsDir = "migrations"
	seedsDir      = "seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNothingToRollBack is returned by Down when no migration is applied.
var ErrNothingToRollBack = errors.New("migrate: no migrations applied")

// fileSet is one kind of SQL file together with the table recording which
// files already ran.
type fileSet struct {
	dir    string
	suffix string
	table  string
}

// Manager runs SQL files from a file system laid out as
// migrations/NNNN_name.up.sql, migrations/NNNN_name.down.sql and seeds/NNNN_name.sql.
// Each file runs in its own transaction together with its bookkeeping row.
type Manager struct {
	db         *sql.DB
	fsys       fs.FS
	migrations fileSet
	seeds      fileSet
}

type Option func(*Manager)

// WithMigrationsTable overrides the "schema_migrations" bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrations.table = name
		}
	}
}

// WithSeedsTable overrides the "schema_seeds" bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

// WithFS replaces the embedded files.
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		fsys:       embedded,
		migrations: fileSet{dir: migrationsDir, suffix: upSuffix, table: "schema_migrations"},
		seeds:      fileSet{dir: seedsDir, suffix: ".sql", table: "schema_seeds"},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration in file name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.apply(ctx, m.migrations)
}

// Seed applies every seed file that has not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.apply(ctx, m.seeds)
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingToRollBack
	}
	last := applied[len(applied)-1]
	down := path.Join(m.migrations.dir, strings.TrimSuffix(last, upSuffix)+downSuffix)
	if _, err := fs.Stat(m.fsys, down); err != nil {
		return fmt.Errorf("migrate: no down migration for %s: %w", last, err)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
	if err := m.run(ctx, down, forget, last); err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	obs.Logger().Info().Str("migration", last).Msg("migration rolled back")
	return nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrations.table)
}

// Pending lists migrations that have not been applied, in the order Up would run them.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	todo, err := m.pending(ctx, m.migrations)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(todo))
	for _, f := range todo {
		names = append(names, f.name)
	}
	return names, nil
}

func (m *Manager) apply(ctx context.Context, set fileSet) error {
	todo, err := m.pending(ctx, set)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s (name) values ($1)`, set.table)
	for _, f := range todo {
		if err := m.run(ctx, f.path, record, f.name); err != nil {
			return fmt.Errorf("apply %s: %w", f.name, err)
		}
		obs.Logger().Info().Str("file", f.name).Str("table", set.table).Msg("sql file applied")
	}
	return nil
}

func (m *Manager) pending(ctx context.Context, set fileSet) ([]sqlFile, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, set.table)
	if err != nil {
		return nil, err
	}
	files, err := m.list(set.dir, set.suffix)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(files, func(f sqlFile) bool {
		return slices.Contains(done, f.name)
	}), nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrations.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// run executes the statements of file and then the bookkeeping statement in
// one transaction.
func (m *Manager) run(ctx context.Context, file, bookkeeping, name string) error {
	body, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqlFile struct {
	name string
	path string
}

func (m *Manager) list(dir, suffix string) ([]sqlFile, error) {
	matches, err := fs.Glob(m.fsys, path.Join(dir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	files := make([]sqlFile, 0, len(matches))
	for _, p := range matches {
		files = append(files, sqlFile{name: path.Base(p), path: p})
	}
	slices.SortFunc(files, func(a, b sqlFile) int { return strings.Compare(a.name, b.name) })
	return files, nil
}

// splitStatements cuts a script at semicolons outside single-quoted literals
// and drops "--" comment lines. Blank statements are skipped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, line := range strings.SplitAfter(script, "\n") {
		if !quoted && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			current.WriteRune(r)
			switch {
			case r == '\'':
				quoted = !quoted
			case r == ';' && !quoted:
				flush()
			}
		}
	}
	flush()
	return stmts
}
