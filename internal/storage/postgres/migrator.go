package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir = "sql/migrations"
	// migrationLockKey — ключ pg_advisory_lock, сериализующий миграции между репликами.
	migrationLockKey  = int64(47110358)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS ordersync_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationFileRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrateUp применяет up-миграции; steps=0 применяет все ожидающие.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает текущую версию схемы и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (version int64, applied int, err error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}
	if err := s.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM ordersync_schema_migrations
	`).Scan(&version, &applied); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, applied, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	all, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range planMigrations(all, applied, direction, steps) {
		if err := applyStep(ctx, conn, m, direction); err != nil {
			return err
		}
	}
	return nil
}

// planMigrations выбирает миграции для применения: для up по возрастанию
// среди неприменённых, для down по убыванию среди применённых.
func planMigrations(all []migration, applied map[int64]bool, direction migrationDirection, steps int) []migration {
	plan := make([]migration, 0, len(all))
	if direction == migrationUp {
		for _, m := range all {
			if !applied[m.Version] {
				plan = append(plan, m)
			}
		}
	} else {
		for i := len(all) - 1; i >= 0; i-- {
			if applied[all[i].Version] {
				plan = append(plan, all[i])
			}
		}
	}
	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan
}

func applyStep(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %s): %w", direction, m.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	body, record, args := m.UpSQL, `INSERT INTO ordersync_schema_migrations (version, name, applied_at) VALUES ($1, $2, $3)`, []any{m.Version, m.Name, time.Now().UTC()}
	if direction == migrationDown {
		body, record, args = m.DownSQL, `DELETE FROM ordersync_schema_migrations WHERE version = $1`, []any{m.Version}
	}

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m.label(), err)
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m.label(), err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM ordersync_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return out, nil
}

// parseMigrations читает пары NNNN_name.up.sql / NNNN_name.down.sql и сортирует их по версии.
func parseMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFileRe.FindStringSubmatch(base)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		} else if m.Name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, parts[2])
		}

		target := &m.UpSQL
		if migrationDirection(parts[3]) == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
