// Package seed creates the demo dataset in a writable DuckDB file.
package seed

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

// ledgerTable starts with askdb_ so it stays out of the table list shown
// to the model.
const ledgerTable = "askdb_schema_migrations"

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type step struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// Up applies pending steps in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	items, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureLedger(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db, false)
	if err != nil {
		return 0, err
	}
	done := make(map[int64]bool, len(applied))
	for _, version := range applied {
		done[version] = true
	}

	count := 0
	for _, item := range items {
		if done[item.Version] {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		err := runInTx(ctx, db, item.UpSQL, `INSERT INTO `+ledgerTable+` (version) VALUES (?)`, item.Version)
		if err != nil {
			return count, fmt.Errorf("apply seed %d: %w", item.Version, err)
		}
		count++
	}
	return count, nil
}

// Down reverts the newest applied steps. steps <= 0 reverts one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	items, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureLedger(ctx, db); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db, true)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]step, len(items))
	for _, item := range items {
		byVersion[item.Version] = item
	}

	count := 0
	for _, version := range applied {
		if count >= steps {
			break
		}
		item, ok := byVersion[version]
		if !ok {
			return count, fmt.Errorf("applied seed %d is missing from source", version)
		}
		err := runInTx(ctx, db, item.DownSQL, `DELETE FROM `+ledgerTable+` WHERE version = ?`, item.Version)
		if err != nil {
			return count, fmt.Errorf("revert seed %d: %w", item.Version, err)
		}
		count++
	}
	return count, nil
}

func ensureLedger(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT current_timestamp
)`)
	if err != nil {
		return fmt.Errorf("ensure seed ledger: %w", err)
	}
	return nil
}

func runInTx(ctx context.Context, db *sql.DB, script, ledgerSQL string, version int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, ledgerSQL, version); err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, newestFirst bool) ([]int64, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+ledgerTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied seeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return versions, nil
}

func loadSteps(fsys fs.FS) ([]step, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}

	byVersion := map[int64]step{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := scriptNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse seed version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read seed %q: %w", entry.Name(), err)
		}

		item := byVersion[version]
		item.Version = version
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		byVersion[version] = item
	}

	items := make([]step, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("seed %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("seed %d missing down SQL", item.Version)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Version < items[j].Version })
	return items, nil
}
