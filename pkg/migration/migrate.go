// Package migration はSQLiteデータベースのスキーママイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、schema_migrationsテーブルで適用状態を追跡する。
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// upSuffix はマイグレーションファイルの拡張子。
const upSuffix = ".up.sql"

// Run は未適用のマイグレーションファイルをバージョン順に適用する。
// ファイル名形式: 000001_description.up.sql
// 同じファイル群に対して繰り返し呼び出しても、適用済みのバージョンはスキップされる。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	files, err := collect(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	for _, f := range files {
		if applied[f.version] {
			continue
		}
		if err := apply(ctx, db, fsys, f); err != nil {
			return fmt.Errorf("マイグレーション %06d の適用に失敗: %w", f.version, err)
		}
		logrus.WithFields(logrus.Fields{
			"component": "migration",
			"version":   f.version,
			"name":      f.name,
		}).Info("マイグレーションを適用しました")
	}
	return nil
}

// file は1つのマイグレーションファイルを表す。
type file struct {
	version int
	name    string
	path    string
}

// ensureMigrationsTable はバージョン管理テーブルを作成する。
func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

// appliedVersions は適用済みのマイグレーションバージョンを取得する。
func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// collect はディレクトリから .up.sql ファイルを収集してバージョン順に並べる。
// 命名規則に合わないファイルは無視するが、バージョンの重複はエラーとする。
func collect(fsys fs.FS, dir string) ([]file, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []file
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
			continue
		}

		prefix, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("バージョン %06d が重複しています: %s, %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		files = append(files, file{
			version: version,
			name:    strings.TrimSuffix(rest, upSuffix),
			path:    path.Join(dir, entry.Name()),
		})
	}

	slices.SortFunc(files, func(a, b file) int { return a.version - b.version })
	return files, nil
}

// apply は1つのマイグレーションをトランザクション内で適用する。
func apply(ctx context.Context, db *sql.DB, fsys fs.FS, f file) error {
	content, err := fs.ReadFile(fsys, f.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", f.version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}
