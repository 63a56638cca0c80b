package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	_ "modernc.org/sqlite" // SQLiteドライバ
)

// Open はSQLiteデータベースを開き、fsysのdir配下のマイグレーションを適用する。
// インメモリデータベースは接続ごとに別のデータベースになるため、接続数を1に制限する。
func Open(ctx context.Context, dsn string, fsys fs.FS, dir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	if err := Run(ctx, db, fsys, dir); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MemoryDSN はテスト用のインメモリSQLite接続文字列。
const MemoryDSN = "file::memory:?_time_format=sqlite"
