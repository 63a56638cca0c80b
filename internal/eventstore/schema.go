package eventstore

import (
	"context"
	"database/sql"
	"embed"

	"github.com/nao1215/ichiba/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// openDB はSQLiteデータベースを開き、スキーマを適用する。
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	return migration.Open(ctx, dsn, migrations, "migrations")
}
