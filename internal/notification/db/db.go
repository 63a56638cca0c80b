// Package notificationdb は通知サービスのクエリ層を提供する。
package notificationdb

import (
	"context"
	"database/sql"
)

// DBTX は *sql.DB と *sql.Tx の共通インターフェース。
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// New はクエリ実行オブジェクトを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries は通知テーブルへのクエリを実行する。
type Queries struct {
	db DBTX
}

// WithTx はトランザクション内でクエリを実行するQueriesを返す。
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db: tx,
	}
}
