// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証とロール判定、サービス間の内部API認証、logrusによるアクセスログ、
// パニックリカバリ、CORS設定など、全サービスで共通して使用するミドルウェアを含む。
package middleware
