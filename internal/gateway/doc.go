// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、JWT発行とリクエストルーティングを担当する。
// 認証済みリクエストはAuthorizationヘッダーとX-User-IDヘッダーを付けて
// 各内部サービスに転送する。公開済み研修の閲覧だけは認証なしで転送する。
package gateway
