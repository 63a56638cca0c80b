// Package notification は通知サービスの内部実装を提供する。
//
// 通知はユーザーごとに保存され、受信者本人だけが一覧取得、既読化、削除を行える。
// 既読状態は未読から既読への一方向にのみ変化する。
// 他サービスは内部API（POST /internal/notifications）を通じて通知を作成する。
// 内部APIはJWTではなくサービス間の共有トークンで保護される。
//
// 未読件数はRedisが設定されている場合にキャッシュされ、通知の作成、既読化、削除のたびに破棄される。
package notification
