// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// 各サービスの状態変更を監査用のイベントとして永続化する。イベントは不変であり、
// 追記のみで運用される。バージョンはAggregateごとに1から自動採番され、
// 同じバージョンへの同時追記は一意制約によって409として拒否される。
//
// 主な機能:
//   - イベントの追記（Append）
//   - AggregateIDによるイベント取得
//   - イベントタイプによるイベント取得
//   - 日時指定によるイベント取得
package eventstore
