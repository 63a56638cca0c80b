// Package booking はサービス予約の内部実装を提供する。
//
// 購入者が出品者のサービスを予約し、出品者だけがステータスを進められる。
// 許可される遷移は Pending→Accepted、Pending→Rejected、Accepted→Completed のみ。
// ステータス更新は現在値を条件にした1文のUPDATEで行い、競合した場合は409を返す。
// 予約の作成は出品者に、ステータスの変更は購入者に通知される。
package booking
