// Package microfinance はマイクロファイナンス（ローン申請）サービスの内部実装を提供する。
//
// ローン申請はPendingで作成され、外部審査機関を模したワーカーが一定時間後に
// ApprovedまたはRejectedへ1回だけ遷移させる。審査タスクは申請と同じトランザクションで
// SQLiteに保存されるため、審査前にプロセスが停止しても再起動後に処理される。
// 審査結果が確定すると申請者にloan_update通知が送られる。
package microfinance
