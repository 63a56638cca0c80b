// Package notify は業務処理の副作用として通知を送信するエミッタを提供する。
//
// 通知の送信はベストエフォートであり、1回だけ試行する。送信に失敗しても
// エラーは呼び出し元に返さず、ログとメトリクスに記録するのみとする。
// 呼び出し元の主処理（予約ステータス変更やローン審査結果の保存）は
// 通知の成否によって取り消されない。
package notify

import (
	"context"
	"slices"
)

// Type は通知の種類を表す。取り得る値はTypesに列挙されたものに限られる。
type Type string

const (
	TypeOrder       Type = "order"
	TypeMessage     Type = "message"
	TypeOpportunity Type = "opportunity"
	TypeBooking     Type = "booking"
	TypeSystem      Type = "system"
	TypeLoanUpdate  Type = "loan_update"
	TypeForum       Type = "forum"
	TypeTraining    Type = "training"
)

// Types は有効な通知種類の一覧。
var Types = []Type{
	TypeOrder,
	TypeMessage,
	TypeOpportunity,
	TypeBooking,
	TypeSystem,
	TypeLoanUpdate,
	TypeForum,
	TypeTraining,
}

// Valid は通知種類が有効な値かどうかを返す。
func (t Type) Valid() bool {
	return slices.Contains(Types, t)
}

// Notification は送信する通知の内容。
type Notification struct {
	// RecipientID は通知先のユーザーID。必須。
	RecipientID string `json:"user_id"`
	// SenderID は通知のきっかけとなった操作者のユーザーID。システム通知の場合は空。
	SenderID string `json:"sender_id,omitempty"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知本文。
	Message string `json:"message"`
	// Type は通知の種類。
	Type Type `json:"type"`
	// Link はクライアントでの遷移先パス。
	Link string `json:"link,omitempty"`
	// RelatedID は通知に関連するエンティティのID。
	RelatedID string `json:"related_id,omitempty"`
}

// IsSelf は通知先が操作者自身かどうかを返す。
func (n Notification) IsSelf() bool {
	return n.SenderID != "" && n.SenderID == n.RecipientID
}

// Emitter は通知を送信する。実装はエラーを返さず、失敗を内部で処理しなければならない。
type Emitter interface {
	Emit(ctx context.Context, n Notification)
}

// Nop は何もしないEmitter。
type Nop struct{}

// Emit は何もしない。
func (Nop) Emit(context.Context, Notification) {}
