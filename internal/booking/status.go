package booking

import (
	"errors"
	"slices"
)

// 予約ステータス。
const (
	StatusPending   = "Pending"
	StatusAccepted  = "Accepted"
	StatusRejected  = "Rejected"
	StatusCompleted = "Completed"
)

var (
	// ErrUnknownStatus は存在しないステータスが指定されたことを表す。
	ErrUnknownStatus = errors.New("不明な予約ステータスです")
	// ErrInvalidTransition は許可されていないステータス遷移を表す。
	ErrInvalidTransition = errors.New("このステータスには変更できません")
)

// transitions は出品者が行える予約ステータスの遷移。
var transitions = map[string][]string{
	StatusPending:  {StatusAccepted, StatusRejected},
	StatusAccepted: {StatusCompleted},
}

// validateTransition はfromからtoへの遷移が許可されているかを検証する。
func validateTransition(from, to string) error {
	switch to {
	case StatusPending, StatusAccepted, StatusRejected, StatusCompleted:
	default:
		return ErrUnknownStatus
	}
	if !slices.Contains(transitions[from], to) {
		return ErrInvalidTransition
	}
	return nil
}
