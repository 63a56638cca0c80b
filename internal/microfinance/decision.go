package microfinance

import (
	"math/rand/v2"
)

// ローン申請の審査ステータス。
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// RejectionReason は否決時に設定する理由。
const RejectionReason = "提携金融機関の審査基準を満たしませんでした"

// Outcome は1件の審査結果。
type Outcome struct {
	// Status は確定した審査ステータス（Approved または Rejected）。
	Status string
	// RejectionReason は否決理由。承認時は空。
	RejectionReason string
}

// Approved は承認の審査結果を返す。
func Approved() Outcome {
	return Outcome{Status: StatusApproved}
}

// Rejected は否決の審査結果を返す。
func Rejected() Outcome {
	return Outcome{Status: StatusRejected, RejectionReason: RejectionReason}
}

// Decider はローン申請1件の審査結果を決める。
type Decider interface {
	Decide() Outcome
}

// DeciderFunc は関数をDeciderとして使うためのアダプタ。
type DeciderFunc func() Outcome

// Decide はf()を呼び出す。
func (f DeciderFunc) Decide() Outcome {
	return f()
}

// BernoulliDecider は一定の確率で承認する外部審査機関の模擬実装。
type BernoulliDecider struct {
	probability float64
}

// NewBernoulliDecider は承認確率probabilityのDeciderを生成する。
func NewBernoulliDecider(probability float64) *BernoulliDecider {
	return &BernoulliDecider{probability: probability}
}

// Decide は1回のベルヌーイ試行で審査結果を決める。
func (d *BernoulliDecider) Decide() Outcome {
	if rand.Float64() < d.probability {
		return Approved()
	}
	return Rejected()
}
