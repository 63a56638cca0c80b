package microfinance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	microfinancedb "github.com/nao1215/ichiba/internal/microfinance/db"
)

// Scheduler はローン申請の審査タスクを登録する。
// タスクは申請と同じトランザクションで永続化されるため、プロセスが再起動しても失われない。
type Scheduler struct {
	delay time.Duration
	now   func() time.Time
}

// NewScheduler は申請からdelay後に審査結果を確定させるSchedulerを生成する。
func NewScheduler(delay time.Duration) *Scheduler {
	return &Scheduler{delay: delay, now: time.Now}
}

// Schedule はtx内に審査タスクを登録し、審査予定日時を返す。
// 審査の実行は待たずにすぐ戻る。
func (s *Scheduler) Schedule(ctx context.Context, tx *sql.Tx, loanID, userID, providerName string) (time.Time, error) {
	now := s.now().UTC()
	dueAt := now.Add(s.delay)

	err := microfinancedb.New(tx).CreateDecisionTask(ctx, microfinancedb.CreateDecisionTaskParams{
		ID:           uuid.New().String(),
		LoanID:       loanID,
		UserID:       userID,
		ProviderName: providerName,
		DueAt:        dueAt,
		CreatedAt:    now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("審査タスクの登録に失敗: %w", err)
	}
	return dueAt, nil
}
