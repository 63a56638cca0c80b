package microfinance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	microfinancedb "github.com/nao1215/ichiba/internal/microfinance/db"
	"github.com/nao1215/ichiba/pkg/event"
	"github.com/nao1215/ichiba/pkg/metrics"
	"github.com/nao1215/ichiba/pkg/notify"
)

// Worker は期日が到来した審査タスクを処理し、ローン申請の審査結果を確定させる。
//
// 1件のタスクについて、審査結果の反映とタスクの完了は同じトランザクションで行う。
// 反映は申請がPendingの場合に限られ、確定済みの申請は変更しない。
// コミット後に申請者へloan_update通知を1件だけ送信する。
// 反映に失敗したタスクはfailedとなり、申請はPendingのまま残る。再試行はしない。
type Worker struct {
	db        *sql.DB
	queries   *microfinancedb.Queries
	decider   Decider
	notifier  notify.Emitter
	events    *event.Recorder
	interval  time.Duration
	batchSize int
	now       func() time.Time
	log       *logrus.Entry
}

// NewWorker は新しいWorkerを生成する。
func NewWorker(db *sql.DB, decider Decider, notifier notify.Emitter, events *event.Recorder, interval time.Duration, batchSize int) *Worker {
	return &Worker{
		db:        db,
		queries:   microfinancedb.New(db),
		decider:   decider,
		notifier:  notifier,
		events:    events,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
		log:       logrus.WithField("component", "decision-worker"),
	}
}

// Run はctxがキャンセルされるまで一定間隔で審査タスクを処理する。
// 起動直後にも1回処理し、停止中に期日を過ぎたタスクを拾う。
func (w *Worker) Run(ctx context.Context) {
	w.log.WithField("interval", w.interval.String()).Info("審査ワーカーを開始します")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessDue(ctx); err != nil {
			w.log.WithError(err).Error("審査タスクの処理に失敗しました")
		}

		select {
		case <-ctx.Done():
			w.log.Info("審査ワーカーを停止します")
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue は期日が到来した審査タスクを最大batchSize件処理し、処理した件数を返す。
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	tasks, err := w.queries.ListDueDecisionTasks(ctx, microfinancedb.ListDueDecisionTasksParams{
		Now:   w.now().UTC(),
		Limit: int64(w.batchSize),
	})
	if err != nil {
		return 0, fmt.Errorf("期日到来タスクの取得に失敗: %w", err)
	}

	processed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		w.process(ctx, task)
		processed++
	}
	return processed, nil
}

// process は1件の審査タスクを処理する。
func (w *Worker) process(ctx context.Context, task microfinancedb.DecisionTask) {
	fields := logrus.Fields{
		"task_id": task.ID,
		"loan_id": task.LoanID,
		"user_id": task.UserID,
	}

	outcome := w.decider.Decide()
	now := w.now().UTC()

	updated, err := w.apply(ctx, task, outcome, now)
	if err != nil {
		if ctx.Err() != nil {
			w.log.WithFields(fields).Debug("停止中のため審査タスクを次回の起動まで保留します")
			return
		}
		w.fail(ctx, task, err, now)
		return
	}
	metrics.DecisionLag.Observe(now.Sub(task.DueAt).Seconds())

	if !updated {
		w.log.WithFields(fields).Info("審査結果は既に確定しているため通知しません")
		return
	}

	metrics.LoanDecisions.WithLabelValues(outcome.Status).Inc()
	w.log.WithFields(fields).WithField("status", outcome.Status).Info("ローン審査結果を確定しました")

	w.notifier.Emit(ctx, decisionNotification(task, outcome))
	w.events.Record(ctx, task.LoanID, event.AggregateTypeLoan, event.TypeLoanDecided, event.LoanDecidedData{
		UserID:          task.UserID,
		Status:          outcome.Status,
		RejectionReason: outcome.RejectionReason,
	})
}

// apply は審査結果の反映とタスクの完了を1つのトランザクションで行う。
// 申請がPendingでなかった場合はfalseを返す。
func (w *Worker) apply(ctx context.Context, task microfinancedb.DecisionTask, outcome Outcome, now time.Time) (bool, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := w.queries.WithTx(tx)
	rows, err := qtx.DecideLoan(ctx, microfinancedb.DecideLoanParams{
		Status:          outcome.Status,
		RejectionReason: outcome.RejectionReason,
		UpdatedAt:       now,
		ID:              task.LoanID,
	})
	if err != nil {
		return false, fmt.Errorf("審査結果の反映に失敗: %w", err)
	}

	if err := qtx.CompleteDecisionTask(ctx, microfinancedb.CompleteDecisionTaskParams{
		ProcessedAt: now,
		ID:          task.ID,
	}); err != nil {
		return false, fmt.Errorf("審査タスクの完了記録に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("コミットに失敗: %w", err)
	}
	return rows == 1, nil
}

// fail はタスクを失敗として記録する。申請はPendingのまま残る。
func (w *Worker) fail(ctx context.Context, task microfinancedb.DecisionTask, cause error, now time.Time) {
	metrics.DecisionTaskFailures.Inc()
	entry := w.log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"loan_id": task.LoanID,
	})
	entry.WithError(cause).Error("審査結果を保存できませんでした。申請は審査中のまま残ります")

	if err := w.queries.FailDecisionTask(ctx, microfinancedb.FailDecisionTaskParams{
		LastError:   cause.Error(),
		ProcessedAt: now,
		ID:          task.ID,
	}); err != nil {
		entry.WithError(err).Error("審査タスクの失敗記録に失敗しました")
	}
}

// decisionNotification は審査結果を申請者に知らせる通知を組み立てる。
func decisionNotification(task microfinancedb.DecisionTask, outcome Outcome) notify.Notification {
	n := notify.Notification{
		RecipientID: task.UserID,
		Type:        notify.TypeLoanUpdate,
		Link:        fmt.Sprintf("/microfinance/loans/%s", task.LoanID),
		RelatedID:   task.LoanID,
	}
	if outcome.Status == StatusApproved {
		n.Title = "ローン申請が承認されました"
		n.Message = fmt.Sprintf("%sへのローン申請が承認されました。", task.ProviderName)
		return n
	}
	n.Title = "ローン申請が否決されました"
	n.Message = fmt.Sprintf("%sへのローン申請は否決されました。理由: %s", task.ProviderName, outcome.RejectionReason)
	return n
}
