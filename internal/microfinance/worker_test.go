package microfinance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	microfinancedb "github.com/nao1215/ichiba/internal/microfinance/db"
	"github.com/nao1215/ichiba/pkg/metrics"
	"github.com/nao1215/ichiba/pkg/notify"
)

func TestWorkerProcessDue(t *testing.T) {
	t.Parallel()

	outcomes := []struct {
		name       string
		decider    Decider
		wantStatus string
		wantReason bool
	}{
		{name: "承認された場合は否決理由が空であること", decider: alwaysApprove, wantStatus: StatusApproved, wantReason: false},
		{name: "否決された場合は否決理由が設定されること", decider: alwaysReject, wantStatus: StatusRejected, wantReason: true},
	}
	for _, tt := range outcomes {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := setupTestServer(t, tt.decider)
			loan := applyLoan(t, env, "borrower", testBankApplication())

			env.clock.Advance(testDelay)
			processed, err := env.worker.ProcessDue(t.Context())
			require.NoError(t, err)
			assert.Equal(t, 1, processed)

			stored, err := env.server.queries.GetLoanByID(t.Context(), loan.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantReason, stored.RejectionReason != "")

			task, err := env.server.queries.GetDecisionTaskByLoanID(t.Context(), loan.ID)
			require.NoError(t, err)
			assert.Equal(t, "done", task.Status)
			assert.True(t, task.ProcessedAt.Valid)

			sent := env.notifier.Notifications()
			require.Len(t, sent, 1)
			assert.Equal(t, "borrower", sent[0].RecipientID)
			assert.Empty(t, sent[0].SenderID)
			assert.Equal(t, notify.TypeLoanUpdate, sent[0].Type)
			assert.Equal(t, loan.ID, sent[0].RelatedID)
			assert.Equal(t, "/microfinance/loans/"+loan.ID, sent[0].Link)
			assert.Contains(t, sent[0].Message, "TestBank")
		})
	}

	t.Run("期日前のタスクは処理されないこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, alwaysApprove)
		loan := applyLoan(t, env, "borrower", testBankApplication())

		env.clock.Advance(testDelay - time.Second)
		processed, err := env.worker.ProcessDue(t.Context())
		require.NoError(t, err)
		assert.Zero(t, processed)

		stored, err := env.server.queries.GetLoanByID(t.Context(), loan.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Empty(t, env.notifier.Notifications())
	})

	t.Run("処理済みのタスクは再度処理されないこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, alwaysApprove)
		applyLoan(t, env, "borrower", testBankApplication())

		env.clock.Advance(testDelay)
		_, err := env.worker.ProcessDue(t.Context())
		require.NoError(t, err)

		env.clock.Advance(time.Hour)
		processed, err := env.worker.ProcessDue(t.Context())
		require.NoError(t, err)
		assert.Zero(t, processed)
		assert.Len(t, env.notifier.Notifications(), 1)
	})

	t.Run("確定済みの申請は上書きせず通知もしないこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, alwaysApprove)
		loan := applyLoan(t, env, "borrower", testBankApplication())

		rows, err := env.server.queries.DecideLoan(t.Context(), microfinancedb.DecideLoanParams{
			Status:          StatusRejected,
			RejectionReason: RejectionReason,
			UpdatedAt:       env.clock.Now(),
			ID:              loan.ID,
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), rows)

		env.clock.Advance(testDelay)
		_, err = env.worker.ProcessDue(t.Context())
		require.NoError(t, err)

		stored, err := env.server.queries.GetLoanByID(t.Context(), loan.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, stored.Status)
		assert.Empty(t, env.notifier.Notifications())

		task, err := env.server.queries.GetDecisionTaskByLoanID(t.Context(), loan.ID)
		require.NoError(t, err)
		assert.Equal(t, "done", task.Status)
	})

	t.Run("1回に処理する件数がバッチサイズに制限されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, alwaysApprove)
		env.worker.batchSize = 2
		for range 3 {
			applyLoan(t, env, "borrower", testBankApplication())
		}

		env.clock.Advance(testDelay)
		processed, err := env.worker.ProcessDue(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2, processed)

		processed, err = env.worker.ProcessDue(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, processed)
		assert.Len(t, env.notifier.For("borrower"), 3)
	})

	t.Run("審査結果の保存に失敗した場合はタスクがfailedになり申請はPendingのまま通知しないこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestServer(t, alwaysApprove)
		loan := applyLoan(t, env, "borrower", testBankApplication())

		_, err := env.server.db.ExecContext(t.Context(), `
			CREATE TRIGGER reject_loan_update BEFORE UPDATE ON loans
			BEGIN
				SELECT RAISE(ABORT, 'disk I/O error');
			END`)
		require.NoError(t, err)

		env.clock.Advance(testDelay)
		processed, err := env.worker.ProcessDue(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, processed)

		stored, err := env.server.queries.GetLoanByID(t.Context(), loan.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Empty(t, stored.RejectionReason)

		task, err := env.server.queries.GetDecisionTaskByLoanID(t.Context(), loan.ID)
		require.NoError(t, err)
		assert.Equal(t, "failed", task.Status)
		assert.Contains(t, task.LastError, "disk I/O error")
		assert.Empty(t, env.notifier.Notifications())

		env.clock.Advance(time.Hour)
		processed, err = env.worker.ProcessDue(t.Context())
		require.NoError(t, err)
		assert.Zero(t, processed, "失敗したタスクは再試行されない")
	})
}

func TestWorkerCommitFailure(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := newFakeClock()
	notifier := &notify.Recorder{}
	worker := NewWorker(sqlDB, alwaysApprove, notifier, nil, time.Second, 10)
	worker.now = clock.Now

	due := clock.Now().Add(-time.Second)
	columns := []string{"id", "loan_id", "user_id", "provider_name", "due_at", "status", "last_error", "created_at", "processed_at"}
	mock.ExpectQuery("SELECT .* FROM decision_tasks").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("task-1", "loan-1", "borrower", "TestBank", due, "pending", "", due, nil))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE loans").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE decision_tasks SET status = 'done'").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(assert.AnError)
	mock.ExpectExec("UPDATE decision_tasks SET status = 'failed'").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	processed, err := worker.ProcessDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Empty(t, notifier.Notifications())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRecoversAfterRestart(t *testing.T) {
	t.Parallel()

	dsn := "file:" + filepath.Join(t.TempDir(), "microfinance.db") + "?_time_format=sqlite"
	clock := newFakeClock()

	first, err := openDB(t.Context(), dsn)
	require.NoError(t, err)
	env := newTestEnv(first, alwaysApprove, clock)
	loan := applyLoan(t, env, "borrower", testBankApplication())
	require.NoError(t, first.Close())

	clock.Advance(time.Hour)

	second, err := openDB(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	restarted := newTestEnv(second, alwaysApprove, clock)

	processed, err := restarted.worker.ProcessDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	stored, err := restarted.server.queries.GetLoanByID(t.Context(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.Len(t, restarted.notifier.For("borrower"), 1)
}

func TestWorkerRun(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t, alwaysApprove)
	applyLoan(t, env, "borrower", testBankApplication())
	env.clock.Advance(testDelay)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		env.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(env.notifier.Notifications()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ワーカーが停止しませんでした")
	}
}

func TestBernoulliDecider(t *testing.T) {
	t.Parallel()

	t.Run("確率1では常に承認すること", func(t *testing.T) {
		t.Parallel()
		d := NewBernoulliDecider(1)
		for range 100 {
			assert.Equal(t, Approved(), d.Decide())
		}
	})

	t.Run("確率0では常に否決し理由が設定されること", func(t *testing.T) {
		t.Parallel()
		d := NewBernoulliDecider(0)
		for range 100 {
			got := d.Decide()
			assert.Equal(t, StatusRejected, got.Status)
			assert.NotEmpty(t, got.RejectionReason)
		}
	})

	t.Run("結果は承認か否決のいずれかであること", func(t *testing.T) {
		t.Parallel()
		d := NewBernoulliDecider(0.7)
		for range 100 {
			got := d.Decide()
			assert.Contains(t, []string{StatusApproved, StatusRejected}, got.Status)
			assert.Equal(t, got.Status == StatusRejected, got.RejectionReason != "")
		}
	})
}

// 失敗件数メトリクスを比較するため並列実行しない。
func TestWorkerShutdownDuringProcess(t *testing.T) {
	env := setupTestServer(t, alwaysApprove)
	loan := applyLoan(t, env, "borrower", testBankApplication())
	env.clock.Advance(testDelay)

	task, err := env.server.queries.GetDecisionTaskByLoanID(t.Context(), loan.ID)
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.DecisionTaskFailures)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	env.worker.process(ctx, task)

	assert.Equal(t, before, testutil.ToFloat64(metrics.DecisionTaskFailures))

	task, err = env.server.queries.GetDecisionTaskByLoanID(t.Context(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", task.Status)
	assert.Empty(t, env.notifier.Notifications())

	processed, err := env.worker.ProcessDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	stored, err := env.server.queries.GetLoanByID(t.Context(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
}
