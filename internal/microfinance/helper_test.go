package microfinance

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	microfinancedb "github.com/nao1215/ichiba/internal/microfinance/db"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/nao1215/ichiba/pkg/migration"
	"github.com/nao1215/ichiba/pkg/notify"
)

const (
	testSecret = "test-secret"
	testDelay  = 5 * time.Second
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv はテスト用のサーバーと観測用の部品をまとめたもの。
type testEnv struct {
	server   *Server
	worker   *Worker
	notifier *notify.Recorder
	clock    *fakeClock
}

// setupTestServer はインメモリSQLiteと指定の審査結果でテスト用サーバーを構築する。
func setupTestServer(t *testing.T, decider Decider) *testEnv {
	t.Helper()

	sqlDB, err := openDB(t.Context(), migration.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return newTestEnv(sqlDB, decider, newFakeClock())
}

// newTestEnv は既存のDB接続からテスト用サーバーを構築する。
// Event Storeへの記録は行わない。
func newTestEnv(sqlDB *sql.DB, decider Decider, clock *fakeClock) *testEnv {
	notifier := &notify.Recorder{}

	scheduler := NewScheduler(testDelay)
	scheduler.now = clock.Now

	worker := NewWorker(sqlDB, decider, notifier, nil, 10*time.Millisecond, 50)
	worker.now = clock.Now

	s := &Server{
		router:              gin.New(),
		port:                "0",
		queries:             microfinancedb.New(sqlDB),
		db:                  sqlDB,
		scheduler:           scheduler,
		worker:              worker,
		jwtSecret:           testSecret,
		defaultInterestRate: 12.5,
		now:                 clock.Now,
		log:                 logrus.WithField("service", serviceName),
	}
	s.setupRoutes()

	return &testEnv{server: s, worker: worker, notifier: notifier, clock: clock}
}

// alwaysApprove は常に承認するDecider。
var alwaysApprove = DeciderFunc(Approved)

// alwaysReject は常に否決するDecider。
var alwaysReject = DeciderFunc(Rejected)

// doRequest はuserIDのJWTを付与してリクエストを実行する。userIDが空の場合はJWTを付与しない。
func doRequest(t *testing.T, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := middleware.GenerateJWT(testSecret, userID, userID+"@example.com", middleware.RoleUser)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// applyResponse はローン申請APIのレスポンス。
type applyResponse struct {
	Loan    loanResponse `json:"loan"`
	Message string       `json:"message"`
}

// applyLoan はローンを申請し、作成された申請を返す。
func applyLoan(t *testing.T, env *testEnv, userID string, body map[string]any) loanResponse {
	t.Helper()

	w := doRequest(t, env.server.router, http.MethodPost, "/api/v1/loans", userID, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp applyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Loan
}

// testBankApplication はTestBankへの5000の申請内容。
func testBankApplication() map[string]any {
	return map[string]any{
		"provider_name": "TestBank",
		"amount":        5000,
		"purpose":       "店舗の改装",
	}
}
