// Package metrics は全サービス共通のPrometheusメトリクスを定義する。
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests はHTTPリクエスト数。
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichiba_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	// HTTPDuration はHTTPリクエストの処理時間。
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ichiba_http_request_duration_seconds",
			Help:    "Histogram of HTTP response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// NotificationsEmitted は通知送信の試行結果（success, failure, skipped）。
	NotificationsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichiba_notifications_emitted_total",
			Help: "Number of notification emissions by type and result",
		},
		[]string{"type", "result"},
	)

	// LoanDecisions は確定したローン審査結果の件数。
	LoanDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ichiba_loan_decisions_total",
			Help: "Number of loan decisions by outcome",
		},
		[]string{"outcome"},
	)

	// DecisionTaskFailures は審査結果の永続化に失敗したタスク数。
	DecisionTaskFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ichiba_decision_task_failures_total",
			Help: "Number of decision tasks that failed to persist their outcome",
		},
	)

	// DecisionLag は審査予定時刻から実際に処理されるまでの遅れ（秒）。
	DecisionLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ichiba_decision_lag_seconds",
			Help:    "Delay between a decision task's due time and its processing",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
	)

	registerOnce sync.Once
)

// Register は全メトリクスをデフォルトレジストリに登録する。複数回呼び出しても安全。
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequests,
			HTTPDuration,
			NotificationsEmitted,
			LoanDecisions,
			DecisionTaskFailures,
			DecisionLag,
		)
	})
}

// Handler は /metrics 用のGinハンドラを返す。
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware はリクエスト数と処理時間を記録するGinミドルウェアを返す。
// パスラベルにはルート定義（例: /api/v1/loans/:id）を使い、未定義ルートは "unmatched" とする。
func Middleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequests.WithLabelValues(service, c.Request.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(service, c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
