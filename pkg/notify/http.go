package notify

import (
	"context"
	"time"

	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/nao1215/ichiba/pkg/metrics"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/sirupsen/logrus"
)

// sendPath は通知サービスの内部送信APIのパス。
const sendPath = "/internal/notifications"

// sendTimeout は1回の送信に許容する時間。
const sendTimeout = 5 * time.Second

// HTTPEmitter は通知サービスの内部APIに通知を送信するEmitter。
type HTTPEmitter struct {
	client *httpclient.Client
	log    *logrus.Entry
}

// NewHTTPEmitter は通知サービスのベースURLと内部APIトークンからHTTPEmitterを生成する。
func NewHTTPEmitter(baseURL, internalToken string) *HTTPEmitter {
	return &HTTPEmitter{
		client: httpclient.New(baseURL,
			httpclient.WithHeader(middleware.HeaderInternalToken, internalToken),
			httpclient.WithTimeout(sendTimeout),
		),
		log: logrus.WithField("component", "notify"),
	}
}

// Emit は通知を1回だけ送信する。
// 通知先が操作者自身の場合や通知先が空の場合は送信しない。
// 送信の失敗はログとメトリクスに記録し、呼び出し元には伝えない。
func (e *HTTPEmitter) Emit(ctx context.Context, n Notification) {
	fields := logrus.Fields{
		"recipient_id": n.RecipientID,
		"type":         string(n.Type),
		"related_id":   n.RelatedID,
	}

	if n.RecipientID == "" {
		metrics.NotificationsEmitted.WithLabelValues(string(n.Type), "skipped").Inc()
		e.log.WithFields(fields).Warn("通知先が空のため通知を送信しません")
		return
	}
	if n.IsSelf() {
		metrics.NotificationsEmitted.WithLabelValues(string(n.Type), "skipped").Inc()
		e.log.WithFields(fields).Debug("操作者自身への通知は送信しません")
		return
	}

	// リクエストのキャンセルに引きずられないよう、呼び出し元の値だけを引き継ぐ
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := e.client.PostJSON(sendCtx, sendPath, n, nil); err != nil {
		metrics.NotificationsEmitted.WithLabelValues(string(n.Type), "failure").Inc()
		e.log.WithFields(fields).WithError(err).Error("通知の送信に失敗しました")
		return
	}

	metrics.NotificationsEmitted.WithLabelValues(string(n.Type), "success").Inc()
	e.log.WithFields(fields).Debug("通知を送信しました")
}
