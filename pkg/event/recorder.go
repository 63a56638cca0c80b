package event

import (
	"context"
	"encoding/json"

	"github.com/nao1215/ichiba/pkg/httpclient"
	"github.com/sirupsen/logrus"
)

// AppendRequest はEvent Storeへのイベント追記リクエストのJSON構造。
type AppendRequest struct {
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id" binding:"required"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type" binding:"required"`
	// EventType はイベントの種類。
	EventType string `json:"event_type" binding:"required"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data" binding:"required"`
}

// Recorder はドメインイベントをEvent Storeに追記する。
// 追記は監査ログ目的のベストエフォートであり、失敗しても呼び出し元の処理は継続する。
type Recorder struct {
	client *httpclient.Client
	log    *logrus.Entry
}

// NewRecorder は新しいRecorderを生成する。clientがnilの場合は何も記録しない。
func NewRecorder(client *httpclient.Client) *Recorder {
	return &Recorder{
		client: client,
		log:    logrus.WithField("component", "event-recorder"),
	}
}

// Record はイベントをEvent Storeに追記する。失敗はログに記録するのみでエラーは返さない。
func (r *Recorder) Record(ctx context.Context, aggregateID string, aggregateType AggregateType, eventType Type, data any) {
	if r == nil || r.client == nil {
		return
	}

	fields := logrus.Fields{
		"aggregate_id": aggregateID,
		"event_type":   string(eventType),
	}

	req, err := NewAppendRequest(aggregateID, aggregateType, eventType, data)
	if err != nil {
		r.log.WithFields(fields).WithError(err).Warn("イベントデータのシリアライズに失敗しました")
		return
	}
	if err := r.client.PostJSON(ctx, "/api/v1/events", req, nil); err != nil {
		r.log.WithFields(fields).WithError(err).Warn("Event Storeへのイベント追記に失敗しました")
		return
	}
	r.log.WithFields(fields).Debug("イベントを追記しました")
}
