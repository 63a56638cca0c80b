package event

import (
	"encoding/json"
	"fmt"
)

// NewAppendRequest はイベント固有のデータをJSONにシリアライズし、追記リクエストを組み立てる。
func NewAppendRequest(aggregateID string, aggregateType AggregateType, eventType Type, data any) (AppendRequest, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return AppendRequest{}, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}
	return AppendRequest{
		AggregateID:   aggregateID,
		AggregateType: string(aggregateType),
		EventType:     string(eventType),
		Data:          jsonData,
	}, nil
}
