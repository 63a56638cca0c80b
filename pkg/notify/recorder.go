package notify

import (
	"context"
	"sync"
)

// Recorder は送信された通知をメモリに記録するEmitter。テストで使用する。
// 操作者自身への通知はHTTPEmitterと同様に記録しない。
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

// Emit は通知を記録する。
func (r *Recorder) Emit(_ context.Context, n Notification) {
	if n.RecipientID == "" || n.IsSelf() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

// Notifications は記録された通知のコピーを返す。
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// For は指定ユーザー宛ての通知のみを返す。
func (r *Recorder) For(recipientID string) []Notification {
	var out []Notification
	for _, n := range r.Notifications() {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}
