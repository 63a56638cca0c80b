package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	t.Run("停止要求を受けると終了コード0を返すこと", func(t *testing.T) {
		t.Setenv("PORT", "0")
		t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "notification.db"))
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		assert.Equal(t, 0, run(ctx))
	})

	t.Run("ポートを確保できなければ終了コード1を返すこと", func(t *testing.T) {
		t.Setenv("PORT", "-1")
		t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "notification.db"))

		assert.Equal(t, 1, run(context.Background()))
	})

	t.Run("設定が不正なら終了コード1を返すこと", func(t *testing.T) {
		t.Setenv("LOAN_BATCH_SIZE", "0")

		assert.Equal(t, 1, run(context.Background()))
	})
}
