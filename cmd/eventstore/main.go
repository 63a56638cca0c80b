// イベントストアサービスのエントリポイント。
// 各サービスの状態変更を監査用イベントとして追記のみで保存する。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/ichiba/internal/eventstore"
	"github.com/nao1215/ichiba/pkg/config"
	"github.com/nao1215/ichiba/pkg/logger"
	"github.com/nao1215/ichiba/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

// run はサービスを起動し、ctxがキャンセルされるまで待機する。終了コードを返す。
func run(ctx context.Context) int {
	cfg, err := config.Load("eventstore")
	if err != nil {
		logrus.WithError(err).Error("設定の読み込みに失敗しました")
		return 1
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	metrics.Register()
	log := logger.ForService(cfg.Service)

	server, err := eventstore.NewServer(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("イベントストアサーバーの初期化に失敗しました")
		return 1
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.WithError(err).Warn("データベースのクローズに失敗しました")
		}
	}()

	log.WithField("port", cfg.Port).Info("イベントストアサービスを起動します")
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("イベントストアサービスが異常終了しました")
		return 1
	}
	log.Info("イベントストアサービスを停止しました")
	return 0
}
