// サービス予約のエントリポイント。
// 購入者と出品者の間の予約と、出品者によるステータス遷移を扱う。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/ichiba/internal/booking"
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
	cfg, err := config.Load("booking")
	if err != nil {
		logrus.WithError(err).Error("設定の読み込みに失敗しました")
		return 1
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	metrics.Register()
	log := logger.ForService(cfg.Service)

	server, err := booking.NewServer(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("予約サーバーの初期化に失敗しました")
		return 1
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.WithError(err).Warn("データベースのクローズに失敗しました")
		}
	}()

	log.WithField("port", cfg.Port).Info("予約サービスを起動します")
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("予約サービスが異常終了しました")
		return 1
	}
	log.Info("予約サービスを停止しました")
	return 0
}
