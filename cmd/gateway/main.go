// API Gatewayサービスのエントリポイント。
// JWT発行と内部サービスへのリクエスト転送を担当する。外部からアクセス可能な唯一のサービス。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/ichiba/internal/gateway"
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
	cfg, err := config.Load("gateway")
	if err != nil {
		logrus.WithError(err).Error("設定の読み込みに失敗しました")
		return 1
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	metrics.Register()
	log := logger.ForService(cfg.Service)

	server, err := gateway.NewServer(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Gatewayサーバーの初期化に失敗しました")
		return 1
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.WithError(err).Warn("データベースのクローズに失敗しました")
		}
	}()

	log.WithField("port", cfg.Port).Info("Gatewayサービスを起動します")
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("Gatewayサービスが異常終了しました")
		return 1
	}
	log.Info("Gatewayサービスを停止しました")
	return 0
}
