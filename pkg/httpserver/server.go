// Package httpserver は全サービス共通のGinルーター構築とグレースフルシャットダウンを提供する。
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/ichiba/pkg/metrics"
	"github.com/nao1215/ichiba/pkg/middleware"
	"github.com/sirupsen/logrus"
)

// shutdownTimeout は処理中のリクエストの完了を待つ最大時間。
const shutdownTimeout = 10 * time.Second

// NewRouter は共通ミドルウェアとヘルスチェック、メトリクスのルートを設定したGinエンジンを返す。
func NewRouter(service string) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger(service))
	router.Use(metrics.Middleware(service))

	// ヘルスチェック
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	})
	router.GET("/metrics", metrics.Handler())
	return router
}

// Serve はhandlerをportで公開し、ctxがキャンセルされるとグレースフルに停止する。
// 停止による終了はエラーとして扱わない。
func Serve(ctx context.Context, port string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Info("HTTPサーバーを起動します")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("シャットダウンを開始します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}
