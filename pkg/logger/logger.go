// Package logger は全サービス共通のlogrusロガー設定を提供する。
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init はグローバルなlogrusロガーを初期化する。
// levelが解釈できない場合はinfoレベルを使用する。formatが "json" の場合はJSON形式で出力する。
func Init(level, format string) {
	Configure(logrus.StandardLogger(), os.Stdout, level, format)
}

// Configure は指定されたロガーの出力先、レベル、フォーマットを設定する。
func Configure(l *logrus.Logger, out io.Writer, level, format string) {
	l.SetOutput(out)

	lv, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
		return
	}
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// ForService はサービス名を付与したログエントリを返す。
func ForService(service string) *logrus.Entry {
	return logrus.WithField("service", service)
}
