package reporter

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/content-fanout/config"
)

// Init 初始化 sentry；DSN 为空时 sentry 客户端保持未绑定，Capture 调用为 no-op
func Init(cfg config.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
}

// Capture 上报错误并附带标签
func Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush 进程退出前等待事件发送
func Flush() {
	sentry.Flush(2 * time.Second)
}
