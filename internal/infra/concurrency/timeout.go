// Package concurrency — служебные таймеры процесса.
package concurrency

import (
	"context"
	"time"

	"go.uber.org/zap"

	"presence-bell/internal/infra/logger"
)

// StopAfter вызывает stop через d, если ctx к тому моменту не отменён. Нужна для
// ограниченных по времени прогонов (стенд, симуляция без железа). d<=0 — ничего не делает.
// Возвращённая функция снимает таймер.
func StopAfter(ctx context.Context, d time.Duration, stop context.CancelFunc) (cancel func()) {
	if d <= 0 || stop == nil {
		return func() {}
	}
	logger.Info("Run timeout armed", zap.Duration("timeout", d))
	timer := time.AfterFunc(d, func() {
		logger.Info("Run timeout reached, shutting down")
		stop()
	})
	unregister := context.AfterFunc(ctx, func() { timer.Stop() })
	return func() {
		unregister()
		timer.Stop()
	}
}
