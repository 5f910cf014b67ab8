// Package counter — опрос внешнего эндпоинта «сколько сейчас онлайн».
// Снимок перезаписывается при каждом успешном опросе. При ошибке прежнее значение
// сохраняется, а флаг Err поднимается, чтобы экран отличал «устаревшее» от «свежего».
// Флаг держится до следующего успешного опроса.
package counter

import (
	"context"
	"time"

	"presence-bell/internal/infra/logger"

	"go.uber.org/zap"
)

// Fetcher получает текущее число присутствующих (HTTP-клиент сервера).
type Fetcher interface {
	FetchCount(ctx context.Context) (int, error)
}

// Snapshot — последнее известное значение счётчика.
type Snapshot struct {
	Count     int       // последнее успешно полученное значение
	Valid     bool      // был ли хотя бы один успешный опрос
	Err       bool      // последний опрос завершился ошибкой
	UpdatedAt time.Time // время последнего успешного опроса
}

// Poller хранит снимок и выполняет опросы с ограничением по времени.
type Poller struct {
	fetch   Fetcher
	timeout time.Duration
	clock   func() time.Time
	snap    Snapshot
}

// NewPoller создаёт опросчик. timeout ограничивает один запрос; clock можно
// подменить в тестах (nil — time.Now).
func NewPoller(fetch Fetcher, timeout time.Duration, clock func() time.Time) *Poller {
	if clock == nil {
		clock = time.Now
	}
	return &Poller{fetch: fetch, timeout: timeout, clock: clock}
}

// Poll выполняет один опрос и возвращает обновлённый снимок.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	pollCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	n, err := p.fetch.FetchCount(pollCtx)
	if err != nil {
		if !p.snap.Err {
			logger.Warn("Count poll failed", zap.Error(err), zap.Int("stale_count", p.snap.Count))
		}
		p.snap.Err = true
		return p.snap
	}

	if p.snap.Err {
		logger.Info("Count poll recovered", zap.Int("count", n))
	}
	p.snap = Snapshot{Count: n, Valid: true, UpdatedAt: p.clock()}
	return p.snap
}

// Snapshot возвращает последний снимок без сетевых вызовов.
func (p *Poller) Snapshot() Snapshot {
	return p.snap
}
