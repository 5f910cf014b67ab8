package display

import (
	"go.uber.org/zap"

	"presence-bell/internal/infra/logger"
)

// Log пишет кадры в журнал: для устройств без экрана и запуска под systemd.
type Log struct{}

// Render реализует Sink.
func (Log) Render(f Frame) error {
	names := make([]string, 0, len(f.Entries))
	for _, e := range f.Entries {
		names = append(names, e.Name)
	}
	fields := []zap.Field{
		zap.String("session", f.Session),
		zap.String("status", f.Status),
		zap.Strings("present", names),
		zap.String("last", f.Footer),
	}
	if f.Count.Valid || f.Count.Err {
		fields = append(fields, zap.Int("online", f.Count.Count), zap.Bool("stale", f.Count.Err))
	}
	if f.Update != "" {
		fields = append(fields, zap.String("update", f.Update))
	}
	logger.Info("Display", fields...)
	return nil
}
