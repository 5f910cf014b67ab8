// Package update — супервизор проверки и установки обновлений прошивки.
// Сам перенос образа выполняет внешний Checker (HTTP-клиент + установщик); супервизор
// только запускает проверку, транслирует прогресс на экран и решает, что показать
// по итогам. При успешной установке вызывается хук перезапуска, и управляющий цикл
// завершается.
package update

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"presence-bell/internal/infra/logger"
)

// ErrRestartRequested — причина отмены корневого контекста после установки нового образа.
var ErrRestartRequested = errors.New("restart requested after firmware install")

// Phase — стадия проверки обновления.
type Phase int

const (
	Idle Phase = iota
	Checking
	Downloading
	Failed
	UpToDate
	Installed
)

func (p Phase) String() string {
	switch p {
	case Checking:
		return "checking"
	case Downloading:
		return "downloading"
	case Failed:
		return "failed"
	case UpToDate:
		return "up-to-date"
	case Installed:
		return "installed"
	default:
		return "idle"
	}
}

// Status — текущая стадия для отрисовки. Progress имеет смысл для Downloading
// (0..100, -1 если размер неизвестен), Reason — для Failed.
type Status struct {
	Phase    Phase
	Progress int
	Reason   string
}

// Message — короткая строка статуса для экрана.
func (s Status) Message() string {
	switch s.Phase {
	case Checking:
		return "Checking update..."
	case Downloading:
		if s.Progress < 0 {
			return "Updating..."
		}
		return fmt.Sprintf("Updating %d%%", s.Progress)
	case Failed:
		return "Update failed: " + s.Reason
	case UpToDate:
		return "Firmware up to date"
	case Installed:
		return "Update OK, restarting"
	default:
		return ""
	}
}

// Outcome — итог успешно завершившейся проверки.
type Outcome int

const (
	NoUpdate Outcome = iota
	InstalledUpdate
)

// ProgressFunc получает число загруженных байт и общий размер (total<=0 — неизвестен).
type ProgressFunc func(done, total int64)

// Checker выполняет запрос версии и, если есть обновление, загружает и устанавливает его.
type Checker interface {
	CheckAndInstall(ctx context.Context, currentVersion string, progress ProgressFunc) (Outcome, error)
}

// Reporter показывает статус на экране. nil-статус означает «вернуть обычный экран».
type Reporter func(st *Status)

// Options — зависимости и параметры супервизора.
type Options struct {
	Checker Checker
	Version string                               // текущая версия прошивки
	Report  Reporter                             // может быть nil
	Restart func()                               // вызывается после установки; может быть nil
	Hold    time.Duration                        // сколько держать итоговое сообщение на экране
	Sleep   func(context.Context, time.Duration) // подменяется в тестах
}

// Supervisor — см. описание пакета.
type Supervisor struct {
	opts Options
}

// NewSupervisor создаёт супервизор.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Supervisor{opts: opts}
}

// Check выполняет одну проверку.
//
// В интерактивном режиме (silent=false) показываются все стадии, итог держится на
// экране Hold. В фоновом режиме (silent=true) показываются только прогресс загрузки
// и ошибка; «обновлений нет» возвращает прежний экран без задержки.
func (s *Supervisor) Check(ctx context.Context, silent bool) Status {
	if !silent {
		s.report(&Status{Phase: Checking})
	}

	lastPct := -2
	progress := func(done, total int64) {
		pct := -1
		if total > 0 {
			pct = int(done * 100 / total)
		}
		if pct == lastPct {
			return
		}
		lastPct = pct
		s.report(&Status{Phase: Downloading, Progress: pct})
	}

	outcome, err := s.opts.Checker.CheckAndInstall(ctx, s.opts.Version, progress)
	var st Status
	switch {
	case err != nil:
		st = Status{Phase: Failed, Reason: shortReason(err)}
		logger.Warn("Firmware update failed", zap.Error(err), zap.Bool("silent", silent))
	case outcome == InstalledUpdate:
		st = Status{Phase: Installed}
		logger.Info("Firmware update installed, restarting")
	default:
		st = Status{Phase: UpToDate}
		logger.Debug("Firmware up to date", zap.String("version", s.opts.Version))
	}

	switch {
	case st.Phase == Installed:
		s.report(&st)
		s.opts.Sleep(ctx, s.opts.Hold)
		if s.opts.Restart != nil {
			s.opts.Restart()
		}
		return st
	case st.Phase == Failed || !silent:
		s.report(&st)
		s.opts.Sleep(ctx, s.opts.Hold)
	}
	s.report(nil)
	return st
}

// report вызывает Reporter, гася возможную панику: отображение прогресса
// носит рекомендательный характер и не должно менять ход проверки.
func (s *Supervisor) report(st *Status) {
	if s.opts.Report == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("Update: reporter panic ignored: %v", r)
		}
	}()
	s.opts.Report(st)
}

// shortReason укорачивает текст ошибки до размера, который поместится на экране.
func shortReason(err error) string {
	const maxLen = 32
	runes := []rune(err.Error())
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return string(runes)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
