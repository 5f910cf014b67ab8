// Package commands — общий интерфейс команд управления устройством. Команды
// приходят из консоли; всё, что трогает состояние управляющего цикла, выполняется
// в его горутине через LoopClient.
package commands

import (
	"context"
	"time"
)

// Executor выполняет команды управления.
type Executor interface {
	// Status возвращает снимок состояния устройства.
	Status(ctx context.Context) (*StatusResult, error)
	// CheckUpdate запускает интерактивную проверку обновления.
	CheckUpdate(ctx context.Context) (*UpdateResult, error)
	// RefreshCount внепланово опрашивает счётчик онлайна.
	RefreshCount(ctx context.Context) (*CountResult, error)
	// Press, Release, Tap управляют виртуальной кнопкой.
	Press(ctx context.Context) error
	Release(ctx context.Context) error
	Tap(ctx context.Context) error
	// Whoami возвращает идентичность устройства.
	Whoami(ctx context.Context) (*WhoamiResult, error)
	// Rename сохраняет новое имя; оно вступит в силу после перезапуска.
	Rename(ctx context.Context, name string) (*WhoamiResult, error)
	// Version возвращает версию прошивки.
	Version(ctx context.Context) (*VersionResult, error)
}

// LoopClient — операции, исполняемые внутри управляющего цикла.
type LoopClient interface {
	Status(ctx context.Context) (*StatusResult, error)
	CheckUpdate(ctx context.Context) (*UpdateResult, error)
	RefreshCount(ctx context.Context) (*CountResult, error)
}

// StatusResult — результат команды Status.
type StatusResult struct {
	Session       string    // состояние сессии
	NextReconnect time.Time // нулевое, если сессия жива или попытка разрешена сразу
	Status        string    // строка состояния на экране
	Present       []string  // присутствующие; неподтверждённые помечены "*"
	LastMessage   string    // последнее входящее сообщение
	Count         CountResult
	Ticks         uint64 // число отработанных тиков
}

// UpdateResult — результат команды CheckUpdate.
type UpdateResult struct {
	Phase   string
	Message string
}

// CountResult — результат команды RefreshCount.
type CountResult struct {
	Count     int
	Valid     bool
	Stale     bool
	UpdatedAt time.Time
}

// WhoamiResult — результат команд Whoami и Rename.
type WhoamiResult struct {
	UserID        string // имя текущего запуска
	InstanceID    string
	PendingUserID string // сохранённое, но ещё не применённое имя
}

// VersionResult — результат команды Version.
type VersionResult struct {
	Version string
	Info    string
}
