package commands

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"presence-bell/internal/infra/logger"
	versioninfo "presence-bell/internal/support/version"
)

// ErrNoVirtualButton — кнопка физическая, управлять ею из консоли нельзя.
var ErrNoVirtualButton = errors.New("button is wired to GPIO")

// VirtualButton — кнопка, управляемая командами.
type VirtualButton interface {
	Press()
	Release()
	Tap()
}

// NameStore сохраняет имя устройства.
type NameStore interface {
	SetUserID(name string) error
}

// Identity — идентичность текущего запуска.
type Identity struct {
	UserID     string
	InstanceID string
}

// CommandExecutor — реализация Executor.
type CommandExecutor struct {
	loop     LoopClient
	button   VirtualButton // nil, если кнопка физическая
	names    NameStore
	identity Identity

	mu      sync.Mutex
	pending string
}

// NewExecutor создаёт исполнитель. button может быть nil.
func NewExecutor(loop LoopClient, button VirtualButton, names NameStore, identity Identity) *CommandExecutor {
	return &CommandExecutor{loop: loop, button: button, names: names, identity: identity}
}

// Status проксирует запрос в цикл.
func (e *CommandExecutor) Status(ctx context.Context) (*StatusResult, error) {
	return e.loop.Status(ctx)
}

// CheckUpdate проксирует запрос в цикл.
func (e *CommandExecutor) CheckUpdate(ctx context.Context) (*UpdateResult, error) {
	return e.loop.CheckUpdate(ctx)
}

// RefreshCount проксирует запрос в цикл.
func (e *CommandExecutor) RefreshCount(ctx context.Context) (*CountResult, error) {
	return e.loop.RefreshCount(ctx)
}

func (e *CommandExecutor) Press(context.Context) error {
	return e.withButton(VirtualButton.Press)
}

func (e *CommandExecutor) Release(context.Context) error {
	return e.withButton(VirtualButton.Release)
}

func (e *CommandExecutor) Tap(context.Context) error {
	return e.withButton(VirtualButton.Tap)
}

func (e *CommandExecutor) withButton(fn func(VirtualButton)) error {
	if e.button == nil {
		return ErrNoVirtualButton
	}
	fn(e.button)
	return nil
}

// Whoami возвращает идентичность текущего запуска.
func (e *CommandExecutor) Whoami(context.Context) (*WhoamiResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &WhoamiResult{
		UserID:        e.identity.UserID,
		InstanceID:    e.identity.InstanceID,
		PendingUserID: e.pending,
	}, nil
}

// Rename сохраняет новое имя. Идентичность текущего запуска не меняется.
func (e *CommandExecutor) Rename(ctx context.Context, name string) (*WhoamiResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is empty")
	}
	if e.names == nil {
		return nil, errors.New("identity store is not available")
	}
	if err := e.names.SetUserID(name); err != nil {
		return nil, err
	}
	logger.Infof("Device name saved: %q (applies after restart)", name)

	e.mu.Lock()
	e.pending = name
	e.mu.Unlock()
	return e.Whoami(ctx)
}

// Version возвращает версию прошивки.
func (e *CommandExecutor) Version(context.Context) (*VersionResult, error) {
	return &VersionResult{Version: versioninfo.Version, Info: versioninfo.Info()}, nil
}
