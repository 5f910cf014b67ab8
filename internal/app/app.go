// Package app — сборка устройства: конфигурация, идентичность, сессия с сервером
// присутствия, HTTP-клиент, супервизор обновлений, экран, кнопка и консоль.
// Подсистемы поднимаются через lifecycle.Manager, основной работой занимается Loop.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"presence-bell/internal/adapters/button"
	"presence-bell/internal/adapters/cli"
	"presence-bell/internal/adapters/display"
	"presence-bell/internal/adapters/server"
	"presence-bell/internal/domain/commands"
	"presence-bell/internal/domain/counter"
	"presence-bell/internal/domain/update"
	"presence-bell/internal/infra/config"
	"presence-bell/internal/infra/identity"
	"presence-bell/internal/infra/lifecycle"
	"presence-bell/internal/infra/logger"
	"presence-bell/internal/infra/pr"
	"presence-bell/internal/infra/session"
	"presence-bell/internal/support/version"
)

// App агрегирует подсистемы устройства.
type App struct {
	mainCtx  context.Context
	stopApp  context.CancelFunc      // обычная остановка (exit, Ctrl-C в консоли)
	restart  context.CancelCauseFunc // перезапуск после установки обновления
	lc       *lifecycle.Manager
	store    *identity.Store
	id       identity.Identity
	sess     *session.Manager
	loop     *Loop
	console  *cli.Service
	loopDone sync.WaitGroup
}

// NewApp создаёт каркас приложения. restart отменяет корневой контекст с причиной
// update.ErrRestartRequested.
func NewApp(mainCtx context.Context, stopApp context.CancelFunc, restart context.CancelCauseFunc) *App {
	return &App{mainCtx: mainCtx, stopApp: stopApp, restart: restart}
}

// Init собирает подсистемы по текущей конфигурации.
func (a *App) Init() error {
	env := config.Env()

	store, err := identity.Open(env.IdentityFile)
	if err != nil {
		return err
	}
	a.store = store
	if a.id, err = store.Load(); err != nil {
		_ = store.Close()
		return err
	}
	logger.Info("Device identity",
		zap.String("user_id", a.id.UserID),
		zap.String("instance_id", a.id.InstanceID),
		zap.String("firmware", version.Version),
	)

	in, virtual, err := openButton(env)
	if err != nil {
		_ = store.Close()
		return err
	}

	var sink display.Sink = display.Log{}
	if env.Display == config.DisplayTerminal {
		sink = display.NewTerminal(pr.Stdout())
	}

	header := http.Header{}
	header.Set(server.HeaderDeviceID, a.id.InstanceID)
	header.Set(server.HeaderFirmwareVersion, version.Version)
	wsURL := env.WebSocketURL()

	// Колбэки сессии и супервизора указывают на цикл, который создаётся позже.
	var loop *Loop
	a.sess = session.NewManager(session.Options{
		Dial:           session.NewWebSocketDialer(webSocketOptions(env, header)),
		Endpoint:       wsURL,
		ConnectTimeout: env.ConnectTimeout,
		SendTimeout:    env.SendTimeout,
		PingInterval:   env.PingInterval,
		ReconnectMin:   env.ReconnectMin,
		ReconnectMax:   env.ReconnectMax,
		OnStateChange: func(s session.State) {
			if loop != nil {
				loop.OnSessionState(s)
			}
		},
	})

	client := server.NewClient(server.Options{
		BaseURL:       env.HTTPBaseURL,
		UpdateURL:     env.UpdateBaseURL,
		DeviceID:      a.id.InstanceID,
		CountTimeout:  env.CountTimeout,
		UpdateTimeout: env.UpdateTimeout,
		Installer:     server.StagedInstaller{Path: env.FirmwareStagingFile},
	})
	supervisor := update.NewSupervisor(update.Options{
		Checker: client,
		Version: version.Version,
		Report: func(st *update.Status) {
			if loop != nil {
				loop.ShowUpdate(st)
			}
		},
		Restart: func() { a.restart(update.ErrRestartRequested) },
		Hold:    env.StatusHold,
	})

	loop = NewLoop(LoopOptions{
		Session:         a.sess,
		Button:          in,
		Display:         display.NewDedup(sink),
		Updates:         supervisor,
		Count:           counter.NewPoller(client, env.CountTimeout, nil),
		DeviceID:        a.id.UserID,
		FirmwareVersion: version.Version,
		Title:           env.DisplayTitle,
		Tick:            env.TickInterval,
		MaxFrames:       env.MaxFramesPerTick,
		UpdateEvery:     env.UpdateInterval,
		CountEvery:      env.CountInterval,
	})
	a.loop = loop

	if env.ConsoleEnable && pr.Rl() != nil {
		var vb commands.VirtualButton
		if virtual != nil {
			vb = virtual
		}
		exec := commands.NewExecutor(loop, vb, store, commands.Identity{UserID: a.id.UserID, InstanceID: a.id.InstanceID})
		a.console = cli.NewService(exec, a.stopApp)
	}

	return a.registerNodes()
}

// webSocketOptions задаёт транспорт сессии. Дедлайн чтения, продлеваемый pong,
// обнаруживает сервер, который перестал отвечать, не закрыв соединение.
func webSocketOptions(env config.EnvConfig, header http.Header) session.WebSocketOptions {
	return session.WebSocketOptions{
		URL:              env.WebSocketURL(),
		Header:           header,
		PongWait:         env.PongWait,
		HandshakeTimeout: env.ConnectTimeout,
	}
}

func openButton(env config.EnvConfig) (button.Input, *button.Virtual, error) {
	if env.ButtonSource == config.ButtonGPIO {
		g, err := button.OpenGPIO(env.ButtonPin)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open button")
		}
		logger.Infof("Button: GPIO %s", env.ButtonPin)
		return g, nil, nil
	}
	v := &button.Virtual{}
	logger.Info("Button: console-driven virtual input")
	return v, v, nil
}

// registerNodes описывает порядок подъёма: identity → session → loop → console.
func (a *App) registerNodes() error {
	a.lc = lifecycle.New(a.mainCtx)

	if err := a.lc.Register("identity", nil, nil, a.store.Close); err != nil {
		return err
	}
	if err := a.lc.Register("session", []string{"identity"}, nil, func() error {
		a.sess.Close()
		return nil
	}); err != nil {
		return err
	}
	if err := a.lc.Register("loop", []string{"session"},
		func(ctx context.Context) error {
			a.loopDone.Go(func() {
				if err := a.loop.Run(ctx); err != nil {
					logger.Error("Control loop failed", zap.Error(err))
				}
			})
			return nil
		},
		func() error {
			a.loopDone.Wait()
			return nil
		},
	); err != nil {
		return err
	}
	if a.console == nil {
		return nil
	}
	return a.lc.Register("console", []string{"loop"},
		func(ctx context.Context) error {
			a.console.Start(ctx)
			return nil
		},
		func() error {
			a.console.Stop()
			return nil
		},
	)
}

// Run поднимает подсистемы и блокируется до отмены основного контекста.
func (a *App) Run() error {
	if a.lc == nil {
		return errors.New("app is not initialised")
	}
	if err := a.lc.StartAll(); err != nil {
		return errors.Wrap(err, "start")
	}
	logger.Info("Device running", zap.String("user_id", a.id.UserID))

	<-a.mainCtx.Done()
	logger.Debug("Shutdown signal received, stopping subsystems...")
	return a.lc.Shutdown()
}
