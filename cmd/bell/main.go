package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"presence-bell/internal/app"
	"presence-bell/internal/domain/update"
	"presence-bell/internal/infra/concurrency"
	"presence-bell/internal/infra/config"
	"presence-bell/internal/infra/logger"
	"presence-bell/internal/infra/pr"
	"presence-bell/internal/support/version"
)

// exitRestart — код выхода после установки прошивки: systemd перезапускает сервис
// (Restart=on-failure / RestartForceExitStatus=75), и загрузчик подхватывает новый образ.
const exitRestart = 75

func main() {
	envPath := pflag.String("env", "assets/.env", "path to .env file")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	// Консоль нужна только при интерактивном запуске: под systemd stdin не терминал.
	if env.ConsoleEnable && term.IsTerminal(int(os.Stdin.Fd())) {
		if err := pr.Init("bell> "); err != nil {
			logger.Fatal("failed to init console", zap.Error(err))
		}
	}

	logger.Init(env.LogLevel)
	logger.InitFile(logger.FileOptions{
		Path:       env.LogFile,
		Level:      env.LogFileLevel,
		MaxSizeMB:  env.LogFileMaxSize,
		MaxBackups: env.LogFileMaxBackups,
		MaxAgeDays: env.LogFileMaxAge,
		Compress:   env.LogFileCompress,
	})
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	defer logger.Close()
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}
	logger.Info("Presence bell starting", zap.String("version", version.Info()))

	root, restart := context.WithCancelCause(context.Background())
	defer restart(nil)
	ctx, stop := signal.NotifyContext(root, os.Interrupt, syscall.SIGTERM)
	disarm := concurrency.StopAfter(ctx, env.RunTimeout, stop)
	defer disarm()

	a := app.NewApp(ctx, stop, restart)
	if err := a.Init(); err != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(err))
	}
	if err := a.Run(); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
	}
	stop()

	if errors.Is(context.Cause(root), update.ErrRestartRequested) {
		logger.Info("Exiting for firmware restart")
		logger.Close()
		os.Exit(exitRestart) //nolint:gocritic // defer уже отработан вручную
	}
	logger.Info("Graceful shutdown complete")
}
