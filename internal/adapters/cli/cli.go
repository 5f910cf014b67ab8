// Package cli — интерактивная консоль устройства. Сервис стартует фоном, читает
// команды из readline и передаёт их исполнителю commands.Executor. Консоль заменяет
// физическую кнопку при отладке без железа и даёт посмотреть состояние цикла.
// Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"presence-bell/internal/domain/commands"
	"presence-bell/internal/infra/logger"
	"presence-bell/internal/infra/pr"
)

// commandDescriptor описывает одну команду для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр команд. Имена должны совпадать с кейсами handleCommand.
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "press", description: "Hold the virtual button down"},
	{name: "release", description: "Release the virtual button"},
	{name: "tap", description: "Press and release the virtual button"},
	{name: "status", description: "Dump session, presence and counter state"},
	{name: "update", description: "Check for a firmware update now"},
	{name: "count", description: "Poll the online counter now"},
	{name: "name", description: "Save a new device name: name <new> (applies after restart)"},
	{name: "whoami", description: "Show device name and instance id"},
	{name: "version", description: "Print firmware version"},
	{name: "exit", description: "Stop the device service"},
}

const (
	commandTimeout = 30 * time.Second
	// updateTimeout покрывает загрузку образа и удержание итогового статуса на экране.
	updateTimeout = 3 * time.Minute
)

// Service — консольный сервис.
type Service struct {
	exec      commands.Executor
	stopApp   context.CancelFunc // команда exit и Ctrl-C на пустой строке
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт консоль.
func NewService(exec commands.Executor, stopApp context.CancelFunc) *Service {
	return &Service{exec: exec, stopApp: stopApp}
}

// Start запускает цикл чтения в отдельной горутине. Требует pr.Init.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop прерывает readline и дожидается завершения цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		pr.InterruptReadline()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) run(ctx context.Context) {
	rl := pr.Rl()
	if rl == nil {
		logger.Warn("CLI: readline is not initialised, console disabled")
		return
	}
	defer func() { _ = rl.Close() }()

	pr.Println("Console ready. Commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}
		line, err := rl.Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}
		if s.handleCommand(ctx, line) {
			return
		}
	}
}

// installKeyHandlers: '?' печатает help, Ctrl-C на пустой строке останавливает сервис,
// на непустой — очищает строку.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}
	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint:mnd // Ctrl-C (ETX)
			if strings.TrimSpace(string(line)) == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand выполняет одну строку. Возвращает true, если консоль должна завершиться.
func (s *Service) handleCommand(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	timeout := commandTimeout
	if cmd == "update" {
		timeout = updateTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cmd {
	case "help":
		printCommandHelp()
	case "press":
		report("press", s.exec.Press(cctx))
	case "release":
		report("release", s.exec.Release(cctx))
	case "tap":
		report("tap", s.exec.Tap(cctx))
	case "status":
		if st, err := s.exec.Status(cctx); err != nil {
			pr.ErrPrintln("status error:", err)
		} else {
			pr.PP(st)
		}
	case "update":
		pr.Println("Checking for update...")
		if res, err := s.exec.CheckUpdate(cctx); err != nil {
			pr.ErrPrintln("update error:", err)
		} else {
			pr.Println(res.Message)
		}
	case "count":
		if res, err := s.exec.RefreshCount(cctx); err != nil {
			pr.ErrPrintln("count error:", err)
		} else {
			pr.Println(formatCount(res))
		}
	case "name":
		if arg == "" {
			pr.ErrPrintln("usage: name <new>")
			break
		}
		if res, err := s.exec.Rename(cctx, arg); err != nil {
			pr.ErrPrintln("name error:", err)
		} else {
			pr.Printf("Saved %q, current run stays %q until restart\n", res.PendingUserID, res.UserID)
		}
	case "whoami":
		if res, err := s.exec.Whoami(cctx); err != nil {
			pr.ErrPrintln("whoami error:", err)
		} else {
			pr.Println(formatWhoami(res))
		}
	case "version":
		if res, err := s.exec.Version(cctx); err == nil {
			pr.Println(res.Info)
		}
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	case "":
	default:
		pr.Println("unknown command:", cmd)
	}
	return false
}

func report(cmd string, err error) {
	if err != nil {
		pr.ErrPrintln(cmd+" error:", err)
		return
	}
	pr.Println("ok")
}

func formatCount(c *commands.CountResult) string {
	switch {
	case !c.Valid:
		return "Online: unknown"
	case c.Stale:
		return fmt.Sprintf("Online: %d (stale)", c.Count)
	default:
		return fmt.Sprintf("Online: %d", c.Count)
	}
}

func formatWhoami(w *commands.WhoamiResult) string {
	s := fmt.Sprintf("Device: %s, instance: %s", w.UserID, w.InstanceID)
	if w.PendingUserID != "" && w.PendingUserID != w.UserID {
		s += fmt.Sprintf(" (next run: %s)", w.PendingUserID)
	}
	return s
}

func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, d := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-8s - %s", d.name, d.description))
	}
	return lines
}
