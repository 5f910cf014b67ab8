package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"presence-bell/internal/adapters/button"
	"presence-bell/internal/adapters/display"
	"presence-bell/internal/domain/commands"
	"presence-bell/internal/domain/counter"
	"presence-bell/internal/domain/events"
	"presence-bell/internal/domain/maintenance"
	"presence-bell/internal/domain/presence"
	"presence-bell/internal/domain/update"
	"presence-bell/internal/infra/logger"
	"presence-bell/internal/infra/session"
)

// Строки состояния на экране.
const (
	StatusBooting      = "Booting..."
	StatusConnecting   = "WS Connecting..."
	StatusReady        = "Ready"
	StatusFailed       = "WS Failed"
	StatusDisconnected = "WS Disconnected"

	FooterMessage    = "Msg Recv"
	FooterParseError = "Parse Error"
)

// Имена задач обслуживания.
const (
	TaskUpdate = "firmware-update"
	TaskCount  = "presence-count"
)

const requestQueueSize = 8

// Session — то, что цикл использует от менеджера сессии.
type Session interface {
	Ensure(ctx context.Context) error
	Send(data []byte) error
	Poll(limit int) [][]byte
	State() session.State
	NextAttempt() time.Time
}

// Updater — проверка обновлений (update.Supervisor).
type Updater interface {
	Check(ctx context.Context, silent bool) update.Status
}

// CountPoller — опрос счётчика онлайна (counter.Poller).
type CountPoller interface {
	Poll(ctx context.Context) counter.Snapshot
	Snapshot() counter.Snapshot
}

// LoopOptions — зависимости и параметры управляющего цикла.
type LoopOptions struct {
	Session         Session
	Button          button.Input
	Display         display.Sink
	Updates         Updater     // nil — без проверки обновлений
	Count           CountPoller // nil — без счётчика
	DeviceID        string
	FirmwareVersion string
	Title           string
	Tick            time.Duration
	MaxFrames       int
	UpdateEvery     time.Duration
	CountEvery      time.Duration
}

// Loop — управляющий цикл устройства. Владеет множеством присутствующих, строками
// экрана и планировщиком; всё это трогается только из горутины Run.
type Loop struct {
	opts LoopOptions

	set       *presence.Set
	edge      button.Edge
	scheduler *maintenance.Scheduler
	requests  chan func(ctx context.Context)

	status    string
	footer    string
	updateMsg string
	count     counter.Snapshot
	countWait []chan counter.Snapshot // консольные запросы, ждущие следующего опроса
	ticks     uint64
	lastState session.State

	inputWarn rate.Sometimes
}

// NewLoop создаёт цикл. Задачи обслуживания регистрируются по интервалам из opts.
func NewLoop(opts LoopOptions) *Loop {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 1
	}
	l := &Loop{
		opts:      opts,
		set:       presence.NewSet(),
		scheduler: maintenance.New(),
		requests:  make(chan func(ctx context.Context), requestQueueSize),
		status:    StatusBooting,
		inputWarn: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	if opts.Updates != nil {
		l.scheduler.Add(TaskUpdate, maintenance.TicksFor(opts.UpdateEvery, opts.Tick), false, func(ctx context.Context) {
			opts.Updates.Check(ctx, true)
		})
	}
	if opts.Count != nil {
		l.scheduler.Add(TaskCount, maintenance.TicksFor(opts.CountEvery, opts.Tick), true, func(ctx context.Context) {
			l.count = opts.Count.Poll(ctx)
			l.render()
			for _, ch := range l.countWait {
				ch <- l.count
			}
			l.countWait = nil
		})
	}
	return l
}

// Run крутит цикл до отмены ctx.
func (l *Loop) Run(ctx context.Context) error {
	logger.Info("Control loop started",
		zap.String("device", l.opts.DeviceID),
		zap.Duration("tick", l.opts.Tick),
	)
	l.render()

	t := time.NewTicker(l.opts.Tick)
	defer t.Stop()
	for {
		l.tick(ctx)
		select {
		case <-ctx.Done():
			logger.Info("Control loop stopped", zap.Uint64("ticks", l.ticks))
			return nil
		case <-t.C:
		}
	}
}

// tick — одна итерация цикла.
func (l *Loop) tick(ctx context.Context) {
	l.ticks++

	if err := l.opts.Session.Ensure(ctx); err != nil {
		logger.Debugf("Loop: liveness check: %v", err)
	}

	l.sampleButton()

	if ctx.Err() == nil {
		l.scheduler.Tick(ctx)
	}

	l.drainIncoming()
	l.drainRequests(ctx)
}

func (l *Loop) sampleButton() {
	pressed, err := l.opts.Button.Pressed()
	if err != nil {
		l.inputWarn.Do(func() { logger.Warn("Button read failed", zap.Error(err)) })
		return
	}
	kind, ok := l.edge.Sample(pressed)
	if !ok {
		return
	}

	data, err := events.Encode(kind, l.opts.DeviceID, l.opts.FirmwareVersion)
	if err != nil {
		logger.Error("Encode button event", zap.Error(err))
		return
	}
	if err := l.opts.Session.Send(data); err != nil {
		logger.Debug("Button event not sent", zap.Stringer("kind", kind), zap.Error(err))
		l.status = StatusDisconnected
	}
	// Локальное обновление применяется и без связи: экран должен реагировать на кнопку.
	l.set.ApplyLocal(kind, l.opts.DeviceID)
	logger.Debugf("Button %s, present: [%s]", kind, l.set)
	l.render()
}

func (l *Loop) drainIncoming() {
	for _, data := range l.opts.Session.Poll(l.opts.MaxFrames) {
		l.handleIncoming(data)
		l.render()
	}
}

func (l *Loop) handleIncoming(data []byte) {
	in, err := events.Decode(data)
	switch {
	case err == nil:
		l.set.ApplyRemote(in.Kind, in.Name)
		l.footer = in.Name + " " + in.Kind.String()
	case errors.Is(err, events.ErrNoEvent):
		l.footer = FooterMessage
	case errors.Is(err, events.ErrUnknownEvent):
		l.footer = fmt.Sprintf("%s %s?", in.Name, in.Raw)
		logger.Debug("Unknown button event ignored", zap.String("name", in.Name), zap.String("event", in.Raw))
	default:
		l.footer = FooterParseError
		logger.Debug("Incoming frame rejected", zap.Error(err), zap.ByteString("frame", data))
	}
}

func (l *Loop) drainRequests(ctx context.Context) {
	for {
		select {
		case fn := <-l.requests:
			fn(ctx)
		default:
			return
		}
	}
}

// OnSessionState переводит переходы сессии в строку состояния. Вызывается из
// горутины цикла (колбэк менеджера сессии).
func (l *Loop) OnSessionState(s session.State) {
	prev := l.lastState
	l.lastState = s
	switch s {
	case session.Connecting:
		l.status = StatusConnecting
	case session.Connected:
		l.status = StatusReady
	case session.Disconnected:
		if prev == session.Connecting {
			l.status = StatusFailed
		} else {
			l.status = StatusDisconnected
		}
	}
	l.render()
}

// ShowUpdate — Reporter для update.Supervisor. nil возвращает обычный экран.
func (l *Loop) ShowUpdate(st *update.Status) {
	if st == nil {
		l.updateMsg = ""
	} else {
		l.updateMsg = st.Message()
	}
	l.render()
}

func (l *Loop) frame() display.Frame {
	return display.Frame{
		Title:   l.opts.Title,
		Status:  l.status,
		Entries: l.set.Entries(),
		Footer:  l.footer,
		Count:   l.count,
		Update:  l.updateMsg,
		Session: l.opts.Session.State().String(),
	}
}

func (l *Loop) render() {
	if l.opts.Display == nil {
		return
	}
	if err := l.opts.Display.Render(l.frame()); err != nil {
		logger.Debug("Render failed", zap.Error(err))
	}
}

// submit выполняет fn в горутине цикла и ждёт завершения.
func (l *Loop) submit(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	req := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
	}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "loop is busy")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait loop")
	}
}

// Status реализует commands.LoopClient.
func (l *Loop) Status(ctx context.Context) (*commands.StatusResult, error) {
	var res commands.StatusResult
	err := l.submit(ctx, func(context.Context) {
		present := make([]string, 0, l.set.Len())
		for _, e := range l.set.Entries() {
			if e.Confirmed {
				present = append(present, e.Name)
			} else {
				present = append(present, e.Name+"*")
			}
		}
		res = commands.StatusResult{
			Session:     l.opts.Session.State().String(),
			Status:      l.status,
			Present:     present,
			LastMessage: l.footer,
			Count:       countResult(l.count),
			Ticks:       l.ticks,
		}
		if l.opts.Session.State() != session.Connected {
			res.NextReconnect = l.opts.Session.NextAttempt()
		}
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckUpdate реализует commands.LoopClient: интерактивная проверка.
func (l *Loop) CheckUpdate(ctx context.Context) (*commands.UpdateResult, error) {
	if l.opts.Updates == nil {
		return nil, errors.New("update checks are disabled")
	}
	var st update.Status
	if err := l.submit(ctx, func(loopCtx context.Context) {
		st = l.opts.Updates.Check(loopCtx, false)
	}); err != nil {
		return nil, err
	}
	return &commands.UpdateResult{Phase: st.Phase.String(), Message: st.Message()}, nil
}

// RefreshCount реализует commands.LoopClient: внеплановый опрос счётчика. Опрос
// выполняет задача TaskCount на ближайшем тике, ответ ждёт её результата.
func (l *Loop) RefreshCount(ctx context.Context) (*commands.CountResult, error) {
	if l.opts.Count == nil {
		return nil, errors.New("count polling is disabled")
	}
	ch := make(chan counter.Snapshot, 1)
	if err := l.submit(ctx, func(context.Context) {
		l.scheduler.Trigger(TaskCount)
		l.countWait = append(l.countWait, ch)
	}); err != nil {
		return nil, err
	}
	select {
	case snap := <-ch:
		res := countResult(snap)
		return &res, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "wait count")
	}
}

func countResult(s counter.Snapshot) commands.CountResult {
	return commands.CountResult{Count: s.Count, Valid: s.Valid, Stale: s.Err, UpdatedAt: s.UpdatedAt}
}
