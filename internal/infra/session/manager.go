// Package session — менеджер постоянной двунаправленной сессии с сервером присутствия.
// Он:
//   - ведёт машину состояний Disconnected → Connecting → Connected и обратно;
//   - по проверке живости (Ensure, раз в тик) переподключается с ограниченным
//     экспоненциальным backoff и шлёт keepalive-пинги;
//   - отдаёт накопленные входящие кадры без блокировки (Poll);
//   - переводит сессию в Disconnected при ошибке отправки или закрытии транспорта.
//
// Состоянием владеет одна горутина (управляющий цикл). Единственная вспомогательная
// горутина на соединение читает кадры и передаёт их в буферизированный канал,
// помечая номером поколения: кадры от старого соединения отбрасываются.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"presence-bell/internal/infra/logger"
)

// State — состояние сессии.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "State(?)"
	}
}

// ErrNotConnected возвращает Send, если сессия не в Connected.
var ErrNotConnected = errors.New("session: not connected")

// Link — установленное соединение. Recv блокирует до получения целого текстового
// кадра и вызывается только из горутины чтения; остальные методы — из цикла.
type Link interface {
	WriteText(data []byte, timeout time.Duration) error
	Ping(timeout time.Duration) error
	Recv() ([]byte, error)
	Close() error
}

// Dialer выполняет одно рукопожатие в пределах ctx.
type Dialer func(ctx context.Context) (Link, error)

// Options — параметры менеджера. Нулевые таймауты заменяются значениями по умолчанию.
type Options struct {
	Dial           Dialer
	Endpoint       string        // только для логов
	ConnectTimeout time.Duration // предел рукопожатия
	SendTimeout    time.Duration // предел записи кадра
	PingInterval   time.Duration // 0 — без keepalive
	PingTimeout    time.Duration
	ReconnectMin   time.Duration // 0 — повтор на каждой проверке живости
	ReconnectMax   time.Duration
	InboxSize      int
	Clock          func() time.Time
	OnStateChange  func(State)
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultSendTimeout    = 10 * time.Second
	defaultPingTimeout    = time.Second
	defaultReconnectMax   = 30 * time.Second
	defaultInboxSize      = 64
	reconnectJitter       = 0.2
	reconnectMultiplier   = 2
)

// frame — то, что горутина чтения передаёт циклу.
type frame struct {
	gen  uint64
	data []byte
	err  error
}

// Manager — менеджер сессии. Все методы, кроме State, вызываются из одной горутины.
type Manager struct {
	opts Options

	state atomic.Int32
	link  Link
	gen   uint64
	stop  chan struct{} // закрывается при разрыве, снимает горутину чтения
	inbox chan frame

	bo          *backoff.ExponentialBackOff
	nextAttempt time.Time
	lastPing    time.Time

	warnSometimes rate.Sometimes
}

// NewManager создаёт менеджер в состоянии Disconnected. Первая проверка живости
// сразу пытается подключиться.
func NewManager(opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.ReconnectMin < 0 {
		opts.ReconnectMin = 0
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = defaultReconnectMax
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = opts.ReconnectMin
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectMin
	bo.MaxInterval = opts.ReconnectMax
	bo.Multiplier = reconnectMultiplier
	bo.RandomizationFactor = reconnectJitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	m := &Manager{
		opts:          opts,
		inbox:         make(chan frame, opts.InboxSize),
		bo:            bo,
		warnSometimes: rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
	m.state.Store(int32(Disconnected))
	return m
}

// State возвращает текущее состояние. Безопасен из любой горутины.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// NextAttempt — момент, раньше которого Ensure не станет подключаться.
func (m *Manager) NextAttempt() time.Time {
	return m.nextAttempt
}

// Ensure — проверка живости. В Connected шлёт keepalive по расписанию; иначе,
// если окно backoff истекло, делает одну попытку подключения в пределах ConnectTimeout.
// Возвращает ошибку неудачной попытки или пинга; ошибка не фатальна.
func (m *Manager) Ensure(ctx context.Context) error {
	now := m.opts.Clock()

	if m.State() == Connected {
		if m.opts.PingInterval <= 0 || now.Sub(m.lastPing) < m.opts.PingInterval {
			return nil
		}
		if err := m.link.Ping(m.opts.PingTimeout); err != nil {
			err = errors.Wrap(err, "keepalive")
			m.drop(err)
			return err
		}
		m.lastPing = now
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if now.Before(m.nextAttempt) {
		return nil
	}

	m.setState(Connecting)
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	link, err := m.opts.Dial(dialCtx)
	cancel()
	if err != nil {
		delay := m.bo.NextBackOff()
		m.nextAttempt = now.Add(delay)
		m.setState(Disconnected)
		m.warnSometimes.Do(func() {
			logger.Warnf("Session: connect to %s failed (retry in %v): %v", m.opts.Endpoint, delay, err)
		})
		return errors.Wrap(err, "connect")
	}

	m.attach(link, now)
	logger.Infof("Session: connected to %s", m.opts.Endpoint)
	return nil
}

// Send пишет текстовый кадр. Вне Connected возвращает ErrNotConnected; ошибка
// записи разрывает сессию.
func (m *Manager) Send(data []byte) error {
	if m.State() != Connected {
		return ErrNotConnected
	}
	if err := m.link.WriteText(data, m.opts.SendTimeout); err != nil {
		err = errors.Wrap(err, "send")
		m.drop(err)
		return err
	}
	return nil
}

// Poll возвращает до limit целых кадров, уже полученных горутиной чтения, не блокируя.
// Закрытие транспорта, обнаруженное при разборе очереди, переводит сессию в Disconnected.
func (m *Manager) Poll(limit int) [][]byte {
	if limit <= 0 {
		return nil
	}
	var out [][]byte
	for len(out) < limit {
		select {
		case f := <-m.inbox:
			if f.gen != m.gen || m.State() != Connected {
				continue
			}
			if f.err != nil {
				m.drop(errors.Wrap(f.err, "receive"))
				return out
			}
			out = append(out, f.data)
		default:
			return out
		}
	}
	return out
}

// Close закрывает текущее соединение. Менеджер остаётся пригодным: следующий Ensure
// подключится снова.
func (m *Manager) Close() {
	if m.link == nil {
		return
	}
	m.teardown()
	m.setState(Disconnected)
	logger.Debug("Session: closed")
}

func (m *Manager) attach(link Link, now time.Time) {
	m.gen++
	m.link = link
	m.stop = make(chan struct{})
	m.lastPing = now
	m.nextAttempt = time.Time{}
	m.bo.Reset()

	go m.readLoop(link, m.gen, m.stop)
	m.setState(Connected)
}

// drop разрывает соединение после ошибки транспорта.
func (m *Manager) drop(cause error) {
	m.teardown()
	delay := m.bo.NextBackOff()
	m.nextAttempt = m.opts.Clock().Add(delay)
	m.setState(Disconnected)
	logger.Warnf("Session: connection lost: %v", cause)
}

func (m *Manager) teardown() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.link != nil {
		if err := m.link.Close(); err != nil {
			logger.Debugf("Session: close link: %v", err)
		}
		m.link = nil
	}
}

// readLoop читает кадры до ошибки транспорта. Ошибка тоже передаётся циклу:
// именно так Poll узнаёт о закрытии.
func (m *Manager) readLoop(link Link, gen uint64, stop <-chan struct{}) {
	for {
		data, err := link.Recv()
		select {
		case m.inbox <- frame{gen: gen, data: data, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	logger.Debugf("Session: %s -> %s", prev, s)
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}
