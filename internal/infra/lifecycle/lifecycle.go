// Package lifecycle — менеджер подсистем устройства. Узлы регистрируются с явными
// зависимостями, стартуют так, чтобы зависимость была поднята раньше зависящего
// узла, и гасятся в обратном порядке. Каждый узел получает собственный контекст,
// производный от корневого; отмена корня гасит всё дерево.
package lifecycle

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"presence-bell/internal/infra/logger"
)

// StartFunc запускает узел. Долгоживущая работа должна уходить в горутины,
// привязанные к ctx: ctx отменяется перед вызовом StopFunc.
type StartFunc func(ctx context.Context) error

// StopFunc освобождает ресурсы узла. Контекст узла к этому моменту уже отменён.
type StopFunc func() error

type nodeStatus int

const (
	statusRegistered nodeStatus = iota
	statusStarting
	statusRunning
	statusStopped
	statusFailed
)

type node struct {
	name  string
	deps  []string
	start StartFunc
	stop  StopFunc

	cancel context.CancelFunc
	status nodeStatus
}

// Manager — набор узлов. Потокобезопасен.
type Manager struct {
	root context.Context

	mu         sync.Mutex
	nodes      map[string]*node
	names      []string // порядок регистрации
	startOrder []string
}

// New создаёт менеджер. nil-контекст заменяется на context.Background().
func New(root context.Context) *Manager {
	if root == nil {
		root = context.Background()
	}
	return &Manager{root: root, nodes: make(map[string]*node)}
}

// Register добавляет узел name. deps должны быть зарегистрированы раньше.
func (m *Manager) Register(name string, deps []string, start StartFunc, stop StopFunc) error {
	if name == "" {
		return errors.New("lifecycle: empty node name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[name]; ok {
		return errors.Errorf("lifecycle: node %q already registered", name)
	}
	deps = slices.Compact(slices.Sorted(slices.Values(deps)))
	for _, d := range deps {
		if d == name {
			return errors.Errorf("lifecycle: node %q cannot depend on itself", name)
		}
		if _, ok := m.nodes[d]; !ok {
			return errors.Errorf("lifecycle: dependency %q of %q is not registered", d, name)
		}
	}
	m.nodes[name] = &node{name: name, deps: deps, start: start, stop: stop}
	m.names = append(m.names, name)
	return nil
}

// StartAll поднимает узлы в порядке регистрации с учётом зависимостей. На первой
// ошибке уже поднятые узлы гасятся, ошибка возвращается.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	names := slices.Clone(m.names)
	m.mu.Unlock()

	for _, name := range names {
		if err := m.startNode(name); err != nil {
			return multierr.Append(err, m.Shutdown())
		}
	}
	logger.Debugf("lifecycle: start order %v", m.startOrder)
	return nil
}

func (m *Manager) startNode(name string) error {
	m.mu.Lock()
	n := m.nodes[name]
	switch n.status {
	case statusRunning:
		m.mu.Unlock()
		return nil
	case statusStarting:
		m.mu.Unlock()
		return errors.Errorf("lifecycle: dependency cycle at %q", name)
	case statusFailed, statusStopped:
		m.mu.Unlock()
		return errors.Errorf("lifecycle: node %q cannot be restarted", name)
	}
	n.status = statusStarting
	m.mu.Unlock()

	for _, dep := range n.deps {
		if err := m.startNode(dep); err != nil {
			m.setStatus(n, statusFailed)
			return errors.Wrapf(err, "start %s", name)
		}
	}

	ctx, cancel := context.WithCancel(m.root)
	if n.start != nil {
		if err := n.start(ctx); err != nil {
			cancel()
			m.setStatus(n, statusFailed)
			logger.Errorf("lifecycle: node %s failed to start: %v", name, err)
			return errors.Wrapf(err, "start %s", name)
		}
	}

	m.mu.Lock()
	n.cancel = cancel
	n.status = statusRunning
	m.startOrder = append(m.startOrder, name)
	m.mu.Unlock()
	logger.Debugf("lifecycle: node %s is running", name)
	return nil
}

// Shutdown гасит запущенные узлы в порядке, обратном старту. Повторный вызов безопасен.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	order := slices.Clone(m.startOrder)
	m.mu.Unlock()

	var errs error
	for _, name := range slices.Backward(order) {
		errs = multierr.Append(errs, m.stopNode(name))
	}
	return errs
}

func (m *Manager) stopNode(name string) error {
	m.mu.Lock()
	n := m.nodes[name]
	if n.status != statusRunning {
		m.mu.Unlock()
		return nil
	}
	n.status = statusStopped
	cancel, stop := n.cancel, n.stop
	m.mu.Unlock()

	cancel()
	if stop == nil {
		return nil
	}
	if err := stop(); err != nil {
		m.setStatus(n, statusFailed)
		logger.Errorf("lifecycle: node %s stopped with error: %v", name, err)
		return errors.Wrapf(err, "stop %s", name)
	}
	logger.Debugf("lifecycle: node %s stopped", name)
	return nil
}

func (m *Manager) setStatus(n *node, s nodeStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.status = s
}
