// Package maintenance — планировщик периодических фоновых задач поверх тиков
// управляющего цикла. Каждая задача считает «тики с последнего запуска» и
// сравнивает с собственным интервалом; за один тик может выполниться ноль, одна
// или несколько задач. Задачи выполняются синхронно в горутине цикла.
package maintenance

import (
	"context"
	"time"

	"presence-bell/internal/infra/logger"
)

// TaskFunc — тело периодической задачи.
type TaskFunc func(ctx context.Context)

type task struct {
	name   string
	every  int
	since  int
	forced bool
	run    TaskFunc
}

// Scheduler — набор периодических задач. Не потокобезопасен: Tick вызывается
// только из управляющего цикла.
type Scheduler struct {
	tasks []*task
}

// New создаёт пустой планировщик.
func New() *Scheduler {
	return &Scheduler{}
}

// Add регистрирует задачу name с интервалом every тиков (минимум 1). Если
// atStart=true, задача выполнится на первом же тике.
func (s *Scheduler) Add(name string, every int, atStart bool, fn TaskFunc) {
	if every < 1 {
		every = 1
	}
	s.tasks = append(s.tasks, &task{name: name, every: every, forced: atStart, run: fn})
}

// Trigger просит выполнить задачу name на ближайшем тике вне расписания.
// Возвращает false, если такой задачи нет.
func (s *Scheduler) Trigger(name string) bool {
	for _, t := range s.tasks {
		if t.name == name {
			t.forced = true
			return true
		}
	}
	return false
}

// Tick продвигает счётчики всех задач и выполняет те, чей интервал истёк.
// Возвращает имена выполненных задач в порядке регистрации.
func (s *Scheduler) Tick(ctx context.Context) []string {
	var ran []string
	for _, t := range s.tasks {
		t.since++
		if !t.forced && t.since < t.every {
			continue
		}
		t.since = 0
		t.forced = false
		if ctx.Err() != nil {
			return ran
		}
		start := time.Now()
		t.run(ctx)
		logger.Debugf("Maintenance: task %s done in %v", t.name, time.Since(start))
		ran = append(ran, t.name)
	}
	return ran
}

// TicksFor переводит длительность в число тиков с округлением вверх (минимум 1).
func TicksFor(interval, tick time.Duration) int {
	if tick <= 0 {
		return 1
	}
	n := int((interval + tick - 1) / tick)
	if n < 1 {
		return 1
	}
	return n
}
