// Package display — приёмники кадров экрана. Ядро не задаёт раскладку, только
// значения: заголовок, строку статуса, список присутствующих, последнее сообщение,
// счётчик онлайна и прогресс обновления.
package display

import (
	"slices"

	"presence-bell/internal/domain/counter"
	"presence-bell/internal/domain/presence"
)

// Frame — один экран.
type Frame struct {
	Title   string
	Status  string           // строка состояния ("Ready", "WS Disconnected", ...)
	Entries []presence.Entry // присутствующие в порядке добавления
	Footer  string           // последнее входящее сообщение
	Count   counter.Snapshot
	Update  string // непустое значение перекрывает обычный экран
	Session string
}

// Equal сравнивает кадры по отображаемым значениям.
func (f Frame) Equal(o Frame) bool {
	return f.Title == o.Title &&
		f.Status == o.Status &&
		f.Footer == o.Footer &&
		f.Update == o.Update &&
		f.Session == o.Session &&
		f.Count.Count == o.Count.Count &&
		f.Count.Valid == o.Count.Valid &&
		f.Count.Err == o.Count.Err &&
		slices.Equal(f.Entries, o.Entries)
}

// Sink принимает кадры.
type Sink interface {
	Render(f Frame) error
}

// Dedup пропускает кадр, только если он отличается от предыдущего.
type Dedup struct {
	next Sink
	last Frame
	seen bool
}

// NewDedup оборачивает sink.
func NewDedup(next Sink) *Dedup {
	return &Dedup{next: next}
}

// Render реализует Sink.
func (d *Dedup) Render(f Frame) error {
	if d.seen && d.last.Equal(f) {
		return nil
	}
	if err := d.next.Render(f); err != nil {
		return err
	}
	d.last = f
	d.last.Entries = slices.Clone(f.Entries)
	d.seen = true
	return nil
}
