// Package button — источник цифрового входа кнопки и детектор фронтов.
// Вход активен низким уровнем; фильтр дребезга не нужен: его роль играет период тика.
package button

import (
	"sync/atomic"

	"presence-bell/internal/domain/presence"
)

// Input отдаёт текущее логическое состояние кнопки (true — нажата).
type Input interface {
	Pressed() (bool, error)
}

// Edge превращает уровни в события: событие возникает только на смене уровня,
// удержание кнопки повторов не даёт.
type Edge struct {
	last bool
}

// Sample принимает очередной уровень и возвращает событие, если был фронт.
func (e *Edge) Sample(pressed bool) (presence.Kind, bool) {
	if pressed == e.last {
		return presence.KindUnknown, false
	}
	e.last = pressed
	if pressed {
		return presence.Pressed, true
	}
	return presence.Released, true
}

// Virtual — кнопка, которой управляют команды консоли. Безопасна для
// конкурентного использования: консоль пишет, цикл читает.
type Virtual struct {
	level   atomic.Bool
	pending atomic.Int32 // отложенные «клики»: нажатие на один тик, затем отпускание
	tapHeld atomic.Bool
}

// Press удерживает кнопку нажатой до Release.
func (v *Virtual) Press() { v.level.Store(true) }

// Release отпускает кнопку.
func (v *Virtual) Release() { v.level.Store(false) }

// Tap — короткое нажатие: ближайший опрос увидит нажатие, следующий — отпускание.
func (v *Virtual) Tap() { v.pending.Add(1) }

// Pressed реализует Input. Читать должен один потребитель (цикл).
func (v *Virtual) Pressed() (bool, error) {
	if v.level.Load() {
		return true, nil
	}
	if v.pending.Load() > 0 {
		if v.tapHeld.CompareAndSwap(false, true) {
			return true, nil
		}
		v.tapHeld.Store(false)
		v.pending.Add(-1)
	}
	return false, nil
}
