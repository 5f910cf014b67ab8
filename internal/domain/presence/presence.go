// Package presence — локальное множество «кто сейчас на месте».
// Множество упорядочено (порядок вставки сохраняется для отрисовки) и не содержит
// повторов. Мутируется как локальными нажатиями кнопки (оптимистично, до ответа
// сервера), так и событиями, пришедшими по сессии. Владелец — единственная
// горутина управляющего цикла, поэтому синхронизация здесь не нужна.
package presence

import "strings"

// Kind — тип события кнопки.
type Kind int

const (
	KindUnknown Kind = iota
	Pressed
	Released
)

// Строковые значения типов событий на проводе.
const (
	wirePressed  = "PRESSED"
	wireReleased = "RELEASED"
)

func (k Kind) String() string {
	switch k {
	case Pressed:
		return wirePressed
	case Released:
		return wireReleased
	default:
		return "UNKNOWN"
	}
}

// ParseKind разбирает значение поля buttonEvent. Сравнение строгое (как на сервере):
// "pressed" в нижнем регистре событием не считается.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case wirePressed:
		return Pressed, true
	case wireReleased:
		return Released, true
	default:
		return KindUnknown, false
	}
}

// Entry — запись множества. Confirmed=false означает, что имя добавлено локально
// и сервер ещё не прислал своё PRESSED для него.
type Entry struct {
	Name      string
	Confirmed bool
}

// Set — упорядоченное множество имён. Нулевое значение готово к работе.
//
// Инвариант: имя встречается не более одного раза.
type Set struct {
	entries []Entry
}

// NewSet создаёт пустое множество.
func NewSet() *Set {
	return &Set{}
}

// ApplyLocal применяет локальное событие кнопки. Pressed добавляет имя как
// неподтверждённое (no-op, если уже есть), Released удаляет (no-op, если нет).
// Возвращает true, если состав множества изменился.
func (s *Set) ApplyLocal(kind Kind, who string) bool {
	return s.apply(kind, who, false)
}

// ApplyRemote применяет событие от сервера. Семантика членства та же, что и у
// ApplyLocal; дополнительно PRESSED подтверждает ранее добавленную локальную запись.
func (s *Set) ApplyRemote(kind Kind, who string) bool {
	return s.apply(kind, who, true)
}

func (s *Set) apply(kind Kind, who string, confirmed bool) bool {
	idx := s.index(who)
	switch kind {
	case Pressed:
		if idx >= 0 {
			if confirmed {
				s.entries[idx].Confirmed = true
			}
			return false
		}
		s.entries = append(s.entries, Entry{Name: who, Confirmed: confirmed})
		return true
	case Released:
		if idx < 0 {
			return false
		}
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
		return true
	default:
		return false
	}
}

// Snapshot возвращает копию упорядоченного списка имён.
func (s *Set) Snapshot() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Name
	}
	return out
}

// Entries возвращает копию записей вместе с признаком подтверждения.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Contains сообщает, присутствует ли имя.
func (s *Set) Contains(who string) bool {
	return s.index(who) >= 0
}

// Len — число присутствующих.
func (s *Set) Len() int {
	return len(s.entries)
}

// String нужен в основном для логов: "Alice, Bob*" (звёздочка — не подтверждено сервером).
func (s *Set) String() string {
	parts := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Confirmed {
			parts = append(parts, e.Name)
			continue
		}
		parts = append(parts, e.Name+"*")
	}
	return strings.Join(parts, ", ")
}

func (s *Set) index(who string) int {
	for i, e := range s.entries {
		if e.Name == who {
			return i
		}
	}
	return -1
}
