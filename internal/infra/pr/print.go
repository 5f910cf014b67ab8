// Package pr — вывод в интерактивной консоли устройства. Init поднимает readline
// с отменяемым stdin и переназначает stdout/stderr на его буферы, чтобы логи и
// панель дисплея не ломали строку ввода. Без Init всё пишется в os.Stdout/os.Stderr.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

var (
	mu     sync.Mutex
	rl     *readline.Instance
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
	// cancelableIn закрывается при остановке: Readline получает io.EOF.
	cancelableIn io.Closer
)

// Init настраивает readline с приглашением prompt. Повторный вызов не предусмотрен.
func Init(prompt string) error {
	cs := readline.NewCancelableStdin(os.Stdin)
	inst, err := readline.NewEx(&readline.Config{Prompt: prompt, Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	rl = inst
	cancelableIn = cs
	out = inst.Stdout()
	errOut = inst.Stderr()
	return nil
}

// SetOutput подменяет потоки вывода (тесты, неинтерактивный запуск). nil — без изменений.
func SetOutput(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if stdout != nil {
		out = stdout
	}
	if stderr != nil {
		errOut = stderr
	}
}

// InterruptReadline прерывает ожидание ввода. Идемпотентна.
func InterruptReadline() {
	mu.Lock()
	c := cancelableIn
	mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Rl возвращает инстанс readline или nil, если Init не вызывался.
func Rl() *readline.Instance {
	mu.Lock()
	defer mu.Unlock()
	return rl
}

func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

// PP pretty-печатает значение (kr/pretty) в Stdout.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}
