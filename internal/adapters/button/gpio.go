package button

import (
	"github.com/go-faster/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO — физическая кнопка на выводе контроллера, замыкающая его на землю.
type GPIO struct {
	pin gpio.PinIO
}

// OpenGPIO инициализирует драйверы periph и настраивает вывод name на вход с подтяжкой вверх.
func OpenGPIO(name string) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "init periph host")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("gpio pin %q not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "configure %s as input", name)
	}
	return &GPIO{pin: p}, nil
}

// Pressed реализует Input: низкий уровень — кнопка нажата.
func (g *GPIO) Pressed() (bool, error) {
	return g.pin.Read() == gpio.Low, nil
}
