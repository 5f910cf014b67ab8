// Package events — кодек событий кнопки для сессии с сервером присутствия.
// Исходящее событие — плоский JSON-объект {buttonEvent, deviceId, firmwareVersion}.
// Входящее — объект с обязательным buttonEvent и необязательными userId/deviceId,
// из которых выводится отображаемое имя.
package events

import (
	"encoding/json"

	"github.com/go-faster/errors"

	"presence-bell/internal/domain/presence"
)

// UnknownName подставляется, если во входящем событии нет ни userId, ни deviceId.
const UnknownName = "Unknown"

var (
	// ErrParse — входящий кадр не является корректным JSON-объектом.
	ErrParse = errors.New("parse error")
	// ErrNoEvent — объект корректен, но поля buttonEvent нет (служебное сообщение сервера).
	ErrNoEvent = errors.New("message without buttonEvent")
	// ErrUnknownEvent — buttonEvent есть, но значение не PRESSED/RELEASED.
	ErrUnknownEvent = errors.New("unknown buttonEvent")
)

// Outgoing — форма исходящего кадра.
type Outgoing struct {
	ButtonEvent     string `json:"buttonEvent"`
	DeviceID        string `json:"deviceId"`
	FirmwareVersion string `json:"firmwareVersion"`
}

// Incoming — результат разбора входящего кадра. Raw хранит исходное значение
// buttonEvent (полезно для отображения неизвестных типов).
type Incoming struct {
	Kind presence.Kind
	Raw  string
	Name string
}

// Encode сериализует событие кнопки устройства deviceID.
func Encode(kind presence.Kind, deviceID, firmwareVersion string) ([]byte, error) {
	if kind != presence.Pressed && kind != presence.Released {
		return nil, errors.Wrapf(ErrUnknownEvent, "encode %d", int(kind))
	}
	data, err := json.Marshal(Outgoing{
		ButtonEvent:     kind.String(),
		DeviceID:        deviceID,
		FirmwareVersion: firmwareVersion,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode button event")
	}
	return data, nil
}

// Decode разбирает входящий кадр.
//
// Имя берётся из userId, затем из deviceId, затем UnknownName. Поля, не являющиеся
// строками, считаются отсутствующими. Для ErrNoEvent и ErrUnknownEvent возвращённый
// Incoming всё равно заполнен (Name, Raw), чтобы было что показать на экране.
func Decode(data []byte) (Incoming, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("null document")
		}
		return Incoming{}, errors.Wrapf(ErrParse, "%v", err)
	}

	in := Incoming{Name: UnknownName}
	if name, ok := stringField(fields, "userId"); ok {
		in.Name = name
	} else if name, ok := stringField(fields, "deviceId"); ok {
		in.Name = name
	}

	raw, ok := stringField(fields, "buttonEvent")
	if !ok {
		return in, ErrNoEvent
	}
	in.Raw = raw

	kind, ok := presence.ParseKind(raw)
	if !ok {
		return in, errors.Wrapf(ErrUnknownEvent, "%q", raw)
	}
	in.Kind = kind
	return in, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
