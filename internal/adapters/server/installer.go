package server

import (
	"io"

	"github.com/go-faster/errors"

	"presence-bell/internal/infra/logger"
	"presence-bell/internal/infra/storage"
)

// StagedInstaller кладёт образ в staging-файл. Прошивку из него применяет загрузчик
// при следующем старте сервиса.
type StagedInstaller struct {
	Path string
}

// Install атомарно записывает образ: оборванная загрузка не портит прежний файл.
func (s StagedInstaller) Install(r io.Reader, size int64) (int64, error) {
	if s.Path == "" {
		return 0, errors.New("staging path is empty")
	}
	n, err := storage.AtomicWriteStream(s.Path, r)
	if err != nil {
		return n, errors.Wrap(err, "stage firmware")
	}
	logger.Infof("Firmware staged to %s (%d bytes, announced %d)", s.Path, n, size)
	return n, nil
}
