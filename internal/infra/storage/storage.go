// Package storage — утилиты безопасной работы с локальным хранилищем устройства.
// В этом файле реализованы:
//   - EnsureDir — гарантирует наличие директории для целевого пути;
//   - AtomicWriteStream — атомарная запись потока в файл с синхронизацией данных и метаданных.
//
// Используется для staging-образа прошивки и файла идентичности: после сбоя питания
// на диске остаётся либо старая версия, либо новая целиком.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"presence-bell/internal/infra/logger"
)

// DefaultFilePerm — права на итоговые файлы (только владелец процесса).
const DefaultFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteStream копирует r во временный файл рядом с path и атомарно подменяет path.
//
// Алгоритм: temp в той же директории → copy → fsync(temp) → chmod → close → rename → fsync(dir).
// Ошибка чтения r (оборванная загрузка) оставляет прежний файл нетронутым.
// Возвращает число записанных байт.
func AtomicWriteStream(path string, r io.Reader) (int64, error) {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return 0, err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(DefaultFilePerm); err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}

	// rename атомарен только в пределах одного тома, поэтому temp лежит рядом с целью.
	if err := os.Rename(tmpName, clean); err != nil {
		return n, fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteStream: dir sync error: %v", errSync) // best-effort для некоторых FS
		}
		_ = dirFile.Close()
	}
	return n, nil
}
