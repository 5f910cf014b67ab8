// Package version — версия прошивки. Значения подставляются при сборке:
//
//	go build -ldflags "-X presence-bell/internal/support/version.Version=1.2.0 -X presence-bell/internal/support/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Version уходит на сервер в каждом событии кнопки и в запросе обновления.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info — строка для --version и консольной команды version.
func Info() string {
	return fmt.Sprintf("%s (%s, %s) %s %s/%s", Version, GitCommit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
