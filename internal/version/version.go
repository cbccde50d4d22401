// Package version хранит информацию о сборке, заполняемую через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает хеш коммита.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

// String форматирует сведения о сборке для команды version.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
