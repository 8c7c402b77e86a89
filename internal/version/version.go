// Package version хранит сведения о сборке, проставляемые через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// BuildInfo — сведения о сборке для /version.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// Build возвращает сведения о сборке одной структурой.
func Build() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, Date: date}
}

// ClientID — идентификатор клиента для внешних систем (Kafka client.id).
func ClientID(component string) string {
	return fmt.Sprintf("orderpipe-%s/%s", component, version)
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
