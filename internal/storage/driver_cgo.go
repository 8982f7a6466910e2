//go:build cgo

package storage

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

func dataSourceName(path string) string {
	return path + "?_busy_timeout=" + busyTimeoutMs + "&_journal_mode=WAL&_txlock=immediate"
}
