//go:build !cgo

package storage

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

func dataSourceName(path string) string {
	return path + "?_pragma=busy_timeout(" + busyTimeoutMs + ")&_pragma=journal_mode(WAL)&_txlock=immediate"
}
