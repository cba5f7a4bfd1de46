//go:build cgo
// +build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

func dsn(path string) string {
	if path == ":memory:" {
		return path + "?_foreign_keys=on"
	}
	return path + "?_journal_mode=WAL&_foreign_keys=on"
}
