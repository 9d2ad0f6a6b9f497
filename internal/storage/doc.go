// Package storage keeps an append-only journal of scheduling transitions
// (head changes, clears, wake-ups, timer failures).
//
// It is an audit trail only; the pending set itself is never restored from it.
//
// Backends:
//   - "file": JSON Lines on an afero filesystem
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
