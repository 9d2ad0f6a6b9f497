package storage

import (
	"errors"
	"time"

	"github.com/spf13/afero"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs backs the file driver; nil means the OS filesystem.
	Fs afero.Fs
}

// Record is one journal line. Keep it compact and schema-stable.
type Record struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	Owner    int       `json:"owner,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	FireTime time.Time `json:"fire_time"`
	Detail   string    `json:"detail,omitempty"`
}
