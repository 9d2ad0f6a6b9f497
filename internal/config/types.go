package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"alarmsched/internal/alarm"
	logx "alarmsched/pkg/logx"
)

// Config is the alarmd configuration file. JSON, YAML and TOML are accepted;
// all three are decoded through the same strict JSON decoder.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`

	// Alarms lists the owners to schedule and the fire time of each kind.
	// Deciding these times (recurrence, snooze length) is up to whoever
	// writes the file.
	Alarms []AlarmConfig `json:"alarms"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	JSON    bool              `json:"json,omitempty"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the engine.
//
// Defaults (when fields are omitted):
//   - strict: false (past fire times are accepted and fire at once)
//   - timezone: local
//   - skip_past: true (the host drops kinds already in the past before Set)
type SchedulerConfig struct {
	Strict   bool   `json:"strict"`
	Timezone string `json:"timezone,omitempty"`
	SkipPast *bool  `json:"skip_past,omitempty"`
}

func (c SchedulerConfig) SkipPastOrDefault() bool {
	if c.SkipPast == nil {
		return true
	}
	return *c.SkipPast
}

// Location resolves Timezone; empty means time.Local.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// StorageConfig configures the schedule journal.
// Driver is "file", "sqlite" or empty/"none" to disable.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type AlarmConfig struct {
	ID      int    `json:"id"`
	Label   string `json:"label,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`

	// Times maps a kind name (normal, snooze, prealarm) to a time in RFC3339
	// or "2006-01-02 15:04[:05]" in the scheduler timezone.
	Times map[string]string `json:"times"`
}

func (a AlarmConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTime accepts RFC3339 or one of the local layouts interpreted in loc.
func ParseTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339 or YYYY-MM-DD HH:MM[:SS]", raw)
}

// Schedule converts Times into the kind → instant mapping handed to the engine.
func (a AlarmConfig) Schedule(loc *time.Location) (map[alarm.Kind]time.Time, error) {
	out := make(map[alarm.Kind]time.Time, len(a.Times))
	for name, raw := range a.Times {
		kind, err := alarm.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("alarms[%d].times: %w", a.ID, err)
		}
		if _, dup := out[kind]; dup {
			return nil, fmt.Errorf("alarms[%d].times: kind %s listed twice", a.ID, kind)
		}
		t, err := ParseTime(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("alarms[%d].times.%s: %w", a.ID, name, err)
		}
		out[kind] = t
	}
	return out, nil
}

// Validate checks everything that can be checked without side effects and
// reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		errs = append(errs, err)
		loc = time.Local
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, errors.New("storage.path is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[int]bool{}
	for _, a := range cfg.Alarms {
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("alarms: duplicate id %d", a.ID))
		}
		seen[a.ID] = true
		if _, err := a.Schedule(loc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlarmIDs returns the ids of enabled alarms in ascending order.
func (c *Config) AlarmIDs() []int {
	ids := make([]int, 0, len(c.Alarms))
	for _, a := range c.Alarms {
		if a.IsEnabled() {
			ids = append(ids, a.ID)
		}
	}
	sort.Ints(ids)
	return ids
}
