package config

import (
	"maps"
	"sort"
	"strings"

	logx "alarmsched/pkg/logx"
)

// AlarmDiff is what a reload has to apply to the engine.
type AlarmDiff struct {
	// Set holds enabled alarms that are new or whose times changed.
	Set []AlarmConfig
	// Removed holds ids that disappeared or were disabled.
	Removed []int
}

func (d AlarmDiff) Empty() bool { return len(d.Set) == 0 && len(d.Removed) == 0 }

// DiffAlarms compares the enabled alarms of two configs. A timezone change
// marks every enabled alarm as changed since local times resolve differently.
func DiffAlarms(oldCfg, newCfg *Config) AlarmDiff {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	oldM := enabledAlarms(oldCfg.Alarms)
	newM := enabledAlarms(newCfg.Alarms)
	tzChanged := strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone)

	var d AlarmDiff
	for id, n := range newM {
		o, ok := oldM[id]
		if !ok || tzChanged || !maps.Equal(o.Times, n.Times) {
			d.Set = append(d.Set, n)
		}
	}
	for id := range oldM {
		if _, ok := newM[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Slice(d.Set, func(i, j int) bool { return d.Set[i].ID < d.Set[j].ID })
	sort.Ints(d.Removed)
	return d
}

func enabledAlarms(list []AlarmConfig) map[int]AlarmConfig {
	out := make(map[int]AlarmConfig, len(list))
	for _, a := range list {
		if a.IsEnabled() {
			out[a.ID] = a
		}
	}
	return out
}

// SummarizeConfigChange returns a sorted list of changed sections and
// structured attrs for the reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.JSON != newCfg.Logging.JSON ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.Strict != newCfg.Scheduler.Strict ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		oldCfg.Scheduler.SkipPastOrDefault() != newCfg.Scheduler.SkipPastOrDefault() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.strict", newCfg.Scheduler.Strict),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Bool("scheduler.skip_past", newCfg.Scheduler.SkipPastOrDefault()),
		)
	}

	var oDriver, nDriver, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
		)
	}

	if d := DiffAlarms(oldCfg, newCfg); !d.Empty() {
		changed = append(changed, "alarms")
		attrs = append(attrs,
			logx.Int("alarms.set", len(d.Set)),
			logx.Int("alarms.removed", len(d.Removed)),
			logx.Int("alarms.enabled", len(newCfg.AlarmIDs())),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
