package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"alarmsched/internal/alarm"
	"alarmsched/internal/config"
	"alarmsched/internal/eventbus"
	"alarmsched/internal/schedule"
)

type fakeNotifier struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeNotifier) Notify(state string) (bool, error) {
	f.mu.Lock()
	f.states = append(f.states, state)
	f.mu.Unlock()
	return true, nil
}

func (f *fakeNotifier) WatchdogInterval() (time.Duration, error) { return 0, nil }

func (f *fakeNotifier) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.states...)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "alarmd.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func rfc(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func TestAppFiresConsumesAndJournals(t *testing.T) {
	dir := t.TempDir()
	soon := time.Now().Add(200 * time.Millisecond)
	later := time.Now().Add(time.Hour)
	path := writeConfig(t, dir, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"storage": {"driver": "file", "path": %q},
		"alarms": [
			{"id": 7, "label": "wake up", "times": {"prealarm": %q, "normal": %q}}
		]
	}`, filepath.Join(dir, "alarmd.db"), rfc(soon), rfc(later)))

	n := &fakeNotifier{}
	a, err := New(path, WithNotifier(n))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fired, unsub := a.Bus().Subscribe(4, EventAlarmFired)
	defer unsub()

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	if head, ok := a.Engine().Head(); !ok || head.Kind != alarm.KindPrealarm {
		t.Fatalf("head = %v, %v; want prealarm", head, ok)
	}

	select {
	case ev := <-fired:
		got := ev.Data.(AlarmFired)
		if got.Owner != 7 || got.Kind != alarm.KindPrealarm || got.Label != "wake up" {
			t.Fatalf("fired = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("alarm did not fire")
	}

	left := a.Engine().Entries(7)
	if len(left) != 1 || !left[alarm.KindNormal].Equal(later.UTC()) {
		t.Fatalf("remaining entries = %v, want only normal", left)
	}
	snap := a.Engine().Snapshot()
	if !snap.IsArmed || snap.Armed.Kind != alarm.KindNormal {
		t.Fatalf("armed = %+v, want normal", snap.Armed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := a.store.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		found := false
		for _, r := range recs {
			if r.Type == EventAlarmFired && r.Owner == 7 && r.Kind == "prealarm" {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal has no fired record: %+v", recs)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if states := n.seen(); len(states) == 0 || states[0] != sdReady {
		t.Fatalf("notify states = %v, want READY first", states)
	}
}

func TestAppSkipsPastKinds(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)
	path := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"scheduler": {"timezone": "UTC"},
		"alarms": [
			{"id": 1, "times": {"prealarm": "2026-10-20 05:50", "normal": "2026-10-20 06:30"}},
			{"id": 2, "times": {"normal": "2026-10-20 05:00"}},
			{"id": 3, "enabled": false, "times": {"normal": "2026-10-20 07:00"}}
		]
	}`)
	a, err := New(path, WithNotifier(&fakeNotifier{}), WithClock(schedule.ClockFunc(func() time.Time { return now })))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	pending := a.Engine().Snapshot().Pending
	if len(pending) != 1 {
		t.Fatalf("pending = %v, want only owner 1 normal", pending)
	}
	if pending[0].Owner != 1 || pending[0].Kind != alarm.KindNormal {
		t.Fatalf("pending[0] = %v", pending[0])
	}
}

func TestAppStrictRejectsPast(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)
	path := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"scheduler": {"strict": true, "skip_past": false, "timezone": "UTC"},
		"alarms": [
			{"id": 1, "times": {"prealarm": "2026-10-20 05:50", "normal": "2026-10-20 06:30"}},
			{"id": 2, "times": {"normal": "2026-10-20 08:00"}}
		]
	}`)
	a, err := New(path, WithNotifier(&fakeNotifier{}), WithClock(schedule.ClockFunc(func() time.Time { return now })))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	if got := a.Engine().Entries(1); len(got) != 0 {
		t.Fatalf("owner 1 entries = %v, want rejected as a whole", got)
	}
	if got := a.Engine().Entries(2); len(got) != 1 {
		t.Fatalf("owner 2 entries = %v, want 1", got)
	}
}

func TestApplyConfigReschedules(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)
	path := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"scheduler": {"timezone": "UTC"},
		"alarms": [
			{"id": 1, "times": {"normal": "2026-10-20 07:00"}},
			{"id": 2, "times": {"normal": "2026-10-20 08:00"}}
		]
	}`)
	a, err := New(path, WithNotifier(&fakeNotifier{}), WithClock(schedule.ClockFunc(func() time.Time { return now })))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	oldCfg := a.cfgm.Get()
	newCfg, err := config.Decode("alarmd.json", []byte(`{
		"logging": {"level": "error"},
		"scheduler": {"timezone": "UTC", "strict": true},
		"alarms": [
			{"id": 2, "times": {"normal": "2026-10-20 06:15", "snooze": "2026-10-20 06:20"}},
			{"id": 4, "times": {"prealarm": "2026-10-20 06:05"}}
		]
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a.applyConfig(oldCfg, newCfg)

	if got := a.Engine().Entries(1); len(got) != 0 {
		t.Fatalf("owner 1 entries = %v, want removed", got)
	}
	if got := a.Engine().Entries(2); len(got) != 2 {
		t.Fatalf("owner 2 entries = %v, want 2", got)
	}
	head, ok := a.Engine().Head()
	if !ok || head.Owner != 4 || head.Kind != alarm.KindPrealarm {
		t.Fatalf("head = %v, %v; want owner 4 prealarm", head, ok)
	}
	if !a.Engine().Snapshot().Strict {
		t.Fatal("strict mode not applied on reload")
	}
}

func TestJournalRecordMapsEvents(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 10, 20, 7, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		ev    any
		typ   string
		kind  string
		owner int
		ok    bool
	}{
		{"changed", schedule.ScheduleChanged{Owner: 3, Kind: alarm.KindSnooze, FireTime: at}, schedule.EventScheduleChanged, "snooze", 3, true},
		{"cleared", schedule.AllUnscheduled{}, schedule.EventAllUnscheduled, "", 0, true},
		{"fired", AlarmFired{Owner: 5, Kind: alarm.KindNormal, FireTime: at}, EventAlarmFired, "normal", 5, true},
		{"unknown", "noise", "other", "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := journalRecord(eventbus.Event{Type: tc.typ, Data: tc.ev})
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if rec.Type != tc.typ || rec.Kind != tc.kind || rec.Owner != tc.owner {
				t.Fatalf("record = %+v", rec)
			}
		})
	}
}

func TestStartAppliesEditsMadeBeforeWatch(t *testing.T) {
	dir := t.TempDir()
	later := time.Now().Add(time.Hour)
	path := writeConfig(t, dir, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"alarms": [{"id": 1, "times": {"normal": %q}}]
	}`, rfc(later)))
	a, err := New(path, WithNotifier(&fakeNotifier{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	writeConfig(t, dir, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"alarms": [
			{"id": 1, "times": {"normal": %q}},
			{"id": 2, "times": {"normal": %q}}
		]
	}`, rfc(later), rfc(later.Add(time.Minute))))

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	deadline := time.Now().Add(2 * time.Second)
	for len(a.Engine().Entries(2)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("owner 2 never scheduled from the edited config")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReloadRejectsPastAlarmsInStrictMode(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 20, 6, 0, 0, 0, time.UTC)
	path := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"scheduler": {"strict": true, "skip_past": false, "timezone": "UTC"},
		"alarms": [
			{"id": 1, "times": {"normal": "2026-10-20 08:00"}},
			{"id": 3, "times": {"normal": "2026-10-20 05:30"}}
		]
	}`)
	a, err := New(path, WithNotifier(&fakeNotifier{}), WithClock(schedule.ClockFunc(func() time.Time { return now })))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	cases := []struct {
		name    string
		alarm2  string
		wantErr bool
	}{
		{"past", "2026-10-20 05:00", true},
		{"future", "2026-10-20 09:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Decode("alarmd.json", []byte(fmt.Sprintf(`{
				"logging": {"level": "error"},
				"scheduler": {"strict": true, "skip_past": false, "timezone": "UTC"},
				"alarms": [
					{"id": 1, "times": {"normal": "2026-10-20 08:00"}},
					{"id": 2, "times": {"normal": %q}},
					{"id": 3, "times": {"normal": "2026-10-20 05:30"}}
				]
			}`, tc.alarm2)))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			err = a.validateConfig(context.Background(), cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateConfig err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "alarm 2") {
				t.Fatalf("err = %q, want it to name alarm 2", err)
			}
		})
	}

	writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"scheduler": {"strict": true, "skip_past": false, "timezone": "UTC"},
		"alarms": [
			{"id": 1, "times": {"normal": "2026-10-20 08:00"}},
			{"id": 2, "times": {"normal": "2026-10-20 05:00"}},
			{"id": 3, "times": {"normal": "2026-10-20 05:30"}}
		]
	}`)
	if _, err := a.cfgm.Reload(context.Background()); err == nil {
		t.Fatal("Reload accepted a past alarm in strict mode")
	}
	if got := len(a.cfgm.Get().Alarms); got != 2 {
		t.Fatalf("committed config has %d alarms, want the previous 2", got)
	}
	if got := a.Engine().Entries(2); len(got) != 0 {
		t.Fatalf("owner 2 entries = %v, want none", got)
	}
}

func TestNewClosesLogFileOnError(t *testing.T) {
	if _, err := os.ReadDir("/proc/self/fd"); err != nil {
		t.Skip("needs /proc/self/fd")
	}
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, fmt.Sprintf(`{
		"logging": {"level": "error", "file": {"enabled": true, "path": %q}},
		"storage": {"driver": "file", "path": %q}
	}`, filepath.Join(dir, "alarmd.log"), filepath.Join(blocker, "alarmd.db")))

	openFDs := func() int {
		ents, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			t.Fatal(err)
		}
		return len(ents)
	}
	before := openFDs()
	const attempts = 20
	for i := 0; i < attempts; i++ {
		if _, err := New(path, WithNotifier(&fakeNotifier{})); err == nil {
			t.Fatal("expected the journal to fail to open")
		}
	}
	if grew := openFDs() - before; grew >= attempts/2 {
		t.Fatalf("open descriptors grew by %d over %d failed New calls", grew, attempts)
	}
}
