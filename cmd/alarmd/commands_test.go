package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alarmsched/internal/storage"
	logx "alarmsched/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCheckPrintsScheduleInFireOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alarmd.yaml")
	writeFile(t, path, `
scheduler:
  timezone: UTC
alarms:
  - id: 2
    label: gym
    times:
      normal: "2026-10-20 06:00"
  - id: 1
    label: work
    times:
      normal: "2026-10-20 07:00"
      prealarm: "2026-10-20 05:45"
`)
	var out bytes.Buffer
	if err := Execute([]string{"alarmd", "check", "--config", path}, &out); err != nil {
		t.Fatalf("check: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "config ok: 2 enabled alarm(s), 3 pending entries") {
		t.Fatalf("summary missing:\n%s", got)
	}
	first := strings.Index(got, "2026-10-20T05:45:00Z")
	second := strings.Index(got, "2026-10-20T06:00:00Z")
	third := strings.Index(got, "2026-10-20T07:00:00Z")
	if first < 0 || !(first < second && second < third) {
		t.Fatalf("rows not in fire order:\n%s", got)
	}
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarmd.json")
	writeFile(t, path, `{"alarms": [{"id": 1, "times": {"lunch": "2026-10-20 12:00"}}]}`)
	if err := Execute([]string{"alarmd", "check", "-c", path}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestJournalPrintsRecentRecords(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "alarmd.db")
	path := filepath.Join(dir, "alarmd.toml")
	writeFile(t, path, fmt.Sprintf("[storage]\ndriver = \"file\"\npath = %q\n", db))

	st, err := storage.Open(storage.Config{Driver: "file", Path: db}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fire := time.Date(2026, 10, 20, 7, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		if err := st.Append(context.Background(), storage.Record{Type: "alarm.fired", Owner: i, Kind: "normal", FireTime: fire, Detail: "wake"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	_ = st.Close()

	var out bytes.Buffer
	if err := Execute([]string{"alarmd", "journal", "--config", path, "-n", "2"}, &out); err != nil {
		t.Fatalf("journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "alarm.fired") || !strings.Contains(lines[2], " 3 ") {
		t.Fatalf("last line = %q, want owner 3", lines[2])
	}
}

func TestJournalDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarmd.json")
	writeFile(t, path, `{}`)
	err := Execute([]string{"alarmd", "journal", "--config", path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "journal disabled") {
		t.Fatalf("err = %v, want journal disabled", err)
	}
}
