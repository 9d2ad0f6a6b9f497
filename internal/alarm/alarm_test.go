package alarm

import (
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Kind
	}{
		{raw: "normal", want: KindNormal},
		{raw: "SNOOZE", want: KindSnooze},
		{raw: " prealarm ", want: KindPrealarm},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseKind(tt.raw)
			if err != nil {
				t.Fatalf("ParseKind(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseKind(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}

	if _, err := ParseKind("bedtime"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	t.Parallel()
	for _, k := range Kinds() {
		b, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error: %v", k, err)
		}
		var got Kind
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q) error: %v", b, err)
		}
		if got != k {
			t.Fatalf("round trip = %v, want %v", got, k)
		}
	}
	if _, err := Kind(0).MarshalText(); err == nil {
		t.Fatal("expected error marshaling zero kind")
	}
}

func TestKeyIsMapKey(t *testing.T) {
	t.Parallel()
	m := map[Key]int{}
	m[Key{Owner: 1, Kind: KindNormal}] = 1
	m[Key{Owner: 1, Kind: KindNormal}] = 2
	m[Key{Owner: 1, Kind: KindSnooze}] = 3
	if len(m) != 2 {
		t.Fatalf("len = %d, want 2", len(m))
	}
	if m[Key{Owner: 1, Kind: KindNormal}] != 2 {
		t.Fatalf("expected later write to replace earlier one")
	}
}

func TestEntrySameIgnoresLocation(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 10, 20, 7, 0, 0, 0, time.UTC)
	loc := time.FixedZone("UTC+2", 2*60*60)
	a := Entry{Key: Key{Owner: 7, Kind: KindNormal}, FireTime: at}
	b := Entry{Key: Key{Owner: 7, Kind: KindNormal}, FireTime: at.In(loc)}
	if !a.Same(b) {
		t.Fatalf("expected %v and %v to be the same", a, b)
	}
	c := Entry{Key: Key{Owner: 7, Kind: KindSnooze}, FireTime: at}
	if a.Same(c) {
		t.Fatalf("different kinds must not be the same entry")
	}
}
