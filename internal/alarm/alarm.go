// Package alarm defines the value types shared by the scheduling engine and its
// collaborators: the kind discriminator, the (owner, kind) identity key and the
// immutable pending entry.
package alarm

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes why a particular fire time exists for an owner.
type Kind uint8

const (
	KindNormal Kind = iota + 1
	KindSnooze
	KindPrealarm
)

var kindNames = map[Kind]string{
	KindNormal:   "normal",
	KindSnooze:   "snooze",
	KindPrealarm: "prealarm",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindNormal, KindSnooze, KindPrealarm}
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind accepts the lower/upper case name of a kind ("normal", "SNOOZE", ...).
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown alarm kind %q", s)
}

// MarshalText keeps kinds readable in JSON journals and config dumps.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown alarm kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Key is the identity of a pending entry. It is a comparable value and safe to
// use as a map key; equality and hashing derive from the same two fields.
type Key struct {
	Owner int
	Kind  Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.Owner, k.Kind)
}

// Entry is one pending wake-up. Entries are replaced wholesale, never mutated.
type Entry struct {
	Key
	FireTime time.Time
}

// Same reports whether two entries have the same identity and the same instant.
// Instants are compared with time.Equal so the location does not matter.
func (e Entry) Same(o Entry) bool {
	return e.Key == o.Key && e.FireTime.Equal(o.FireTime)
}

func (e Entry) String() string {
	return e.Key.String() + "@" + e.FireTime.Format(time.RFC3339)
}
