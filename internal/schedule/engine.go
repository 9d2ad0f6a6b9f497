package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"alarmsched/internal/alarm"
	"alarmsched/internal/eventbus"
	logx "alarmsched/pkg/logx"
)

// WakeTimer is the single-slot platform timer the engine drives.
//
// Arm replaces any previous arming. Disarm is a no-op when nothing is armed.
// The timer must start disarmed; only the engine may touch it afterwards.
type WakeTimer interface {
	Arm(deadline time.Time, key alarm.Key) error
	Disarm() error
}

// Config controls engine validation.
type Config struct {
	// Strict rejects fire times that are not strictly after Clock.Now().
	// When false such times are accepted and the wake timer fires them at once.
	Strict bool
	Clock  Clock
}

// Engine owns the pending store and the wake timer slot.
//
// Every mutation runs under one mutex together with the head comparison, the
// timer call and the notification, so the timer is always armed for the
// current head (or disarmed when nothing is pending) once Set or Remove
// returns. The one exception is a wake timer failure: the store change is kept,
// the error is returned and the slot is retried on the next mutation.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	store *Pending
	timer WakeTimer
	bus   eventbus.Bus

	log  logx.Logger
	warn logx.Logger

	armed       alarm.Entry
	isArmed     bool
	inSync      bool
	armCalls    uint64
	disarmCalls uint64
	failures    uint64
}

// New builds an engine around timer. bus may be nil when nobody listens.
func New(cfg Config, timer WakeTimer, bus eventbus.Bus, log logx.Logger) (*Engine, error) {
	if timer == nil {
		return nil, errors.New("schedule: wake timer required")
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:    cfg,
		store:  NewPending(),
		timer:  timer,
		bus:    bus,
		log:    log,
		warn:   log.Every(time.Second, 5),
		inSync: true,
	}, nil
}

// Set replaces every pending entry of owner with times. An empty or nil map
// clears the owner. Validation is all-or-nothing: on a validation error the
// store is untouched.
func (e *Engine) Set(owner int, times map[alarm.Kind]time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.entriesFor(owner, times)
	if err != nil {
		return err
	}

	prev, hadPrev := e.store.PeekMin()
	e.store.ReplaceOwner(owner, entries)
	e.log.Debug("owner scheduled", logx.Int("owner", owner), logx.Int("entries", len(entries)), logx.Int("pending", e.store.Len()))
	return e.settleLocked(prev, hadPrev)
}

// Remove drops every pending entry of owner. Removing an unknown owner is a
// no-op unless a previous timer failure is still waiting to be retried.
func (e *Engine) Remove(owner int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, hadPrev := e.store.PeekMin()
	removed := e.store.RemoveOwner(owner)
	if len(removed) > 0 {
		e.log.Debug("owner removed", logx.Int("owner", owner), logx.Int("entries", len(removed)), logx.Int("pending", e.store.Len()))
	}
	return e.settleLocked(prev, hadPrev)
}

// Consume drops en after it fired and moves the timer to the next head. It
// reports false when en is no longer pending (rescheduled or removed since
// the timer was armed), in which case nothing changes.
func (e *Engine) Consume(en alarm.Entry) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, hadPrev := e.store.PeekMin()
	if !e.store.RemoveExact(en) {
		return false, nil
	}
	if e.isArmed && e.armed.Same(en) {
		// the timer slot is spent once it fired
		e.isArmed = false
		e.armed = alarm.Entry{}
	}
	e.log.Debug("entry consumed", logx.Stringer("key", en.Key), logx.Int("pending", e.store.Len()))
	return true, e.settleLocked(prev, hadPrev)
}

// SetStrict switches past fire time handling for later Set calls. Entries
// already pending are kept.
func (e *Engine) SetStrict(strict bool) {
	e.mu.Lock()
	e.cfg.Strict = strict
	e.mu.Unlock()
}

// entriesFor validates times and returns entries in kind order so fire-time
// ties resolve the same way on every run. Call with e.mu held.
func (e *Engine) entriesFor(owner int, times map[alarm.Kind]time.Time) ([]alarm.Entry, error) {
	if len(times) == 0 {
		return nil, nil
	}
	now := e.cfg.Clock.Now()
	entries := make([]alarm.Entry, 0, len(times))
	for kind, at := range times {
		key := alarm.Key{Owner: owner, Kind: kind}
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %s: unknown kind", ErrInvalidEntry, key)
		}
		if at.IsZero() {
			return nil, fmt.Errorf("%w: %s: zero fire time", ErrInvalidEntry, key)
		}
		if !at.After(now) {
			if e.cfg.Strict {
				return nil, &PastDeadlineError{Key: key, FireTime: at, Now: now}
			}
			e.warn.Warn("scheduling fire time in the past", logx.Stringer("key", key), logx.Time("fire_time", at), logx.Duration("late", now.Sub(at)))
		}
		entries = append(entries, alarm.Entry{Key: key, FireTime: at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Kind < entries[j].Kind })
	return entries, nil
}

// settleLocked compares the head before and after a mutation and reprograms the
// wake timer when it moved. Call with e.mu held.
func (e *Engine) settleLocked(prev alarm.Entry, hadPrev bool) error {
	cur, hasCur := e.store.PeekMin()
	changed := hadPrev != hasCur || (hasCur && !prev.Same(cur))
	if !changed && e.inSync {
		return nil
	}
	if !changed {
		e.log.Debug("retrying wake timer after earlier failure")
	}
	return e.rearmLocked(changed)
}

// rearmLocked points the wake timer at the current head, or disarms it when the
// store is empty. Notifications go out only when the head actually changed.
func (e *Engine) rearmLocked(changed bool) error {
	now := e.cfg.Clock.Now()

	head, ok := e.store.PeekMin()
	if !ok {
		e.disarmCalls++
		var terr error
		if err := e.timer.Disarm(); err != nil {
			e.failures++
			e.inSync = false
			terr = &TimerError{Op: "disarm", Err: err}
			e.warn.Warn("wake timer disarm failed", logx.Err(err))
		} else {
			e.inSync = true
			e.isArmed = false
			e.armed = alarm.Entry{}
			e.log.Info("all alarms unscheduled; wake timer disarmed")
		}
		if changed {
			e.publish(eventbus.Event{Type: EventAllUnscheduled, Time: now, Data: AllUnscheduled{}})
		}
		return terr
	}

	e.armCalls++
	var terr error
	if err := e.timer.Arm(head.FireTime, head.Key); err != nil {
		e.failures++
		e.inSync = false
		terr = &TimerError{Op: "arm", Key: head.Key, Deadline: head.FireTime, Err: err}
		e.warn.Warn("wake timer arm failed", logx.Stringer("key", head.Key), logx.Time("deadline", head.FireTime), logx.Err(err))
	} else {
		e.inSync = true
		e.isArmed = true
		e.armed = head
		e.log.Debug("wake timer armed", logx.Stringer("key", head.Key), logx.Time("deadline", head.FireTime), logx.Duration("in", head.FireTime.Sub(now)))
	}
	if changed {
		e.publish(eventbus.Event{Type: EventScheduleChanged, Time: now, Data: ScheduleChanged{
			Owner:    head.Owner,
			Kind:     head.Kind,
			FireTime: head.FireTime,
		}})
	}
	return terr
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ev)
}

// Head returns the earliest pending entry.
func (e *Engine) Head() (alarm.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.PeekMin()
}

// Entries returns the pending fire times of owner keyed by kind.
func (e *Engine) Entries(owner int) map[alarm.Kind]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[alarm.Kind]time.Time{}
	for _, en := range e.store.Owner(owner) {
		out[en.Kind] = en.FireTime
	}
	return out
}

// Len returns the number of pending entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Len()
}
