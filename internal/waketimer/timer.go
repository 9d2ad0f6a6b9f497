// Package waketimer implements the single-slot wake-up timer driven by the
// scheduling engine. At most one deadline is armed at a time; arming again
// replaces the previous deadline.
package waketimer

import (
	"errors"
	"sync"
	"time"

	"alarmsched/internal/alarm"
	logx "alarmsched/pkg/logx"
)

var (
	ErrClosed    = errors.New("wake timer closed")
	ErrNoHandler = errors.New("wake timer has no fire handler")
)

// Handler receives the payload of an expired arming. It runs on the timer
// goroutine with no timer locks held, so it may call back into the engine.
type Handler func(key alarm.Key, deadline time.Time)

type Timer struct {
	mu      sync.Mutex
	handler Handler
	log     logx.Logger
	stale   logx.Logger

	t        *time.Timer
	ver      uint64 // bumped on every arm/disarm; callbacks from older versions are ignored
	armed    bool
	deadline time.Time
	key      alarm.Key
	closed   bool

	fired uint64
}

func New(h Handler, log logx.Logger) *Timer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Timer{handler: h, log: log, stale: log.Every(time.Second, 3)}
}

// SetHandler installs the fire handler. The host usually builds the timer
// before the component that consumes fired payloads.
func (w *Timer) SetHandler(h Handler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

// Arm schedules a single wake-up at deadline carrying key. A deadline in the
// past fires as soon as possible.
func (w *Timer) Arm(deadline time.Time, key alarm.Key) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.handler == nil {
		return ErrNoHandler
	}
	w.stopLocked()

	w.ver++
	ver := w.ver
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	w.t = time.AfterFunc(delay, func() { w.fire(ver) })
	w.armed = true
	w.deadline = deadline
	w.key = key

	w.log.Debug("armed", logx.Stringer("key", key), logx.Time("deadline", deadline), logx.Duration("delay", delay))
	return nil
}

// Disarm cancels the current arming. It is a no-op when nothing is armed.
func (w *Timer) Disarm() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !w.armed {
		return nil
	}
	w.stopLocked()
	w.ver++
	w.log.Debug("disarmed")
	return nil
}

// Armed reports the current arming, if any.
func (w *Timer) Armed() (deadline time.Time, key alarm.Key, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline, w.key, w.armed
}

// Fired returns the number of delivered wake-ups.
func (w *Timer) Fired() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// Close disarms the timer and rejects later Arm/Disarm calls.
func (w *Timer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.stopLocked()
	w.ver++
	w.closed = true
	return nil
}

func (w *Timer) stopLocked() {
	if w.t != nil {
		_ = w.t.Stop()
		w.t = nil
	}
	w.armed = false
	w.deadline = time.Time{}
	w.key = alarm.Key{}
}

func (w *Timer) fire(ver uint64) {
	w.mu.Lock()
	if ver != w.ver || !w.armed {
		w.mu.Unlock()
		w.stale.Debug("stale wake-up ignored", logx.Uint64("ver", ver))
		return
	}
	key, deadline, h := w.key, w.deadline, w.handler
	w.t = nil
	w.armed = false
	w.deadline = time.Time{}
	w.key = alarm.Key{}
	w.fired++
	w.mu.Unlock()

	w.log.Info("wake-up", logx.Stringer("key", key), logx.Time("deadline", deadline), logx.Duration("late", time.Since(deadline)))
	h(key, deadline)
}
