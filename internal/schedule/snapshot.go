package schedule

import "alarmsched/internal/alarm"

// Snapshot is a consistent read-only view of the engine.
type Snapshot struct {
	Strict bool

	// Pending lists every entry ordered by fire time.
	Pending []alarm.Entry

	// Armed is the entry the wake timer was last armed for successfully.
	Armed   alarm.Entry
	IsArmed bool
	// TimerInSync is false after a wake timer failure until the next
	// successful arm/disarm.
	TimerInSync bool

	ArmCalls      uint64
	DisarmCalls   uint64
	TimerFailures uint64
}

// Head returns the first pending entry of the snapshot.
func (s Snapshot) Head() (alarm.Entry, bool) {
	if len(s.Pending) == 0 {
		return alarm.Entry{}, false
	}
	return s.Pending[0], true
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Strict:        e.cfg.Strict,
		Pending:       e.store.Entries(),
		Armed:         e.armed,
		IsArmed:       e.isArmed,
		TimerInSync:   e.inSync,
		ArmCalls:      e.armCalls,
		DisarmCalls:   e.disarmCalls,
		TimerFailures: e.failures,
	}
}
