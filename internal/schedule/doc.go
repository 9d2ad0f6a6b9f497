// Package schedule keeps the ordered set of pending alarm entries and makes
// sure the single platform wake timer is armed for the earliest one.
//
// Callers only mutate through Engine.Set (replace all entries of an owner)
// and Engine.Remove (drop all entries of an owner). The host additionally
// calls Engine.Consume once the timer delivered an entry. After each call the
// engine compares the head before and after the change and only then touches
// the wake timer:
//   - head moved: arm for the new head and publish schedule.changed
//   - store emptied: disarm and publish schedule.cleared
//   - head unchanged: nothing happens
//
// Wake timer failures are returned as *TimerError. The store change stays
// committed and the engine re-attempts the timer on the next mutation; until
// then Snapshot().TimerInSync is false.
package schedule
