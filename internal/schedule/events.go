package schedule

import (
	"time"

	"alarmsched/internal/alarm"
)

// Event types published on the bus by the engine.
const (
	EventScheduleChanged = "schedule.changed"
	EventAllUnscheduled  = "schedule.cleared"
)

// ScheduleChanged is published whenever the head entry changes, including the
// transition from empty to non-empty.
type ScheduleChanged struct {
	Owner    int
	Kind     alarm.Kind
	FireTime time.Time
}

// AllUnscheduled is published when the store becomes empty.
type AllUnscheduled struct{}
