package domain

import (
	"errors"
	"time"
)

// Schedules arrive from an external optimizer with power values in
// megawatts.
const MWToWFactor = 1_000_000

// SchedulerFallback marks a schedule the upstream optimizer produced as a
// last resort when it could not compute a real plan.
const SchedulerFallback = "StorageFallbackScheduler"

var (
	ErrResolutionTooCoarse = errors.New("schedule: resolution below configured minimum")
	ErrFallbackSchedule    = errors.New("schedule: degenerate fallback schedule")
	ErrEmptySchedule       = errors.New("schedule: no values")
)

// Schedule is an externally produced piecewise-constant power plan.
// Consumed once per update; a new schedule supersedes the previous one
// atomically.
type Schedule struct {
	Start    time.Time
	Duration time.Duration
	// ValuesMW are signed: positive = charge, negative = discharge.
	ValuesMW  []float64
	Scheduler string
}

// Resolution is the duration each value spans.
func (s Schedule) Resolution() time.Duration {
	if len(s.ValuesMW) == 0 {
		return 0
	}
	return s.Duration / time.Duration(len(s.ValuesMW))
}

// TimedPowerCommand is one hardware command derived from a schedule entry.
type TimedPowerCommand struct {
	At        time.Time
	PowerWatt int64
}

// SoCPoint is one step of the expected state-of-charge trajectory.
type SoCPoint struct {
	At      time.Time
	Percent float64
}

// SchedulePlan is a validated, executable schedule.
type SchedulePlan struct {
	Commands    []TimedPowerCommand
	ExpectedSoC []SoCPoint
}
