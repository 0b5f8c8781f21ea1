package service

import (
	"fmt"
	"math"
	"time"

	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/core/port"

	"go.uber.org/zap"
)

// DefaultSchedulePlanner validates an externally supplied power schedule
// and turns it into timed hardware commands plus the expected SoC
// trajectory for display.
type DefaultSchedulePlanner struct {
	MinEntryResolution  time.Duration
	RoundTripEfficiency float64
	CapacityKWh         float64
	Logger              *zap.Logger
}

func (p *DefaultSchedulePlanner) MinResolution() time.Duration {
	return p.MinEntryResolution
}

// Plan rejects invalid schedules before anything can drive hardware: a
// resolution below the configured minimum, or a fallback schedule with
// all-identical values (the upstream optimizer signalling it had no real
// plan).
func (p *DefaultSchedulePlanner) Plan(schedule domain.Schedule, now time.Time, currentSoC float64) (*domain.SchedulePlan, error) {
	if len(schedule.ValuesMW) == 0 {
		return nil, domain.ErrEmptySchedule
	}
	resolution := schedule.Resolution()
	if resolution < p.MinEntryResolution {
		return nil, fmt.Errorf("%w: %s < %s", domain.ErrResolutionTooCoarse, resolution, p.MinEntryResolution)
	}
	if schedule.Scheduler == domain.SchedulerFallback && allIdentical(schedule.ValuesMW) {
		return nil, fmt.Errorf("%w: %d identical values from %s",
			domain.ErrFallbackSchedule, len(schedule.ValuesMW), schedule.Scheduler)
	}

	commands := make([]domain.TimedPowerCommand, 0, len(schedule.ValuesMW))
	for i, v := range schedule.ValuesMW {
		commands = append(commands, domain.TimedPowerCommand{
			At:        schedule.Start.Add(time.Duration(i) * resolution),
			PowerWatt: int64(v * domain.MWToWFactor),
		})
	}

	return &domain.SchedulePlan{
		Commands:    commands,
		ExpectedSoC: p.expectedSoC(schedule, resolution, currentSoC),
	}, nil
}

// expectedSoC converts the MW series to SoC percentage points. Round-trip
// losses are split evenly over both directions: charging scales by
// sqrt(efficiency), discharging divides by it.
func (p *DefaultSchedulePlanner) expectedSoC(schedule domain.Schedule, resolution time.Duration, currentSoC float64) []domain.SoCPoint {
	if p.CapacityKWh <= 0 {
		return nil
	}
	e := math.Sqrt(p.RoundTripEfficiency)
	scalar := resolution.Hours() * 1000 * 100 / p.CapacityKWh

	points := make([]domain.SoCPoint, 0, len(schedule.ValuesMW)+1)
	soc := currentSoC
	points = append(points, domain.SoCPoint{At: schedule.Start, Percent: soc})
	for i, v := range schedule.ValuesMW {
		if v >= 0 {
			soc += v * scalar * e
		} else {
			soc += v * scalar / e
		}
		points = append(points, domain.SoCPoint{
			At:      schedule.Start.Add(time.Duration(i+1) * resolution),
			Percent: soc,
		})
	}
	return points
}

func allIdentical(values []float64) bool {
	for _, v := range values {
		if v != values[0] {
			return false
		}
	}
	return true
}

// ensure interface compliance
var _ port.SchedulePlanner = (*DefaultSchedulePlanner)(nil)
