package port

import (
	"time"

	"v2gbridge/internal/core/domain"
)

type SchedulePlanner interface {
	Plan(schedule domain.Schedule, now time.Time, currentSoC float64) (*domain.SchedulePlan, error)
	MinResolution() time.Duration
}
