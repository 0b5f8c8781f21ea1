package service

import (
	"testing"
	"time"

	"v2gbridge/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testPlanner() *DefaultSchedulePlanner {
	return &DefaultSchedulePlanner{
		MinEntryResolution:  15 * time.Minute,
		RoundTripEfficiency: 0.81,
		CapacityKWh:         40,
		Logger:              zap.NewNop(),
	}
}

func TestPlanCommandsAndResolution(t *testing.T) {
	planner := testPlanner()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	plan, err := planner.Plan(domain.Schedule{
		Start:    start,
		Duration: time.Hour,
		ValuesMW: []float64{0.005, -0.003, 0, 0.007},
	}, start, 50)
	assert.NoError(t, err)
	assert.Len(t, plan.Commands, 4)
	assert.Equal(t, int64(5000), plan.Commands[0].PowerWatt)
	assert.Equal(t, int64(-3000), plan.Commands[1].PowerWatt)
	assert.Equal(t, int64(0), plan.Commands[2].PowerWatt)
	assert.Equal(t, start.Add(45*time.Minute), plan.Commands[3].At)
}

func TestPlanRejectsTooFineResolution(t *testing.T) {
	planner := testPlanner()
	start := time.Now()

	// 60 values over 1h = 1 minute resolution, below the 15 minute floor
	values := make([]float64, 60)
	_, err := planner.Plan(domain.Schedule{
		Start:    start,
		Duration: time.Hour,
		ValuesMW: values,
	}, start, 50)
	assert.ErrorIs(t, err, domain.ErrResolutionTooCoarse)
}

func TestPlanRejectsDegenerateFallback(t *testing.T) {
	planner := testPlanner()
	start := time.Now()

	_, err := planner.Plan(domain.Schedule{
		Start:     start,
		Duration:  time.Hour,
		ValuesMW:  []float64{0.002, 0.002, 0.002, 0.002},
		Scheduler: domain.SchedulerFallback,
	}, start, 50)
	assert.ErrorIs(t, err, domain.ErrFallbackSchedule)

	// same values from a real scheduler are fine
	_, err = planner.Plan(domain.Schedule{
		Start:    start,
		Duration: time.Hour,
		ValuesMW: []float64{0.002, 0.002, 0.002, 0.002},
	}, start, 50)
	assert.NoError(t, err)

	// varied fallback values are fine too
	_, err = planner.Plan(domain.Schedule{
		Start:     start,
		Duration:  time.Hour,
		ValuesMW:  []float64{0.002, -0.001, 0.002, 0},
		Scheduler: domain.SchedulerFallback,
	}, start, 50)
	assert.NoError(t, err)
}

func TestPlanRejectsEmptySchedule(t *testing.T) {
	planner := testPlanner()
	_, err := planner.Plan(domain.Schedule{Start: time.Now(), Duration: time.Hour}, time.Now(), 50)
	assert.ErrorIs(t, err, domain.ErrEmptySchedule)
}

func TestPlanExpectedSoCTrajectory(t *testing.T) {
	planner := testPlanner()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 0.004 MW for 30 min into a 40 kWh pack: 2 kWh = 5 percentage points
	// before losses. Charge applies sqrt(0.81) = 0.9.
	plan, err := planner.Plan(domain.Schedule{
		Start:    start,
		Duration: time.Hour,
		ValuesMW: []float64{0.004, -0.004},
	}, start, 50)
	assert.NoError(t, err)
	assert.Len(t, plan.ExpectedSoC, 3)
	assert.InDelta(t, 50.0, plan.ExpectedSoC[0].Percent, 0.001)
	assert.InDelta(t, 54.5, plan.ExpectedSoC[1].Percent, 0.001)
	// discharge divides by 0.9: 54.5 - 5/0.9
	assert.InDelta(t, 54.5-5.0/0.9, plan.ExpectedSoC[2].Percent, 0.001)
	assert.Equal(t, start.Add(time.Hour), plan.ExpectedSoC[2].At)
}
