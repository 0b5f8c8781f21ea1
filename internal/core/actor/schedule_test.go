package actor

import (
	"sync"
	"testing"
	"time"

	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/core/service"
	"v2gbridge/internal/util/actorutil"
	"v2gbridge/pkg/evsemodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnScheduleActor(t *testing.T, ctx *actor.RootContext, controlPID *actor.PID,
	es *eventstream.EventStream) *actor.PID {
	t.Helper()

	planner := &service.DefaultSchedulePlanner{
		MinEntryResolution:  15 * time.Minute,
		RoundTripEfficiency: 0.81,
		CapacityKWh:         40,
		Logger:              zap.NewNop(),
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewScheduleExecutorActor(planner, controlPID, es, zap.NewNop())
	})
	return ctx.Spawn(props)
}

func TestScheduleExecutorAppliesSchedule(t *testing.T) {

	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	context := as.Root
	defer as.Shutdown()

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	seedConnectedIdle(bus, 50)

	es := &eventstream.EventStream{}
	var mu sync.Mutex
	var applied []domain.ScheduleAppliedEvent
	es.Subscribe(func(value any) {
		if ev, ok := value.(domain.ScheduleAppliedEvent); ok {
			mu.Lock()
			applied = append(applied, ev)
			mu.Unlock()
		}
	})

	_, controlPID := spawnControlActors(t, context, bus, spec, es)
	schedulePID := spawnScheduleActor(t, context, controlPID, es)

	time.Sleep(1 * time.Second)

	// second entry (3000 W) is the one currently in effect
	schedule := domain.Schedule{
		Start:     time.Now().Add(-20 * time.Minute),
		Duration:  time.Hour,
		ValuesMW:  []float64{0.005, 0.003, 0, -0.004},
		Scheduler: "TestScheduler",
	}
	res, err := context.RequestFuture(schedulePID, domain.ApplyScheduleRequest{Schedule: schedule}, 10*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := res.(domain.ApplyScheduleResponse)
	assert.True(t, ok)
	assert.True(t, resp.Valid)

	time.Sleep(500 * time.Millisecond)

	setpoints := bus.WritesTo(wbSetPower)
	assert.NotEmpty(t, setpoints)
	assert.Equal(t, 3000.0, setpoints[len(setpoints)-1].Value)

	mu.Lock()
	if assert.NotEmpty(t, applied) {
		assert.True(t, applied[0].Valid)
		assert.NotEmpty(t, applied[0].ExpectedSoC, "SoC prognosis should be computed")
	}
	mu.Unlock()
}

func TestScheduleExecutorReplacementCancelsPendingTimers(t *testing.T) {

	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	context := as.Root
	defer as.Shutdown()

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	seedConnectedIdle(bus, 50)

	es := &eventstream.EventStream{}
	_, controlPID := spawnControlActors(t, context, bus, spec, es)

	planner := &service.DefaultSchedulePlanner{
		MinEntryResolution:  100 * time.Millisecond,
		RoundTripEfficiency: 0.81,
		CapacityKWh:         40,
		Logger:              zap.NewNop(),
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewScheduleExecutorActor(planner, controlPID, es, zap.NewNop())
	})
	schedulePID := context.Spawn(props)

	time.Sleep(1 * time.Second)

	// first schedule only has entries in the near future, nothing in effect yet
	first := domain.Schedule{
		Start:     time.Now().Add(2 * time.Second),
		Duration:  2 * time.Second,
		ValuesMW:  []float64{0.005, 0.005, 0.004, 0.004},
		Scheduler: "TestScheduler",
	}
	res, err := context.RequestFuture(schedulePID, domain.ApplyScheduleRequest{Schedule: first}, 10*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, res.(domain.ApplyScheduleResponse).Valid)

	// replacement arrives before any of the first schedule's timers fire
	second := domain.Schedule{
		Start:     time.Now().Add(-10 * time.Minute),
		Duration:  time.Hour,
		ValuesMW:  []float64{0.002, 0.002, 0.002, 0.002},
		Scheduler: "TestScheduler",
	}
	res, err = context.RequestFuture(schedulePID, domain.ApplyScheduleRequest{Schedule: second}, 10*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, res.(domain.ApplyScheduleResponse).Valid)

	// wait until well past the first schedule's command times
	time.Sleep(4500 * time.Millisecond)

	setpoints := bus.WritesTo(wbSetPower)
	assert.NotEmpty(t, setpoints, "the replacement's in-effect entry must be dispatched")
	for _, w := range setpoints {
		assert.NotEqual(t, 5000.0, w.Value, "canceled schedule must not reach the charger")
		assert.NotEqual(t, 4000.0, w.Value, "canceled schedule must not reach the charger")
	}
	assert.Equal(t, 2000.0, setpoints[len(setpoints)-1].Value)
}

func TestScheduleExecutorRejectsDegenerateFallback(t *testing.T) {

	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	context := as.Root
	defer as.Shutdown()

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	seedConnectedIdle(bus, 50)

	es := &eventstream.EventStream{}
	_, controlPID := spawnControlActors(t, context, bus, spec, es)
	schedulePID := spawnScheduleActor(t, context, controlPID, es)

	time.Sleep(1 * time.Second)

	schedule := domain.Schedule{
		Start:     time.Now(),
		Duration:  time.Hour,
		ValuesMW:  []float64{0.002, 0.002, 0.002, 0.002},
		Scheduler: domain.SchedulerFallback,
	}
	res, err := context.RequestFuture(schedulePID, domain.ApplyScheduleRequest{Schedule: schedule}, 10*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	resp, ok := res.(domain.ApplyScheduleResponse)
	assert.True(t, ok)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Reason)
}
