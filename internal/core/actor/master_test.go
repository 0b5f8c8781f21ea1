package actor

import (
	"fmt"
	"testing"
	"time"

	adactor "v2gbridge/internal/adapter/actor"
	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/util"
	"v2gbridge/pkg/evsemodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	seedConnectedIdle(bus, 50)

	guard := evsemodbus.PowerGuard{MinSoCPercent: 20, MaxChargeWatt: 7400, MaxDischargeWatt: 7400}
	lookup := func() *evsemodbus.ConnectedVehicle {
		return &evsemodbus.ConnectedVehicle{ID: "ev1", MinSoCPercent: 20, CapacityKWh: 40}
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, spec, func() *adactor.ChargerPortActor {
			driver := evsemodbus.NewChargerDriver(spec, bus, guard, lookup, logger)
			return adactor.NewChargerPortActor(driver, logger)
		}, func() *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	// a schedule routed through the master reaches the executor
	schedule := domain.Schedule{
		Start:     time.Now().Add(-20 * time.Minute),
		Duration:  time.Hour,
		ValuesMW:  []float64{0.005, 0.003, 0, -0.004},
		Scheduler: "TestScheduler",
	}
	res, err = context.RequestFuture(pid, domain.ApplyScheduleRequest{Schedule: schedule}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	scheduleResp, ok := res.(domain.ApplyScheduleResponse)
	assert.True(t, ok)
	assert.True(t, scheduleResp.Valid, "schedule should be accepted")

	time.Sleep(500 * time.Millisecond)

	// the entry already due (3000 W at +15min) was applied
	setpoints := bus.WritesTo(wbSetPower)
	assert.NotEmpty(t, setpoints)
	assert.Equal(t, 3000.0, setpoints[len(setpoints)-1].Value)

	context.Stop(pid)

	as.Shutdown()
}
