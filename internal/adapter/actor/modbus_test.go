package actor

import (
	"testing"
	"time"

	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/util/actorutil"
	"v2gbridge/pkg/evsemodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testChargerPortActor(t *testing.T) (*actor.ActorSystem, *actor.PID, *evsemodbus.TestRegisterBus) {
	t.Helper()

	spec, err := evsemodbus.VendorByName("wallbox_quasar_1")
	assert.NoError(t, err)

	bus := evsemodbus.NewTestRegisterBus()
	// connected idle charger
	bus.SetNumber(evsemodbus.RegisterRef{Address: 537, UnitID: 1, Type: evsemodbus.TypeUInt16}, 2)
	bus.SetNumber(evsemodbus.RegisterRef{Address: 526, UnitID: 1, Type: evsemodbus.TypeInt16}, 0)
	for _, addr := range []uint16{538, 539, 540, 541, 542, 256} {
		bus.SetNumber(evsemodbus.RegisterRef{Address: addr, UnitID: 1, Type: evsemodbus.TypeUInt16}, 0)
	}
	bus.SetNumber(evsemodbus.RegisterRef{Address: 538, UnitID: 1, Type: evsemodbus.TypeUInt16}, 60)
	bus.SetNumber(evsemodbus.RegisterRef{Address: 514, UnitID: 1, Type: evsemodbus.TypeUInt16}, 7400)

	logger := zap.NewNop()
	guard := evsemodbus.PowerGuard{MinSoCPercent: 20, MaxChargeWatt: 7400, MaxDischargeWatt: 7400}
	lookup := func() *evsemodbus.ConnectedVehicle {
		return &evsemodbus.ConnectedVehicle{ID: "ev1", MinSoCPercent: 20, CapacityKWh: 40}
	}
	driver := evsemodbus.NewChargerDriver(spec, bus, guard, lookup, logger)

	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewChargerPortActor(driver, logger) })
	pid := as.Root.Spawn(props)

	time.Sleep(500 * time.Millisecond)

	return as, pid, bus
}

func TestChargerPortInfo(t *testing.T) {

	assert := assert.New(t)

	as, pid, _ := testChargerPortActor(t)
	defer as.Shutdown()
	context := as.Root

	result, err := context.RequestFuture(pid, domain.ChargerInfoRequest{}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.ChargerInfoResponse)

	assert.False(resp.HasResponseError())
	if assert.NotNil(resp.Info) {
		assert.Equal("wallbox_quasar_1", resp.Info.Model, "model falls back to the vendor name")
		assert.Equal(int64(7400), resp.Info.MaxChargeWatt, "hardware cap applied")
	}

	context.Stop(pid)
}

func TestChargerPortPollAndSetPower(t *testing.T) {

	assert := assert.New(t)

	as, pid, bus := testChargerPortActor(t)
	defer as.Shutdown()
	context := as.Root

	result, err := context.RequestFuture(pid, domain.ChargerPollRequest{Kind: evsemodbus.PollFull}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	poll := result.(domain.ChargerPollResponse)
	assert.False(poll.HasResponseError())
	assert.True(poll.Outcome.CarConnected)
	assert.Equal(evsemodbus.StateIdle, poll.Outcome.NewState)

	// take control, then write a setpoint
	result, err = context.RequestFuture(pid, domain.ChargerSetActiveRequest{Active: true}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.False(result.(domain.ChargerSetActiveResponse).HasResponseError())

	result, err = context.RequestFuture(pid, domain.ChargerStartChargingRequest{PowerWatt: 3000}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.False(result.(domain.ChargerStartChargingResponse).HasResponseError())

	setpoints := bus.WritesTo(260)
	if assert.NotEmpty(setpoints) {
		assert.Equal(3000.0, setpoints[len(setpoints)-1].Value)
	}

	// cached state answers without touching the bus
	bus.Fail = true
	result, err = context.RequestFuture(pid, domain.ChargerStateRequest{}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	stateResp := result.(domain.ChargerStateResponse)
	assert.True(stateResp.CarConnected)

	context.Stop(pid)
}
