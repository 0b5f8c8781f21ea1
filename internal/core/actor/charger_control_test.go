package actor

import (
	"errors"
	"sync"
	"testing"
	"time"

	adactor "v2gbridge/internal/adapter/actor"
	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/util"
	"v2gbridge/internal/util/actorutil"
	"v2gbridge/pkg/evsemodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const (
	wbState    = 537
	wbPower    = 526
	wbSoC      = 538
	wbSetPower = 260
	wbAction   = 257
	wbError1   = 539
)

func wbRef(address uint16) evsemodbus.RegisterRef {
	return evsemodbus.RegisterRef{Address: address, UnitID: 1, Type: evsemodbus.TypeUInt16}
}

// seedConnectedIdle makes the bus look like a healthy idle charger with a
// car plugged in.
func seedConnectedIdle(bus *evsemodbus.TestRegisterBus, soc float64) {
	bus.SetNumber(wbRef(wbState), 2)
	bus.SetNumber(evsemodbus.RegisterRef{Address: wbPower, UnitID: 1, Type: evsemodbus.TypeInt16}, 0)
	for _, addr := range []uint16{wbError1, 540, 541, 542, 256} {
		bus.SetNumber(wbRef(addr), 0)
	}
	bus.SetNumber(wbRef(514), 7400) // hardware max power
	if soc >= 0 {
		bus.SetNumber(wbRef(wbSoC), soc)
	}
}

// testControlSpec shortens every vendor timing so the FSM can be driven
// with sub-second sleeps.
func testControlSpec(t *testing.T) *evsemodbus.VendorSpec {
	t.Helper()
	spec, err := evsemodbus.VendorByName("wallbox_quasar_1")
	assert.NoError(t, err)
	fast := *spec
	fast.PollInterval = 100 * time.Millisecond
	fast.IdlePollInterval = 100 * time.Millisecond
	fast.ErrorStateWindow = 500 * time.Millisecond
	fast.ForcedReadTimeout = 400 * time.Millisecond
	return &fast
}

func spawnControlActors(t *testing.T, ctx *actor.RootContext, bus *evsemodbus.TestRegisterBus,
	spec *evsemodbus.VendorSpec, es *eventstream.EventStream) (*actor.PID, *actor.PID) {
	t.Helper()

	logger := zap.NewNop()
	cfg := util.LoadTestConfig()

	guard := evsemodbus.PowerGuard{MinSoCPercent: 20, MaxChargeWatt: 7400, MaxDischargeWatt: 7400}
	lookup := func() *evsemodbus.ConnectedVehicle {
		return &evsemodbus.ConnectedVehicle{ID: "ev1", MinSoCPercent: 20, CapacityKWh: 40}
	}
	driver := evsemodbus.NewChargerDriver(spec, bus, guard, lookup, logger)

	chargerProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewChargerPortActor(driver, logger)
	})
	chargerPID := ctx.Spawn(chargerProps)

	controlProps := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerControlActor(&cfg, spec, chargerPID, es, logger)
	})
	controlPID := ctx.Spawn(controlProps)

	return chargerPID, controlPID
}

func TestChargerControlFlow(t *testing.T) {

	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	context := as.Root
	defer as.Shutdown()

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	seedConnectedIdle(bus, 50)

	es := &eventstream.EventStream{}
	_, controlPID := spawnControlActors(t, context, bus, spec, es)

	time.Sleep(1 * time.Second)

	hcr, err := healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, hcr.Healthy, "actor should be healthy")
	assert.Equal(t, "active", hcr.State, "actor state should be active")

	// charging
	res, err := context.RequestFuture(controlPID, domain.StartChargingRequest{PowerWatt: 3000, Source: "test"}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	startResp, ok := res.(domain.StartChargingResponse)
	assert.True(t, ok)
	assert.False(t, startResp.HasResponseError())

	setpoints := bus.WritesTo(wbSetPower)
	assert.NotEmpty(t, setpoints)
	assert.Equal(t, 3000.0, setpoints[len(setpoints)-1].Value)

	// cached SoC answers without a probe
	res, err = context.RequestFuture(controlPID, domain.GetSoCRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	socResp, ok := res.(domain.GetSoCResponse)
	assert.True(t, ok)
	if assert.NotNil(t, socResp.Percent) {
		assert.Equal(t, 50.0, *socResp.Percent)
	}

	// stop
	res, err = context.RequestFuture(controlPID, domain.StopChargingRequest{Source: "test"}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	stopResp, ok := res.(domain.StopChargingResponse)
	assert.True(t, ok)
	assert.False(t, stopResp.HasResponseError())

	// deactivate: monitoring continues, commands are refused
	res, err = context.RequestFuture(controlPID, domain.ChargerSetActiveRequest{Active: false}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	deactResp, ok := res.(domain.ChargerSetActiveResponse)
	assert.True(t, ok)
	assert.False(t, deactResp.HasResponseError())

	time.Sleep(300 * time.Millisecond)

	hcr, err = healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, hcr.Healthy)
	assert.Equal(t, "inactive", hcr.State, "actor state should be inactive")

	res, err = context.RequestFuture(controlPID, domain.StartChargingRequest{PowerWatt: 2000, Source: "test"}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	startResp, ok = res.(domain.StartChargingResponse)
	assert.True(t, ok)
	assert.True(t, errors.Is(startResp.GetResponseError(), ErrChargerNotControllable))

	// reactivate
	res, err = context.RequestFuture(controlPID, domain.ChargerSetActiveRequest{Active: true}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	actResp, ok := res.(domain.ChargerSetActiveResponse)
	assert.True(t, ok)
	assert.False(t, actResp.HasResponseError())

	time.Sleep(300 * time.Millisecond)

	hcr, err = healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, hcr.Healthy)
	assert.Equal(t, "active", hcr.State)
}

func TestChargerControlCommLostAndRecovery(t *testing.T) {

	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	context := as.Root
	defer as.Shutdown()

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	seedConnectedIdle(bus, 50)

	es := &eventstream.EventStream{}
	var mu sync.Mutex
	var commEvents []domain.ChargerCommunicationStateChangeEvent
	var errorEvents []domain.ChargerErrorStateChangeEvent
	es.Subscribe(func(value any) {
		mu.Lock()
		switch ev := value.(type) {
		case domain.ChargerCommunicationStateChangeEvent:
			commEvents = append(commEvents, ev)
		case domain.ChargerErrorStateChangeEvent:
			errorEvents = append(errorEvents, ev)
		}
		mu.Unlock()
	})

	_, controlPID := spawnControlActors(t, context, bus, spec, es)

	time.Sleep(1 * time.Second)

	// modbus dies past the failure window
	bus.Fail = true
	bus.FailClass = evsemodbus.FailurePersistent

	time.Sleep(500 * time.Millisecond)

	hcr, err := healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.False(t, hcr.Healthy, "actor should not be healthy")
	assert.Equal(t, "commLost", hcr.State)

	// a persistent modbus failure is a persistent error
	mu.Lock()
	if assert.NotEmpty(t, errorEvents, "persistent comm failure must raise a persistent error") {
		assert.True(t, errorEvents[0].PersistentError)
	}
	mu.Unlock()

	// cached SoC was dropped on comm loss
	res, err := context.RequestFuture(controlPID, domain.GetSoCRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	socResp, ok := res.(domain.GetSoCResponse)
	assert.True(t, ok)
	assert.Nil(t, socResp.Percent)

	// commands are refused
	res, err = context.RequestFuture(controlPID, domain.StartChargingRequest{PowerWatt: 2000, Source: "test"}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	startResp, ok := res.(domain.StartChargingResponse)
	assert.True(t, ok)
	assert.True(t, errors.Is(startResp.GetResponseError(), ErrChargerNotControllable))

	// the link comes back: no silent resume, a reactivation is required
	bus.Fail = false

	time.Sleep(500 * time.Millisecond)

	hcr, err = healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.False(t, hcr.Healthy, "a recovered link alone must not resume control")
	assert.Equal(t, "commLost", hcr.State)

	res, err = context.RequestFuture(controlPID, domain.ChargerSetActiveRequest{Active: true}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	actResp, ok := res.(domain.ChargerSetActiveResponse)
	assert.True(t, ok)
	assert.False(t, actResp.HasResponseError())

	time.Sleep(500 * time.Millisecond)

	hcr, err = healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, hcr.Healthy)
	assert.Equal(t, "active", hcr.State)

	mu.Lock()
	defer mu.Unlock()
	if assert.GreaterOrEqual(t, len(commEvents), 2) {
		assert.False(t, commEvents[0].CanCommunicate)
		assert.True(t, commEvents[len(commEvents)-1].CanCommunicate)
	}
	// the reactivation also clears the persistent error
	assert.False(t, errorEvents[len(errorEvents)-1].PersistentError)
}

func TestChargerControlErrorEscalation(t *testing.T) {

	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	context := as.Root
	defer as.Shutdown()

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	seedConnectedIdle(bus, 50)

	es := &eventstream.EventStream{}
	var mu sync.Mutex
	var errorEvents []domain.ChargerErrorStateChangeEvent
	es.Subscribe(func(value any) {
		if ev, ok := value.(domain.ChargerErrorStateChangeEvent); ok {
			mu.Lock()
			errorEvents = append(errorEvents, ev)
			mu.Unlock()
		}
	})

	_, controlPID := spawnControlActors(t, context, bus, spec, es)

	time.Sleep(1 * time.Second)

	// charger reports an error that never clears
	bus.SetNumber(wbRef(wbError1), 1234)

	time.Sleep(1 * time.Second)

	hcr, err := healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.False(t, hcr.Healthy, "actor should not be healthy")
	assert.Equal(t, "escalated", hcr.State)

	mu.Lock()
	if assert.NotEmpty(t, errorEvents) {
		assert.True(t, errorEvents[0].PersistentError)
		assert.True(t, errorEvents[0].WasCarConnected)
	}
	mu.Unlock()

	// escalation forces a stop action on the hardware
	actions := bus.WritesTo(wbAction)
	assert.NotEmpty(t, actions)
	assert.Equal(t, 2.0, actions[len(actions)-1].Value)

	// an explicit reactivation clears the condition
	bus.SetNumber(wbRef(wbError1), 0)
	res, err := context.RequestFuture(controlPID, domain.ChargerSetActiveRequest{Active: true}, 5*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	actResp, ok := res.(domain.ChargerSetActiveResponse)
	assert.True(t, ok)
	assert.False(t, actResp.HasResponseError())

	time.Sleep(300 * time.Millisecond)

	hcr, err = healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, hcr.Healthy)
	assert.Equal(t, "active", hcr.State)
}

func TestChargerControlSoCProbe(t *testing.T) {

	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	context := as.Root
	defer as.Shutdown()

	spec := testControlSpec(t)
	bus := evsemodbus.NewTestRegisterBus()
	// connected car but the SoC register reads as idle-zero garbage
	seedConnectedIdle(bus, 0)

	es := &eventstream.EventStream{}
	_, controlPID := spawnControlActors(t, context, bus, spec, es)

	time.Sleep(1 * time.Second)

	// the charger starts reporting a plausible SoC shortly after the
	// probe begins charging
	go func() {
		time.Sleep(300 * time.Millisecond)
		bus.SetNumber(wbRef(wbSoC), 72)
	}()

	res, err := context.RequestFuture(controlPID, domain.GetSoCRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Fatal(err)
	}
	socResp, ok := res.(domain.GetSoCResponse)
	assert.True(t, ok)
	if assert.NotNil(t, socResp.Percent) {
		assert.Equal(t, 72.0, *socResp.Percent)
	}

	// the probe commanded the minimal charge and ended with a stop
	setpoints := bus.WritesTo(wbSetPower)
	found := false
	for _, w := range setpoints {
		if w.Value == 1.0 {
			found = true
		}
	}
	assert.True(t, found, "probe should command the minimal probe power")

	hcr, err := healthCheck(context, controlPID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, hcr.Healthy)
	assert.Equal(t, "active", hcr.State)
}

func healthCheck(ctx *actor.RootContext, pid *actor.PID) (*domain.ActorHealthResponse, error) {
	resp, err := ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil, err
	}
	hcr, ok := resp.(domain.ActorHealthResponse)
	if !ok {
		return nil, errors.New("unexpcted response type")
	}
	return &hcr, nil
}
