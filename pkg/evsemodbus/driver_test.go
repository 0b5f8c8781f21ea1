package evsemodbus

import (
	"testing"

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

func testWallboxDriver(t *testing.T) (*ChargerDriver, *TestRegisterBus) {
	t.Helper()
	spec, err := VendorByName("wallbox_quasar_1")
	assert.NoError(t, err)
	bus := NewTestRegisterBus()
	guard := PowerGuard{MinSoCPercent: 20, MaxChargeWatt: 7400, MaxDischargeWatt: 7400}
	lookup := func() *ConnectedVehicle {
		return &ConnectedVehicle{ID: "car", MinSoCPercent: 20, CapacityKWh: 60}
	}
	driver := NewChargerDriver(spec, bus, guard, lookup, zap.NewNop())
	return driver, bus
}

func wbRef(address uint16) RegisterRef {
	return RegisterRef{Address: address, UnitID: 1, Type: TypeUInt16}
}

func TestDriverChargingStateAndPower(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	bus.SetNumber(wbRef(wbState), 1) // charging
	bus.SetNumber(RegisterRef{Address: wbPower, UnitID: 1, Type: TypeInt16}, 3000)
	for _, addr := range []uint16{wbSoC, wbError1, 540, 541, 542, 256} {
		bus.SetNumber(wbRef(addr), 0)
	}
	bus.SetNumber(wbRef(wbSoC), 50)

	outcome, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.True(t, driver.IsCharging())
	assert.True(t, outcome.StateChanged)
	assert.Equal(t, StateCharging, outcome.NewState)
	assert.True(t, outcome.PowerChanged)
	assert.Equal(t, 3000.0, *outcome.PowerWatt)
	assert.False(t, outcome.ErrorActive)

	// a second identical poll produces no further changes
	outcome, err = driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.False(t, outcome.StateChanged)
	assert.False(t, outcome.PowerChanged)
	assert.Empty(t, outcome.Changes)
}

func TestDriverKeepsCachedSoCOnBogusZero(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	bus.SetNumber(wbRef(wbState), 2) // idle, connected
	bus.SetNumber(RegisterRef{Address: wbPower, UnitID: 1, Type: TypeInt16}, 0)
	for _, addr := range []uint16{wbError1, 540, 541, 542, 256} {
		bus.SetNumber(wbRef(addr), 0)
	}
	bus.SetNumber(wbRef(wbSoC), 55)

	_, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.Equal(t, 55.0, *driver.StateOfCharge())

	// idle chargers report SoC 0; the cached value must survive
	bus.SetNumber(wbRef(wbSoC), 0)
	outcome, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.False(t, outcome.SoCChanged)
	assert.Equal(t, 55.0, *driver.StateOfCharge())
}

func TestDriverDisconnectStopsAndClearsVehicle(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	assert.NoError(t, driver.SetActive())
	bus.Writes = nil

	bus.SetNumber(wbRef(wbState), 2)
	bus.SetNumber(RegisterRef{Address: wbPower, UnitID: 1, Type: TypeInt16}, 0)
	for _, addr := range []uint16{wbError1, 540, 541, 542, 256} {
		bus.SetNumber(wbRef(addr), 0)
	}
	bus.SetNumber(wbRef(wbSoC), 55)
	_, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.NotNil(t, driver.Vehicle())

	// car unplugs
	bus.SetNumber(wbRef(wbState), 0)
	outcome, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.True(t, outcome.StateChanged)
	assert.Equal(t, StateDisconnected, outcome.NewState)
	assert.True(t, outcome.ConnectedChanged)
	assert.False(t, outcome.CarConnected)
	assert.Nil(t, driver.Vehicle())
	assert.Nil(t, driver.StateOfCharge(), "SoC must be nulled on disconnect")

	// an explicit stop prevents hardware auto-resume
	stops := bus.WritesTo(wbAction)
	assert.NotEmpty(t, stops)
	assert.Equal(t, 2.0, stops[len(stops)-1].Value)
	powerWrites := bus.WritesTo(wbSetPower)
	assert.NotEmpty(t, powerWrites)
	assert.Equal(t, 0.0, powerWrites[len(powerWrites)-1].Value)
}

func TestDriverStartChargingWritesSetpointAndAction(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	assert.NoError(t, driver.SetActive())
	bus.SetNumber(wbRef(wbState), 2)
	bus.SetNumber(RegisterRef{Address: wbPower, UnitID: 1, Type: TypeInt16}, 0)
	for _, addr := range []uint16{wbError1, 540, 541, 542, 256} {
		bus.SetNumber(wbRef(addr), 0)
	}
	bus.SetNumber(wbRef(wbSoC), 50)
	_, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	bus.Writes = nil

	assert.NoError(t, driver.StartCharging(3000))
	setpoints := bus.WritesTo(wbSetPower)
	assert.Len(t, setpoints, 1)
	assert.Equal(t, 3000.0, setpoints[0].Value)
	actions := bus.WritesTo(wbAction)
	assert.Len(t, actions, 1)
	assert.Equal(t, 1.0, actions[0].Value)

	// same power again: guard skips the redundant write
	bus.Writes = nil
	assert.NoError(t, driver.StartCharging(3000))
	assert.Empty(t, bus.WritesTo(wbSetPower))
}

func TestDriverStartChargingNoOpWhenDisconnected(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	assert.NoError(t, driver.SetActive())
	bus.SetNumber(wbRef(wbState), 0)
	_, err := driver.Poll(PollMinimal)
	assert.NoError(t, err)
	bus.Writes = nil

	assert.NoError(t, driver.StartCharging(3000))
	assert.Empty(t, bus.Writes, "start while disconnected must not touch the hardware")
}

func TestDriverSoCProbeCommandsMinimalChargeWhileIdle(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	assert.NoError(t, driver.SetActive())
	bus.SetNumber(wbRef(wbState), 2)
	bus.SetNumber(RegisterRef{Address: wbPower, UnitID: 1, Type: TypeInt16}, 0)
	for _, addr := range []uint16{wbError1, 540, 541, 542, 256} {
		bus.SetNumber(wbRef(addr), 0)
	}
	bus.SetNumber(wbRef(wbSoC), 50)
	_, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	bus.Writes = nil

	restore, err := driver.BeginSoCProbe()
	assert.NoError(t, err)
	setpoints := bus.WritesTo(wbSetPower)
	assert.Len(t, setpoints, 1)
	assert.Equal(t, 1.0, setpoints[0].Value)

	// charger now reports a real SoC
	bus.SetNumber(wbRef(wbSoC), 72)
	accepted, value, err := driver.TryForcedSoCRead(false)
	assert.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 72.0, *value)

	assert.NoError(t, driver.EndSoCProbe(restore))
	actions := bus.WritesTo(wbAction)
	assert.Equal(t, 2.0, actions[len(actions)-1].Value, "probe must end with a stop")
}

func TestDriverForcedReadRelaxedPhase(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	bus.SetNumber(wbRef(wbSoC), 100) // outside strict range

	accepted, _, err := driver.TryForcedSoCRead(false)
	assert.NoError(t, err)
	assert.False(t, accepted, "strict phase must not accept a relaxed-only value")

	accepted, value, err := driver.TryForcedSoCRead(true)
	assert.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 100.0, *value)
}

func TestDriverErrorRegisterActivates(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	bus.SetNumber(wbRef(wbState), 2)
	bus.SetNumber(RegisterRef{Address: wbPower, UnitID: 1, Type: TypeInt16}, 0)
	for _, addr := range []uint16{wbError1, 540, 541, 542, 256} {
		bus.SetNumber(wbRef(addr), 0)
	}
	bus.SetNumber(wbRef(wbSoC), 50)
	outcome, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.False(t, outcome.ErrorActive)

	bus.SetNumber(wbRef(wbError1), 1234)
	outcome, err = driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.True(t, outcome.ErrorActive)
}

func TestDriverPollFailureCarriesClass(t *testing.T) {
	driver, bus := testWallboxDriver(t)
	bus.Fail = true
	bus.FailClass = FailurePersistent

	outcome, err := driver.Poll(PollFull)
	assert.Error(t, err)
	assert.Equal(t, FailurePersistent, outcome.Failure)
	assert.False(t, driver.CanCommunicate())
}

func TestDriverUnknownStateCodeMapsToBooting(t *testing.T) {
	spec, _ := VendorByName("wallbox_quasar_1")
	assert.Equal(t, StateBooting, spec.NormalizeState(42))
	// never silently idle: an unknown code may hide an error
	assert.NotEqual(t, StateIdle, spec.NormalizeState(200))
}

func TestBidiProStateMapAndControlRegisters(t *testing.T) {
	spec, err := VendorByName("evtec_bidipro")
	assert.NoError(t, err)
	assert.Equal(t, StateCharging, spec.NormalizeState(7))
	assert.Equal(t, StateDischarging, spec.NormalizeState(8))
	assert.Equal(t, StateIdle, spec.NormalizeState(10))
	assert.Equal(t, StateDisconnected, spec.NormalizeState(1))
	assert.Equal(t, StateControlledExternally, spec.NormalizeState(9))
	assert.Equal(t, StateError, spec.NormalizeState(12))
	assert.Equal(t, StateBooting, spec.NormalizeState(99))

	bus := NewTestRegisterBus()
	guard := PowerGuard{MinSoCPercent: 20, MaxChargeWatt: 10000, MaxDischargeWatt: 10000}
	lookup := func() *ConnectedVehicle {
		return &ConnectedVehicle{ID: "car", MinSoCPercent: 20, CapacityKWh: 77}
	}
	driver := NewChargerDriver(spec, bus, guard, lookup, zap.NewNop())

	stateRef := RegisterRef{Address: 100, UnitID: 1, Type: TypeInt32}
	bus.SetNumber(stateRef, 7) // charging
	bus.SetNumber(RegisterRef{Address: 110, UnitID: 1, Type: TypeFloat32}, 4200)
	bus.SetNumber(RegisterRef{Address: 112, UnitID: 1, Type: TypeFloat32}, 63)
	bus.SetNumber(RegisterRef{Address: 154, UnitID: 1, Type: TypeInt64}, 0)

	outcome, err := driver.Poll(PollFull)
	assert.NoError(t, err)
	assert.Equal(t, StateCharging, outcome.NewState)
	assert.Equal(t, 4200.0, *outcome.PowerWatt)
	assert.Equal(t, 63.0, *driver.StateOfCharge())
	assert.False(t, outcome.ErrorActive)

	assert.NoError(t, driver.SetActive())
	// takeover pins the modbus idle timeout to its 600s maximum
	timeouts := bus.WritesTo(42)
	assert.NotEmpty(t, timeouts)
	assert.Equal(t, 600.0, timeouts[len(timeouts)-1].Value)

	bus.Writes = nil
	assert.NoError(t, driver.StartCharging(5000))
	setpoints := bus.WritesTo(186)
	assert.Len(t, setpoints, 1)
	assert.Equal(t, 5000.0, setpoints[0].Value)
	actions := bus.WritesTo(188)
	assert.Len(t, actions, 1)
	assert.Equal(t, 1.0, actions[0].Value)

	// stop uses the BiDiPro action code 0, not the Quasar's 2
	bus.Writes = nil
	assert.NoError(t, driver.StopCharging())
	actions = bus.WritesTo(188)
	assert.NotEmpty(t, actions)
	assert.Equal(t, 0.0, actions[len(actions)-1].Value)
}

func TestEvtecDeriveState(t *testing.T) {
	snap := Snapshot{
		KindState:                f(1),
		KindConnectorState:       f(4),
		KindConnectorChargeState: f(2),
		KindPower:                f(3000),
		KindError:                f(0),
	}
	assert.Equal(t, StateCharging, deriveEvtecState(snap))

	snap[KindPower] = f(-3000)
	assert.Equal(t, StateDischarging, deriveEvtecState(snap))

	snap[KindError] = f(77)
	assert.Equal(t, StateError, deriveEvtecState(snap))

	snap = Snapshot{
		KindState:                f(1),
		KindConnectorState:       f(1),
		KindConnectorChargeState: f(0),
	}
	assert.Equal(t, StateDisconnected, deriveEvtecState(snap))
}
