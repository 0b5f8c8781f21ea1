package domain

import (
	"fmt"

	"v2gbridge/pkg/evsemodbus"
)

const (
	SENSOR_ID_CHARGER_STATE        = "charger_state"
	SENSOR_ID_CHARGE_POWER         = "charge_power"
	SENSOR_ID_CAR_SOC              = "car_soc"
	SENSOR_ID_CAR_CONNECTED        = "car_connected"
	SENSOR_ID_CHARGER_ERROR        = "charger_error"
	SENSOR_ID_CHARGER_COMMUNICATION = "charger_communication"
	SENSOR_ID_EXPECTED_SOC         = "expected_soc"
	SENSOR_ID_SCHEDULE_VALID       = "schedule_valid"
	SENSOR_ID_BRIDGE_STATE         = "bridge_state"
)

const (
	SENSOR_TYPE_SENSOR = "sensor"
	SENSOR_TYPE_BINARY = "binary_sensor"
)

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

// Domain events published on the event stream by the charger control and
// schedule actors. Fire-and-forget; at least one listener is expected but
// not required.

type ChargerStateChangeEvent struct {
	Old  evsemodbus.EVSEState
	New  evsemodbus.EVSEState
	Text string
}

type ChargePowerChangeEvent struct {
	PowerWatt float64
}

type CarConnectedEvent struct {
	Connected bool
}

type SoCChangeEvent struct {
	Percent float64
}

type ChargerErrorStateChangeEvent struct {
	PersistentError bool
	WasCarConnected bool
}

type ChargerCommunicationStateChangeEvent struct {
	CanCommunicate bool
}

// EvsePolledEvent signals poll-loop lifecycle; Stop is true when polling
// halted for good (escalation or deactivation).
type EvsePolledEvent struct {
	Stop bool
}

type ScheduleAppliedEvent struct {
	Valid       bool
	Reason      string
	ExpectedSoC []SoCPoint
}
