package domain

import "v2gbridge/pkg/evsemodbus"

const (
	ACTOR_ID_MASTER          = "master"
	ACTOR_ID_CHARGER         = "charger"
	ACTOR_ID_CHARGER_CONTROL = "charger_control"
	ACTOR_ID_SCHEDULE        = "schedule"
	ACTOR_ID_MQTT            = "mqtt"
	ACTOR_ID_HA_DISCOVERY    = "hadiscovery"
)

// Charger hardware port requests. All of them execute against the Modbus
// connection and are serialized by the charger port actor.

type ChargerPollRequest struct {
	ActorRequestMixIn
	Kind evsemodbus.PollKind
}

type ChargerPollResponse struct {
	ActorResponseMixIn
	Outcome evsemodbus.PollOutcome
}

type ChargerStartChargingRequest struct {
	ActorRequestMixIn
	PowerWatt int64
	Source    string
}

type ChargerStartChargingResponse struct {
	ActorResponseMixIn
}

type ChargerStopChargingRequest struct {
	ActorRequestMixIn
	Source string
}

type ChargerStopChargingResponse struct {
	ActorResponseMixIn
}

type ChargerSetPowerRequest struct {
	ActorRequestMixIn
	PowerWatt       int64
	SkipMinSoCCheck bool
}

type ChargerSetPowerResponse struct {
	ActorResponseMixIn
	Written bool
}

type ChargerSetActiveRequest struct {
	ActorRequestMixIn
	Active bool
}

type ChargerSetActiveResponse struct {
	ActorResponseMixIn
}

type ChargerInfoRequest struct {
	ActorRequestMixIn
}

type ChargerInfoResponse struct {
	ActorResponseMixIn
	Info *evsemodbus.ChargerInfo
}

type ChargerForcedSoCReadRequest struct {
	ActorRequestMixIn
	AcceptRelaxed bool
}

type ChargerForcedSoCReadResponse struct {
	ActorResponseMixIn
	Accepted bool
	Percent  *float64
}

type ChargerBeginSoCProbeRequest struct {
	ActorRequestMixIn
}

type ChargerBeginSoCProbeResponse struct {
	ActorResponseMixIn
}

type ChargerEndSoCProbeRequest struct {
	ActorRequestMixIn
}

type ChargerEndSoCProbeResponse struct {
	ActorResponseMixIn
}

// ChargerStateRequest reads the driver's cached view without touching the
// hardware.
type ChargerStateRequest struct {
	ActorRequestMixIn
}

type ChargerStateResponse struct {
	ActorResponseMixIn
	State          evsemodbus.EVSEState
	CarConnected   bool
	Charging       bool
	Discharging    bool
	PowerWatt      *float64
	SoCPercent     *float64
	CanCommunicate bool
}

// Control surface requests, accepted by the charger control actor.

type StartChargingRequest struct {
	ActorRequestMixIn
	PowerWatt int64
	Source    string
}

type StartChargingResponse struct {
	ActorResponseMixIn
}

type StopChargingRequest struct {
	ActorRequestMixIn
	Source string
}

type StopChargingResponse struct {
	ActorResponseMixIn
}

type GetSoCRequest struct {
	ActorRequestMixIn
}

type GetSoCResponse struct {
	ActorResponseMixIn
	Percent *float64
}

type ApplyScheduleRequest struct {
	ActorRequestMixIn
	Schedule Schedule
}

type ApplyScheduleResponse struct {
	ActorResponseMixIn
	Valid  bool
	Reason string
}

// MQTT requests.

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
