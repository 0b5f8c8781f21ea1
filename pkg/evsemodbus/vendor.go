package evsemodbus

import (
	"fmt"
	"sort"
	"time"
)

// EVSEState is the normalized charger state every vendor's native codes map
// into.
type EVSEState int

const (
	StateBooting EVSEState = iota
	StateDisconnected
	StateIdle
	StateCharging
	StateChargingReduced
	StateDischarging
	StateControlledExternally
	StateLocked
	StateError
	StateCommunicationError
)

func (s EVSEState) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateCharging:
		return "charging"
	case StateChargingReduced:
		return "charging_reduced"
	case StateDischarging:
		return "discharging"
	case StateControlledExternally:
		return "controlled_externally"
	case StateLocked:
		return "locked"
	case StateError:
		return "error"
	case StateCommunicationError:
		return "communication_error"
	}
	return "unknown"
}

// CarConnected: a car is considered connected in every state except
// disconnected and locked-without-car.
func (s EVSEState) CarConnected() bool {
	return s != StateDisconnected && s != StateLocked
}

func (s EVSEState) Charging() bool {
	return s == StateCharging || s == StateChargingReduced
}

func (s EVSEState) Discharging() bool {
	return s == StateDischarging
}

// EntityKind tags each polled entity so change handling can dispatch on an
// explicit enum instead of handler-name strings.
type EntityKind int

const (
	KindState EntityKind = iota
	KindConnectorState
	KindConnectorChargeState
	KindPower
	KindSoC
	KindError
	KindLocked
)

func (k EntityKind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindConnectorState:
		return "connector_state"
	case KindConnectorChargeState:
		return "connector_charge_state"
	case KindPower:
		return "power"
	case KindSoC:
		return "soc"
	case KindError:
		return "error"
	case KindLocked:
		return "locked"
	}
	return "unknown"
}

// EntitySpec declares one polled register binding of a vendor.
type EntitySpec struct {
	Kind       EntityKind
	Name       string
	Ref        RegisterRef
	Min        float64
	Max        float64
	RelaxedMin *float64
	RelaxedMax *float64
	// ApplyPowerScaleFactor marks entities whose raw value must be scaled
	// by 10^SF, with SF read from VendorSpec.PowerScaleFactor at init.
	ApplyPowerScaleFactor bool
	// Minimal entities are polled even while no car is connected.
	Minimal bool
}

// WriteStep is one register write of a control takeover/handback sequence.
type WriteStep struct {
	Ref   RegisterRef
	Value float64
}

// InfoRegisters locate the identification strings of a charger.
type InfoRegisters struct {
	Manufacturer RegisterRef
	Model        RegisterRef
	Serial       RegisterRef
}

// Snapshot carries the current entity values a composite state derivation
// may consult. Values are nil when unknown.
type Snapshot map[EntityKind]*float64

func (s Snapshot) Get(kind EntityKind) *float64 {
	return s[kind]
}

// VendorSpec is the full capability set of one charger model: register
// layout, state mapping, timings and control sequences. Vendor support is
// data, not code; one generic driver interprets these specs.
type VendorSpec struct {
	Name        string
	DefaultPort int

	PollInterval      time.Duration
	IdlePollInterval  time.Duration
	ForcedReadTimeout time.Duration
	ErrorStateWindow  time.Duration

	// StateMap converts native state codes to normalized states. Unmapped
	// codes become Booting, never Idle: an unknown code may be a vendor
	// error code and must not look operational.
	StateMap map[uint16]EVSEState
	// DeriveState, when set, computes the normalized state from multiple
	// entity values. Used by vendors without a single state register.
	DeriveState func(snapshot Snapshot) EVSEState

	Entities []EntitySpec

	SetPower    RegisterRef
	Action      *RegisterRef
	ActionStart float64
	ActionStop  float64

	HWMaxPower    *RegisterRef
	HWMaxPowerMin int64
	HWMaxPowerMax int64

	MaxChargeRate    *RegisterRef
	MaxDischargeRate *RegisterRef
	PowerScaleFactor *RegisterRef

	Info *InfoRegisters

	Takeover []WriteStep
	Handback []WriteStep

	// SoCProbeWatt is the small charge power briefly commanded to make the
	// charger report a real SoC while idle. 0 disables probing.
	SoCProbeWatt int64
}

// NormalizeState maps a native state code through the vendor table.
func (v *VendorSpec) NormalizeState(code uint16) EVSEState {
	if state, ok := v.StateMap[code]; ok {
		return state
	}
	return StateBooting
}

func (v *VendorSpec) Entity(kind EntityKind) *EntitySpec {
	for i := range v.Entities {
		if v.Entities[i].Kind == kind {
			return &v.Entities[i]
		}
	}
	return nil
}

var vendorRegistry = map[string]*VendorSpec{}

func registerVendor(spec *VendorSpec) {
	vendorRegistry[spec.Name] = spec
}

// VendorByName resolves a charger model name to its spec.
func VendorByName(name string) (*VendorSpec, error) {
	spec, ok := vendorRegistry[name]
	if !ok {
		return nil, fmt.Errorf("evsemodbus: unknown charger model %q (known: %v)", name, VendorNames())
	}
	return spec, nil
}

func VendorNames() []string {
	names := make([]string, 0, len(vendorRegistry))
	for name := range vendorRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func relaxed(min, max float64) (*float64, *float64) {
	return &min, &max
}
