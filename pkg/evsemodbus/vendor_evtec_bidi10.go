package evsemodbus

import "time"

// EVTEC Bidi10 (BiDiPro). Charger-level registers live on unit id 1,
// connector registers on unit id 2. There is no single state register; the
// normalized state is derived from charger state, connector state,
// connector charge state and signed power.
func evtecBidi10Spec() *VendorSpec {
	socRelaxedMin, socRelaxedMax := relaxed(1, 100)

	return &VendorSpec{
		Name:        "evtec_bidi10",
		DefaultPort: 5020,

		PollInterval:      5 * time.Second,
		IdlePollInterval:  15 * time.Second,
		ForcedReadTimeout: 120 * time.Second,
		ErrorStateWindow:  300 * time.Second,

		DeriveState: deriveEvtecState,

		Entities: []EntitySpec{
			{
				Kind:    KindState,
				Name:    "charger_state",
				Ref:     RegisterRef{Address: 100, UnitID: 1, Type: TypeUInt16},
				Min:     0,
				Max:     1,
				Minimal: true,
			},
			{
				Kind:    KindConnectorState,
				Name:    "connector_state",
				Ref:     RegisterRef{Address: 0, UnitID: 2, Type: TypeUInt16},
				Min:     0,
				Max:     9,
				Minimal: true,
			},
			{
				Kind:    KindConnectorChargeState,
				Name:    "connector_charge_state",
				Ref:     RegisterRef{Address: 1, UnitID: 2, Type: TypeUInt16},
				Min:     0,
				Max:     7,
				Minimal: true,
			},
			{
				Kind: KindPower,
				Name: "charge_power",
				Ref:  RegisterRef{Address: 9, UnitID: 2, Type: TypeFloat32},
				Min:  -50000,
				Max:  50000,
			},
			{
				Kind:       KindSoC,
				Name:       "car_soc",
				Ref:        RegisterRef{Address: 11, UnitID: 2, Type: TypeUInt16},
				Min:        2,
				Max:        97,
				RelaxedMin: socRelaxedMin,
				RelaxedMax: socRelaxedMax,
			},
			{
				Kind: KindError,
				Name: "charger_error",
				Ref:  RegisterRef{Address: 103, UnitID: 1, Type: TypeUInt16},
				Min:  0,
				Max:  65535,
			},
		},

		SetPower:    RegisterRef{Address: 600, UnitID: 2, Type: TypeInt16},
		Action:      &RegisterRef{Address: 602, UnitID: 2, Type: TypeUInt16},
		ActionStart: 1,
		ActionStop:  2,

		Takeover: []WriteStep{
			// modbus idle timeout: enabled, 600s (hardware maximum)
			{Ref: RegisterRef{Address: 201, UnitID: 1, Type: TypeUInt16}, Value: 1},
			{Ref: RegisterRef{Address: 202, UnitID: 1, Type: TypeUInt16}, Value: 600},
		},

		SoCProbeWatt: 1,
	}
}

func deriveEvtecState(snapshot Snapshot) EVSEState {
	chargerError := snapshot.Get(KindError)
	if chargerError != nil && *chargerError != 0 {
		return StateError
	}

	chargerState := snapshot.Get(KindState)
	connectorState := snapshot.Get(KindConnectorState)
	connectorChargeState := snapshot.Get(KindConnectorChargeState)
	if chargerState == nil || connectorState == nil || connectorChargeState == nil {
		return StateBooting
	}

	cs := uint16(*connectorState)
	ccs := uint16(*connectorChargeState)

	// connector faulted / charge ended with error
	if cs == 9 || ccs == 7 {
		return StateError
	}
	if *chargerState == 0 {
		return StateBooting
	}
	if cs == 0 || cs == 8 {
		// connector unavailable / not ready
		return StateBooting
	}
	switch {
	case (cs == 2 || cs == 6 || cs == 7) && (ccs >= 4 && ccs <= 6):
		return StateIdle
	case cs == 1 && ccs == 0:
		return StateDisconnected
	case (cs >= 3 && cs <= 5) && (ccs == 2 || ccs == 3):
		power := snapshot.Get(KindPower)
		switch {
		case power != nil && *power > 0:
			return StateCharging
		case power != nil && *power < 0:
			return StateDischarging
		default:
			return StateIdle
		}
	case cs == 0 && ccs == 1:
		return StateLocked
	}
	return StateBooting
}

func init() {
	registerVendor(evtecBidi10Spec())
}
