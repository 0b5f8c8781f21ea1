package evsemodbus

import "time"

// EVTEC BiDiPro. Unlike the Bidi10 it exposes a single connector-state
// register on the default unit, so the plain state map applies. Register
// layout per the EV2Grid Modbus documentation.
func evtecBidiProSpec() *VendorSpec {
	socRelaxedMin, socRelaxedMax := relaxed(1, 100)

	return &VendorSpec{
		Name:        "evtec_bidipro",
		DefaultPort: 5020,

		PollInterval:      5 * time.Second,
		IdlePollInterval:  15 * time.Second,
		ForcedReadTimeout: 120 * time.Second,
		ErrorStateWindow:  300 * time.Second,

		StateMap: map[uint16]EVSEState{
			0:  StateBooting,
			1:  StateDisconnected,
			2:  StateError,
			3:  StateControlledExternally, // OCPP
			4:  StateDisconnected,         // contract authorization
			5:  StateDisconnected,         // plugged in, power check
			6:  StateDisconnected,         // connection init, safety checks
			7:  StateCharging,
			8:  StateDischarging,
			9:  StateControlledExternally, // OCPP
			10: StateIdle,
			11: StateDisconnected,
			12: StateError,
		},

		Entities: []EntitySpec{
			{
				Kind:    KindState,
				Name:    "charger_state",
				Ref:     RegisterRef{Address: 100, UnitID: 1, Type: TypeInt32},
				Min:     0,
				Max:     12,
				Minimal: true,
			},
			{
				Kind: KindPower,
				Name: "charge_power",
				Ref:  RegisterRef{Address: 110, UnitID: 1, Type: TypeFloat32},
				Min:  -10000,
				Max:  10000,
			},
			{
				Kind:       KindSoC,
				Name:       "car_soc",
				Ref:        RegisterRef{Address: 112, UnitID: 1, Type: TypeFloat32},
				Min:        2,
				Max:        97,
				RelaxedMin: socRelaxedMin,
				RelaxedMax: socRelaxedMax,
			},
			{
				Kind: KindError,
				Name: "charger_error",
				Ref:  RegisterRef{Address: 154, UnitID: 1, Type: TypeInt64},
				Min:  0,
				Max:  float64(1<<53 - 1),
			},
		},

		SetPower:    RegisterRef{Address: 186, UnitID: 1, Type: TypeInt32},
		Action:      &RegisterRef{Address: 188, UnitID: 1, Type: TypeInt32},
		ActionStart: 1,
		ActionStop:  0,

		// Hardware accepts 500 W up to 10 kW per connector.
		HWMaxPower:    &RegisterRef{Address: 130, UnitID: 1, Type: TypeFloat32},
		HWMaxPowerMin: 500,
		HWMaxPowerMax: 10000,

		Takeover: []WriteStep{
			// modbus idle timeout, 600s (hardware maximum)
			{Ref: RegisterRef{Address: 42, UnitID: 1, Type: TypeInt32}, Value: 600},
		},

		// The BiDiPro reports a real SoC over CCS without current flowing,
		// so no probe charge is needed.
		SoCProbeWatt: 0,
	}
}

func init() {
	registerVendor(evtecBidiProSpec())
}
