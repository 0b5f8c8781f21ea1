package evsemodbus

import "time"

// Wallbox Quasar 1. Fully vendor-specific register map, no SunSpec blocks.
func wallboxQuasar1Spec() *VendorSpec {
	socRelaxedMin, socRelaxedMax := relaxed(1, 100)

	return &VendorSpec{
		Name:        "wallbox_quasar_1",
		DefaultPort: 502,

		PollInterval:      5 * time.Second,
		IdlePollInterval:  15 * time.Second,
		ForcedReadTimeout: 60 * time.Second,
		ErrorStateWindow:  300 * time.Second,

		StateMap: map[uint16]EVSEState{
			0:  StateDisconnected,         // no car connected
			1:  StateCharging,
			2:  StateIdle,                 // waiting for car demand
			3:  StateControlledExternally, // controlled by Wallbox app
			4:  StateIdle,                 // paused
			5:  StateIdle,                 // end of schedule
			6:  StateLocked,               // no car connected, charger locked
			7:  StateError,
			8:  StateIdle,                 // in queue by power sharing
			9:  StateError,                // unconfigured power sharing
			10: StateIdle,                 // in queue by power boost
			11: StateDischarging,
		},

		Entities: []EntitySpec{
			{
				Kind:    KindState,
				Name:    "charger_state",
				Ref:     RegisterRef{Address: 537, UnitID: 1, Type: TypeUInt16},
				Min:     0,
				Max:     11,
				Minimal: true,
			},
			{
				Kind: KindPower,
				Name: "charge_power",
				Ref:  RegisterRef{Address: 526, UnitID: 1, Type: TypeInt16},
				Min:  -7400,
				Max:  7400,
			},
			{
				// The Quasar reports SoC 0 while idle or disconnected and
				// occasionally a bogus 1%; the strict floor of 2 rejects
				// those. Real readings above 97 only survive through the
				// relaxed range after the strict window times out.
				Kind:       KindSoC,
				Name:       "car_soc",
				Ref:        RegisterRef{Address: 538, UnitID: 1, Type: TypeUInt16},
				Min:        2,
				Max:        97,
				RelaxedMin: socRelaxedMin,
				RelaxedMax: socRelaxedMax,
			},
			{
				Kind: KindError,
				Name: "charger_error_1",
				Ref:  RegisterRef{Address: 539, UnitID: 1, Type: TypeUInt16},
				Min:  0,
				Max:  65535,
			},
			{
				Kind: KindError,
				Name: "charger_error_2",
				Ref:  RegisterRef{Address: 540, UnitID: 1, Type: TypeUInt16},
				Min:  0,
				Max:  65535,
			},
			{
				Kind: KindError,
				Name: "charger_error_3",
				Ref:  RegisterRef{Address: 541, UnitID: 1, Type: TypeUInt16},
				Min:  0,
				Max:  65535,
			},
			{
				Kind: KindError,
				Name: "charger_error_4",
				Ref:  RegisterRef{Address: 542, UnitID: 1, Type: TypeUInt16},
				Min:  0,
				Max:  65535,
			},
			{
				Kind: KindLocked,
				Name: "charger_locked",
				Ref:  RegisterRef{Address: 256, UnitID: 1, Type: TypeUInt16},
				Min:  0,
				Max:  1,
			},
		},

		SetPower:    RegisterRef{Address: 260, UnitID: 1, Type: TypeInt16},
		Action:      &RegisterRef{Address: 257, UnitID: 1, Type: TypeUInt16},
		ActionStart: 1,
		ActionStop:  2,

		// Hardware accepts 6A..32A at 230V.
		HWMaxPower:    &RegisterRef{Address: 514, UnitID: 1, Type: TypeUInt16},
		HWMaxPowerMin: 1380,
		HWMaxPowerMax: 7400,

		Takeover: []WriteStep{
			// control: remote (app becomes read-only)
			{Ref: RegisterRef{Address: 81, UnitID: 1, Type: TypeUInt16}, Value: 1},
			// autostart on connect: disabled
			{Ref: RegisterRef{Address: 82, UnitID: 1, Type: TypeUInt16}, Value: 0},
			// setpoint type: power (not current)
			{Ref: RegisterRef{Address: 83, UnitID: 1, Type: TypeUInt16}, Value: 1},
			// modbus idle timeout, max accepted value
			{Ref: RegisterRef{Address: 88, UnitID: 1, Type: TypeUInt16}, Value: 900},
		},
		// Giving control back to the user resets autostart, setpoint type
		// and idle timeout on the charger side.
		Handback: []WriteStep{
			{Ref: RegisterRef{Address: 81, UnitID: 1, Type: TypeUInt16}, Value: 0},
		},

		// The Quasar reports a meaningless SoC unless current flows.
		SoCProbeWatt: 1,
	}
}

func init() {
	registerVendor(wallboxQuasar1Spec())
}
