package evsemodbus

import "time"

// Generic SunSpec DER charger: common block at 40000+, AC measurement at
// 40070+, DER controls at 40291+. Registers are scale-factored ints.
func sunspecSpec() *VendorSpec {
	return &VendorSpec{
		Name:        "sunspec",
		DefaultPort: 502,

		PollInterval:      5 * time.Second,
		IdlePollInterval:  15 * time.Second,
		ForcedReadTimeout: 60 * time.Second,
		ErrorStateWindow:  300 * time.Second,

		// SunSpec InvSt -> normalized state
		StateMap: map[uint16]EVSEState{
			1:  StateDisconnected,    // Off
			2:  StateBooting,         // Sleeping (auto-shutdown)
			3:  StateBooting,         // Starting
			4:  StateIdle,            // Tracking MPPT
			5:  StateChargingReduced, // Forced power reduction
			6:  StateIdle,            // Shutting down
			7:  StateError,           // Fault
			8:  StateIdle,            // Standby
			9:  StateCharging,
			10: StateDischarging,
		},

		Entities: []EntitySpec{
			{
				Kind:    KindState,
				Name:    "charger_state",
				Ref:     RegisterRef{Address: 40074, UnitID: 1, Type: TypeUInt16},
				Min:     0,
				Max:     20,
				Minimal: true,
			},
			{
				Kind:                  KindPower,
				Name:                  "charge_power",
				Ref:                   RegisterRef{Address: 40080, UnitID: 1, Type: TypeInt16},
				Min:                   -50000,
				Max:                   50000,
				ApplyPowerScaleFactor: true,
			},
			{
				Kind: KindConnectorState,
				Name: "connector_state",
				Ref:  RegisterRef{Address: 40075, UnitID: 1, Type: TypeUInt16},
				Min:  0,
				Max:  10,
			},
		},

		SetPower: RegisterRef{Address: 40301, UnitID: 1, Type: TypeInt16},

		MaxChargeRate:    &RegisterRef{Address: 40235, UnitID: 1, Type: TypeUInt16},
		MaxDischargeRate: &RegisterRef{Address: 40236, UnitID: 1, Type: TypeUInt16},
		PowerScaleFactor: &RegisterRef{Address: 40163, UnitID: 1, Type: TypeInt16},

		Info: &InfoRegisters{
			Manufacturer: RegisterRef{Address: 40003, UnitID: 1, Type: TypeString, Count: 16},
			Model:        RegisterRef{Address: 40019, UnitID: 1, Type: TypeString, Count: 16},
			Serial:       RegisterRef{Address: 40051, UnitID: 1, Type: TypeString, Count: 16},
		},
	}
}

func init() {
	registerVendor(sunspecSpec())
}
