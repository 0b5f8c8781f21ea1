package evsemodbus

// Fermate FE20: SunSpec-compliant, plus a vendor SoC register outside the
// standard blocks and a non-default Modbus port.
func fermateFE20Spec() *VendorSpec {
	spec := sunspecSpec()
	spec.Name = "fermate_fe20"
	spec.DefaultPort = 8502

	socMin, socMax := relaxed(1, 100)
	spec.Entities = append(spec.Entities, EntitySpec{
		Kind:       KindSoC,
		Name:       "car_soc",
		Ref:        RegisterRef{Address: 41104, UnitID: 1, Type: TypeInt16},
		Min:        2,
		Max:        97,
		RelaxedMin: socMin,
		RelaxedMax: socMax,
	})
	spec.SoCProbeWatt = 1
	return spec
}

func init() {
	registerVendor(fermateFE20Spec())
}
