package domain

// Device groups the bridge's MQTT entities under one Home Assistant
// device. The charger device links back to the bridge via ViaDevice.
type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

// GenericSensor describes one published sensor, broker-agnostic. The
// MQTT layer turns it into a discovery document.
type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, duration, total_increasing
	DeviceClass       string // power, battery, connectivity, problem
	EntityCategory    string // diagnostic, config, or empty
	EnabledByDefault  *bool
	Icon              string
}

type GenericSwitch struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

// GenericInputNumber is a writable number entity, used for the charge
// power setpoint.
type GenericInputNumber struct {
	Device       Device
	Id           string
	Name         string
	UniqueId     string
	Icon         string
	Max          float64
	Min          float64
	Step         float64
	Mode         string
	InitialValue float64
}
