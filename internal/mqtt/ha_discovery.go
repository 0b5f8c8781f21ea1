package mqtt

import (
	"fmt"

	"v2gbridge/internal/core/domain"
)

// HADiscoveryConfig is the Home Assistant MQTT discovery document. One
// struct covers sensors, binary sensors, switches and numbers; empty
// fields are omitted on the wire.
type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Min               float64           `json:"min,omitempty"`
	Max               float64           `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
	InitialValue      float64           `json:"initial,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func HADiscoverySensorTopic(sensor domain.GenericSensor) string {
	return fmt.Sprintf("homeassistant/%s/%s/%s/config", sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func HADiscoverySwitchTopic(sw domain.GenericSwitch) string {
	return fmt.Sprintf("homeassistant/switch/%s/%s/config", sw.Device.Id, sw.Id)
}

func HADiscoveryInputNumberTopic(number domain.GenericInputNumber) string {
	return fmt.Sprintf("homeassistant/number/%s/%s/config", number.Device.Id, number.Id)
}

// baseDiscoveryConfig carries the fields shared by every entity kind.
// Availability follows the bridge state topic so all charger entities go
// unavailable together when the bridge drops.
func baseDiscoveryConfig(client *MQTTClient, dev domain.Device, name, uniqueId, icon string) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:   device(dev),
		AvTopic:  client.BridgeStateTopic(),
		Name:     name,
		UniqueId: uniqueId,
		Icon:     icon,
		Platform: "mqtt",
	}
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	cfg := baseDiscoveryConfig(client, sensor.Device, sensor.Name, sensor.UniqueId, sensor.Icon)
	cfg.StateClass = sensor.StateClass
	cfg.DeviceClass = sensor.DeviceClass
	cfg.UnitOfMeasurement = sensor.UnitOfMeasurement
	cfg.EntityCategory = sensor.EntityCategory
	cfg.EnabledByDefault = sensor.EnabledByDefault

	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		cfg.StateTopic = client.BridgeStateTopic()
		cfg.PayloadOn = MQTT_PAYLOAD_ONLINE
		cfg.PayloadOff = MQTT_PAYLOAD_OFFLINE
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		cfg.StateTopic = client.BinarySensorStateTopic(sensor.Id)
		cfg.PayloadOn = MQTT_PAYLOAD_ON
		cfg.PayloadOff = MQTT_PAYLOAD_OFF
	case sensor.SensorType == domain.SENSOR_TYPE_SENSOR:
		cfg.StateTopic = client.SensorStateTopic(sensor.Id)
	}
	return cfg
}

func GenericSwitchToHADiscoveryMessage(client *MQTTClient, sw domain.GenericSwitch) HADiscoveryConfig {
	cfg := baseDiscoveryConfig(client, sw.Device, sw.Name, sw.UniqueId, sw.Icon)
	cfg.StateTopic = client.SwitchStateTopic(sw.Id)
	cfg.CommandTopic = client.SwitchCommandTopic(sw.Id)
	cfg.PayloadOn = MQTT_PAYLOAD_ON
	cfg.PayloadOff = MQTT_PAYLOAD_OFF
	return cfg
}

func GenericInputNumberToHADiscoveryMessage(client *MQTTClient, number domain.GenericInputNumber) HADiscoveryConfig {
	cfg := baseDiscoveryConfig(client, number.Device, number.Name, number.UniqueId, number.Icon)
	cfg.StateTopic = client.InputNumberStateTopic(number.Id)
	cfg.CommandTopic = client.InputNumberCommandTopic(number.Id)
	cfg.Min = number.Min
	cfg.Max = number.Max
	cfg.Step = number.Step
	cfg.Mode = number.Mode
	cfg.InitialValue = number.InitialValue
	return cfg
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
