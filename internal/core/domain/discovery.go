package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"v2gbridge/pkg/evsemodbus"

	"github.com/carlmjohnson/versioninfo"
)

const (
	STATE_CLASS_MEASUREMENT   = "measurement"
	DEVICE_CLASS_BATTERY      = "battery"
	DEVICE_CLASS_POWER        = "power"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	DEVICE_CLASS_PROBLEM      = "problem"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	INPUT_NUMBER_MODE_BOX     = "box"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:      fmt.Sprintf("v2gbridge_%s", md5HashShort(baseTopic)),
		Model:   "V2G Bridge",
		Version: versioninfo.Short(),
		Name:    fmt.Sprintf("V2G Bridge %s", md5HashShort(baseTopic)),
	}
}

func ChargerDevice(info *evsemodbus.ChargerInfo) Device {
	return Device{
		Id:           fmt.Sprintf("evse_%s", md5HashShort(info.Serial)),
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		Name:         fmt.Sprintf("%s %s %s", info.Manufacturer, info.Model, md5HashShort(info.Serial)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{
		{
			Device:      bridgeDevice,
			Id:          SENSOR_ID_BRIDGE_STATE,
			SensorType:  SENSOR_TYPE_BINARY,
			Name:        "Bridge state",
			DeviceClass: DEVICE_CLASS_CONNECTIVITY,
			UniqueId:    uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
		},
	}
}

func ChargerSensors(chargerDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Charger state
	sensors = append(sensors, GenericSensor{
		Device:     chargerDevice,
		Id:         SENSOR_ID_CHARGER_STATE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Charger state",
		UniqueId:   uniqueId(chargerDevice.Id, SENSOR_ID_CHARGER_STATE),
	})

	// Charge power (signed, negative while discharging)
	sensors = append(sensors, GenericSensor{
		Device:            chargerDevice,
		Id:                SENSOR_ID_CHARGE_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charge power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(chargerDevice.Id, SENSOR_ID_CHARGE_POWER),
	})

	// Car state of charge
	sensors = append(sensors, GenericSensor{
		Device:            chargerDevice,
		Id:                SENSOR_ID_CAR_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Car state of charge",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(chargerDevice.Id, SENSOR_ID_CAR_SOC),
	})

	// Car connected
	sensors = append(sensors, GenericSensor{
		Device:      chargerDevice,
		Id:          SENSOR_ID_CAR_CONNECTED,
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Car connected",
		DeviceClass: DEVICE_CLASS_CONNECTIVITY,
		UniqueId:    uniqueId(chargerDevice.Id, SENSOR_ID_CAR_CONNECTED),
	})

	// Persistent charger error
	sensors = append(sensors, GenericSensor{
		Device:         chargerDevice,
		Id:             SENSOR_ID_CHARGER_ERROR,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Charger error",
		DeviceClass:    DEVICE_CLASS_PROBLEM,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(chargerDevice.Id, SENSOR_ID_CHARGER_ERROR),
	})

	// Modbus communication
	sensors = append(sensors, GenericSensor{
		Device:         chargerDevice,
		Id:             SENSOR_ID_CHARGER_COMMUNICATION,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Charger communication",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(chargerDevice.Id, SENSOR_ID_CHARGER_COMMUNICATION),
	})

	// Expected SoC at end of current schedule
	sensors = append(sensors, GenericSensor{
		Device:            chargerDevice,
		Id:                SENSOR_ID_EXPECTED_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Expected state of charge",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(chargerDevice.Id, SENSOR_ID_EXPECTED_SOC),
	})

	// Schedule validity
	sensors = append(sensors, GenericSensor{
		Device:         chargerDevice,
		Id:             SENSOR_ID_SCHEDULE_VALID,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Schedule valid",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(chargerDevice.Id, SENSOR_ID_SCHEDULE_VALID),
	})

	return sensors
}

func ChargerSwitches(chargerDevice Device) []GenericSwitch {
	return []GenericSwitch{
		{
			Device:   chargerDevice,
			Id:       SWITCH_ID_CHARGER_ACTIVE,
			Name:     "Charger control active",
			UniqueId: uniqueId(chargerDevice.Id, SWITCH_ID_CHARGER_ACTIVE),
			Icon:     "mdi:ev-station",
		},
	}
}

func ChargerInputNumbers(chargerDevice Device, maxChargePower, maxDischargePower uint32) []GenericInputNumber {
	return []GenericInputNumber{
		{
			Device:   chargerDevice,
			Id:       INPUT_NUMBER_ID_CHARGE_POWER,
			Name:     "Charge power setpoint",
			UniqueId: uniqueId(chargerDevice.Id, INPUT_NUMBER_ID_CHARGE_POWER),
			Min:      -float64(maxDischargePower),
			Max:      float64(maxChargePower),
			Step:     10,
			Mode:     INPUT_NUMBER_MODE_BOX,
			Icon:     "mdi:lightning-bolt",
		},
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("%s_%s", md5HashShort(baseId), id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	return md5Hash(text)[:8]
}
