package util

import (
	"v2gbridge/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Charger: config.ChargerConfig{
			Model:                    "wallbox_quasar_1",
			Host:                     "-.-.-.-",
			Port:                     502,
			MaxChargePower:           7400,
			MaxDischargePower:        7400,
			FailureTimeoutSeconds:    60,
			ErrorTimeoutSeconds:      300,
			ForcedReadTimeoutSeconds: 60,
		},
		Vehicle: config.VehicleConfig{
			Id:            "ev1",
			MinSocPercent: 20,
			CapacityKWh:   40,
		},
		Schedule: config.ScheduleConfig{
			MinResolutionMinutes: 15,
			RoundTripEfficiency:  0.81,
		},
		MQTT: config.MQTTConfig{
			Host: "localhost",
			Port: 1883,
		},
		Port: 8080,
	}
}
