package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	LogFile  string `mapstructure:"log_file"`

	Charger  ChargerConfig  `mapstructure:"charger"`
	Vehicle  VehicleConfig  `mapstructure:"vehicle"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type ChargerConfig struct {
	// Model selects the vendor spec: sunspec, fermate_fe20,
	// wallbox_quasar_1, evtec_bidi10, evtec_bidipro.
	Model string `mapstructure:"model"`
	Host  string `mapstructure:"host"`
	// Port 0 uses the vendor default.
	Port uint `mapstructure:"port"`

	MaxChargePower    uint32 `mapstructure:"max_charge_power"`
	MaxDischargePower uint32 `mapstructure:"max_discharge_power"`

	// How long a Modbus failure may persist before it counts as a crashed
	// charger. 60-300s depending on how flaky the installation is.
	FailureTimeoutSeconds uint32 `mapstructure:"failure_timeout_seconds"`
	// How long a reported charger error may persist before escalation.
	ErrorTimeoutSeconds uint32 `mapstructure:"error_timeout_seconds"`
	// Deadline of a forced register read before the relaxed range is tried.
	ForcedReadTimeoutSeconds uint32 `mapstructure:"forced_read_timeout_seconds"`
}

type VehicleConfig struct {
	Id            string  `mapstructure:"id"`
	MinSocPercent float64 `mapstructure:"min_soc_percent"`
	CapacityKWh   float64 `mapstructure:"capacity_kwh"`
}

type ScheduleConfig struct {
	MinResolutionMinutes uint32 `mapstructure:"min_resolution_minutes"`
	// Fraction of energy recovered over a full charge+discharge cycle.
	RoundTripEfficiency float64 `mapstructure:"round_trip_efficiency"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
