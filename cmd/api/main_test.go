package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setConfigDefaults()

	// schedule entries arrive on the upstream optimizer's 5 minute grid
	assert.Equal(t, 5, viper.GetInt("schedule.min_resolution_minutes"))
	assert.Equal(t, 0.85, viper.GetFloat64("schedule.round_trip_efficiency"))
	assert.Equal(t, 20, viper.GetInt("vehicle.min_soc_percent"))
	assert.Equal(t, 60, viper.GetInt("charger.failure_timeout_seconds"))
	assert.Equal(t, 8080, viper.GetInt("port"))
}
