package domain

import (
	"fmt"
	"time"
)

// Ids of the MQTT-exposed controls. Switch and number commands arrive on
// the corresponding command topics and are converted to control requests;
// schedules arrive as JSON on the schedule set topic.
const (
	SWITCH_ID_CHARGER_ACTIVE = "charger_active"

	INPUT_NUMBER_ID_CHARGE_POWER = "charge_power"

	COMMAND_ID_SCHEDULE = "schedule"
)

// ScheduleDocument is the JSON shape accepted on the schedule set topic.
// Power values are megawatts, matching the external optimizer's output.
type ScheduleDocument struct {
	Start     string    `json:"start"`
	Duration  string    `json:"duration"`
	ValuesMW  []float64 `json:"values"`
	Scheduler string    `json:"scheduler,omitempty"`
}

// ToSchedule parses the wire document. Start is RFC 3339, duration is a
// Go duration string.
func (d ScheduleDocument) ToSchedule() (*Schedule, error) {
	start, err := time.Parse(time.RFC3339, d.Start)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid start %q: %w", d.Start, err)
	}
	duration, err := time.ParseDuration(d.Duration)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid duration %q: %w", d.Duration, err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule: non-positive duration %q", d.Duration)
	}
	return &Schedule{
		Start:     start,
		Duration:  duration,
		ValuesMW:  d.ValuesMW,
		Scheduler: d.Scheduler,
	}, nil
}
