package events

import (
	. "v2gbridge/internal/core/domain"
)

func ChargerStateChangeToUpdateEvents(ev ChargerStateChangeEvent) []any {
	var events []any

	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGER_STATE,
		},
		Value: ev.Text,
	})
	return events
}

func ChargePowerChangeToUpdateEvents(ev ChargePowerChangeEvent) []any {
	var events []any

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGE_POWER,
		},
		Value:    ev.PowerWatt,
		Decimals: 0,
	})
	return events
}

func SoCChangeToUpdateEvents(ev SoCChangeEvent) []any {
	var events []any

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CAR_SOC,
		},
		Value:    ev.Percent,
		Decimals: 1,
	})
	return events
}

func CarConnectedToUpdateEvents(ev CarConnectedEvent) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CAR_CONNECTED,
		},
		Value: ev.Connected,
	})
	return events
}

func ChargerErrorStateToUpdateEvents(ev ChargerErrorStateChangeEvent) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGER_ERROR,
		},
		Value: ev.PersistentError,
	})
	return events
}

func ChargerCommunicationToUpdateEvents(ev ChargerCommunicationStateChangeEvent) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGER_COMMUNICATION,
		},
		Value: ev.CanCommunicate,
	})
	return events
}

func ScheduleAppliedToUpdateEvents(ev ScheduleAppliedEvent) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_SCHEDULE_VALID,
		},
		Value: ev.Valid,
	})
	if len(ev.ExpectedSoC) > 0 {
		last := ev.ExpectedSoC[len(ev.ExpectedSoC)-1]
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_EXPECTED_SOC,
			},
			Value:    last.Percent,
			Decimals: 1,
		})
	}
	return events
}

// DomainEventToUpdateEvents maps any domain event to its sensor updates.
// Unknown events map to nothing.
func DomainEventToUpdateEvents(event any) []any {
	switch ev := event.(type) {
	case ChargerStateChangeEvent:
		return ChargerStateChangeToUpdateEvents(ev)
	case ChargePowerChangeEvent:
		return ChargePowerChangeToUpdateEvents(ev)
	case SoCChangeEvent:
		return SoCChangeToUpdateEvents(ev)
	case CarConnectedEvent:
		return CarConnectedToUpdateEvents(ev)
	case ChargerErrorStateChangeEvent:
		return ChargerErrorStateToUpdateEvents(ev)
	case ChargerCommunicationStateChangeEvent:
		return ChargerCommunicationToUpdateEvents(ev)
	case ScheduleAppliedEvent:
		return ScheduleAppliedToUpdateEvents(ev)
	}
	return nil
}
