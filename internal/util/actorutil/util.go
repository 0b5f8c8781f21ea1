package actorutil

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand converts a parsed command topic payload into
// the control request it stands for. Unknown device ids map to nil.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	switch cmd.DeviceId {
	case domain.SWITCH_ID_CHARGER_ACTIVE:
		return domain.ChargerSetActiveRequest{
			Active: cmd.Payload == "on",
		}, nil
	case domain.INPUT_NUMBER_ID_CHARGE_POWER:
		value, err := strconv.ParseInt(cmd.Payload, 10, 64)
		if err != nil {
			return nil, err
		}
		if value == 0 {
			return domain.StopChargingRequest{Source: "mqtt"}, nil
		}
		return domain.StartChargingRequest{
			PowerWatt: value,
			Source:    "mqtt",
		}, nil
	case domain.COMMAND_ID_SCHEDULE:
		var doc domain.ScheduleDocument
		if err := json.Unmarshal([]byte(cmd.Payload), &doc); err != nil {
			return nil, err
		}
		schedule, err := doc.ToSchedule()
		if err != nil {
			return nil, err
		}
		return domain.ApplyScheduleRequest{
			Schedule: *schedule,
		}, nil
	}
	return nil, nil
}
