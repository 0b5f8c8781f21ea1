package actor

import (
	"errors"
	"fmt"
	"time"

	"v2gbridge/internal/config"
	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant discovery documents once
// both the charger and MQTT actors report healthy, then goes quiet.
type HADiscoveryActor struct {
	config              *config.Config
	behavior            actor.Behavior
	stash               *actorutil.Stash
	chargerActor        *actor.PID
	mqttActor           *actor.PID
	chargerActorHealthy bool
	mqttActorHealthy    bool
	healthyRecv         int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, chargerActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:       config,
		chargerActor: chargerActor,
		mqttActor:    mqttActor,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check charger and MQTT actor healthy
		state.healthyRecv = 0
		state.chargerActorHealthy = false
		state.mqttActorHealthy = false
		// Charger Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargerActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CHARGER,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_CHARGER:
				state.chargerActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {

			if state.chargerActorHealthy && state.mqttActorHealthy {
				// Ask the charger for its identity
				actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargerActor, domain.ChargerInfoRequest{}, 2*time.Second), func(err error) any {
					return domain.ChargerInfoResponse{
						ActorResponseMixIn: domain.ActorResponseMixIn{
							ResponseError: err,
						},
					}
				})
				state.behavior.Become(state.WaitingInfoReceive)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT Actor or Charger Actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ChargerInfoResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		if msg.Info == nil {
			panic(errors.New("charger identity unavailable"))
		}
		state.logger.Debug("hadiscovery@info: ChargerInfoResponse", zap.Any("response", msg))

		var sensors []domain.GenericSensor
		var switches []domain.GenericSwitch
		var inputNumbers []domain.GenericInputNumber

		bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
		bridgeSensors := domain.BridgeSensors(bridgeDevice)
		sensors = append(sensors, bridgeSensors...)

		chargerDevice := domain.ChargerDevice(msg.Info)
		chargerDevice.ViaDevice = bridgeDevice.Id
		chargerSensors := domain.ChargerSensors(chargerDevice)
		for i := range chargerSensors {
			if i > 0 {
				chargerSensors[i].Device = domain.IdDevice(chargerDevice)
			}
			sensors = append(sensors, chargerSensors[i])
		}

		switches = append(switches, domain.ChargerSwitches(domain.IdDevice(chargerDevice))...)

		maxCharge := state.config.Charger.MaxChargePower
		maxDischarge := state.config.Charger.MaxDischargePower
		if msg.Info.MaxChargeWatt > 0 && uint32(msg.Info.MaxChargeWatt) < maxCharge {
			maxCharge = uint32(msg.Info.MaxChargeWatt)
		}
		if msg.Info.MaxDischargeWatt > 0 && uint32(msg.Info.MaxDischargeWatt) < maxDischarge {
			maxDischarge = uint32(msg.Info.MaxDischargeWatt)
		}
		inputNumbers = append(inputNumbers, domain.ChargerInputNumbers(domain.IdDevice(chargerDevice), maxCharge, maxDischarge)...)

		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors:      sensors,
			Switches:     switches,
			InputNumbers: inputNumbers,
		})
		state.behavior.Become(state.Done)

	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
