package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "v2gbridge/internal/adapter/actor"
	"v2gbridge/internal/config"
	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/core/events"
	"v2gbridge/internal/core/service"
	. "v2gbridge/internal/util/actorutil"
	"v2gbridge/pkg/evsemodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func() *adactor.MQTTActor

type ChargerActorProvider func() *adactor.ChargerPortActor

// MasterOfPuppetsActor supervises the actor tree: the charger port, the
// MQTT adapter, the charger control logic and the schedule executor. It
// also bridges the domain event stream into MQTT sensor updates and
// routes parsed MQTT commands to the right child.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck   healthCheckResult
	eventStream          *eventstream.EventStream
	eventStreamSub       *eventstream.Subscription
	spec                 *evsemodbus.VendorSpec
	chargerActor         *actor.PID
	mqttActor            *actor.PID
	controlActor         *actor.PID
	scheduleActor        *actor.PID
	chargerActorProvider ChargerActorProvider
	mqttActorProvider    MQTTActorProvider
	logger               *zap.Logger
}

type healthCheckResult struct {
	chargerActorHealthy  bool
	mqttActorHealthy     bool
	controlActorHealthy  bool
	scheduleActorHealthy bool
	checksReceived       int
	respondTo            *actor.PID
}

type onEventStreamMessage struct {
	message any
}

func NewMasterOfPuppetsActor(config config.Config, spec *evsemodbus.VendorSpec,
	chargerActorProvider ChargerActorProvider, mqttActorProvider MQTTActorProvider,
	logger *zap.Logger) *MasterOfPuppetsActor {

	act := &MasterOfPuppetsActor{
		config:               config,
		spec:                 spec,
		behavior:             actor.NewBehavior(),
		stash:                &Stash{},
		logger:               ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:          &eventstream.EventStream{},
		chargerActorProvider: chargerActorProvider,
		mqttActorProvider:    mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start charger port child
		chargerActorPID, err := state.startChargerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.chargerActor = chargerActorPID

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start charger control child
		controlActorPID, err := state.startChargerControlActor(ctx)
		if err != nil {
			panic(err)
		}
		state.controlActor = controlActorPID

		// start schedule executor child
		scheduleActorPID, err := state.startScheduleActor(ctx)
		if err != nil {
			panic(err)
		}
		state.scheduleActor = scheduleActorPID

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		// bridge domain events to MQTT sensor updates
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			ctx.Send(ctx.Self(), onEventStreamMessage{
				message: value,
			})
		})

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// Charger Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.chargerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CHARGER,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Charger Control Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.controlActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CHARGER_CONTROL,
				Healthy: false,
			}
		})
		// Schedule Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.scheduleActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_SCHEDULE,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.StartChargingRequest:
		ctx.RequestWithCustomSender(state.controlActor, msg, ctx.Sender())
	case domain.StopChargingRequest:
		ctx.RequestWithCustomSender(state.controlActor, msg, ctx.Sender())
	case domain.GetSoCRequest:
		ctx.RequestWithCustomSender(state.controlActor, msg, ctx.Sender())
	case domain.ChargerStateRequest:
		ctx.RequestWithCustomSender(state.chargerActor, msg, ctx.Sender())
	case domain.ApplyScheduleRequest:
		ctx.RequestWithCustomSender(state.scheduleActor, msg, ctx.Sender())
	case adactor.ParsedCommand:
		// redirect parsedCommand to actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default could not parse command", zap.Error(err))
			} else if cmd != nil {
				switch pcmd := cmd.(type) {
				case domain.ApplyScheduleRequest:
					ctx.Send(state.scheduleActor, pcmd)
				default:
					ctx.Send(state.controlActor, pcmd)
				}
			}
		}
	case onEventStreamMessage:
		state.publishEventToMQTT(ctx, msg.message)
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_CHARGER) {
			state.logger.Error("master@default charger error")
			panic(errors.New("charger terminated"))
		}
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_CHARGER:
				state.currentHealthCheck.chargerActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.currentHealthCheck.mqttActorHealthy = true
			case domain.ACTOR_ID_CHARGER_CONTROL:
				state.currentHealthCheck.controlActorHealthy = true
			case domain.ACTOR_ID_SCHEDULE:
				state.currentHealthCheck.scheduleActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// publishEventToMQTT turns a domain event into retained sensor updates.
// Sensor update events published directly on the stream pass through.
func (state *MasterOfPuppetsActor) publishEventToMQTT(ctx actor.Context, event any) {
	if ev, ok := event.(domain.SensorUpdateEvent); ok {
		ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
			Retain: true,
			Event:  ev,
		})
		return
	}
	for _, update := range events.DomainEventToUpdateEvents(event) {
		if ev, ok := update.(domain.SensorUpdateEvent); ok {
			ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
				Retain: true,
				Event:  ev,
			})
		}
	}
}

func (state *MasterOfPuppetsActor) startChargerActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	chargerProps := actor.PropsFromProducer(func() actor.Actor {
		return state.chargerActorProvider()
	}, actor.WithSupervisor(supervisor))
	chargerActorPID, err := ctx.SpawnNamed(chargerProps, domain.ACTOR_ID_CHARGER)
	if err != nil {
		return nil, err
	}

	return chargerActorPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startChargerControlActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	controlProps := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerControlActor(&state.config, state.spec, state.chargerActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	controlActorPID, err := ctx.SpawnNamed(controlProps, domain.ACTOR_ID_CHARGER_CONTROL)
	if err != nil {
		return nil, err
	}

	return controlActorPID, nil
}

func (state *MasterOfPuppetsActor) startScheduleActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	planner := &service.DefaultSchedulePlanner{
		MinEntryResolution:  time.Duration(state.config.Schedule.MinResolutionMinutes) * time.Minute,
		RoundTripEfficiency: state.config.Schedule.RoundTripEfficiency,
		CapacityKWh:         state.config.Vehicle.CapacityKWh,
		Logger:              state.logger,
	}

	scheduleProps := actor.PropsFromProducer(func() actor.Actor {
		return NewScheduleExecutorActor(planner, state.controlActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	scheduleActorPID, err := ctx.SpawnNamed(scheduleProps, domain.ACTOR_ID_SCHEDULE)
	if err != nil {
		return nil, err
	}

	return scheduleActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.chargerActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *healthCheckResult) reset() {
	state.chargerActorHealthy = false
	state.mqttActorHealthy = false
	state.controlActorHealthy = false
	state.scheduleActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 4
}

func (state *healthCheckResult) allHealthy() bool {
	return state.chargerActorHealthy && state.mqttActorHealthy &&
		state.controlActorHealthy && state.scheduleActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
