package actor

import (
	"fmt"
	"time"

	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/util/actorutil"
	"v2gbridge/pkg/evsemodbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ChargerPortActor owns the Modbus connection to the charger. Every
// hardware access goes through it, one at a time: a request runs as a
// background task while the actor stacks into a waiting state and
// stashes everything else.
type ChargerPortActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	driver   *evsemodbus.ChargerDriver
	probe    *evsemodbus.ProbeRestore
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

const chargerPortTaskTimeout = 10 * time.Second

func NewChargerPortActor(driver *evsemodbus.ChargerDriver, logger *zap.Logger) *ChargerPortActor {
	act := &ChargerPortActor{
		driver:   driver,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_CHARGER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ChargerPortActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ChargerPortActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("charger@starting started")
		if err := state.driver.Open(); err != nil {
			panic(err)
		}
		if err := state.driver.Initialise(); err != nil {
			state.driver.Close()
			panic(err)
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.driver.Close()
	default:
		state.logger.Debug("charger@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ChargerPortActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("charger@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER,
			Healthy: state.driver.CanCommunicate(),
			State:   state.driver.State().String(),
		})
	case domain.ChargerStateRequest:
		// cached view, no hardware access
		ctx.Respond(domain.ChargerStateResponse{
			State:          state.driver.State(),
			CarConnected:   state.driver.IsCarConnected(),
			Charging:       state.driver.IsCharging(),
			Discharging:    state.driver.IsDischarging(),
			PowerWatt:      state.driver.CurrentPowerWatt(),
			SoCPercent:     state.driver.StateOfCharge(),
			CanCommunicate: state.driver.CanCommunicate(),
		})
	case domain.ChargerPollRequest:
		state.logger.Debug("charger@default: ChargerPollRequest")
		runChargerTask(state, ctx, msg, func() (*domain.ChargerPollResponse, error) {
			outcome, err := state.driver.Poll(msg.Kind)
			if err != nil && outcome.Failure == evsemodbus.FailurePersistent {
				state.driver.MarkCommunicationLost()
			}
			return &domain.ChargerPollResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Outcome:            outcome,
			}, nil
		})
	case domain.ChargerStartChargingRequest:
		state.logger.Debug("charger@default: ChargerStartChargingRequest",
			zap.Int64("power", msg.PowerWatt), zap.String("source", msg.Source))
		runChargerTask(state, ctx, msg, func() (*domain.ChargerStartChargingResponse, error) {
			err := state.driver.StartCharging(msg.PowerWatt)
			return &domain.ChargerStartChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			}, nil
		})
	case domain.ChargerStopChargingRequest:
		state.logger.Debug("charger@default: ChargerStopChargingRequest", zap.String("source", msg.Source))
		runChargerTask(state, ctx, msg, func() (*domain.ChargerStopChargingResponse, error) {
			err := state.driver.StopCharging()
			return &domain.ChargerStopChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			}, nil
		})
	case domain.ChargerSetPowerRequest:
		state.logger.Debug("charger@default: ChargerSetPowerRequest", zap.Int64("power", msg.PowerWatt))
		runChargerTask(state, ctx, msg, func() (*domain.ChargerSetPowerResponse, error) {
			written, err := state.driver.SetPower(msg.PowerWatt, msg.SkipMinSoCCheck)
			return &domain.ChargerSetPowerResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Written:            written,
			}, nil
		})
	case domain.ChargerSetActiveRequest:
		state.logger.Debug("charger@default: ChargerSetActiveRequest", zap.Bool("active", msg.Active))
		runChargerTask(state, ctx, msg, func() (*domain.ChargerSetActiveResponse, error) {
			var err error
			if msg.Active {
				err = state.driver.SetActive()
			} else {
				err = state.driver.SetInactive()
			}
			return &domain.ChargerSetActiveResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			}, nil
		})
	case domain.ChargerInfoRequest:
		state.logger.Debug("charger@default: ChargerInfoRequest")
		runChargerTask(state, ctx, msg, func() (*domain.ChargerInfoResponse, error) {
			info, err := state.driver.Info()
			return &domain.ChargerInfoResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Info:               info,
			}, nil
		})
	case domain.ChargerBeginSoCProbeRequest:
		state.logger.Debug("charger@default: ChargerBeginSoCProbeRequest")
		runChargerTask(state, ctx, msg, func() (*domain.ChargerBeginSoCProbeResponse, error) {
			restore, err := state.driver.BeginSoCProbe()
			if err == nil {
				state.probe = restore
			}
			return &domain.ChargerBeginSoCProbeResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			}, nil
		})
	case domain.ChargerEndSoCProbeRequest:
		state.logger.Debug("charger@default: ChargerEndSoCProbeRequest")
		runChargerTask(state, ctx, msg, func() (*domain.ChargerEndSoCProbeResponse, error) {
			err := state.driver.EndSoCProbe(state.probe)
			state.probe = nil
			return &domain.ChargerEndSoCProbeResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			}, nil
		})
	case domain.ChargerForcedSoCReadRequest:
		state.logger.Debug("charger@default: ChargerForcedSoCReadRequest",
			zap.Bool("relaxed", msg.AcceptRelaxed))
		runChargerTask(state, ctx, msg, func() (*domain.ChargerForcedSoCReadResponse, error) {
			accepted, value, err := state.driver.TryForcedSoCRead(msg.AcceptRelaxed)
			return &domain.ChargerForcedSoCReadResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Accepted:           accepted,
				Percent:            value,
			}, nil
		})
	case *actor.Stopping:
		state.driver.Close()
	default:
		state.logger.Debug("charger@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ChargerPortActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("charger@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.driver.Close()
	default:
		state.logger.Debug("charger@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// runChargerTask serializes one hardware access: the task runs off the
// actor goroutine, the result is piped back to self, and the actor waits
// stacked until it arrives.
func runChargerTask[T any](state *ChargerPortActor, ctx actor.Context, req domain.ActorRequest, fn func() (*T, error)) {
	sender := actorutil.ForRequest(req).ReplyTo(ctx)
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, fn),
		mapTaskResult[T](sender)).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: domain.ActorResponseMixIn{ResponseError: err},
			replyTo: sender,
		}
	}).WithTimeout(chargerPortTaskTimeout).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingModbus)
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
