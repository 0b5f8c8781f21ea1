package actor

import (
	"errors"
	"fmt"
	"time"

	"v2gbridge/internal/config"
	"v2gbridge/internal/core/domain"
	. "v2gbridge/internal/util/actorutil"
	"v2gbridge/pkg/evsemodbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	// forced SoC reads are retried on a short period while a probe runs
	SOC_PROBE_READ_INTERVAL = 250 * time.Millisecond
)

var ErrChargerNotControllable = errors.New("charger control: charger is not controllable in this state")

// ChargerControlActor drives the charging logic on top of the charger
// port actor: the poll loop, SoC probing, error escalation and the
// active/inactive takeover switch. All hardware access is delegated; this
// actor owns the timing and the resulting domain events.
type ChargerControlActor struct {
	ActorWithStates
	scheduler    *scheduler.TimerScheduler
	stash        *Stash
	chargerActor *actor.PID
	config       *config.Config
	spec         *evsemodbus.VendorSpec
	eventStream  *eventstream.EventStream

	pollInterval      time.Duration
	idlePollInterval  time.Duration
	forcedReadTimeout time.Duration
	errorWindow       time.Duration

	active         bool
	carConnected   bool
	canCommunicate bool
	errorActive    bool
	errorEscalated bool
	lastSoC        *float64

	cancelPollTick   scheduler.CancelFunc
	cancelErrorTimer scheduler.CancelFunc

	logger *zap.Logger
}

type chargerPollTick struct {
}

type socProbeTick struct {
}

type errorWindowExpired struct {
}

func NewChargerControlActor(config *config.Config, spec *evsemodbus.VendorSpec, chargerActor *actor.PID,
	eventStream *eventstream.EventStream, logger *zap.Logger) *ChargerControlActor {

	act := &ChargerControlActor{
		config:            config,
		spec:              spec,
		chargerActor:      chargerActor,
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_CHARGER_CONTROL, logger),
		eventStream:       eventStream,
		pollInterval:      spec.PollInterval,
		idlePollInterval:  spec.IdlePollInterval,
		forcedReadTimeout: spec.ForcedReadTimeout,
		errorWindow:       spec.ErrorStateWindow,
		canCommunicate:    true,
	}
	act.ActorWithStates = ActorWithStates{
		Behavior: actor.NewBehavior(),
		Logger:   act.logger,
	}
	if config.Charger.ForcedReadTimeoutSeconds > 0 {
		act.forcedReadTimeout = time.Duration(config.Charger.ForcedReadTimeoutSeconds) * time.Second
	}
	if config.Charger.ErrorTimeoutSeconds > 0 {
		act.errorWindow = time.Duration(config.Charger.ErrorTimeoutSeconds) * time.Second
	}
	act.Become(CCStartingState{
		actor: act,
	})
	return act
}

func (state *ChargerControlActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CCStartingState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCStartingState) Name() string {
	return "starting"
}

func (state CCStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("charger_control@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)

		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor, domain.ChargerInfoRequest{}, 15*time.Second), func(err error) any {
			return domain.ChargerInfoResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.actor.Become(CCWaitingInfoState{
			actor: state.actor,
		})
	case *actor.Restarting:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("charger_control@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Waiting info state

type CCWaitingInfoState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCWaitingInfoState) Name() string {
	return "waitingInfo"
}

func (state CCWaitingInfoState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ChargerInfoResponse:
		if msg.HasResponseError() {
			state.actor.logger.Error("charger_control@waitingInfo ChargerInfoResponse error", zap.Error(msg.GetResponseError()))
			panic(msg.GetResponseError())
		}
		if msg.Info != nil {
			state.actor.logger.Sugar().Infof("charger: %s %s serial=%s maxCharge=%dW maxDischarge=%dW",
				msg.Info.Manufacturer, msg.Info.Model, msg.Info.Serial,
				msg.Info.MaxChargeWatt, msg.Info.MaxDischargeWatt)
		}
		// take control of the charger before the first poll
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
			domain.ChargerSetActiveRequest{Active: true}, 15*time.Second),
			func(err error) any {
				return domain.ChargerSetActiveResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
		state.actor.Become(CCWaitingActivationState{
			actor: state.actor,
		})
	default:
		state.actor.logger.Debug("charger_control@waitingInfo: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Waiting activation state

type CCWaitingActivationState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCWaitingActivationState) Name() string {
	return "activating"
}

func (state CCWaitingActivationState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ChargerSetActiveResponse:
		if msg.HasResponseError() {
			state.actor.logger.Error("charger_control@activating ChargerSetActiveResponse error", zap.Error(msg.GetResponseError()))
			panic(msg.GetResponseError())
		}
		state.actor.active = true
		state.actor.publishActiveSwitch(true)
		state.actor.Become(CCActiveState{
			actor: state.actor,
		}.OnEnter(ctx))
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("charger_control@activating: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Active state: polling plus control commands.

type CCActiveState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCActiveState) Name() string {
	return "active"
}

func (state CCActiveState) OnEnter(ctx actor.Context) CCActiveState {
	state.actor.schedulePollIn(ctx, 0)
	return state
}

func (state CCActiveState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("charger_control@active: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case chargerPollTick:
		state.actor.logger.Debug("charger_control@active tick")
		state.actor.requestPoll(ctx)
	case errorWindowExpired:
		state.actor.cancelErrorTimer = nil
		if state.actor.errorActive {
			state.actor.escalate(ctx)
		}
	case domain.StartChargingRequest:
		state.actor.logger.Sugar().Debugf("charger_control@active: cmd start %dW from %s", msg.PowerWatt, msg.Source)
		state.actor.BecomeStacked(CCAwaitStartState{
			actor:     state.actor,
			replyTo:   ForRequest(msg).ReplyTo(ctx),
			powerWatt: msg.PowerWatt,
		}.OnEnterAction(ctx, msg))
	case domain.StopChargingRequest:
		state.actor.logger.Sugar().Debugf("charger_control@active: cmd stop from %s", msg.Source)
		state.actor.BecomeStacked(CCAwaitStopState{
			actor:   state.actor,
			replyTo: ForRequest(msg).ReplyTo(ctx),
		}.OnEnterAction(ctx, msg))
	case domain.GetSoCRequest:
		state.actor.handleGetSoC(ctx, msg)
	case domain.ChargerSetActiveRequest:
		state.actor.logger.Sugar().Debugf("charger_control@active: cmd active %t", msg.Active)
		if !msg.Active {
			state.actor.BecomeStacked(CCAwaitActivateState{
				actor:   state.actor,
				replyTo: ForRequest(msg).ReplyTo(ctx),
				target:  false,
			}.OnEnterAction(ctx))
		} else if msg.ReplyToRef != nil {
			ctx.Send(ForRequest(msg).ReplyTo(ctx), domain.ChargerSetActiveResponse{})
		}
	default:
		state.actor.logger.Debug("charger_control@active: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Inactive state: control handed back, read-only monitoring continues.

type CCInactiveState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCInactiveState) Name() string {
	return "inactive"
}

func (state CCInactiveState) OnEnter(ctx actor.Context) CCInactiveState {
	state.actor.schedulePollIn(ctx, state.actor.idlePollInterval)
	return state
}

func (state CCInactiveState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case chargerPollTick:
		state.actor.requestPoll(ctx)
	case errorWindowExpired:
		state.actor.cancelErrorTimer = nil
		if state.actor.errorActive {
			state.actor.escalate(ctx)
		}
	case domain.StartChargingRequest:
		ForRequest(msg).Respond(ctx, domain.StartChargingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: ErrChargerNotControllable},
		})
	case domain.StopChargingRequest:
		ForRequest(msg).Respond(ctx, domain.StopChargingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: ErrChargerNotControllable},
		})
	case domain.GetSoCRequest:
		ForRequest(msg).Respond(ctx, domain.GetSoCResponse{Percent: state.actor.lastSoC})
	case domain.ChargerSetActiveRequest:
		state.actor.logger.Sugar().Debugf("charger_control@inactive: cmd active %t", msg.Active)
		if msg.Active {
			state.actor.BecomeStacked(CCAwaitActivateState{
				actor:   state.actor,
				replyTo: ForRequest(msg).ReplyTo(ctx),
				target:  true,
			}.OnEnterAction(ctx))
		} else if msg.ReplyToRef != nil {
			ctx.Send(ForRequest(msg).ReplyTo(ctx), domain.ChargerSetActiveResponse{})
		}
	default:
		state.actor.logger.Debug("charger_control@inactive: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Communication lost state: modbus failures outlived the failure window.
// Treated as a persistent error: polling stops, charging is stopped best
// effort, control is released, and a deliberate reactivation is required.

type CCCommLostState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCCommLostState) Name() string {
	return "commLost"
}

func (state CCCommLostState) OnEnter(ctx actor.Context) CCCommLostState {
	act := state.actor
	if act.canCommunicate {
		act.canCommunicate = false
		act.lastSoC = nil
		act.eventStream.Publish(domain.ChargerCommunicationStateChangeEvent{CanCommunicate: false})
	}
	act.cancelTimers()
	if act.active {
		act.active = false
		act.publishActiveSwitch(false)
	}
	if !act.errorEscalated {
		act.errorEscalated = true
		// the link is down, but the stop may still reach the charger
		ctx.Request(act.chargerActor, domain.ChargerStopChargingRequest{Source: "escalation"})
		act.eventStream.Publish(domain.ChargerErrorStateChangeEvent{
			PersistentError: true,
			WasCarConnected: act.carConnected,
		})
		act.eventStream.Publish(domain.EvsePolledEvent{Stop: true})
	}
	return state
}

func (state CCCommLostState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER_CONTROL,
			Healthy: false,
			State:   state.Name(),
		})
	case domain.StartChargingRequest:
		ForRequest(msg).Respond(ctx, domain.StartChargingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: ErrChargerNotControllable},
		})
	case domain.StopChargingRequest:
		ForRequest(msg).Respond(ctx, domain.StopChargingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: ErrChargerNotControllable},
		})
	case domain.GetSoCRequest:
		// cached SoC was invalidated on comm loss
		ForRequest(msg).Respond(ctx, domain.GetSoCResponse{Percent: state.actor.lastSoC})
	case domain.ChargerSetActiveRequest:
		if msg.Active {
			state.actor.BecomeStacked(CCAwaitActivateState{
				actor:   state.actor,
				replyTo: ForRequest(msg).ReplyTo(ctx),
				target:  true,
			}.OnEnterAction(ctx))
		} else if msg.ReplyToRef != nil {
			ctx.Send(ForRequest(msg).ReplyTo(ctx), domain.ChargerSetActiveResponse{})
		}
	case domain.ChargerStopChargingResponse:
		// ack of the emergency stop issued on entry
	case chargerPollTick:
		// stale tick from a timer canceled on entry
	default:
		state.actor.logger.Debug("charger_control@commLost: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Escalated state: a charger error persisted past the error window.
// Polling stops; a deliberate reactivation is required.

type CCEscalatedState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCEscalatedState) Name() string {
	return "escalated"
}

func (state CCEscalatedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER_CONTROL,
			Healthy: false,
			State:   state.Name(),
		})
	case domain.StartChargingRequest:
		ForRequest(msg).Respond(ctx, domain.StartChargingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: ErrChargerNotControllable},
		})
	case domain.StopChargingRequest:
		ForRequest(msg).Respond(ctx, domain.StopChargingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: ErrChargerNotControllable},
		})
	case domain.GetSoCRequest:
		ForRequest(msg).Respond(ctx, domain.GetSoCResponse{Percent: state.actor.lastSoC})
	case domain.ChargerSetActiveRequest:
		if msg.Active {
			state.actor.BecomeStacked(CCAwaitActivateState{
				actor:   state.actor,
				replyTo: ForRequest(msg).ReplyTo(ctx),
				target:  true,
			}.OnEnterAction(ctx))
		}
	case domain.ChargerStopChargingResponse:
		// ack of the emergency stop issued on escalation
	default:
		state.actor.logger.Debug("charger_control@escalated: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// SoC probe state: polling is paused, a minimal charge may be running,
// and the SoC register is read on a short period until a plausible value
// shows up.

type CCSoCProbeState struct {
	ActorState
	actor     *ChargerControlActor
	replyTo   *actor.PID
	startedAt time.Time
}

func (state CCSoCProbeState) Name() string {
	return "socProbe"
}

func (state CCSoCProbeState) OnEnterAction(ctx actor.Context) CCSoCProbeState {
	state.actor.cancelPoll()
	state.startedAt = time.Now()
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
		domain.ChargerBeginSoCProbeRequest{}, 15*time.Second),
		func(err error) any {
			return domain.ChargerBeginSoCProbeResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	return state
}

func (state CCSoCProbeState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.ChargerBeginSoCProbeResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("charger_control@socProbe begin error", zap.Error(msg.GetResponseError()))
			state.finish(ctx, false)
			return
		}
		state.actor.scheduler.RequestOnce(SOC_PROBE_READ_INTERVAL, ctx.Self(), socProbeTick{})
	case socProbeTick:
		acceptRelaxed := time.Since(state.startedAt) > state.actor.forcedReadTimeout
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
			domain.ChargerForcedSoCReadRequest{AcceptRelaxed: acceptRelaxed}, 15*time.Second),
			func(err error) any {
				return domain.ChargerForcedSoCReadResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
	case domain.ChargerForcedSoCReadResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("charger_control@socProbe read error", zap.Error(msg.GetResponseError()))
			state.finish(ctx, true)
			return
		}
		if msg.Accepted {
			state.actor.setSoC(msg.Percent)
			state.finish(ctx, true)
			return
		}
		// keep trying: the relaxed phase doubles the strict window
		if time.Since(state.startedAt) > 2*state.actor.forcedReadTimeout {
			state.actor.logger.Warn("charger_control@socProbe gave up waiting for a plausible SoC")
			state.finish(ctx, true)
			return
		}
		state.actor.scheduler.RequestOnce(SOC_PROBE_READ_INTERVAL, ctx.Self(), socProbeTick{})
	case domain.ChargerEndSoCProbeResponse:
		if msg.HasResponseError() {
			state.actor.logger.Error("charger_control@socProbe end error", zap.Error(msg.GetResponseError()))
		}
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.GetSoCResponse{Percent: state.actor.lastSoC})
		}
		state.actor.Become(CCActiveState{
			actor: state.actor,
		}.OnEnter(ctx))
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("charger_control@socProbe: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// finish undoes the probe side effects. When the probe never started,
// skip the end request and respond immediately.
func (state CCSoCProbeState) finish(ctx actor.Context, endProbe bool) {
	if endProbe {
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
			domain.ChargerEndSoCProbeRequest{}, 15*time.Second),
			func(err error) any {
				return domain.ChargerEndSoCProbeResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
		return
	}
	if state.replyTo != nil {
		ctx.Send(state.replyTo, domain.GetSoCResponse{Percent: state.actor.lastSoC})
	}
	state.actor.Become(CCActiveState{
		actor: state.actor,
	}.OnEnter(ctx))
	state.actor.stash.UnstashAll(ctx)
}

// Await poll response state

type CCAwaitPollState struct {
	ActorState
	actor *ChargerControlActor
}

func (state CCAwaitPollState) Name() string {
	return "awaitPoll"
}

func (state CCAwaitPollState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ChargerPollResponse:
		ctx.SetReceiveTimeout(0)
		state.actor.UnbecomeStacked()
		state.actor.handlePollResponse(ctx, msg)
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		state.actor.logger.Debug("charger_control@awaitPoll: ReceiveTimeout")
		state.actor.UnbecomeStacked()
		state.actor.schedulePollIn(ctx, state.actor.currentPollInterval())
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("charger_control@awaitPoll: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CCAwaitPollState) OnEnterAction(ctx actor.Context, kind evsemodbus.PollKind) CCAwaitPollState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
		domain.ChargerPollRequest{Kind: kind}, 15*time.Second),
		func(err error) any {
			return domain.ChargerPollResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(20 * time.Second)
	return state
}

// Await start charging response state

type CCAwaitStartState struct {
	ActorState
	actor     *ChargerControlActor
	replyTo   *actor.PID
	powerWatt int64
}

func (state CCAwaitStartState) Name() string {
	return "awaitStart"
}

func (state CCAwaitStartState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ChargerStartChargingResponse:
		ctx.SetReceiveTimeout(0)
		if msg.HasResponseError() {
			state.actor.logger.Error("charger_control@awaitStart error", zap.Error(msg.GetResponseError()))
		} else {
			state.actor.publishChargePowerSetpoint(float64(state.powerWatt))
		}
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.StartChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.GetResponseError()},
			})
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.StartChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: errors.New("receive timeout")},
			})
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("charger_control@awaitStart: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CCAwaitStartState) OnEnterAction(ctx actor.Context, req domain.StartChargingRequest) CCAwaitStartState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
		domain.ChargerStartChargingRequest{PowerWatt: req.PowerWatt, Source: req.Source}, 15*time.Second),
		func(err error) any {
			return domain.ChargerStartChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(20 * time.Second)
	return state
}

// Await stop charging response state

type CCAwaitStopState struct {
	ActorState
	actor   *ChargerControlActor
	replyTo *actor.PID
}

func (state CCAwaitStopState) Name() string {
	return "awaitStop"
}

func (state CCAwaitStopState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ChargerStopChargingResponse:
		ctx.SetReceiveTimeout(0)
		if msg.HasResponseError() {
			state.actor.logger.Error("charger_control@awaitStop error", zap.Error(msg.GetResponseError()))
		} else {
			state.actor.publishChargePowerSetpoint(0)
		}
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.StopChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.GetResponseError()},
			})
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.StopChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: errors.New("receive timeout")},
			})
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("charger_control@awaitStop: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CCAwaitStopState) OnEnterAction(ctx actor.Context, req domain.StopChargingRequest) CCAwaitStopState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
		domain.ChargerStopChargingRequest{Source: req.Source}, 15*time.Second),
		func(err error) any {
			return domain.ChargerStopChargingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(20 * time.Second)
	return state
}

// Await activation/deactivation response state

type CCAwaitActivateState struct {
	ActorState
	actor   *ChargerControlActor
	replyTo *actor.PID
	target  bool
}

func (state CCAwaitActivateState) Name() string {
	return "awaitActivate"
}

func (state CCAwaitActivateState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ChargerSetActiveResponse:
		ctx.SetReceiveTimeout(0)
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.ChargerSetActiveResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: msg.GetResponseError()},
			})
		}
		if msg.HasResponseError() {
			state.actor.logger.Error("charger_control@awaitActivate error", zap.Error(msg.GetResponseError()))
			state.actor.UnbecomeStacked()
			state.actor.stash.UnstashAll(ctx)
			return
		}
		state.actor.active = state.target
		state.actor.publishActiveSwitch(state.target)
		state.actor.cancelPoll()
		if state.target {
			// a deliberate reactivation clears an escalated error
			if state.actor.errorEscalated {
				state.actor.errorEscalated = false
				state.actor.eventStream.Publish(domain.ChargerErrorStateChangeEvent{
					PersistentError: false,
					WasCarConnected: state.actor.carConnected,
				})
			}
			state.actor.Become(CCActiveState{
				actor: state.actor,
			}.OnEnter(ctx))
		} else {
			state.actor.Become(CCInactiveState{
				actor: state.actor,
			}.OnEnter(ctx))
		}
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.ChargerSetActiveResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: errors.New("receive timeout")},
			})
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("charger_control@awaitActivate: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CCAwaitActivateState) OnEnterAction(ctx actor.Context) CCAwaitActivateState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.chargerActor,
		domain.ChargerSetActiveRequest{Active: state.target}, 15*time.Second),
		func(err error) any {
			return domain.ChargerSetActiveResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(20 * time.Second)
	return state
}

// Other actor function helpers

func (state *ChargerControlActor) requestPoll(ctx actor.Context) {
	kind := evsemodbus.PollMinimal
	if state.carConnected {
		kind = evsemodbus.PollFull
	}
	state.BecomeStacked(CCAwaitPollState{
		actor: state,
	}.OnEnterAction(ctx, kind))
}

func (state *ChargerControlActor) currentPollInterval() time.Duration {
	if !state.canCommunicate || !state.carConnected {
		return state.idlePollInterval
	}
	return state.pollInterval
}

func (state *ChargerControlActor) schedulePollIn(ctx actor.Context, in time.Duration) {
	state.cancelPoll()
	state.cancelPollTick = state.scheduler.RequestOnce(in, ctx.Self(), chargerPollTick{})
}

func (state *ChargerControlActor) cancelPoll() {
	if state.cancelPollTick != nil {
		state.cancelPollTick()
		state.cancelPollTick = nil
	}
}

func (state *ChargerControlActor) cancelTimers() {
	state.cancelPoll()
	if state.cancelErrorTimer != nil {
		state.cancelErrorTimer()
		state.cancelErrorTimer = nil
	}
}

// handlePollResponse publishes the domain events a poll outcome implies
// and decides the next state: keep going, comm lost, or recovered. Called
// with the waiting state already popped.
func (state *ChargerControlActor) handlePollResponse(ctx actor.Context, msg domain.ChargerPollResponse) {
	if msg.HasResponseError() {
		if msg.Outcome.Failure == evsemodbus.FailurePersistent {
			state.logger.Error("charger_control: modbus failure outlived the failure window",
				zap.Error(msg.GetResponseError()))
			state.Become(CCCommLostState{
				actor: state,
			}.OnEnter(ctx))
			return
		}
		state.logger.Warn("charger_control: poll failed", zap.Error(msg.GetResponseError()),
			zap.String("class", msg.Outcome.Failure.String()))
		state.schedulePollIn(ctx, state.currentPollInterval())
		return
	}

	if !state.canCommunicate {
		state.canCommunicate = true
		state.eventStream.Publish(domain.ChargerCommunicationStateChangeEvent{CanCommunicate: true})
		if state.active {
			state.Become(CCActiveState{
				actor: state,
			}.OnEnter(ctx))
		} else {
			state.Become(CCInactiveState{
				actor: state,
			}.OnEnter(ctx))
		}
		// fall through: the outcome of the recovering poll still counts
	}

	outcome := msg.Outcome
	if outcome.StateChanged {
		state.eventStream.Publish(domain.ChargerStateChangeEvent{
			Old:  outcome.OldState,
			New:  outcome.NewState,
			Text: outcome.NewState.String(),
		})
	}
	if outcome.CarConnected != state.carConnected {
		state.carConnected = outcome.CarConnected
		state.eventStream.Publish(domain.CarConnectedEvent{Connected: outcome.CarConnected})
		if !outcome.CarConnected {
			state.lastSoC = nil
		}
	}
	if outcome.PowerChanged && outcome.PowerWatt != nil {
		state.eventStream.Publish(domain.ChargePowerChangeEvent{PowerWatt: *outcome.PowerWatt})
	}
	if outcome.SoCChanged && outcome.SoCPercent != nil {
		state.setSoC(outcome.SoCPercent)
	}

	state.trackErrorWindow(ctx, outcome.ErrorActive)

	state.eventStream.Publish(domain.EvsePolledEvent{})
	state.schedulePollIn(ctx, state.currentPollInterval())
}

// trackErrorWindow arms one timer per error episode. A short-lived error
// that clears before the window expires never escalates.
func (state *ChargerControlActor) trackErrorWindow(ctx actor.Context, errorActive bool) {
	if errorActive == state.errorActive {
		return
	}
	state.errorActive = errorActive
	if errorActive {
		if state.cancelErrorTimer == nil && !state.errorEscalated {
			state.logger.Warn("charger_control: charger reports an error, arming escalation window",
				zap.Duration("window", state.errorWindow))
			state.cancelErrorTimer = state.scheduler.RequestOnce(state.errorWindow, ctx.Self(), errorWindowExpired{})
		}
	} else if state.cancelErrorTimer != nil {
		state.logger.Info("charger_control: charger error cleared within the window")
		state.cancelErrorTimer()
		state.cancelErrorTimer = nil
	}
}

// escalate stops charging, reports a persistent error and halts polling.
func (state *ChargerControlActor) escalate(ctx actor.Context) {
	if state.errorEscalated {
		return
	}
	state.errorEscalated = true
	state.logger.Error("charger_control: charger error outlived the error window, escalating")
	state.cancelTimers()
	ctx.Request(state.chargerActor, domain.ChargerStopChargingRequest{Source: "escalation"})
	state.eventStream.Publish(domain.ChargerErrorStateChangeEvent{
		PersistentError: true,
		WasCarConnected: state.carConnected,
	})
	state.eventStream.Publish(domain.EvsePolledEvent{Stop: true})
	state.Become(CCEscalatedState{
		actor: state,
	})
}

func (state *ChargerControlActor) handleGetSoC(ctx actor.Context, msg domain.GetSoCRequest) {
	if state.lastSoC != nil {
		ForRequest(msg).Respond(ctx, domain.GetSoCResponse{Percent: state.lastSoC})
		return
	}
	if !state.carConnected || state.spec.SoCProbeWatt == 0 {
		ForRequest(msg).Respond(ctx, domain.GetSoCResponse{})
		return
	}
	state.Become(CCSoCProbeState{
		actor:   state,
		replyTo: ForRequest(msg).ReplyTo(ctx),
	}.OnEnterAction(ctx))
}

func (state *ChargerControlActor) setSoC(percent *float64) {
	if percent == nil {
		return
	}
	state.lastSoC = percent
	state.eventStream.Publish(domain.SoCChangeEvent{Percent: *percent})
}

func (state *ChargerControlActor) publishActiveSwitch(active bool) {
	state.eventStream.Publish(domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SWITCH_ID_CHARGER_ACTIVE,
		},
		Value: active,
	})
}

func (state *ChargerControlActor) publishChargePowerSetpoint(watt float64) {
	state.eventStream.Publish(domain.InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.INPUT_NUMBER_ID_CHARGE_POWER,
		},
		Value:    watt,
		Decimals: 0,
	})
}
