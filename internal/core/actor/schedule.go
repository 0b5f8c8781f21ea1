package actor

import (
	"fmt"
	"time"

	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/core/port"
	. "v2gbridge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// ScheduleExecutorActor validates incoming power schedules, arms one timer
// per future entry and forwards the due commands to the charger control
// actor. A new schedule always replaces the previous one as a whole.
type ScheduleExecutorActor struct {
	ActorWithStates
	scheduler    *scheduler.TimerScheduler
	stash        *Stash
	controlActor *actor.PID
	planner      port.SchedulePlanner
	eventStream  *eventstream.EventStream

	cancelFuncs []scheduler.CancelFunc
	hasPlan     bool

	logger *zap.Logger
}

type scheduleCommandDue struct {
	command domain.TimedPowerCommand
}

func NewScheduleExecutorActor(planner port.SchedulePlanner, controlActor *actor.PID,
	eventStream *eventstream.EventStream, logger *zap.Logger) *ScheduleExecutorActor {

	act := &ScheduleExecutorActor{
		planner:      planner,
		controlActor: controlActor,
		eventStream:  eventStream,
		stash:        &Stash{},
		logger:       ActorLogger(domain.ACTOR_ID_SCHEDULE, logger),
	}
	act.ActorWithStates = ActorWithStates{
		Behavior: actor.NewBehavior(),
		Logger:   act.logger,
	}
	act.Become(SEStartingState{
		actor: act,
	})
	return act
}

func (state *ScheduleExecutorActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type SEStartingState struct {
	ActorState
	actor *ScheduleExecutorActor
}

func (state SEStartingState) Name() string {
	return "starting"
}

func (state SEStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("schedule@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.Become(SEDefaultState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.cancelAll()
	default:
		state.actor.stash.Stash(ctx, msg)
	}
}

// Default state

type SEDefaultState struct {
	ActorState
	actor *ScheduleExecutorActor
}

func (state SEDefaultState) Name() string {
	return "default"
}

func (state SEDefaultState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SCHEDULE,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.ApplyScheduleRequest:
		state.actor.logger.Sugar().Infof("schedule: received %d entries starting %s from %s",
			len(msg.Schedule.ValuesMW), msg.Schedule.Start.Format(time.RFC3339), msg.Schedule.Scheduler)
		// the SoC prognosis needs the current SoC first
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.controlActor,
			domain.GetSoCRequest{}, 15*time.Second),
			func(err error) any {
				return domain.GetSoCResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
		state.actor.BecomeStacked(SEAwaitSoCState{
			actor:    state.actor,
			schedule: msg.Schedule,
			replyTo:  ForRequest(msg).ReplyTo(ctx),
		}.OnEnterAction(ctx))
	case scheduleCommandDue:
		state.actor.dispatchCommand(ctx, msg.command)
	case domain.StartChargingResponse:
		if msg.HasResponseError() {
			state.actor.logger.Error("schedule: start command failed", zap.Error(msg.GetResponseError()))
		}
	case domain.StopChargingResponse:
		if msg.HasResponseError() {
			state.actor.logger.Error("schedule: stop command failed", zap.Error(msg.GetResponseError()))
		}
	case *actor.Restarting:
		state.actor.cancelAll()
	default:
		state.actor.logger.Debug("schedule@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Await SoC state: a schedule is being validated, everything else waits.

type SEAwaitSoCState struct {
	ActorState
	actor    *ScheduleExecutorActor
	schedule domain.Schedule
	replyTo  *actor.PID
}

func (state SEAwaitSoCState) Name() string {
	return "awaitSoC"
}

func (state SEAwaitSoCState) OnEnterAction(ctx actor.Context) SEAwaitSoCState {
	ctx.SetReceiveTimeout(30 * time.Second)
	return state
}

func (state SEAwaitSoCState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetSoCResponse:
		ctx.SetReceiveTimeout(0)
		currentSoC := 0.0
		if msg.Percent != nil {
			currentSoC = *msg.Percent
		} else {
			state.actor.logger.Warn("schedule: current SoC unknown, prognosis starts at 0")
		}
		state.actor.UnbecomeStacked()
		state.actor.applyPlan(ctx, state.schedule, currentSoC, state.replyTo)
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		state.actor.logger.Error("schedule@awaitSoC: ReceiveTimeout")
		state.actor.UnbecomeStacked()
		state.actor.applyPlan(ctx, state.schedule, 0, state.replyTo)
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.stash.Stash(ctx, msg)
	}
}

// Other actor function helpers

// applyPlan validates the schedule and swaps the installed timers. An
// invalid schedule leaves the previous plan running untouched.
func (state *ScheduleExecutorActor) applyPlan(ctx actor.Context, schedule domain.Schedule,
	currentSoC float64, replyTo *actor.PID) {

	plan, err := state.planner.Plan(schedule, time.Now(), currentSoC)
	if err != nil {
		state.logger.Warn("schedule: rejected", zap.Error(err))
		state.eventStream.Publish(domain.ScheduleAppliedEvent{
			Valid:  false,
			Reason: err.Error(),
		})
		if replyTo != nil {
			ctx.Send(replyTo, domain.ApplyScheduleResponse{
				Valid:  false,
				Reason: err.Error(),
			})
		}
		return
	}

	state.cancelAll()

	now := time.Now()
	var pastCommand *domain.TimedPowerCommand
	installed := 0
	for _, cmd := range plan.Commands {
		if !cmd.At.After(now) {
			// the latest already-started entry applies immediately
			c := cmd
			pastCommand = &c
			continue
		}
		cancel := state.scheduler.RequestOnce(cmd.At.Sub(now), ctx.Self(), scheduleCommandDue{command: cmd})
		state.cancelFuncs = append(state.cancelFuncs, cancel)
		installed++
	}
	if pastCommand != nil {
		state.dispatchCommand(ctx, *pastCommand)
	}
	state.hasPlan = true

	state.logger.Sugar().Infof("schedule: applied, %d timers armed, %d entries already due", installed,
		len(plan.Commands)-installed)
	state.eventStream.Publish(domain.ScheduleAppliedEvent{
		Valid:       true,
		ExpectedSoC: plan.ExpectedSoC,
	})
	if replyTo != nil {
		ctx.Send(replyTo, domain.ApplyScheduleResponse{
			Valid: true,
		})
	}
}

func (state *ScheduleExecutorActor) dispatchCommand(ctx actor.Context, cmd domain.TimedPowerCommand) {
	if cmd.PowerWatt == 0 {
		state.logger.Info("schedule: entry due, stop charging")
		ctx.Request(state.controlActor, domain.StopChargingRequest{Source: "schedule"})
		return
	}
	state.logger.Sugar().Infof("schedule: entry due, set %dW", cmd.PowerWatt)
	ctx.Request(state.controlActor, domain.StartChargingRequest{
		PowerWatt: cmd.PowerWatt,
		Source:    "schedule",
	})
}

func (state *ScheduleExecutorActor) cancelAll() {
	for _, cancel := range state.cancelFuncs {
		cancel()
	}
	state.cancelFuncs = nil
	state.hasPlan = false
}
