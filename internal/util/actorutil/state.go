package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ActorState is one behavior of a state-machine actor. Name is reported
// in health responses and transition logs.
type ActorState interface {
	Name() string
	Receive(actor.Context)
}

// ActorWithStates wraps protoactor's Behavior with named states so that
// transitions are observable. Logger is optional.
type ActorWithStates struct {
	Behavior actor.Behavior
	Logger   *zap.Logger

	current string
	stack   []string
}

func (s *ActorWithStates) Become(state ActorState) {
	s.logTransition(state)
	s.current = state.Name()
	s.stack = s.stack[:0]
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.logTransition(state)
	s.stack = append(s.stack, s.current)
	s.current = state.Name()
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	if n := len(s.stack); n > 0 {
		s.current = s.stack[n-1]
		s.stack = s.stack[:n-1]
	}
	s.Behavior.UnbecomeStacked()
}

// CurrentState returns the name of the state currently receiving.
func (s *ActorWithStates) CurrentState() string {
	return s.current
}

func (s *ActorWithStates) logTransition(next ActorState) {
	if s.Logger != nil {
		s.Logger.Debug("state transition",
			zap.String("from", s.current), zap.String("to", next.Name()))
	}
}
