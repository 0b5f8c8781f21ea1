package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorRef aliases a PID so message structs do not import protoactor
// everywhere.
type ActorRef actor.PID

// ActorRequestMixIn carries an explicit reply address for requests that
// are forwarded between actors. When nil the response goes to the
// message sender.
type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}
