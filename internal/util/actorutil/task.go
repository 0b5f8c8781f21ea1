package actorutil

import (
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask evaluates fn and delivers the result as a message.
// A Recover function turns failures (including timeouts) into a regular
// result so the receiving actor never hangs waiting for one.
type SafeBackgroundTask[T any] struct {
	ctx     actor.Context
	fn      func() (*T, error)
	timeout *time.Duration
	recover func(error) T
}

func NewBackgroundTask[T any](ctx actor.Context, fn func() (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{ctx: ctx, fn: fn}
}

func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = &timeout
	return t
}

func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task and sends its result to pid. Without a Recover
// function a failed task sends nothing.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	if value := t.run(); value != nil {
		t.ctx.Send(pid, *value)
	}
}

func (t *SafeBackgroundTask[T]) run() *T {
	task := io.Map(io.Eval(t.fn), func(a *T) T {
		if a == nil {
			panic(errors.New("task returned nil result"))
		}
		return *a
	})
	if t.timeout != nil {
		task = io.WithTimeout[T](*t.timeout)(task)
	}
	result := io.RunSync(task)
	if result.Error != nil {
		if t.recover == nil {
			return nil
		}
		recovered := t.recover(result.Error)
		return &recovered
	}
	return &result.Value
}

// MapBackgroundTask derives a task whose result is mapFn applied to the
// source task's result. Recover and timeout are not inherited.
func MapBackgroundTask[T, T2 any](src *SafeBackgroundTask[T], mapFn func(*T) *T2) *SafeBackgroundTask[T2] {
	return &SafeBackgroundTask[T2]{
		ctx: src.ctx,
		fn: func() (*T2, error) {
			r, err := src.fn()
			if err != nil {
				return nil, err
			}
			return mapFn(r), nil
		},
	}
}
