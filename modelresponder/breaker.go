package modelresponder

import (
	"context"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/contextbundle"
	"github.com/contenox/analyst/libroutine"
)

// Breaker stops calling next after repeated failures until the reset timeout
// passes. While open, Respond fails fast with libroutine.ErrCircuitOpen.
type Breaker struct {
	next    Responder
	routine *libroutine.Routine
}

func WithBreaker(next Responder, routine *libroutine.Routine) *Breaker {
	return &Breaker{next: next, routine: routine}
}

func (b *Breaker) Respond(ctx context.Context, bundle contextbundle.Bundle) (agenttypes.Envelope, error) {
	var env agenttypes.Envelope
	err := b.routine.Execute(ctx, func(ctx context.Context) error {
		var err error
		env, err = b.next.Respond(ctx, bundle)
		return err
	})
	return env, err
}

func (b *Breaker) State() libroutine.State { return b.routine.GetState() }
