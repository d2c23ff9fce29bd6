// Package confirm decouples destructive flows from the surface that asks the
// operator to confirm them.
package confirm

import "context"

type Prompt struct {
	Action  string
	Message string
}

type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// Func adapts a function to Confirmer.
type Func func(ctx context.Context, p Prompt) (bool, error)

func (f Func) Confirm(ctx context.Context, p Prompt) (bool, error) {
	return f(ctx, p)
}

// Static answers every prompt the same way. HTTP handlers use it with the
// explicit "confirm" flag of the request body.
type Static bool

func (s Static) Confirm(context.Context, Prompt) (bool, error) {
	return bool(s), nil
}

// Always is used by system actors (sweeper, gateway callbacks).
var Always Confirmer = Static(true)
