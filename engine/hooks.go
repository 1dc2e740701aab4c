package engine

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by a HookFuncs method whose
// function is not set.
var ErrNotImplemented = errors.New("engine: hook not implemented")

// An ErrorValue is whatever an iteration reports about its
// own progress, such as a residual or a vector of error
// metrics. The engine records it without interpreting it.
type ErrorValue interface{}

// Hooks implements the computation of one engine variant.
//
// The Engine calls every hook from the Goroutine of its
// rank. Errors returned by a hook are fatal to the run.
type Hooks interface {
	// Initialize is called at the end of Engine.Initialize.
	Initialize(ctx *Context) error

	// Prepare is called at the end of Engine.Prepare, after
	// support masks have been computed.
	Prepare(ctx *Context) error

	// Iterate runs a single iteration.
	Iterate(ctx *Context) (ErrorValue, error)

	// Finalize is called by Engine.Finalize.
	Finalize(ctx *Context) error
}

// HookFuncs implements Hooks with optional functions.
//
// A hook whose function is nil fails with
// ErrNotImplemented.
type HookFuncs struct {
	InitializeFunc func(ctx *Context) error
	PrepareFunc    func(ctx *Context) error
	IterateFunc    func(ctx *Context) (ErrorValue, error)
	FinalizeFunc   func(ctx *Context) error
}

var _ Hooks = HookFuncs{}

func (h HookFuncs) Initialize(ctx *Context) error {
	if h.InitializeFunc == nil {
		return notImplemented("initialize")
	}
	return h.InitializeFunc(ctx)
}

func (h HookFuncs) Prepare(ctx *Context) error {
	if h.PrepareFunc == nil {
		return notImplemented("prepare")
	}
	return h.PrepareFunc(ctx)
}

func (h HookFuncs) Iterate(ctx *Context) (ErrorValue, error) {
	if h.IterateFunc == nil {
		return nil, notImplemented("iterate")
	}
	return h.IterateFunc(ctx)
}

func (h HookFuncs) Finalize(ctx *Context) error {
	if h.FinalizeFunc == nil {
		return notImplemented("finalize")
	}
	return h.FinalizeFunc(ctx)
}

func notImplemented(hook string) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, hook)
}
