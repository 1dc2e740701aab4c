// Package engine drives an iterative computation in lock
// step across ranks.
//
// An Engine owns the bookkeeping of a run (iteration count,
// error history, timing) and calls a Hooks implementation
// for the actual work. After every iteration all ranks meet
// at a barrier, so no rank gets ahead of the others.
package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unixpickle/lockstep/logging"
	"github.com/unixpickle/lockstep/metrics"
)

var (
	// ErrInvalidState is returned when a lifecycle method is
	// called out of order.
	ErrInvalidState = errors.New("engine: invalid state")

	// ErrInvalidParams is returned by New for unusable
	// parameters.
	ErrInvalidParams = errors.New("engine: invalid parameters")
)

// State is a lifecycle state of an Engine.
type State int

const (
	Created State = iota
	Initialized
	Prepared
	Iterating
	Finished
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Prepared:
		return "prepared"
	case Iterating:
		return "iterating"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Params configures an Engine.
type Params struct {
	// NumIter is the total iteration budget.
	NumIter int

	// NumIterContiguous is the number of iterations run by
	// a call to Iterate with n <= 0.
	NumIterContiguous int

	// ProbeSupport is the fraction of each probe frame that
	// the support mask covers, or nil to skip the masks.
	ProbeSupport *float64
}

// DefaultParams gets the parameters used when nothing else
// is configured.
func DefaultParams() Params {
	support := 0.8
	return Params{
		NumIter:           10,
		NumIterContiguous: 1,
		ProbeSupport:      &support,
	}
}

// Validate checks that the parameters are usable.
func (p Params) Validate() error {
	if p.NumIter < 1 {
		return fmt.Errorf("%w: iteration budget %d", ErrInvalidParams, p.NumIter)
	}
	if p.NumIterContiguous < 1 {
		return fmt.Errorf("%w: contiguous iterations %d", ErrInvalidParams, p.NumIterContiguous)
	}
	if p.ProbeSupport != nil && (*p.ProbeSupport <= 0 || *p.ProbeSupport > 1) {
		return fmt.Errorf("%w: probe support %f not in (0, 1]", ErrInvalidParams, *p.ProbeSupport)
	}
	return nil
}

// A Synchronizer blocks until every rank has called
// Barrier. *collective.Comm implements it.
type Synchronizer interface {
	Barrier()
}

// NopSync is a Synchronizer for single-process runs.
type NopSync struct{}

func (NopSync) Barrier() {}

// A Clock reports the current time in seconds.
//
// *simulator.Handle implements Clock with virtual time.
type Clock interface {
	Time() float64
}

// WallClock is a Clock based on time.Now.
type WallClock struct{}

func (WallClock) Time() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// An Option configures an Engine.
type Option func(e *Engine)

// WithRunInfo sets the log that iteration records are
// mirrored to. By default, every Engine gets its own.
func WithRunInfo(r *RunInfo) Option {
	return func(e *Engine) {
		e.runInfo = r
	}
}

// WithClock sets the Clock used to time iterations.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the Engine's logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the Collector for iteration metrics.
func WithMetrics(c metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// An Engine runs the lifecycle of one engine variant on
// one rank.
//
// The lifecycle is Initialize, Prepare, any number of
// Iterate calls, then Finalize. Iterate stops doing work
// once the iteration budget is spent. A finished Engine can
// be given a bigger budget with SetNumIter and prepared and
// iterated again.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	name   string
	hooks  Hooks
	params Params
	sync   Synchronizer

	runInfo *RunInfo
	clock   Clock
	logger  logging.Logger
	metrics metrics.Collector

	ctx      *Context
	state    State
	numIter  int
	curIter  int
	finished bool
	errors   []ErrorValue
	records  []IterationRecord
	supports map[string]*Storage
}

// New creates an Engine in the Created state.
func New(name string, hooks Hooks, params Params, sync Synchronizer,
	opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if sync == nil {
		sync = NopSync{}
	}
	e := &Engine{
		name:     name,
		hooks:    hooks,
		params:   params,
		sync:     sync,
		clock:    WallClock{},
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		numIter:  params.NumIter,
		supports: map[string]*Storage{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runInfo == nil {
		e.runInfo = NewRunInfo()
	}
	return e, nil
}

// Name gets the engine name used in records.
func (e *Engine) Name() string {
	return e.name
}

// State gets the lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Finished reports whether the iteration budget is spent.
func (e *Engine) Finished() bool {
	return e.finished
}

// CurIter gets the number of completed iterations.
func (e *Engine) CurIter() int {
	return e.curIter
}

// NumIter gets the iteration budget.
func (e *Engine) NumIter() int {
	return e.numIter
}

// SetNumIter changes the iteration budget.
//
// Raising the budget of a finished Engine takes effect at
// the next Prepare.
func (e *Engine) SetNumIter(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: iteration budget %d", ErrInvalidParams, n)
	}
	e.numIter = n
	return nil
}

// Errors gets a copy of the error values of all completed
// iterations since the last Initialize.
func (e *Engine) Errors() []ErrorValue {
	return append([]ErrorValue{}, e.errors...)
}

// Records gets a copy of the records of all iterations
// completed since the last Initialize.
func (e *Engine) Records() []IterationRecord {
	return append([]IterationRecord{}, e.records...)
}

// RunInfo gets the log that records are mirrored to.
func (e *Engine) RunInfo() *RunInfo {
	return e.runInfo
}

// ProbeSupport gets the support mask computed for a probe
// storage by the last Prepare.
func (e *Engine) ProbeSupport(name string) (*Storage, bool) {
	s, ok := e.supports[name]
	return s, ok
}

// Initialize binds the Engine to a Context, resets the
// iteration counter, error history and records, and calls
// the initialize hook. The RunInfo log is left alone.
//
// It may be called in any state.
func (e *Engine) Initialize(ctx *Context) error {
	e.ctx = ctx
	e.curIter = 0
	e.finished = false
	e.errors = nil
	e.records = nil
	e.supports = map[string]*Storage{}
	if err := e.hooks.Initialize(ctx); err != nil {
		return e.hookError("initialize", err)
	}
	e.setState(Initialized)
	return nil
}

// Prepare computes probe support masks and calls the
// prepare hook. It clears the finished flag, so that a run
// whose budget was raised can continue.
func (e *Engine) Prepare() error {
	if e.state == Created {
		return e.stateError("prepare")
	}
	e.finished = false
	if e.params.ProbeSupport != nil && e.ctx != nil && e.ctx.Probe != nil {
		for _, name := range e.ctx.Probe.Names() {
			probe, _ := e.ctx.Probe.Get(name)
			support, err := SupportMask(probe.Shape, *e.params.ProbeSupport)
			if err != nil {
				return fmt.Errorf("engine %s: probe %s: %w", e.name, name, err)
			}
			e.supports[name] = support
		}
	}
	if err := e.hooks.Prepare(e.ctx); err != nil {
		return e.hookError("prepare", err)
	}
	e.setState(Prepared)
	return nil
}

// Iterate runs up to n iterations, or the configured number
// of contiguous iterations if n <= 0.
//
// Every completed iteration ends with a barrier, including
// the one that spends the budget. Once the budget is spent,
// Iterate returns nil right away without doing anything.
//
// An error from the iterate hook stops the loop. The
// iteration is not recorded and no barrier is reached, so
// the error has to end the whole run.
func (e *Engine) Iterate(n int) error {
	switch e.state {
	case Prepared, Iterating:
	case Finished:
		return nil
	default:
		return e.stateError("iterate")
	}
	if n <= 0 {
		n = e.params.NumIterContiguous
	}
	rank := e.ctx.rank()
	if e.curIter >= e.numIter {
		// Prepared again without raising the budget.
		e.finished = true
		e.setState(Finished)
		return nil
	}
	e.setState(Iterating)
	for i := 0; i < n && !e.finished; i++ {
		start := e.clock.Time()
		errValue, err := e.hooks.Iterate(e.ctx)
		if err != nil {
			return e.hookError("iterate", err)
		}
		e.errors = append(e.errors, errValue)
		e.curIter++
		if e.curIter >= e.numIter {
			e.finished = true
		}

		rec := IterationRecord{
			Iteration: e.curIter,
			Engine:    e.name,
			Duration:  math.Max(0, e.clock.Time()-start),
			Error:     errValue,
		}
		e.records = append(e.records, rec)
		e.runInfo.Append(rec)
		e.metrics.ObserveIteration(e.name, rank, rec.Duration)
		e.metrics.SetFinished(e.name, rank, e.finished)
		e.logger.Debug("iteration complete", "engine", e.name, "rank", rank,
			"iteration", rec.Iteration, "duration", rec.Duration)

		e.sync.Barrier()
	}
	if e.finished {
		e.setState(Finished)
	}
	return nil
}

// Finalize calls the finalize hook and moves the Engine to
// the Finished state. It may be called more than once; the
// hook runs every time.
func (e *Engine) Finalize() error {
	if e.state < Prepared {
		return e.stateError("finalize")
	}
	if err := e.hooks.Finalize(e.ctx); err != nil {
		return e.hookError("finalize", err)
	}
	e.setState(Finished)
	return nil
}

func (e *Engine) setState(s State) {
	if s != e.state {
		e.logger.Debug("engine state change", "engine", e.name, "rank", e.ctx.rank(),
			"from", e.state.String(), "to", s.String())
	}
	e.state = s
}

func (e *Engine) stateError(op string) error {
	return fmt.Errorf("%w: cannot %s engine %s in state %s", ErrInvalidState, op, e.name, e.state)
}

func (e *Engine) hookError(hook string, err error) error {
	e.logger.Error("engine hook failed", "engine", e.name, "rank", e.ctx.rank(),
		"hook", hook, "error", err)
	return fmt.Errorf("engine %s: %s: %w", e.name, hook, err)
}
