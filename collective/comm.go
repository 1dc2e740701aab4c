// Package collective implements MPI-style collective
// operations (barriers, allreduce, distributed reductions)
// and typed point-to-point transfers between simulated
// ranks.
package collective

import (
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/lockstep/logging"
	"github.com/unixpickle/lockstep/simulator"
)

// A Comm is one rank's view of a fixed-size communicator.
//
// Each rank runs in its own Goroutine with its own Comm.
// Collective calls are numbered in the order a rank makes
// them, and since every rank must make the same calls in
// the same order, the numbers line up across ranks. This
// lets a single Comm be used for any number of consecutive
// collectives: messages that belong to a later round are
// kept in a mailbox until that round begins.
//
// A Comm is not safe for concurrent use.
type Comm struct {
	handle  *simulator.Handle
	port    *simulator.Port
	ports   []*simulator.Port
	network simulator.Network
	rank    int

	allreducer Allreducer
	logger     logging.Logger

	round   uint64
	mailbox []*envelope

	sendSeq map[pairKey]uint64
	recvSeq map[pairKey]uint64
}

// An Option configures a Comm.
type Option func(c *Comm)

// WithAllreducer sets the algorithm behind
// AllReduceInPlace. The default is TreeAllreducer.
func WithAllreducer(a Allreducer) Option {
	return func(c *Comm) {
		c.allreducer = a
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(c *Comm) {
		c.logger = l
	}
}

// NewComm creates the Comm for the given rank.
//
// The ports slice lists the ports of every rank in rank
// order, and must be identical on every rank.
func NewComm(h *simulator.Handle, network simulator.Network, ports []*simulator.Port,
	rank int, opts ...Option) *Comm {
	if rank < 0 || rank >= len(ports) {
		panic("rank out of range")
	}
	c := &Comm{
		handle:     h,
		port:       ports[rank],
		ports:      ports,
		network:    network,
		rank:       rank,
		allreducer: TreeAllreducer{},
		logger:     logging.NewNop(),
		sendSeq:    map[pairKey]uint64{},
		recvSeq:    map[pairKey]uint64{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SpawnComms creates a Comm for every node and calls f for
// each one in its own Goroutine on the loop.
//
// The index of a node in nodes is its rank.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comm), opts ...Option) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		rank := i
		loop.Go(func(h *simulator.Handle) {
			f(NewComm(h, network, ports, rank, opts...))
		})
	}
}

// Rank gets the index of this rank in [0, Size()).
func (c *Comm) Rank() int {
	return c.rank
}

// Size gets the number of ranks.
func (c *Comm) Size() int {
	return len(c.ports)
}

// IsMaster reports whether this is rank 0.
func (c *Comm) IsMaster() bool {
	return c.rank == 0
}

// Handle gets the event loop handle of this rank.
func (c *Comm) Handle() *simulator.Handle {
	return c.handle
}

// Logger gets the Comm's logger.
func (c *Comm) Logger() logging.Logger {
	return c.logger
}

// Round gets the number of collective rounds this rank has
// started so far.
func (c *Comm) Round() uint64 {
	return c.round
}

// Bcast sends a vector to every other rank as part of the
// current collective round.
//
// The vector is copied, so the caller may reuse it as soon
// as Bcast returns.
func (c *Comm) Bcast(vec []float64) {
	vec = append([]float64{}, vec...)
	messages := make([]*simulator.Message, 0, len(c.ports)-1)
	for i, port := range c.ports {
		if i == c.rank {
			continue
		}
		messages = append(messages, c.message(port, &envelope{
			kind:    kindCollective,
			seq:     c.round,
			source:  c.rank,
			payload: vec,
		}, float64(len(vec)*8)))
	}
	c.network.Send(c.handle, messages...)
}

// SendTo sends a vector to one rank as part of the current
// collective round.
func (c *Comm) SendTo(dst int, vec []float64) {
	vec = append([]float64{}, vec...)
	c.network.Send(c.handle, c.message(c.ports[dst], &envelope{
		kind:    kindCollective,
		seq:     c.round,
		source:  c.rank,
		payload: vec,
	}, float64(len(vec)*8)))
}

// Recv receives the next vector of the current collective
// round from any rank.
func (c *Comm) Recv() ([]float64, int) {
	env := c.await(func(e *envelope) bool {
		return e.kind == kindCollective && e.seq == c.round
	})
	return env.payload.([]float64), env.source
}

// RecvFrom receives the next vector of the current
// collective round from a specific rank.
func (c *Comm) RecvFrom(src int) []float64 {
	env := c.await(func(e *envelope) bool {
		return e.kind == kindCollective && e.seq == c.round && e.source == src
	})
	return env.payload.([]float64)
}

// beginRound starts a new collective round.
func (c *Comm) beginRound() {
	c.round++
}

func (c *Comm) message(dst *simulator.Port, env *envelope, size float64) *simulator.Message {
	return &simulator.Message{
		Source:  c.port,
		Dest:    dst,
		Message: env,
		Size:    size,
	}
}

// await returns the first envelope accepted by match,
// looking in the mailbox before polling the network.
// Envelopes that do not match are parked in the mailbox.
func (c *Comm) await(match func(e *envelope) bool) *envelope {
	for i, env := range c.mailbox {
		if match(env) {
			essentials.OrderedDelete(&c.mailbox, i)
			return env
		}
	}
	for {
		msg := c.port.Recv(c.handle)
		env, ok := msg.Message.(*envelope)
		if !ok {
			panic("unexpected message type on communicator port")
		}
		if match(env) {
			return env
		}
		if env.kind == kindCollective && env.seq < c.round {
			c.logger.Warn("message from a finished collective round", "rank", c.rank,
				"source", env.source, "round", env.seq, "current", c.round)
			panic("received message from a finished collective round")
		}
		c.mailbox = append(c.mailbox, env)
	}
}

type messageKind int

const (
	kindCollective messageKind = iota
	kindHeader
	kindPayload
)

type envelope struct {
	kind messageKind

	// Round number for collectives and per-pair sequence
	// number for point-to-point messages.
	seq uint64

	tag     int
	source  int
	payload interface{}
}

type pairKey struct {
	peer int
	tag  int
}
