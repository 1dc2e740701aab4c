package simulator

import (
	"math"
	"sync"
)

// A Node is a machine on a virtual network. In a
// lock-step run every rank lives on its own Node.
type Node struct {
	unused int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// Port creates a new Port connected to the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port is a point of communication on a Node.
// Data is sent from Ports and received on Ports.
type Port struct {
	Node *Node

	// A stream of *Message objects.
	Incoming *EventStream
}

// Recv receives the next message.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is a chunk of data sent between ports.
type Message struct {
	Source  *Port
	Dest    *Port
	Message interface{}

	// Size is the number of bytes the message occupies on
	// the wire. It only affects delivery time.
	Size float64
}

// A Network moves messages between ports.
type Network interface {
	// Send schedules the messages for delivery on each
	// destination's Incoming stream.
	//
	// This is a non-blocking operation.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork delays every message by a random amount
// in [0, MaxLatency). Messages between the same pair of
// ports may be reordered.
//
// A zero MaxLatency is treated as 1.
type RandomNetwork struct {
	MaxLatency float64
}

// Send sends the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	maxLatency := r.MaxLatency
	if maxLatency == 0 {
		maxLatency = 1
	}
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, h.Float64()*maxLatency)
	}
}

// An OrderedNetwork delivers messages to each destination
// Node in the order they were sent, one at a time.
//
// Each message costs Latency plus Size/Rate units of time,
// and a receiver's link is busy until its previous message
// has fully arrived.
type OrderedNetwork struct {
	Latency float64
	Rate    float64

	lock      sync.Mutex
	nextTimes map[*Node]float64
}

// NewOrderedNetwork creates an OrderedNetwork.
func NewOrderedNetwork(latency, rate float64) *OrderedNetwork {
	if rate <= 0 {
		panic("network rate must be positive")
	}
	return &OrderedNetwork{
		Latency:   latency,
		Rate:      rate,
		nextTimes: map[*Node]float64{},
	}
}

// Send sends the messages in order.
func (o *OrderedNetwork) Send(h *Handle, msgs ...*Message) {
	o.lock.Lock()
	defer o.lock.Unlock()

	curTime := h.Time()
	for _, msg := range msgs {
		dest := msg.Dest.Node
		delay := o.Latency + msg.Size/o.Rate
		if t, ok := o.nextTimes[dest]; ok && t > curTime {
			delay += t - curTime
		}
		h.Schedule(msg.Dest.Incoming, msg, delay)
		o.nextTimes[dest] = curTime + delay
	}
}

// A SwitcherNetwork routes every message through a Switcher.
// Messages that share a link are sent concurrently, so a
// busy link slows every message on it down.
//
// Each message pays a fixed latency, then its Size is sent
// at whatever rate the Switcher grants it. Rates are
// recomputed whenever a message is sent or delivered.
type SwitcherNetwork struct {
	lock sync.Mutex

	switcher Switcher
	indices  map[*Node]int
	latency  float64

	plan switchedPlan
}

// NewSwitcherNetwork creates a SwitcherNetwork over nodes,
// where the index of a Node in nodes is its row in the
// Switcher's connection matrix.
//
// The latency argument adds a constant delay to every
// delivery. A message counts as using its link while it
// pays the latency, so latency does contribute to
// congestion.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitcherNetwork {
	indices := make(map[*Node]int, len(nodes))
	for i, node := range nodes {
		indices[node] = i
	}
	return &SwitcherNetwork{
		switcher: switcher,
		indices:  indices,
		latency:  latency,
	}
}

// Send sends the messages over the network.
//
// This may slow down messages that are already in flight.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	if len(msgs) == 0 {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	state := s.stopPlan(h)
	for _, msg := range msgs {
		state = append(state, &switchedMsg{
			msg:              msg,
			src:              s.index(msg.Source.Node),
			dst:              s.index(msg.Dest.Node),
			remainingLatency: s.latency,
			remainingSize:    msg.Size,
		})
	}
	s.createPlan(h, state)
}

func (s *SwitcherNetwork) index(n *Node) int {
	idx, ok := s.indices[n]
	if !ok {
		panic("node is not part of the switched network")
	}
	return idx
}

// stopPlan cancels every pending delivery and returns the
// state of the messages still in flight.
func (s *SwitcherNetwork) stopPlan(h *Handle) []*switchedMsg {
	var state []*switchedMsg
	for _, seg := range s.plan {
		if h.Time() >= seg.endTime {
			// Already delivered.
			continue
		}
		if h.Time() >= seg.startTime {
			elapsed := h.Time() - seg.startTime
			for _, msg := range seg.startState {
				state = append(state, msg.AddTime(elapsed))
			}
		}
		for _, timer := range seg.timers {
			h.Cancel(timer)
		}
	}
	return state
}

func (s *SwitcherNetwork) computeDataRates(state []*switchedMsg) {
	// The latency period clogs the receiver as well as the
	// sender here, which overestimates congestion a bit.
	mat := NewConnMat(len(s.indices))
	counts := NewConnMat(len(s.indices))
	for _, msg := range state {
		mat.Set(msg.src, msg.dst, 1)
		counts.Set(msg.src, msg.dst, counts.Get(msg.src, msg.dst)+1)
	}
	s.switcher.SwitchedRates(mat)
	for _, msg := range state {
		msg.dataRate = mat.Get(msg.src, msg.dst) / counts.Get(msg.src, msg.dst)
	}
}

func (s *SwitcherNetwork) createPlan(h *Handle, state []*switchedMsg) {
	s.plan = make(switchedPlan, 0, len(state))
	startTime := h.Time()
	for len(state) > 0 {
		s.computeDataRates(state)

		next, rest, eta := messagesWithLowestETA(state)
		timers := make([]*Timer, len(next))
		for i, msg := range next {
			timers[i] = h.Schedule(msg.msg.Dest.Incoming, msg.msg, startTime-h.Time()+eta)
		}

		endTime := timers[0].Time()
		s.plan = append(s.plan, &switchedPlanSegment{
			startTime:  startTime,
			endTime:    endTime,
			timers:     timers,
			startState: state,
		})

		for i, msg := range rest {
			rest[i] = msg.AddTime(endTime - startTime)
		}
		state = rest
		startTime = endTime
	}
}

// switchedMsg is the progress of a message through a
// SwitcherNetwork.
type switchedMsg struct {
	msg      *Message
	src, dst int

	remainingLatency float64
	remainingSize    float64
	dataRate         float64
}

// ETA gets the time until the message arrives at its
// current rate.
func (s *switchedMsg) ETA() float64 {
	return math.Max(0, s.remainingLatency+s.remainingSize/s.dataRate)
}

// AddTime gets the state of the message after t units of
// time have passed at its current rate.
func (s *switchedMsg) AddTime(t float64) *switchedMsg {
	res := *s
	if t < res.remainingLatency {
		res.remainingLatency -= t
		return &res
	}
	t -= res.remainingLatency
	res.remainingLatency = 0
	res.remainingSize -= res.dataRate * t
	return &res
}

// A switchedPlanSegment is a stretch of time during which
// no message arrives or enters the network, so every rate
// stays fixed. It ends with at least one delivery.
type switchedPlanSegment struct {
	startTime float64
	endTime   float64
	timers    []*Timer

	startState []*switchedMsg
}

// switchedPlan is the sequence of segments that delivers
// every message currently on the network.
type switchedPlan []*switchedPlanSegment

func messagesWithLowestETA(msgs []*switchedMsg) (lowest, rest []*switchedMsg, lowestETA float64) {
	etas := make([]float64, len(msgs))
	for i, msg := range msgs {
		etas[i] = msg.ETA()
	}
	lowestETA = etas[0]
	for _, eta := range etas[1:] {
		lowestETA = math.Min(lowestETA, eta)
	}
	for i, msg := range msgs {
		if etas[i] == lowestETA {
			lowest = append(lowest, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	return lowest, rest, lowestETA
}
