// Package loadmgr balances units of work across a fixed
// set of ranks as new work appears, without ever moving
// work that has already been assigned.
//
// Every rank normally owns its own Manager and feeds it the
// same sequence of calls. Assignments are deterministic, so
// the ranks agree on who owns what without exchanging any
// messages. VerifyAgreement can check that assumption.
package loadmgr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"
)

// ErrInvalidSize is returned by New for a rank count below
// one.
var ErrInvalidSize = errors.New("loadmgr: number of ranks must be positive")

// A Manager tracks the cumulative load of every rank and
// the rank that owns each keyed work item.
//
// A Manager is not safe for concurrent use.
type Manager[K comparable] struct {
	load   []int
	rankOf map[K]int

	observer func(load []int)
}

// An Option configures a Manager.
type Option func(o *options)

type options struct {
	observer func(load []int)
}

// WithObserver registers a function which is called with a
// copy of the load vector after every assignment.
func WithObserver(f func(load []int)) Option {
	return func(o *options) {
		o.observer = f
	}
}

// New creates a Manager for size ranks, all starting with
// zero load.
func New[K comparable](size int, opts ...Option) (*Manager[K], error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[K]{
		load:     make([]int, size),
		rankOf:   map[K]int{},
		observer: o.observer,
	}, nil
}

// Size gets the number of ranks.
func (m *Manager[K]) Size() int {
	return len(m.load)
}

// Load gets a copy of the cumulative load of every rank.
func (m *Manager[K]) Load() []int {
	return append([]int{}, m.load...)
}

// RankOf gets the rank that owns a key, if the key was
// ever passed to Assign.
func (m *Manager[K]) RankOf(key K) (int, bool) {
	r, ok := m.rankOf[key]
	return r, ok
}

// AssignOne assigns a single anonymous unit of work to the
// least busy rank and returns a partition in which that
// rank holds index 0 and every other rank holds nothing.
//
// Among equally loaded ranks the one with the highest index
// wins.
func (m *Manager[K]) AssignOne() [][]int {
	r := len(m.load) - 1
	for i := len(m.load) - 2; i >= 0; i-- {
		if m.load[i] < m.load[r] {
			r = i
		}
	}
	m.load[r]++
	m.notify()

	res := make([][]int, len(m.load))
	res[r] = []int{0}
	return res
}

// Assign splits items into contiguous blocks, one per
// rank, sized to even out the total load of the ranks.
//
// The result has one list of indices into items per rank.
// Concatenated in rank order, the lists are exactly
// 0, 1, ..., len(items)-1. Ranks that already carry more
// than their share may receive nothing.
//
// Every item is recorded as a key for RankOf. Keys are not
// checked for uniqueness: a key seen again, in this call or
// a later one, maps to its most recent rank.
func (m *Manager[K]) Assign(items []K) [][]int {
	size := len(m.load)
	res := make([][]int, size)
	if len(items) == 0 {
		return res
	}

	counts := m.blockSizes(len(items))
	for r, n := range counts {
		m.load[r] += n
	}

	// Boundaries between the blocks of consecutive ranks.
	var rank, end int
	end = counts[0]
	for i, item := range items {
		for i >= end {
			rank++
			end += counts[rank]
		}
		res[rank] = append(res[rank], i)
		m.rankOf[item] = rank
	}

	m.notify()
	return res
}

// blockSizes computes how many of n new items each rank
// receives.
//
// A rank is eligible if its load is below the average load
// after assignment, taken over the eligible ranks. Each
// eligible rank is topped up towards that average, and the
// remainder of the integer division goes to the eligible
// ranks with the highest indices.
func (m *Manager[K]) blockSizes(n int) []int {
	size := len(m.load)

	total := n
	for _, l := range m.load {
		total += l
	}
	eligible := make([]bool, size)
	for r, l := range m.load {
		eligible[r] = total > l*size
	}

	// Dropping a rank raises the average of the rest, so
	// this has to be repeated until no eligible rank is
	// above the new average. Without it, a rank could be
	// handed a negative number of items.
	var k, eligibleTotal int
	for {
		k, eligibleTotal = 0, n
		for r, ok := range eligible {
			if ok {
				k++
				eligibleTotal += m.load[r]
			}
		}
		changed := false
		for r, ok := range eligible {
			if ok && m.load[r]*k > eligibleTotal {
				eligible[r] = false
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	if k == 0 {
		panic("loadmgr: no eligible rank")
	}

	counts := make([]int, size)
	var remainder int
	for r, ok := range eligible {
		if ok {
			share := eligibleTotal - m.load[r]*k
			counts[r] = share / k
			remainder += share % k
		}
	}
	extra := remainder / k
	for r := size - 1; r >= 0 && extra > 0; r-- {
		if eligible[r] {
			counts[r]++
			extra--
		}
	}
	return counts
}

// Fingerprint hashes the load vector.
//
// Two Managers that have seen the same sequence of
// assignments have the same fingerprint.
func (m *Manager[K]) Fingerprint() uint64 {
	buf := make([]byte, 8*len(m.load))
	for i, l := range m.load {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(l))
	}
	return xxh3.Hash(buf)
}

func (m *Manager[K]) notify() {
	if m.observer != nil {
		m.observer(m.Load())
	}
}
