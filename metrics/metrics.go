// Package metrics records iteration timings and rank loads
// for a lock-step run.
package metrics

// Collector receives measurements from engine and load
// manager code.
//
// Implementations must be safe for concurrent use, since
// every simulated rank runs in its own Goroutine and they
// usually share one Collector.
type Collector interface {
	// ObserveIteration records one completed iteration.
	ObserveIteration(engine string, rank int, seconds float64)

	// SetFinished records whether an engine has exhausted
	// its iteration budget.
	SetFinished(engine string, rank int, finished bool)

	// SetRankLoad records the cumulative number of work
	// items assigned to a rank.
	SetRankLoad(rank int, load int)
}

// NopCollector discards all measurements.
type NopCollector struct{}

var _ Collector = NopCollector{}

// NewNop creates a Collector that records nothing.
func NewNop() NopCollector {
	return NopCollector{}
}

func (NopCollector) ObserveIteration(_ string, _ int, _ float64) {}
func (NopCollector) SetFinished(_ string, _ int, _ bool)         {}
func (NopCollector) SetRankLoad(_ int, _ int)                    {}
