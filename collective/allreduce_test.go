package collective

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/lockstep/simulator"
)

func TestAllreducers(t *testing.T) {
	for name, reducer := range map[string]Allreducer{
		"Naive":        NaiveAllreducer{},
		"Tree":         TreeAllreducer{},
		"Stream":       StreamAllreducer{},
		"StreamGrain3": StreamAllreducer{Granularity: 3},
	} {
		t.Run(name, func(t *testing.T) {
			runAllreducerTests(t, reducer)
		})
	}
}

// runAllreducerTests runs a battery of sum reductions over
// different rank counts, vector sizes and networks.
func runAllreducerTests(t *testing.T, reducer Allreducer) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 1337} {
			for _, network := range []string{"ordered", "switched", "random"} {
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Network=%s", numNodes, size, network)
				t.Run(testName, func(t *testing.T) {
					vectors := make([][]float64, numNodes)
					sum := make([]float64, size)
					for i := range vectors {
						vectors[i] = make([]float64, size)
						for j := range vectors[i] {
							vectors[i][j] = rand.NormFloat64()
							sum[j] += vectors[i][j]
						}
					}

					results := make([][]float64, numNodes)
					runRanksOn(t, network, numNodes, func(c *Comm) {
						data := append([]float64{}, vectors[c.Rank()]...)
						c.AllReduceInPlace(data, Sum)
						results[c.Rank()] = data
					}, WithAllreducer(reducer))

					verifyReductionResults(t, results, sum)
				})
			}
		}
	}
}

// TestAllreduceRepeated checks that one Comm can run many
// back-to-back collectives with different ops, even when
// messages of later rounds overtake earlier ones.
func TestAllreduceRepeated(t *testing.T) {
	const numNodes = 7
	const rounds = 20
	for _, reducer := range []Allreducer{NaiveAllreducer{}, TreeAllreducer{}, StreamAllreducer{}} {
		results := make([][]float64, numNodes)
		runRanks(t, numNodes, true, func(c *Comm) {
			var out []float64
			for i := 0; i < rounds; i++ {
				x := []float64{float64(c.Rank() + i)}
				switch i % 3 {
				case 0:
					c.AllReduceInPlace(x, Sum)
				case 1:
					c.AllReduceInPlace(x, Max)
				case 2:
					c.AllReduceInPlace(x, Min)
				}
				out = append(out, x[0])
			}
			results[c.Rank()] = out
		}, WithAllreducer(reducer))

		for rank, res := range results {
			for i, x := range res {
				var expected float64
				switch i % 3 {
				case 0:
					expected = float64(numNodes*i + numNodes*(numNodes-1)/2)
				case 1:
					expected = float64(numNodes - 1 + i)
				case 2:
					expected = float64(i)
				}
				if x != expected {
					t.Errorf("%T rank %d round %d: expected %f but got %f",
						reducer, rank, i, expected, x)
				}
			}
		}
	}
}

func TestAllreduceCustomOp(t *testing.T) {
	hypot := NewOp("HYPOT", 0, math.Hypot)
	results := make([]float64, 4)
	runRanks(t, 4, false, func(c *Comm) {
		x := []float64{float64(c.Rank() + 1)}
		c.AllReduceInPlace(x, hypot)
		results[c.Rank()] = x[0]
	})
	expected := math.Sqrt(1 + 4 + 9 + 16)
	for i, x := range results {
		if math.Abs(x-expected) > 1e-9 {
			t.Errorf("rank %d: expected %f but got %f", i, expected, x)
		}
	}
}

func TestAllreduceProd(t *testing.T) {
	results := make([][]float64, 5)
	runRanks(t, 5, true, func(c *Comm) {
		x := []float64{float64(c.Rank() + 1), 2}
		c.AllReduceInPlace(x, Prod)
		results[c.Rank()] = x
	})
	for i, x := range results {
		if x[0] != 120 || x[1] != 32 {
			t.Errorf("rank %d: unexpected product %v", i, x)
		}
	}
}

func TestBarrier(t *testing.T) {
	for _, numNodes := range []int{1, 2, 6, 13} {
		t.Run(fmt.Sprintf("Nodes=%d", numNodes), func(t *testing.T) {
			leaveTimes := make([]float64, numNodes)
			var latestArrival float64
			for i := 0; i < numNodes; i++ {
				latestArrival = math.Max(latestArrival, float64(i))
			}
			runRanks(t, numNodes, true, func(c *Comm) {
				for i := 0; i < 3; i++ {
					c.Handle().Sleep(float64(c.Rank()))
					c.Barrier()
				}
				leaveTimes[c.Rank()] = c.Handle().Time()
			})
			for rank, leave := range leaveTimes {
				// Three rounds, each gated by the slowest rank.
				if leave < 3*latestArrival {
					t.Errorf("rank %d left the barrier at %f, before rank %d arrived",
						rank, leave, numNodes-1)
				}
			}
		})
	}
}

func TestStreamChunkify(t *testing.T) {
	for _, n := range []int{1, 5, 16, 1337} {
		for _, granularity := range []int{0, 1, 4} {
			bounds := StreamAllreducer{Granularity: granularity}.chunkify(4, n)
			var covered int
			for _, b := range bounds {
				if b[0] != covered || b[1] <= b[0] {
					t.Fatalf("n=%d: bad chunks %v", n, bounds)
				}
				covered = b[1]
			}
			if covered != n {
				t.Errorf("n=%d: chunks cover %d elements", n, covered)
			}
		}
	}
}

func TestPositionInTree(t *testing.T) {
	for _, size := range []int{1, 2, 3, 10, 31} {
		for rank := 0; rank < size; rank++ {
			parent, children := positionInTree(rank, size)
			if rank == 0 && parent != -1 {
				t.Errorf("size %d: root has parent %d", size, parent)
			}
			if rank > 0 {
				_, parentChildren := positionInTree(parent, size)
				found := false
				for _, c := range parentChildren {
					found = found || c == rank
				}
				if !found {
					t.Errorf("size %d: rank %d missing from children of %d", size, rank, parent)
				}
			}
			if len(children) > 2 {
				t.Errorf("size %d: rank %d has %d children", size, rank, len(children))
			}
		}
	}
}

// runRanks spawns numNodes ranks on a fresh event loop and
// fails the test if the run deadlocks.
func runRanks(t *testing.T, numNodes int, randomized bool, f func(c *Comm), opts ...Option) {
	network := "ordered"
	if randomized {
		network = "random"
	}
	runRanksOn(t, network, numNodes, f, opts...)
}

// runRanksOn is like runRanks, but it picks the network
// by name: "ordered", "switched" or "random".
func runRanksOn(t *testing.T, name string, numNodes int, f func(c *Comm), opts ...Option) {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, numNodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	var network simulator.Network
	switch name {
	case "random":
		network = simulator.RandomNetwork{MaxLatency: 1}
	case "switched":
		switcher := simulator.NewGreedyDropSwitcher(numNodes, 1e6)
		network = simulator.NewSwitcherNetwork(switcher, nodes, 0.1)
	default:
		network = simulator.NewOrderedNetwork(0.1, 1e6)
	}
	SpawnComms(loop, network, nodes, f, opts...)
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
}

func verifyReductionResults(t *testing.T, results [][]float64, expected []float64) {
	for i, res := range results[1:] {
		if len(res) != len(expected) {
			t.Errorf("result %d has length %d but expected %d", i+1, len(res), len(expected))
			continue
		}
		for j, actual := range res {
			if actual != results[0][j] {
				t.Errorf("result %d is not identical to result 0", i+1)
				break
			}
		}
	}

	for i, x := range expected {
		if math.Abs(x-results[0][i]) > 1e-5 {
			t.Errorf("sum is incorrect (expected %f but got %f at component %d)",
				x, results[0][i], i)
			break
		}
	}
}
