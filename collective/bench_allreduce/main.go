// Command bench_allreduce prints a markdown table of the
// virtual time taken by each allreducer, and by a barrier,
// on a range of switched networks where concurrent
// messages compete for each rank's bandwidth.
package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/unixpickle/lockstep/collective"
	"github.com/unixpickle/lockstep/simulator"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64
}

// Run creates a network and drops each rank into its own
// Goroutine.
func (r *RunInfo) Run(loop *simulator.EventLoop, opts []collective.Option, f func(c *collective.Comm)) {
	nodes := make([]*simulator.Node, r.NumNodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	switcher := simulator.NewGreedyDropSwitcher(r.NumNodes, r.Rate)
	network := simulator.NewSwitcherNetwork(switcher, nodes, r.Latency)
	collective.SpawnComms(loop, network, nodes, f, opts...)
	loop.MustRun()
}

func main() {
	var seed int64
	flag.Int64Var(&seed, "seed", 0, "event loop seed")
	flag.Parse()

	reducers := []collective.Allreducer{
		collective.NaiveAllreducer{},
		collective.TreeAllreducer{},
		collective.StreamAllreducer{},
		collective.StreamAllreducer{Granularity: 4},
	}
	reducerNames := []string{"Naive", "Tree", "Stream", "Stream(4)"}
	runs := []RunInfo{
		{NumNodes: 2, Latency: 0.1, Rate: 1e6},
		{NumNodes: 16, Latency: 1e-3, Rate: 1e6},
		{NumNodes: 32, Latency: 0.1, Rate: 1e6},
		{NumNodes: 32, Latency: 1e-4, Rate: 1e9},
	}
	vecSizes := []int{10, 10000, 1000000}

	fmt.Print("| Nodes | Latency | NIC rate | Size ")
	for _, reducerName := range reducerNames {
		fmt.Printf("| %s ", reducerName)
	}
	fmt.Println("| Barrier |")
	for i := 0; i < 5+len(reducers); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	for _, runInfo := range runs {
		loop := simulator.NewEventLoopSeed(seed)
		runInfo.Run(loop, nil, func(c *collective.Comm) {
			c.Barrier()
		})
		barrierTime := loop.Time()

		for _, size := range vecSizes {
			fmt.Printf(
				"| %d | %s | %s | %d ",
				runInfo.NumNodes,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				size,
			)
			for _, reducer := range reducers {
				loop := simulator.NewEventLoopSeed(seed)
				opts := []collective.Option{collective.WithAllreducer(reducer)}
				runInfo.Run(loop, opts, func(c *collective.Comm) {
					c.AllReduceInPlace(make([]float64, size), collective.Sum)
				})
				fmt.Printf("| %f ", loop.Time())
			}
			fmt.Printf("| %f |\n", barrierTime)
		}
	}
}
