// Command run_lockstep simulates a lock-step run: work
// items are spread over the ranks by a load manager, then
// every rank drives a toy relaxation engine that agrees on a
// global mean through distributed reductions.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/lockstep/collective"
	"github.com/unixpickle/lockstep/config"
	"github.com/unixpickle/lockstep/engine"
	"github.com/unixpickle/lockstep/loadmgr"
	"github.com/unixpickle/lockstep/logging"
	"github.com/unixpickle/lockstep/metrics"
	"github.com/unixpickle/lockstep/simulator"
)

const (
	probeSize  = 16
	samplesPer = 8
	probeTag   = 1
)

type rankResult struct {
	Rank     int
	Pods     int
	Iters    int
	Estimate float64
	RunInfo  *engine.RunInfo
}

func main() {
	var configPath string
	var debug bool
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		essentials.Must(err)
		cfg = *loaded
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := logging.NewSlog(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level})))

	registry := prometheus.NewRegistry()
	collector, err := metrics.NewPrometheus(registry, "")
	essentials.Must(err)

	var loop *simulator.EventLoop
	if cfg.Seed != 0 {
		loop = simulator.NewEventLoopSeed(cfg.Seed)
	} else {
		loop = simulator.NewEventLoop()
	}
	var reducer collective.Allreducer
	switch cfg.Allreducer {
	case config.AllreducerNaive:
		reducer = collective.NaiveAllreducer{}
	case config.AllreducerStream:
		reducer = collective.StreamAllreducer{}
	default:
		reducer = collective.TreeAllreducer{}
	}

	nodes := make([]*simulator.Node, cfg.Ranks)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	network := cfg.Network.Build(nodes)
	results := make([]*rankResult, cfg.Ranks)
	logger.Info("starting run", "ranks", cfg.Ranks, "items", cfg.Items,
		"engine", cfg.Engine.Name, "allreducer", cfg.Allreducer,
		"network", cfg.Network.EffectiveModel())

	collective.SpawnComms(loop, network, nodes, func(c *collective.Comm) {
		res, err := runRank(c, &cfg, collector, logger.With("rank", c.Rank()))
		if err != nil {
			logger.Error("rank failed", "rank", c.Rank(), "error", err)
			os.Exit(1)
		}
		results[c.Rank()] = res
	}, collective.WithAllreducer(reducer), collective.WithLogger(logger))

	essentials.Must(loop.Run())
	logger.Info("run complete", "virtual_time", loop.Time())

	printResults(results)
	printMetrics(registry)
}

func runRank(c *collective.Comm, cfg *config.Config, collector metrics.Collector,
	logger logging.Logger) (*rankResult, error) {
	var observer func(load []int)
	if c.IsMaster() {
		observer = func(load []int) {
			for rank, l := range load {
				collector.SetRankLoad(rank, l)
			}
		}
	}
	manager, err := loadmgr.New[string](c.Size(), loadmgr.WithObserver(observer))
	if err != nil {
		return nil, err
	}
	podIDs := make([]string, cfg.Items)
	for i := range podIDs {
		podIDs[i] = fmt.Sprintf("pod%04d", i)
	}
	owned := manager.Assign(podIDs)[c.Rank()]
	if err := loadmgr.VerifyAgreement(c, manager); err != nil {
		return nil, err
	}
	logger.Info("pods assigned", "pods", len(owned), "load", manager.Load())

	ctx := engine.NewContext(c)
	hooks := &relaxation{owned: owned, podIDs: podIDs}
	e, err := engine.New(cfg.Engine.Name, hooks, cfg.EngineParams(), c,
		engine.WithClock(c.Handle()),
		engine.WithLogger(logger),
		engine.WithMetrics(collector))
	if err != nil {
		return nil, err
	}
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := e.Prepare(); err != nil {
		return nil, err
	}
	for !e.Finished() {
		if err := e.Iterate(0); err != nil {
			return nil, err
		}
	}
	if err := e.Finalize(); err != nil {
		return nil, err
	}
	return &rankResult{
		Rank:     c.Rank(),
		Pods:     len(owned),
		Iters:    e.CurIter(),
		Estimate: hooks.estimate,
		RunInfo:  e.RunInfo(),
	}, nil
}

// relaxation moves a shared estimate towards the global mean
// of all the samples of all pods, half way per iteration.
type relaxation struct {
	owned  []int
	podIDs []string

	estimate float64
}

func (r *relaxation) Initialize(ctx *engine.Context) error {
	c := ctx.Comm
	var rng *rand.Rand
	if c.IsMaster() {
		rng = rand.New(rand.NewSource(int64(len(r.podIDs))))
	}
	samples := c.RandNormal(rng, len(r.podIDs)*samplesPer, 3, 1)
	for _, idx := range r.owned {
		id := r.podIDs[idx]
		ctx.Diff.Put(id, &engine.Storage{
			Shape: []int{samplesPer},
			Data:  samples[idx*samplesPer : (idx+1)*samplesPer],
		})
		ctx.Pods[id] = &engine.Pod{ID: id, Diff: id, Probe: "probe"}
	}

	// The master owns the initial probe and ships it to the
	// other ranks.
	probe := &collective.Array{
		Shape: []int{1, probeSize, probeSize},
		Data:  make([]complex128, probeSize*probeSize),
	}
	if c.IsMaster() {
		for i := range probe.Data.([]complex128) {
			probe.Data.([]complex128)[i] = 1
		}
		for dest := 1; dest < c.Size(); dest++ {
			if err := c.Send(probe, dest, probeTag); err != nil {
				return err
			}
		}
	} else if _, err := c.Receive(0, probeTag, probe); err != nil {
		return err
	}
	ctx.Probe.Put("probe", &engine.Storage{Shape: probe.Shape, Data: probe.Data})
	return nil
}

func (r *relaxation) Prepare(ctx *engine.Context) error {
	r.estimate = 0
	return nil
}

func (r *relaxation) Iterate(ctx *engine.Context) (engine.ErrorValue, error) {
	c := ctx.Comm
	var shards []*collective.Tensor
	var count int
	for _, id := range ctx.Diff.Names() {
		s, _ := ctx.Diff.Get(id)
		t, err := collective.NewTensor(s.Shape, s.Data.([]float64))
		if err != nil {
			return nil, err
		}
		shards = append(shards, t)
		count += t.Len()
	}
	// Pretend the work takes time in proportion to the data.
	c.Handle().Sleep(float64(count) * collective.FlopTime * 1000)

	sum, err := c.SumDistributed(shards, collective.AxisNone)
	if err != nil {
		return nil, err
	}
	total, err := c.SumDistributed([]*collective.Tensor{collective.Scalar(float64(count))},
		collective.AxisNone)
	if err != nil {
		return nil, err
	}
	mean := sum.Global.Value() / total.Global.Value()
	r.estimate += 0.5 * (mean - r.estimate)
	return math.Abs(mean - r.estimate), nil
}

func (r *relaxation) Finalize(ctx *engine.Context) error {
	return nil
}

func printResults(results []*rankResult) {
	fmt.Println("| Rank | Pods | Iterations | Estimate | Final error | Run |")
	fmt.Println("|:--|:--|:--|:--|:--|:--|")
	for _, res := range results {
		entries := res.RunInfo.Entries()
		var lastErr interface{}
		if len(entries) > 0 {
			lastErr = entries[len(entries)-1].Error
		}
		fmt.Printf("| %d | %d | %d | %f | %v | %s |\n", res.Rank, res.Pods, res.Iters,
			res.Estimate, lastErr, res.RunInfo.ID)
	}
}

func printMetrics(gatherer prometheus.Gatherer) {
	families, err := gatherer.Gather()
	essentials.Must(err)
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	fmt.Println()
	for _, family := range families {
		fmt.Printf("%s: %d series\n", family.GetName(), len(family.GetMetric()))
	}
}
