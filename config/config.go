// Package config loads the settings of a lock-step run
// from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/unixpickle/lockstep/engine"
	"github.com/unixpickle/lockstep/simulator"
	"gopkg.in/yaml.v3"
)

// Allreducer names accepted in Config.Allreducer.
const (
	AllreducerNaive  = "naive"
	AllreducerTree   = "tree"
	AllreducerStream = "stream"
)

// Network models accepted in NetworkConfig.Model.
const (
	NetworkOrdered  = "ordered"
	NetworkRandom   = "random"
	NetworkSwitched = "switched"
)

// EngineConfig configures the engine of every rank.
type EngineConfig struct {
	// Name labels the iteration records of the engine.
	Name string `yaml:"name"`

	// NumIter is the total iteration budget.
	NumIter int `yaml:"numIter"`

	// NumIterContiguous is the number of iterations run
	// between two checks of the finished flag.
	NumIterContiguous int `yaml:"numIterContiguous"`

	// ProbeSupport is the fractional area of the probe
	// support mask. Leave unset (or null) to disable masks.
	ProbeSupport *float64 `yaml:"probeSupport"`
}

// NetworkConfig configures the simulated network.
type NetworkConfig struct {
	// Latency is the delivery delay of every message, in
	// seconds of virtual time.
	Latency float64 `yaml:"latency"`

	// Rate is the bandwidth of every node, in bytes per
	// second of virtual time.
	Rate float64 `yaml:"rate"`

	// Model is "ordered", "random" or "switched".
	//
	// An ordered network queues the messages for each rank
	// behind one another. A random network delivers messages
	// after random delays of up to Latency, in any order. A
	// switched network shares every rank's upload and
	// download Rate between all of its concurrent messages.
	//
	// If empty, the model follows Randomized.
	Model string `yaml:"model"`

	// Randomized is the older way of picking the random
	// model. It is only consulted when Model is empty.
	Randomized bool `yaml:"randomized"`
}

// EffectiveModel gets the network model in use, resolving
// an empty Model through Randomized.
func (n *NetworkConfig) EffectiveModel() string {
	if n.Model != "" {
		return n.Model
	}
	if n.Randomized {
		return NetworkRandom
	}
	return NetworkOrdered
}

// Build creates the network connecting nodes, where the
// index of a node is its rank.
func (n *NetworkConfig) Build(nodes []*simulator.Node) simulator.Network {
	switch n.EffectiveModel() {
	case NetworkRandom:
		return simulator.RandomNetwork{MaxLatency: n.Latency}
	case NetworkSwitched:
		switcher := simulator.NewGreedyDropSwitcher(len(nodes), n.Rate)
		return simulator.NewSwitcherNetwork(switcher, nodes, n.Latency)
	default:
		return simulator.NewOrderedNetwork(n.Latency, n.Rate)
	}
}

// Config is the configuration of a lock-step run.
type Config struct {
	// Ranks is the number of simulated ranks.
	Ranks int `yaml:"ranks"`

	// Items is the number of work items handed to the load
	// manager at the start of the run.
	Items int `yaml:"items"`

	// Seed seeds the event loop. Zero picks a seed from the
	// clock.
	Seed int64 `yaml:"seed"`

	// Allreducer is "naive", "tree" or "stream".
	Allreducer string `yaml:"allreducer"`

	Engine  EngineConfig  `yaml:"engine"`
	Network NetworkConfig `yaml:"network"`
}

// Default returns a Config with the defaults of a
// small run.
func Default() Config {
	params := engine.DefaultParams()
	return Config{
		Ranks:      4,
		Items:      64,
		Allreducer: AllreducerTree,
		Engine: EngineConfig{
			Name:              "dummy",
			NumIter:           params.NumIter,
			NumIterContiguous: params.NumIterContiguous,
			ProbeSupport:      params.ProbeSupport,
		},
		Network: NetworkConfig{
			Latency: 1e-4,
			Rate:    1e9,
		},
	}
}

// Load reads and validates a YAML file. Fields missing
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration. Fields
// missing from the document keep their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values that cannot
// describe a run.
func (c *Config) Validate() error {
	if c.Ranks < 1 {
		return fmt.Errorf("ranks must be positive, got %d", c.Ranks)
	}
	if c.Items < 1 {
		return fmt.Errorf("items must be positive, got %d", c.Items)
	}
	switch c.Allreducer {
	case AllreducerNaive, AllreducerTree, AllreducerStream:
	default:
		return fmt.Errorf("unknown allreducer %q", c.Allreducer)
	}
	if c.Engine.Name == "" {
		return fmt.Errorf("engine name must not be empty")
	}
	if c.Network.Latency < 0 {
		return fmt.Errorf("network latency must not be negative, got %f", c.Network.Latency)
	}
	switch c.Network.Model {
	case "", NetworkOrdered, NetworkRandom, NetworkSwitched:
	default:
		return fmt.Errorf("unknown network model %q", c.Network.Model)
	}
	if c.Network.Randomized && c.Network.Model != "" && c.Network.Model != NetworkRandom {
		return fmt.Errorf("randomized conflicts with network model %q", c.Network.Model)
	}
	if c.Network.EffectiveModel() != NetworkRandom && c.Network.Rate <= 0 {
		return fmt.Errorf("network rate must be positive, got %f", c.Network.Rate)
	}
	return c.EngineParams().Validate()
}

// EngineParams converts the engine section into
// engine.Params.
func (c *Config) EngineParams() engine.Params {
	return engine.Params{
		NumIter:           c.Engine.NumIter,
		NumIterContiguous: c.Engine.NumIterContiguous,
		ProbeSupport:      c.Engine.ProbeSupport,
	}
}
