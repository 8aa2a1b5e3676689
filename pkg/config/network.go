// Copyright 2025 QNet Project

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so network config files can express
// timings as "60s" rather than raw nanosecond integers, mirroring the
// teacher's anchor config Duration wrapper.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// PeerSeed is one bootstrap peer entry in a network's genesis peer list.
type PeerSeed struct {
	NodeID    string `yaml:"node_id"`
	Address   string `yaml:"address"`
	PubKeyHex string `yaml:"pub_key"`
}

// NetworkConfig is the network-wide (as opposed to per-node) configuration
// shared by every participant of a given QNet deployment: genesis peer
// set, initial validator roster, and the round-driver defaults a fresh
// node should start from before difficulty self-adjustment takes over.
type NetworkConfig struct {
	ChainID      string     `yaml:"chain_id"`
	GenesisTime  time.Time  `yaml:"genesis_time"`
	BootstrapSet []PeerSeed `yaml:"bootstrap_peers"`
	InitialValidators []string `yaml:"initial_validators"`

	Consensus NetworkConsensusDefaults `yaml:"consensus"`
	Lifecycle NetworkLifecycleDefaults `yaml:"lifecycle"`
}

// NetworkConsensusDefaults seeds a fresh node's C5 Config before any
// rounds have run to let difficulty self-adjustment refine it.
type NetworkConsensusDefaults struct {
	TCommit             Duration `yaml:"t_commit"`
	TReveal             Duration `yaml:"t_reveal"`
	MinReveals          int      `yaml:"min_reveals"`
	MaxTxsPerMicroblock int      `yaml:"max_txs_per_microblock"`
	TargetBlockTime     Duration `yaml:"target_block_time"`
	InitialDifficulty   float64  `yaml:"initial_difficulty"`
}

// NetworkLifecycleDefaults lets a deployment tune C4's reward-window
// sizing without recompiling; the penalty table itself stays fixed.
type NetworkLifecycleDefaults struct {
	PingSlots     int      `yaml:"ping_slots"`
	RewardWindow  Duration `yaml:"reward_window"`
	PingTimeout   Duration `yaml:"ping_timeout"`
}

// LoadNetworkConfig reads and parses a network configuration file.
func LoadNetworkConfig(path string) (*NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read network config %s: %w", path, err)
	}

	var nc NetworkConfig
	if err := yaml.Unmarshal(data, &nc); err != nil {
		return nil, fmt.Errorf("config: parse network config %s: %w", path, err)
	}
	nc.applyDefaults()
	return &nc, nil
}

func (nc *NetworkConfig) applyDefaults() {
	if nc.Consensus.TCommit == 0 {
		nc.Consensus.TCommit = Duration(60 * time.Second)
	}
	if nc.Consensus.TReveal == 0 {
		nc.Consensus.TReveal = Duration(30 * time.Second)
	}
	if nc.Consensus.MinReveals == 0 {
		nc.Consensus.MinReveals = 2
	}
	if nc.Consensus.MaxTxsPerMicroblock == 0 {
		nc.Consensus.MaxTxsPerMicroblock = 2000
	}
	if nc.Consensus.TargetBlockTime == 0 {
		nc.Consensus.TargetBlockTime = Duration(60 * time.Second)
	}
	if nc.Consensus.InitialDifficulty == 0 {
		nc.Consensus.InitialDifficulty = 1.0
	}
	if nc.Lifecycle.PingSlots == 0 {
		nc.Lifecycle.PingSlots = 240
	}
	if nc.Lifecycle.RewardWindow == 0 {
		nc.Lifecycle.RewardWindow = Duration(4 * time.Hour)
	}
	if nc.Lifecycle.PingTimeout == 0 {
		nc.Lifecycle.PingTimeout = Duration(60 * time.Second)
	}
}

// Validate checks the network config is internally consistent.
func (nc *NetworkConfig) Validate() error {
	if nc.ChainID == "" {
		return fmt.Errorf("config: chain_id is required")
	}
	if len(nc.BootstrapSet) == 0 {
		return fmt.Errorf("config: at least one bootstrap peer is required")
	}
	if nc.Consensus.MinReveals < 1 {
		return fmt.Errorf("config: consensus.min_reveals must be at least 1")
	}
	return nil
}
