package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleNetworkYAML = `
chain_id: qnet-devnet-1
genesis_time: 2026-01-01T00:00:00Z
bootstrap_peers:
  - node_id: node-a
    address: 10.0.0.1:26656
    pub_key: deadbeef
initial_validators:
  - node-a
consensus:
  t_commit: 10s
  t_reveal: 5s
  min_reveals: 1
`

func writeTempNetworkConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "network.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp network config: %v", err)
	}
	return path
}

func TestLoadNetworkConfigParsesAndAppliesDefaults(t *testing.T) {
	path := writeTempNetworkConfig(t, sampleNetworkYAML)

	nc, err := LoadNetworkConfig(path)
	if err != nil {
		t.Fatalf("load network config: %v", err)
	}
	if nc.ChainID != "qnet-devnet-1" {
		t.Fatalf("unexpected chain id: %s", nc.ChainID)
	}
	if len(nc.BootstrapSet) != 1 || nc.BootstrapSet[0].NodeID != "node-a" {
		t.Fatalf("unexpected bootstrap set: %+v", nc.BootstrapSet)
	}
	if nc.Consensus.TCommit.Duration() != 10*time.Second {
		t.Fatalf("expected t_commit 10s, got %s", nc.Consensus.TCommit.Duration())
	}
	// target_block_time was omitted, default should apply.
	if nc.Consensus.TargetBlockTime.Duration() != 60*time.Second {
		t.Fatalf("expected default target block time 60s, got %s", nc.Consensus.TargetBlockTime.Duration())
	}
	if nc.Lifecycle.PingSlots != 240 {
		t.Fatalf("expected default ping slots 240, got %d", nc.Lifecycle.PingSlots)
	}
}

func TestNetworkConfigValidateRequiresBootstrapPeers(t *testing.T) {
	nc := &NetworkConfig{ChainID: "qnet-devnet-1"}
	nc.applyDefaults()
	if err := nc.Validate(); err == nil {
		t.Fatalf("expected validation error for empty bootstrap set")
	}
}

func TestNetworkConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	path := writeTempNetworkConfig(t, sampleNetworkYAML)
	nc, err := LoadNetworkConfig(path)
	if err != nil {
		t.Fatalf("load network config: %v", err)
	}
	if err := nc.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
