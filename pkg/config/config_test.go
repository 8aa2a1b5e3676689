package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		old, had := os.LookupEnv(k)
		os.Setenv(k, v)
		defer func(k string, old string, had bool) {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		}(k, old, had)
	}
	fn()
}

func TestLoadAppliesDefaults(t *testing.T) {
	withEnv(t, map[string]string{"QNET_NODE_ID": "", "QNET_NODE_TYPE": ""}, func() {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.NodeType != "light" {
			t.Fatalf("expected default node type light, got %s", cfg.NodeType)
		}
		if cfg.MinReveals != 2 {
			t.Fatalf("expected default min reveals 2, got %d", cfg.MinReveals)
		}
	})
}

func TestValidateRequiresNodeIdentity(t *testing.T) {
	cfg := &Config{NodeType: "light", MinReveals: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing node ID and wallet")
	}
}

func TestValidateRejectsUnknownNodeType(t *testing.T) {
	cfg := &Config{
		NodeID:           "node-1",
		WalletAddress:    "wallet-1",
		DilithiumKeyPath: "/keys/node-1.key",
		NodeType:         "ultra",
		MinReveals:       2,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown node type")
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := &Config{
		NodeID:           "node-1",
		WalletAddress:    "wallet-1",
		DilithiumKeyPath: "/keys/node-1.key",
		NodeType:         "full",
		MinReveals:       2,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestParsePeerListTrimsAndSkipsEmpty(t *testing.T) {
	peers := parsePeerList(" node-a@10.0.0.1:26656 , , node-b@10.0.0.2:26656")
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d: %v", len(peers), peers)
	}
	if peers[0] != "node-a@10.0.0.1:26656" || peers[1] != "node-b@10.0.0.2:26656" {
		t.Fatalf("unexpected peer list: %v", peers)
	}
}
