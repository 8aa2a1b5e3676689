// Copyright 2025 QNet Project
//
// Command qnetd runs a single QNet node: it loads configuration, opens the
// chain store over an embedded KV engine, loads or generates this node's
// Dilithium keypair, wires pkg/core, and serves /health and /metrics while
// the round driver runs in the background. It follows the teacher's
// main.go idiom of config.Load -> dependency construction -> HTTP server ->
// signal.Notify shutdown, generalized to C1-C5 instead of the teacher's
// CometBFT/ABCI/batch-anchoring stack.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/qnet-project/qnet-core/pkg/chainstore/kvdb"
	"github.com/qnet-project/qnet-core/pkg/config"
	"github.com/qnet-project/qnet-core/pkg/core"
	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/lifecycle"
	"github.com/qnet-project/qnet-core/pkg/lifecycle/pgstore"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		nodeIDFlag = flag.String("node-id", "", "Node ID (overrides QNET_NODE_ID env var)")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("qnetd: load configuration: %v", err)
	}
	if *nodeIDFlag != "" {
		cfg.NodeID = *nodeIDFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("qnetd: %v", err)
	}

	var netCfg *config.NetworkConfig
	if cfg.NetworkConfigPath != "" {
		netCfg, err = config.LoadNetworkConfig(cfg.NetworkConfigPath)
		if err != nil {
			log.Fatalf("qnetd: load network config: %v", err)
		}
		log.Printf("qnetd: loaded network config %q (chain_id=%s, %d bootstrap peers)", cfg.NetworkConfigPath, netCfg.ChainID, len(netCfg.BootstrapSet))
	}

	sk, pk, err := loadOrGenerateKeypair(cfg.DilithiumKeyPath)
	if err != nil {
		log.Fatalf("qnetd: load signing key: %v", err)
	}
	log.Printf("qnetd: node %s operating as %s, pubkey %x", cfg.NodeID, cfg.NodeType, pk.Bytes()[:8])

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("qnetd: create data dir: %v", err)
	}
	db, err := dbm.NewGoLevelDB("qnet-chainstate", cfg.DataDir)
	if err != nil {
		log.Fatalf("qnetd: open chain database: %v", err)
	}
	defer db.Close()
	kv := kvdb.NewKVAdapter(db)

	var lifecycleStore lifecycle.PersistentStore
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		store, err := pgstore.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
		cancel()
		if err != nil {
			if cfg.DatabaseRequired {
				log.Fatalf("qnetd: lifecycle database REQUIRED but failed: %v", err)
			}
			log.Printf("qnetd: lifecycle database connection failed, running without a durability mirror: %v", err)
		} else {
			lifecycleStore = store
		}
	}

	peerKeys, err := loadPeerPublicKeys(netCfg)
	if err != nil {
		log.Fatalf("qnetd: load peer public keys: %v", err)
	}

	c := core.New(cfg, core.Dependencies{
		KV:             kv,
		LifecycleStore: lifecycleStore,
		Oracle:         newActivationOracle(cfg),
		SigningKey:     sk,
		PeerPublicKeys: peerKeys,
		Logger:         log.New(log.Writer(), "[core] ", log.LstdFlags),
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	log.Printf("qnetd: round driver started")

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics().Handler())
	mux.HandleFunc("/health", healthHandler(c, cfg.NodeID))
	mux.HandleFunc("/activate", activateHandler(c))
	mux.HandleFunc("/tx", submitTransactionHandler(c))

	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: mux}
	go func() {
		log.Printf("qnetd: health/metrics listening on %s", cfg.HealthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("qnetd: health server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("qnetd: shutting down")
	cancel()
	c.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("qnetd: health server shutdown error: %v", err)
	}
	log.Printf("qnetd: stopped")
}

type healthResponse struct {
	Status        string `json:"status"`
	NodeID        string `json:"node_id"`
	ChainHeight   int64  `json:"chain_height"`
	MempoolSize   int    `json:"mempool_size"`
	ActiveNodes   uint64 `json:"active_nodes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

var processStart = time.Now()

func healthHandler(c *core.Core, nodeID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		height, err := c.Store().Height()
		if err != nil {
			status = "degraded"
		}

		resp := healthResponse{
			Status:        status,
			NodeID:        nodeID,
			ChainHeight:   height,
			MempoolSize:   c.Pool().Size(),
			ActiveNodes:   c.Registry().ActiveNodeCount(),
			UptimeSeconds: int64(time.Since(processStart).Seconds()),
		}
		w.Header().Set("Content-Type", "application/json")
		if status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type activateRequest struct {
	WalletAddress string            `json:"wallet_address"`
	ProofRef      string            `json:"proof_ref"`
	NodeType      lifecycle.NodeType `json:"node_type"`
	RegionHint    string            `json:"region_hint"`
	Phase         int               `json:"phase"`
	TotalBurned   uint64            `json:"total_burned"`
}

// activateHandler exposes Core.Activate over HTTP for the qnet-activate CLI
// (and any future operator tooling) to drive, following the teacher's
// mux.HandleFunc("/api/...", handler) pattern of thin JSON-in/JSON-out
// wrappers around a single Core operation.
func activateHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req activateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}

		result, err := c.Activate(req.WalletAddress, req.ProofRef, req.NodeType, req.RegionHint, req.Phase, req.TotalBurned)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

// submitTransactionHandler exposes Core.SubmitTransaction over HTTP so a
// wallet or bridge process outside this module can hand transactions to
// the mempool without linking against it directly.
func submitTransactionHandler(c *core.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var tx wire.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			http.Error(w, fmt.Sprintf("decode transaction: %v", err), http.StatusBadRequest)
			return
		}

		result := c.SubmitTransaction(tx)
		w.Header().Set("Content-Type", "application/json")
		if !result.Accepted {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		_ = json.NewEncoder(w).Encode(result)
	}
}

// loadOrGenerateKeypair loads a Dilithium private key from keyPath, or
// generates and persists a fresh one if the file does not exist yet,
// mirroring the teacher's loadOrGenerateEd25519Key: never derive a node's
// signing identity from its node ID or any other guessable value.
func loadOrGenerateKeypair(keyPath string) (*envelope.PrivateKey, *envelope.PublicKey, error) {
	if keyPath == "" {
		return nil, nil, fmt.Errorf("qnetd: signing key path is empty")
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		sk, err := envelope.PrivateKeyFromBytes(data)
		if err != nil {
			return nil, nil, fmt.Errorf("qnetd: parse signing key at %s: %w", keyPath, err)
		}
		return sk, sk.Public(), nil
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("qnetd: read signing key at %s: %w", keyPath, err)
	}

	sk, pk, err := envelope.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("qnetd: generate signing key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("qnetd: create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, sk.Bytes(), 0o600); err != nil {
		return nil, nil, fmt.Errorf("qnetd: persist signing key at %s: %w", keyPath, err)
	}
	log.Printf("qnetd: generated a new signing key at %s", keyPath)
	return sk, pk, nil
}

// loadPeerPublicKeys turns a NetworkConfig's bootstrap peer set into the
// verification-key map pkg/consensus needs to check commit/reveal/
// microblock signatures. A peer seed without a published key is skipped:
// it can still sync, it just cannot be counted as a consensus signer until
// its key is known.
func loadPeerPublicKeys(netCfg *config.NetworkConfig) (map[string]*envelope.PublicKey, error) {
	keys := make(map[string]*envelope.PublicKey)
	if netCfg == nil {
		return keys, nil
	}
	for _, peer := range netCfg.BootstrapSet {
		if peer.PubKeyHex == "" {
			continue
		}
		raw, err := decodeHexKey(peer.PubKeyHex)
		if err != nil {
			return nil, fmt.Errorf("qnetd: decode public key for peer %s: %w", peer.NodeID, err)
		}
		pk, err := envelope.PublicKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("qnetd: parse public key for peer %s: %w", peer.NodeID, err)
		}
		keys[peer.NodeID] = pk
	}
	return keys, nil
}

// newActivationOracle wires HTTPOracle against the configured verification
// service, or falls back to a fail-closed oracle when none is configured so
// a misconfigured node cannot silently accept unverified activation proofs.
func newActivationOracle(cfg *config.Config) lifecycle.ActivationOracle {
	if cfg.ActivationOracleURL == "" {
		log.Printf("qnetd: no QNET_ACTIVATION_ORACLE_URL configured, activation proofs will be rejected")
		return lifecycle.DenyAllOracle{}
	}
	return lifecycle.NewHTTPOracle(cfg.ActivationOracleURL, 10*time.Second)
}

func decodeHexKey(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func printHelp() {
	fmt.Println(`qnetd - QNet permissioned proof-of-participation node daemon

Usage:
  qnetd [flags]

Flags:
  -node-id string   Node ID (overrides QNET_NODE_ID env var)
  -help             Show this help message

Configuration is otherwise read entirely from the environment; see
pkg/config for the full list of QNET_* variables.`)
}
