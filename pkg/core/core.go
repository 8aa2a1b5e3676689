// Copyright 2025 QNet Project
//
// Package core wires C1-C5 together into the facade a host process (or, out
// of this module's scope, an API server) drives: pkg/chainstore for
// confirmed state, pkg/mempool for unconfirmed transactions, pkg/lifecycle
// for reputation/penalties, pkg/consensus for the round driver, and
// pkg/eventbus carrying violation and round-outcome events between them.
// Core itself holds no business logic beyond adapting one component's
// return shape to another's input shape and translating results into the
// External Interfaces operations of spec.md §6; every actual rule lives in
// the component packages.
package core

import (
	"context"
	"log"

	"github.com/qnet-project/qnet-core/pkg/chainstore"
	"github.com/qnet-project/qnet-core/pkg/config"
	"github.com/qnet-project/qnet-core/pkg/consensus"
	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/eventbus"
	"github.com/qnet-project/qnet-core/pkg/lifecycle"
	"github.com/qnet-project/qnet-core/pkg/mempool"
	"github.com/qnet-project/qnet-core/pkg/telemetry"
)

// Core bundles every component handle a node process needs, replacing the
// teacher's (and the Python source's) module-level globals with a single
// struct passed by reference into every task constructor.
type Core struct {
	cfg      *config.Config
	store    *chainstore.Store
	pool     *mempool.Mempool
	registry *lifecycle.Registry
	engine   *consensus.Engine
	bus      *eventbus.Bus
	metrics  *telemetry.Metrics
	oracle   lifecycle.ActivationOracle

	nodeID string
	sk     *envelope.PrivateKey

	logger *log.Logger

	stopSubscribers context.CancelFunc
}

// Dependencies bundles the constructor arguments Core cannot build for
// itself: storage engines, the activation oracle, this node's keypair, and
// every consensus-eligible peer's public key.
type Dependencies struct {
	KV              chainstore.KV
	LifecycleStore  lifecycle.PersistentStore // may be nil for a pure in-memory registry
	Oracle          lifecycle.ActivationOracle
	SigningKey      *envelope.PrivateKey
	PeerPublicKeys  map[string]*envelope.PublicKey
	Logger          *log.Logger
}

// New constructs a fully wired Core from a loaded Config and its
// Dependencies. It does not start any background task; call Start for that.
func New(cfg *config.Config, deps Dependencies) *Core {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	store := chainstore.New(deps.KV)
	pool := mempool.New(cfg.MempoolMaxSize, cfg.MempoolMinGasPrice)
	registry := lifecycle.NewRegistry(deps.LifecycleStore)
	bus := eventbus.New()
	metrics := telemetry.New()

	consensusCfg := consensus.Config{
		TCommit:               cfg.TCommit,
		TReveal:               cfg.TReveal,
		MinReveals:            cfg.MinReveals,
		MaxTxsPerMicroblock:   cfg.MaxTxsPerMicroblock,
		TargetBlockTime:       cfg.TargetBlockTime,
		DifficultyAdjustEvery: cfg.DifficultyAdjustEvery,
		MicroblockBudget:      cfg.MicroblockBudget,
	}
	chain := chainAccountView{store: store}
	engine := consensus.NewEngine(consensusCfg, store, pool, chain, bus, registry, cfg.NodeID, deps.SigningKey, deps.PeerPublicKeys, logger)

	return &Core{
		cfg:      cfg,
		store:    store,
		pool:     pool,
		registry: registry,
		engine:   engine,
		bus:      bus,
		metrics:  metrics,
		oracle:   deps.Oracle,
		nodeID:   cfg.NodeID,
		sk:       deps.SigningKey,
		logger:   logger,
	}
}

// Start launches the round driver and the event-bus subscriber goroutines
// that forward C5's violation and round-outcome events into C4 and
// pkg/telemetry. Safe to call once per Core lifetime.
func (c *Core) Start(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	c.stopSubscribers = cancel
	go c.consumeViolations(subCtx)
	go c.consumeRoundOutcomes(subCtx)
	c.engine.Start(ctx)
}

// Stop halts the round driver and the subscriber goroutines.
func (c *Core) Stop() {
	c.engine.Stop()
	if c.stopSubscribers != nil {
		c.stopSubscribers()
	}
}

// Metrics exposes the Prometheus collector set for wiring an HTTP /metrics
// endpoint in the entrypoint.
func (c *Core) Metrics() *telemetry.Metrics { return c.metrics }

// Store exposes the chain store for read-only query handlers (GetAccount,
// GetBlock, ...) an out-of-tree API server would serve directly.
func (c *Core) Store() *chainstore.Store { return c.store }

// Registry exposes the lifecycle registry for status queries.
func (c *Core) Registry() *lifecycle.Registry { return c.registry }

// Pool exposes the mempool for status queries (size, pending counts).
func (c *Core) Pool() *mempool.Mempool { return c.pool }
