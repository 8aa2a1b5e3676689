// Copyright 2025 QNet Project

package consensus

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/qnet-project/qnet-core/pkg/chainstore"
	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/eventbus"
	"github.com/qnet-project/qnet-core/pkg/mempool"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// engineState mirrors the teacher's batch.SchedulerState idiom: a small
// mutex-guarded state machine driving a single background goroutine.
type engineState int

const (
	stateStopped engineState = iota
	stateRunning
	statePaused
)

// ingressQueueSize bounds how many out-of-band commits/reveals/microblocks
// the round driver will buffer from the network demux (T2); once a queue
// is full, newly submitted messages are dropped, so a slow or absent
// network layer never blocks T1's round tick.
const ingressQueueSize = 512

// Engine is the round driver (T1): it ticks once per TargetBlockTime,
// drives the commit-reveal election, produces microblocks when this node
// is the elected leader, seals the macroblock at round end, and publishes
// violations and round outcomes onto the event bus. Network I/O lives
// outside this type; the chain store append at round end runs inline on
// the round goroutine, so with the kvdb adapter it includes a synchronous
// disk write.
type Engine struct {
	cfg         Config
	store       *chainstore.Store
	pool        *mempool.Mempool
	chain       mempool.AccountView
	bus         *eventbus.Bus
	watcher     *SlashWatcher
	eligibility EligibilitySource

	nodeID string
	sk     *envelope.PrivateKey

	peerPubKeys map[string]*envelope.PublicKey

	mu     sync.Mutex
	state  engineState
	round  uint64
	theta  float64
	stopCh chan struct{}
	doneCh chan struct{}

	commitIngress     chan wire.Commit
	revealIngress     chan wire.Reveal
	microblockIngress chan wire.Microblock

	logger *log.Logger
}

// NewEngine constructs a round driver for nodeID, signing with sk.
// peerPubKeys must contain every consensus-eligible node's public key,
// including this node's own, keyed by node ID.
func NewEngine(cfg Config, store *chainstore.Store, pool *mempool.Mempool, chain mempool.AccountView, bus *eventbus.Bus, eligibility EligibilitySource, nodeID string, sk *envelope.PrivateKey, peerPubKeys map[string]*envelope.PublicKey, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cfg:               cfg,
		store:             store,
		pool:              pool,
		chain:             chain,
		bus:               bus,
		watcher:           NewSlashWatcher(bus),
		eligibility:       eligibility,
		nodeID:            nodeID,
		sk:                sk,
		peerPubKeys:       peerPubKeys,
		theta:             1.0,
		commitIngress:     make(chan wire.Commit, ingressQueueSize),
		revealIngress:     make(chan wire.Reveal, ingressQueueSize),
		microblockIngress: make(chan wire.Microblock, ingressQueueSize),
		logger:            logger,
	}
}

// SubmitCommit hands a peer-received commit to the round driver. Safe to
// call from the network ingress task (T2); never blocks.
func (e *Engine) SubmitCommit(c wire.Commit) {
	select {
	case e.commitIngress <- c:
	default:
		e.logger.Printf("consensus: commit ingress full, dropping commit from %s for round %d", c.Proposer, c.Round)
	}
}

// SubmitReveal hands a peer-received reveal to the round driver.
func (e *Engine) SubmitReveal(r wire.Reveal) {
	select {
	case e.revealIngress <- r:
	default:
		e.logger.Printf("consensus: reveal ingress full, dropping reveal from %s for round %d", r.Proposer, r.Round)
	}
}

// SubmitMicroblock queues a peer-received microblock on the round driver's
// microblock ingress channel. Nothing in the engine reads that channel:
// queued microblocks are neither checked for equivocation nor validated.
func (e *Engine) SubmitMicroblock(mb wire.Microblock) {
	select {
	case e.microblockIngress <- mb:
	default:
		e.logger.Printf("consensus: microblock ingress full, dropping microblock from %s round %d index %d", mb.Validator, mb.Round, mb.Index)
	}
}

// Start launches the background round-driver loop, ticking once per
// TargetBlockTime. It is a no-op if already running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.state == stateRunning {
		e.mu.Unlock()
		return
	}
	e.state = stateRunning
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx)
}

// Stop halts the round driver and waits for its goroutine to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != stateRunning && e.state != statePaused {
		e.mu.Unlock()
		return
	}
	stopCh := e.stopCh
	doneCh := e.doneCh
	e.state = stateStopped
	e.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.TargetBlockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.mu.Lock()
			running := e.state == stateRunning
			e.mu.Unlock()
			if !running {
				continue
			}
			if _, err := e.RunRound(ctx, now); err != nil {
				e.logger.Printf("consensus: round %d failed: %v", e.round, err)
			}
		}
	}
}

// RunRound executes one full macro round synchronously: commit phase,
// reveal phase, winner determination, microblock production by the
// elected leader, and macroblock sealing. It is exported so tests and an
// operator CLI can drive single rounds deterministically without waiting
// on the ticker.
func (e *Engine) RunRound(ctx context.Context, now time.Time) (RoundResult, error) {
	e.mu.Lock()
	round := e.round
	theta := e.theta
	e.mu.Unlock()

	roundStart := time.Now()
	board := NewCommitBoard(round)

	ownCommit, value, nonce, err := GenerateCommit(e.sk, round, e.nodeID, now.Unix())
	if err != nil {
		return RoundResult{}, fmt.Errorf("consensus: generating own commit: %w", err)
	}
	if err := board.AcceptCommit(ownCommit, e.sk.Public(), now.Unix()); err != nil {
		return RoundResult{}, fmt.Errorf("consensus: accepting own commit: %w", err)
	}

	e.drainCommits(board, ctx, now.Add(e.cfg.TCommit))

	ownReveal := wire.Reveal{Round: round, Proposer: e.nodeID, Value: hex.EncodeToString(value), Nonce: hex.EncodeToString(nonce)}
	sig, err := SealRevealSignature(e.sk, ownReveal)
	if err != nil {
		return RoundResult{}, fmt.Errorf("consensus: sealing own reveal: %w", err)
	}
	ownReveal.Signature = sig
	if violation, err := board.AcceptReveal(ownReveal, e.sk.Public()); err != nil || violation {
		return RoundResult{}, fmt.Errorf("consensus: accepting own reveal: %w", err)
	}

	e.drainReveals(board, ctx, now.Add(e.cfg.TCommit+e.cfg.TReveal))

	result := DetermineWinner(round, board.Reveals(), e.cfg.MinReveals, theta)

	e.bus.Publish(eventbus.RoundOutcomeEvent{Round: round, Sealed: result.Sealed, Leader: result.Leader, Reason: result.Reason})

	actualSeconds := time.Since(roundStart).Seconds()
	e.mu.Lock()
	e.round = round + 1
	if round > 0 && round%e.cfg.DifficultyAdjustEvery == 0 {
		e.theta = AdjustDifficulty(e.theta, e.cfg.TargetBlockTime.Seconds(), actualSeconds)
	}
	e.mu.Unlock()

	if !result.Sealed {
		return result, nil
	}

	if result.Leader != e.nodeID {
		return result, nil
	}

	mb, validation, err := BuildMicroblock(e.cfg, e.pool, e.chain, e.sk, round, 0, "", e.nodeID, now)
	if err != nil {
		e.watcher.ReportInvalidBlock(e.nodeID, err.Error())
		return result, fmt.Errorf("consensus: building microblock as leader: %w", err)
	}
	if validation.ExceedsWarningThreshold() {
		e.logger.Printf("consensus: round %d microblock production took %s, above the 600ms warning threshold", round, validation.CreateTime)
	}

	if _, err := e.watcher.Observe(mb); err != nil {
		e.logger.Printf("consensus: equivocation check failed for round %d: %v", round, err)
	}

	if _, err := SealMacroblock(e.store, []wire.Microblock{mb}, e.sk, e.nodeID, now); err != nil {
		e.watcher.ReportInvalidBlock(e.nodeID, err.Error())
		return result, fmt.Errorf("consensus: sealing macroblock for round %d: %w", round, err)
	}

	return result, nil
}

func (e *Engine) drainCommits(board *CommitBoard, ctx context.Context, deadline time.Time) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case c := <-e.commitIngress:
			pub, ok := e.peerPubKeys[c.Proposer]
			if !ok {
				continue
			}
			if !e.eligibility.IsEligibleForConsensus(c.Proposer) {
				continue
			}
			if err := board.AcceptCommit(c, pub, time.Now().Unix()); err != nil {
				e.logger.Printf("consensus: rejecting commit from %s: %v", c.Proposer, err)
			}
		}
	}
}

func (e *Engine) drainReveals(board *CommitBoard, ctx context.Context, deadline time.Time) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case r := <-e.revealIngress:
			pub, ok := e.peerPubKeys[r.Proposer]
			if !ok {
				continue
			}
			violation, err := board.AcceptReveal(r, pub)
			if violation {
				e.watcher.ReportInvalidBlock(r.Proposer, "reveal does not bind to stored commit hash")
			} else if err != nil {
				e.logger.Printf("consensus: rejecting reveal from %s: %v", r.Proposer, err)
			}
		}
	}
}

