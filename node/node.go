// Copyright 2024 The go-oslo Authors
// This file is part of the go-oslo library.
//
// The go-oslo library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-oslo library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-oslo library. If not, see <http://www.gnu.org/licenses/>.

// Package node assembles the consensus core: it wires the ledger, block
// processor, election engine, vote pipeline and cementing processor
// together and exposes the message entry points the network layer calls.
package node

import (
	"runtime"

	"github.com/oslocurrency/go-oslo/consensus"
	"github.com/oslocurrency/go-oslo/core"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
	"github.com/oslocurrency/go-oslo/work"
)

// Config aggregates the tunables of every subsystem.
type Config struct {
	Consensus              consensus.Config
	BlockProcessor         core.BlockProcessorConfig
	ConfirmationHeightMode core.ConfirmationHeightMode
	// SigCheckerWorkers sizes the verification pool; zero selects half the
	// hardware threads.
	SigCheckerWorkers int
	// FilterBytes bounds the network duplicate filter.
	FilterBytes int
}

// DefaultConfig returns the live-network configuration.
func DefaultConfig() Config {
	return Config{
		Consensus:         consensus.DefaultConfig(),
		BlockProcessor:    core.DefaultBlockProcessorConfig(),
		SigCheckerWorkers: runtime.NumCPU() / 2,
		FilterBytes:       32 << 20,
	}
}

// TestConfig returns the test-network configuration.
func TestConfig() Config {
	config := DefaultConfig()
	config.Consensus = consensus.TestConfig()
	config.BlockProcessor.BatchMaxTime = config.Consensus.BaseLatency
	config.SigCheckerWorkers = 1
	config.FilterBytes = 1 << 20
	return config
}

// Dependencies are the external collaborators the core consumes through
// interfaces: transport, bootstrap, proof-of-work and wallet keys.
type Dependencies struct {
	Store     store.Store
	Constants ledger.Constants

	Network   network.Network
	Bootstrap network.BootstrapInitiator
	Reps      consensus.RepProvider
	LocalReps consensus.LocalRepProvider

	WorkValidator work.Validator
	WorkGenerator work.Generator

	Logger   log.Logger
	Registry *metrics.Registry
}

// Node is the assembled consensus core.
type Node struct {
	Config   Config
	Logger   log.Logger
	Registry *metrics.Registry

	Ledger     *ledger.Ledger
	WriteQueue *core.WriteQueue
	Checker    *crypto.SignatureChecker
	Filter     *network.Filter

	OnlineReps         *consensus.OnlineReps
	VotesCache         *consensus.VotesCache
	GapCache           *consensus.GapCache
	Active             *consensus.ActiveElections
	VoteProcessor      *consensus.VoteProcessor
	VoteGenerator      *consensus.VoteGenerator
	BlockProcessor     *core.BlockProcessor
	ConfirmationHeight *core.ConfirmationHeightProcessor

	deps Dependencies
}

// New wires the core in dependency order: ledger and checker first, then
// the caches, the cementing processor, the election engine, the vote
// pipeline and finally the block processor.
func New(config Config, deps Dependencies) *Node {
	logger := deps.Logger
	if logger == nil {
		logger = log.Root()
	}
	registry := deps.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	n := &Node{Config: config, Logger: logger, Registry: registry, deps: deps}
	n.WriteQueue = core.NewWriteQueue()
	n.Checker = crypto.NewSignatureChecker(config.SigCheckerWorkers)
	n.Filter = network.NewFilter(config.FilterBytes)
	n.Ledger = ledger.New(deps.Store, deps.Constants, deps.WorkValidator, registry, logger.New("unit", "ledger"))

	n.OnlineReps = consensus.NewOnlineReps(n.Ledger, n.WriteQueue, &config.Consensus)
	n.VotesCache = consensus.NewVotesCache(config.Consensus.VotesCacheSize)
	n.GapCache = consensus.NewGapCache(n.Ledger, n.OnlineReps, deps.Bootstrap, &config.Consensus, registry, logger.New("unit", "gapcache"))

	n.ConfirmationHeight = core.NewConfirmationHeightProcessor(n.Ledger, n.WriteQueue, config.ConfirmationHeightMode, registry, logger.New("unit", "confheight"))
	n.Active = consensus.NewActiveElections(&config.Consensus, n.Ledger, n.VotesCache, n.OnlineReps, n.ConfirmationHeight, deps.Network, n.Filter, deps.Reps, registry, logger.New("unit", "active"))
	n.VoteProcessor = consensus.NewVoteProcessor(n.Checker, n.Active, n.GapCache, n.OnlineReps, n.Ledger, &config.Consensus, registry, logger.New("unit", "voteprocessor"))
	if deps.LocalReps != nil {
		n.VoteGenerator = consensus.NewVoteGenerator(&config.Consensus, deps.LocalReps, n.VotesCache, n.VoteProcessor, deps.Network, registry, logger.New("unit", "votegenerator"))
	}
	n.BlockProcessor = core.NewBlockProcessor(config.BlockProcessor, n.Ledger, n.WriteQueue, n.Checker, deps.Network, n.Filter, registry, logger.New("unit", "blockprocessor"))

	n.wire()
	return n
}

// wire connects the observer graph. All registration happens before Start.
func (n *Node) wire() {
	n.BlockProcessor.SetGapObserver(n.GapCache)
	n.BlockProcessor.SubscribeProcessed(func(result ledger.ProcessResult, block *types.Block, origin core.BlockOrigin) {
		switch result {
		case ledger.Progress:
			n.GapCache.Erase(block.Hash())
			n.Active.StartElection(block, nil)
		case ledger.Fork:
			n.Active.PublishFork(block)
		}
	})
	if n.VoteGenerator != nil {
		n.BlockProcessor.SetVoteArm(n.VoteGenerator.Add)
	}
	if n.deps.WorkGenerator != nil {
		watcher := newWorkWatcher(n)
		n.Active.SetWorkRegen(watcher.watch)
		n.BlockProcessor.SetRequeueInvalid(watcher.regenerate)
	}
	n.ConfirmationHeight.AddCementedObserver(func(block *types.Block) {
		n.Active.BlockCemented(block)
	})
}

// Start launches every processing thread.
func (n *Node) Start() {
	n.BlockProcessor.Start()
	n.VoteProcessor.Start()
	n.ConfirmationHeight.Start()
	n.Active.Start()
	if n.VoteGenerator != nil {
		n.VoteGenerator.Start()
	}
	n.VoteProcessor.CalculateWeights()
}

// Stop terminates the threads in reverse order.
func (n *Node) Stop() {
	if n.VoteGenerator != nil {
		n.VoteGenerator.Stop()
	}
	n.Active.Stop()
	n.ConfirmationHeight.Stop()
	n.VoteProcessor.Stop()
	n.BlockProcessor.Stop()
}

// OnPublish is the entry point for publish messages from peers.
func (n *Node) OnPublish(block *types.Block) {
	if n.BlockProcessor.Full() {
		metrics.GetOrRegisterCounter("oslo/message/publish/dropped", n.Registry).Inc(1)
		return
	}
	n.BlockProcessor.Add(block, core.OriginRemote)
}

// OnConfirmReq answers a peer's confirmation request: known confirmed
// blocks and current election winners are voted on through the generator;
// the block form also enters the processor.
func (n *Node) OnConfirmReq(pairs []network.RootHash, block *types.Block) {
	if block != nil {
		n.OnPublish(block)
		pairs = append(pairs, network.RootHash{Hash: block.Hash(), Root: block.Root()})
	}
	if n.VoteGenerator == nil {
		return
	}
	txn := n.Ledger.Store.BeginRead()
	defer txn.Discard()
	for _, pair := range pairs {
		if election := n.Active.ElectionByBlock(pair.Hash); election != nil {
			n.VoteGenerator.Add(election.Status.Winner.Hash())
			continue
		}
		if n.Ledger.BlockConfirmed(txn, pair.Hash) {
			n.VoteGenerator.Add(pair.Hash)
		}
	}
}

// OnConfirmAck routes a vote from a peer into the vote processor.
func (n *Node) OnConfirmAck(vote *types.Vote, channel network.Channel) {
	n.VoteProcessor.Vote(vote, channel)
}

// ProcessLocal submits a locally created block, bypassing remote admission.
func (n *Node) ProcessLocal(block *types.Block) {
	n.BlockProcessor.Add(block, core.OriginLocal)
}

// BlockConfirm starts an election for the given stored block, used by
// frontier confirmation sweeps and tests.
func (n *Node) BlockConfirm(block *types.Block) consensus.InsertResult {
	return n.Active.StartElection(block, nil)
}

// Flush drains the ingestion pipelines, for tests.
func (n *Node) Flush() {
	n.BlockProcessor.Flush()
	n.VoteProcessor.Flush()
}
