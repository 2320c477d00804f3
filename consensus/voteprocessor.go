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

package consensus

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
)

// VoteCode is the outcome of processing one vote.
type VoteCode int

const (
	// VoteInvalid marks a vote whose signature does not verify.
	VoteInvalid VoteCode = iota
	// VoteReplay marks a vote that did not advance any election.
	VoteReplay
	// VoteValid marks a vote applied to at least one election.
	VoteValid
	// VoteIndeterminate marks a vote for hashes without elections.
	VoteIndeterminate
)

// String implements the fmt.Stringer interface.
func (c VoteCode) String() string {
	switch c {
	case VoteInvalid:
		return "invalid"
	case VoteReplay:
		return "replay"
	case VoteValid:
		return "vote"
	default:
		return "indeterminate"
	}
}

// VoteObserverFn observes every processed vote with its outcome.
type VoteObserverFn func(vote *types.Vote, channel network.Channel, code VoteCode)

type queuedVote struct {
	vote    *types.Vote
	channel network.Channel
}

// VoteProcessor ingests votes from peers behind a three-tier
// random-early-drop queue: as the queue fills, only increasingly heavy
// representatives are admitted. Accepted votes are batch signature-verified
// on a dedicated thread and dispatched to the active election set.
type VoteProcessor struct {
	checker    core.SignatureChecker
	active     *ActiveElections
	gapCache   *GapCache
	onlineReps *OnlineReps
	ledger     *ledger.Ledger
	config     *Config
	registry   *metrics.Registry
	logger     log.Logger

	maxVotes int

	mu        sync.Mutex
	cond      *sync.Cond
	votes     []queuedVote
	reps1     mapset.Set[common.Account]
	reps2     mapset.Set[common.Account]
	reps3     mapset.Set[common.Account]
	verifying bool
	stopped   bool
	wg        sync.WaitGroup

	observers []VoteObserverFn
}

// NewVoteProcessor wires the processor. The gap cache may be nil.
func NewVoteProcessor(checker core.SignatureChecker, active *ActiveElections, gapCache *GapCache, onlineReps *OnlineReps, l *ledger.Ledger, config *Config, registry *metrics.Registry, logger log.Logger) *VoteProcessor {
	p := &VoteProcessor{
		checker:    checker,
		active:     active,
		gapCache:   gapCache,
		onlineReps: onlineReps,
		ledger:     l,
		config:     config,
		registry:   registry,
		logger:     logger,
		maxVotes:   config.VoteProcessorCapacity,
		reps1:      mapset.NewSet[common.Account](),
		reps2:      mapset.NewSet[common.Account](),
		reps3:      mapset.NewSet[common.Account](),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SubscribeVotes registers a vote observer. Must be called before Start.
func (p *VoteProcessor) SubscribeVotes(fn VoteObserverFn) {
	p.observers = append(p.observers, fn)
}

// Start launches the processing thread.
func (p *VoteProcessor) Start() {
	p.wg.Add(1)
	go p.processLoop()
}

// Stop terminates the thread after the in-flight batch.
func (p *VoteProcessor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// Vote offers a vote for processing. Returns true when the vote was dropped
// by admission control; dropped votes are counted, never fatal.
func (p *VoteProcessor) Vote(vote *types.Vote, channel network.Channel) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return true
	}
	admitted := false
	fill := len(p.votes)
	switch {
	case fill < 6*p.maxVotes/9:
		admitted = true
	case fill < 7*p.maxVotes/9:
		admitted = p.reps1.Contains(vote.Account)
	case fill < 8*p.maxVotes/9:
		admitted = p.reps2.Contains(vote.Account)
	case fill < p.maxVotes:
		admitted = p.reps3.Contains(vote.Account)
	}
	if admitted {
		p.votes = append(p.votes, queuedVote{vote: vote, channel: channel})
		p.mu.Unlock()
		p.cond.Broadcast()
	} else {
		p.mu.Unlock()
		metrics.GetOrRegisterCounter("oslo/vote/overflow", p.registry).Inc(1)
	}
	return !admitted
}

// Flush blocks while votes are queued or a batch is verifying.
func (p *VoteProcessor) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.stopped && (p.verifying || len(p.votes) > 0) {
		p.cond.Wait()
	}
}

// Size returns the queued vote count.
func (p *VoteProcessor) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.votes)
}

// Empty reports whether the queue is drained.
func (p *VoteProcessor) Empty() bool {
	return p.Size() == 0
}

func (p *VoteProcessor) processLoop() {
	defer p.wg.Done()
	p.mu.Lock()
	for !p.stopped {
		if len(p.votes) > 0 {
			batch := p.votes
			p.votes = nil
			p.verifying = true
			p.mu.Unlock()

			p.verifyVotes(batch)

			p.mu.Lock()
			p.verifying = false
			p.cond.Broadcast()
		} else {
			p.cond.Wait()
		}
	}
	p.mu.Unlock()
}

// verifyVotes batch-checks signatures and dispatches the valid votes.
func (p *VoteProcessor) verifyVotes(batch []queuedVote) {
	set := &crypto.SignatureCheckSet{
		Messages:      make([]common.Hash, len(batch)),
		PubKeys:       make([]common.Account, len(batch)),
		Signatures:    make([]common.Signature, len(batch)),
		Verifications: make([]int, len(batch)),
	}
	for i, queued := range batch {
		set.Messages[i] = queued.vote.Digest()
		set.PubKeys[i] = queued.vote.Account
		set.Signatures[i] = queued.vote.Signature
	}
	p.checker.Verify(set)
	for i, queued := range batch {
		if set.Verifications[i] == 1 {
			p.VoteBlocking(queued.vote, queued.channel, true)
		} else {
			p.notify(queued.vote, queued.channel, VoteInvalid)
			metrics.GetOrRegisterCounter("oslo/vote/invalid", p.registry).Inc(1)
		}
	}
}

// VoteBlocking applies one vote synchronously, returning its outcome. The
// validated flag skips re-verification for votes out of the batch pipeline.
func (p *VoteProcessor) VoteBlocking(vote *types.Vote, channel network.Channel, validated bool) VoteCode {
	code := VoteInvalid
	if validated || !vote.Validate() {
		code = p.active.Vote(vote)
		if p.gapCache != nil {
			p.gapCache.Vote(vote)
		}
		p.onlineReps.Observe(vote.Account)
		p.notify(vote, channel, code)
	}
	metrics.GetOrRegisterCounter("oslo/vote/"+code.String(), p.registry).Inc(1)
	if p.logger.Enabled(context.Background(), log.LevelTrace) {
		p.logger.Trace("Vote processed", "account", vote.Account, "sequence", vote.Sequence,
			"hashes", vote.HashesString(), "status", code)
	}
	return code
}

func (p *VoteProcessor) notify(vote *types.Vote, channel network.Channel, code VoteCode) {
	for _, fn := range p.observers {
		fn(vote, channel, code)
	}
}

// CalculateWeights recomputes the representative tiers against the current
// online stake: ≥0.1%, ≥1% and ≥5%.
func (p *VoteProcessor) CalculateWeights() {
	supply := p.onlineReps.OnlineStake()
	tier1 := new(uint256.Int).Div(supply, uint256.NewInt(1000))
	tier2 := new(uint256.Int).Div(supply, uint256.NewInt(100))
	tier3 := new(uint256.Int).Div(supply, uint256.NewInt(20))

	reps1 := mapset.NewSet[common.Account]()
	reps2 := mapset.NewSet[common.Account]()
	reps3 := mapset.NewSet[common.Account]()
	for rep, weight := range p.ledger.RepWeights.Amounts() {
		if weight.Gt(tier1) {
			reps1.Add(rep)
			if weight.Gt(tier2) {
				reps2.Add(rep)
				if weight.Gt(tier3) {
					reps3.Add(rep)
				}
			}
		}
	}
	p.mu.Lock()
	p.reps1, p.reps2, p.reps3 = reps1, reps2, reps3
	p.mu.Unlock()
}
