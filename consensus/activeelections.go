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
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/common/mclock"
	"github.com/oslocurrency/go-oslo/core"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
)

// InsertResult reports the outcome of starting an election.
type InsertResult struct {
	Election *Election
	Inserted bool
}

// RepProvider supplies the current representative set for solicitation,
// refreshed each tick.
type RepProvider interface {
	Representatives() []network.Representative
}

// ConfirmedFn observes every confirmed election with its decided status.
type ConfirmedFn func(status ElectionStatus)

// ActiveElections owns the per-root election state machines: a mutex-guarded
// map from qualified root to election plus a block-hash index. The request
// loop drives every election through a fresh ConfirmationSolicitor each
// tick; network flushing happens outside the mutex.
type ActiveElections struct {
	config     *Config
	ledger     *ledger.Ledger
	votesCache *VotesCache
	onlineReps *OnlineReps
	cementing  *core.ConfirmationHeightProcessor
	net        network.Network
	filter     *network.Filter
	reps       RepProvider
	registry   *metrics.Registry
	logger     log.Logger

	// clock abstracts election timing; tests install a simulated clock.
	clock mclock.Clock

	// Mutex protects roots, blocks, and every election's vote state.
	// Holders must not perform network I/O.
	mu     sync.Mutex
	roots  map[common.QualifiedRoot]*Election
	blocks map[common.Hash]*Election

	flagMu  sync.Mutex
	flagged []*Election

	confirmedObservers []ConfirmedFn
	stoppedObservers   []func(common.Hash)
	workRegen          func(block *types.Block, difficulty uint64)

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewActiveElections wires the election set. The rep provider, network and
// filter may be nil in reduced deployments and tests.
func NewActiveElections(config *Config, l *ledger.Ledger, votesCache *VotesCache, onlineReps *OnlineReps, cementing *core.ConfirmationHeightProcessor, net network.Network, filter *network.Filter, reps RepProvider, registry *metrics.Registry, logger log.Logger) *ActiveElections {
	return &ActiveElections{
		config:     config,
		ledger:     l,
		votesCache: votesCache,
		onlineReps: onlineReps,
		cementing:  cementing,
		net:        net,
		filter:     filter,
		reps:       reps,
		registry:   registry,
		logger:     logger,
		clock:      mclock.System{},
		roots:      make(map[common.QualifiedRoot]*Election),
		blocks:     make(map[common.Hash]*Election),
		stop:       make(chan struct{}),
	}
}

// SubscribeConfirmed registers a confirmation observer. Call before Start.
func (a *ActiveElections) SubscribeConfirmed(fn ConfirmedFn) {
	a.confirmedObservers = append(a.confirmedObservers, fn)
}

// SubscribeStopped registers an observer for elections expiring without
// confirmation. Call before Start.
func (a *ActiveElections) SubscribeStopped(fn func(common.Hash)) {
	a.stoppedObservers = append(a.stoppedObservers, fn)
}

// SetWorkRegen registers the work-watcher hook regenerating stronger work
// for prioritized winners. Call before Start.
func (a *ActiveElections) SetWorkRegen(fn func(block *types.Block, difficulty uint64)) {
	a.workRegen = fn
}

// Start launches the request loop.
func (a *ActiveElections) Start() {
	a.wg.Add(1)
	go a.requestLoop()
}

// Stop terminates the request loop.
func (a *ActiveElections) Stop() {
	close(a.stop)
	a.wg.Wait()
}

// Insert creates the election for the block's root, or joins the block into
// the existing election as a fork candidate. New elections are seeded from
// the votes cache.
func (a *ActiveElections) Insert(block *types.Block, action func(*types.Block)) InsertResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(block, action)
}

func (a *ActiveElections) insertLocked(block *types.Block, action func(*types.Block)) InsertResult {
	root := block.QualifiedRoot()
	if existing, ok := a.roots[root]; ok {
		if _, known := existing.Blocks[block.Hash()]; !known {
			existing.publish(block)
			a.blocks[block.Hash()] = existing
		}
		return InsertResult{Election: existing, Inserted: false}
	}
	election := newElection(a, block, action)
	a.roots[root] = election
	a.blocks[block.Hash()] = election
	election.insertVotesCache(block.Hash())
	metrics.GetOrRegisterGauge("oslo/active/size", a.registry).Update(int64(len(a.roots)))
	return InsertResult{Election: election, Inserted: true}
}

// StartElection inserts and immediately transitions the election out of
// idle, the path taken for blocks arriving through the processor.
func (a *ActiveElections) StartElection(block *types.Block, action func(*types.Block)) InsertResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	result := a.insertLocked(block, action)
	if result.Inserted {
		result.Election.TransitionPassive()
	}
	return result
}

// Election returns the election at the qualified root, or nil.
func (a *ActiveElections) Election(root common.QualifiedRoot) *Election {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roots[root]
}

// ElectionByBlock returns the election containing the block hash, or nil.
func (a *ActiveElections) ElectionByBlock(hash common.Hash) *Election {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks[hash]
}

// Vote applies a verified vote to every election its hashes belong to.
func (a *ActiveElections) Vote(vote *types.Vote) VoteCode {
	a.mu.Lock()
	defer a.mu.Unlock()
	replay := false
	processed := false
	located := false
	for _, hash := range vote.Hashes {
		election, ok := a.blocks[hash]
		if !ok {
			continue
		}
		located = true
		result := election.vote(vote.Account, vote.Sequence, hash)
		replay = replay || result.Replay
		processed = processed || result.Processed
	}
	switch {
	case processed:
		return VoteValid
	case replay:
		return VoteReplay
	case located:
		return VoteReplay
	default:
		return VoteIndeterminate
	}
}

// Erase removes the election for the block's root, clearing unconfirmed
// digests from the network filter.
func (a *ActiveElections) Erase(block *types.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if election, ok := a.roots[block.QualifiedRoot()]; ok {
		a.eraseLocked(election)
	}
}

func (a *ActiveElections) eraseLocked(election *Election) {
	election.cleanup()
	delete(a.roots, election.Root)
	metrics.GetOrRegisterGauge("oslo/active/size", a.registry).Update(int64(len(a.roots)))
}

// PublishFork joins a fork candidate into the election owning its root,
// starting one for the incumbent when none exists yet. Called by the block
// processor on fork results.
func (a *ActiveElections) PublishFork(block *types.Block) {
	txn := a.ledger.Store.BeginRead()
	existing := a.ledger.ForkedBlock(txn, block)
	txn.Discard()
	if existing == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	result := a.insertLocked(existing, nil)
	if result.Inserted {
		result.Election.TransitionPassive()
	}
	result.Election.publish(block)
	a.blocks[block.Hash()] = result.Election
	metrics.GetOrRegisterCounter("oslo/active/fork", a.registry).Inc(1)
}

// Size returns the number of live elections.
func (a *ActiveElections) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.roots)
}

// Empty reports whether no elections are live.
func (a *ActiveElections) Empty() bool { return a.Size() == 0 }

// quorumDelta is the winning threshold: online stake scaled by the quorum
// percentage.
func (a *ActiveElections) quorumDelta() *uint256.Int {
	// Divide before scaling so a near-saturated supply cannot overflow.
	stake := a.onlineReps.OnlineStake()
	stake.Div(stake, uint256.NewInt(100))
	return stake.Mul(stake, uint256.NewInt(a.config.QuorumPercent))
}

// requestLoop ticks every election through a fresh solicitor.
func (a *ActiveElections) requestLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.config.RequestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.RequestConfirm()
			a.ActivateDependencies()
		}
	}
}

// RequestConfirm runs one tick: solicit every election, expire the done
// ones, then flush the batched requests outside the mutex.
func (a *ActiveElections) RequestConfirm() {
	solicitor := NewConfirmationSolicitor(a.net, a.config, a.registry)
	var reps []network.Representative
	if a.reps != nil {
		reps = a.reps.Representatives()
	}
	solicitor.Prepare(reps)

	a.mu.Lock()
	visited := 0
	var expired []*Election
	for _, election := range a.roots {
		if visited >= a.config.MaxActiveElections {
			break
		}
		visited++
		if election.transitionTime(solicitor) {
			expired = append(expired, election)
		}
	}
	for _, election := range expired {
		a.eraseLocked(election)
	}
	a.mu.Unlock()

	for _, election := range expired {
		if !election.Confirmed() {
			metrics.GetOrRegisterCounter("oslo/active/expired_unconfirmed", a.registry).Inc(1)
			for _, fn := range a.stoppedObservers {
				fn(election.Status.Winner.Hash())
			}
		}
	}
	solicitor.Flush()
}

// flagDependencies queues the election for dependency activation.
func (a *ActiveElections) flagDependencies(e *Election) {
	a.flagMu.Lock()
	defer a.flagMu.Unlock()
	for _, existing := range a.flagged {
		if existing == e {
			return
		}
	}
	a.flagged = append(a.flagged, e)
}

// ActivateDependencies starts elections for the unconfirmed dependents of
// every flagged election: the first unconfirmed block of the chain, a
// bisected intermediate height, and the receive source. Bisection jumps
// halve the distance to the confirmation height, capped at 128 per step,
// bounding activation at O(log height) elections per chain.
func (a *ActiveElections) ActivateDependencies() {
	a.flagMu.Lock()
	flagged := a.flagged
	a.flagged = nil
	a.flagMu.Unlock()
	if len(flagged) == 0 {
		return
	}

	var activations []*types.Block
	for _, election := range flagged {
		a.mu.Lock()
		winner := election.Status.Winner
		a.mu.Unlock()
		activations = append(activations, a.dependentBlocks(winner)...)
	}

	a.mu.Lock()
	for _, block := range activations {
		result := a.insertLocked(block, nil)
		if result.Inserted {
			result.Election.TransitionPassive()
			result.Election.prioritize()
			metrics.GetOrRegisterCounter("oslo/active/dependency_activated", a.registry).Inc(1)
		}
	}
	a.mu.Unlock()
}

// dependentBlocks resolves the dependency activations for one winner.
func (a *ActiveElections) dependentBlocks(winner *types.Block) []*types.Block {
	read := a.ledger.Store.BeginRead()
	defer read.Discard()

	var out []*types.Block
	sb := winner.Sideband()
	if sb == nil {
		if stored := a.ledger.BlockGet(read, winner.Hash()); stored != nil {
			winner = stored
			sb = winner.Sideband()
		}
	}
	if sb == nil {
		return nil
	}
	height := sb.Height
	conf := a.ledger.ConfirmationHeight(read, sb.Account).Height

	if height > conf+1 {
		// First unconfirmed block of the chain.
		if first := a.ledger.Backtrack(read, winner, height-(conf+1)); first != nil {
			out = append(out, first)
		}
		// Bisected intermediate height.
		jump := (height - conf) / 2
		if jump > dependencyActivationMaxJumpHeight {
			jump = dependencyActivationMaxJumpHeight
		}
		if target := height - jump; target > conf && target < height {
			if mid := a.ledger.Backtrack(read, winner, height-target); mid != nil {
				out = append(out, mid)
			}
		}
	}
	// Receive dependency: activate the uncemented source.
	if source := winner.SourceHash(); !source.IsZero() {
		if srcBlock := a.ledger.BlockGet(read, source); srcBlock != nil && !a.ledger.BlockConfirmed(read, source) {
			out = append(out, srcBlock)
		}
	}
	return out
}

// winnerChanged counts a tally flipping the winner; caller holds the mutex.
func (a *ActiveElections) winnerChanged(e *Election) {
	metrics.GetOrRegisterCounter("oslo/active/winner_changed", a.registry).Inc(1)
}

// electionConfirmed hands a decided election to the cementing pipeline and
// the observers; caller holds the mutex and the callbacks run synchronously
// under it, so they must be quick and lock-free.
func (a *ActiveElections) electionConfirmed(e *Election) {
	winner := e.Status.Winner
	// Height-cemented elections are already in the cementing pipeline.
	if a.cementing != nil && e.Status.Type != StatusActiveConfirmationHeight {
		a.cementing.Add(winner.Hash())
	}
	if e.confirmationAction != nil {
		e.confirmationAction(winner)
	}
	for _, fn := range a.confirmedObservers {
		fn(e.Status)
	}
	metrics.GetOrRegisterCounter("oslo/active/confirmed", a.registry).Inc(1)
}

// BlockCemented closes the loop from the confirmation height processor: an
// election whose candidate got cemented below it confirms by height rather
// than by live quorum.
func (a *ActiveElections) BlockCemented(block *types.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if election, ok := a.blocks[block.Hash()]; ok {
		election.confirmOnce(StatusActiveConfirmationHeight)
	}
}

// adjustDependentDifficulty raises the work target of a prioritized winner
// and hands it to the work watcher for regeneration. The escalation factor
// grows with the number of dependent elections.
func (a *ActiveElections) adjustDependentDifficulty(e *Election) {
	if a.workRegen == nil {
		return
	}
	base := e.Status.Winner.Work
	multiplier := uint64(1 + len(e.DependentBlocks)/8)
	a.workRegen(e.Status.Winner, base*multiplier)
}
