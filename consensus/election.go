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
	"time"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/common/mclock"
	"github.com/oslocurrency/go-oslo/core/types"
)

// ElectionState is one step of the per-root state machine.
type ElectionState int

const (
	StateIdle ElectionState = iota
	// StatePassive only listens for incoming votes.
	StatePassive
	// StateActive requests confirmations.
	StateActive
	// StateBroadcasting requests confirmations and broadcasts the winner.
	StateBroadcasting
	// StateBacktracking starts elections for unconfirmed dependent blocks.
	StateBacktracking
	// StateConfirmed reached quorum but keeps listening for votes.
	StateConfirmed
	StateExpiredConfirmed
	StateExpiredUnconfirmed
)

// Dwell multipliers over the network base latency.
const (
	passiveDurationFactor             = 5
	activeRequestCountMin             = 2
	activeBroadcastingDurationFactor  = 30
	backtrackingDurationFactor        = 30
	confirmedDurationFactor           = 5
	electionTimeToLiveFactor          = 120
	electionMaxBlocks                 = 10
	dependencyActivationMaxJumpHeight = 128
)

// ElectionStatusType records how an election was decided.
type ElectionStatusType int

const (
	StatusOngoing ElectionStatusType = iota
	StatusActiveConfirmedQuorum
	StatusActiveConfirmationHeight
	StatusStopped
)

// ElectionStatus is the decided outcome of an election.
type ElectionStatus struct {
	Winner                   *types.Block
	Tally                    *uint256.Int
	Type                     ElectionStatusType
	ConfirmationRequestCount int
	BlockCount               int
	VoterCount               int
	Time                     time.Time
}

// VoteInfo is a representative's latest recorded vote in one election.
type VoteInfo struct {
	Time     mclock.AbsTime
	Sequence uint64
	Hash     common.Hash
}

// VoteResult reports whether a vote advanced the election.
type VoteResult struct {
	Replay    bool
	Processed bool
}

// Election is the per-root state machine collecting votes until the winner
// reaches quorum. All fields are protected by the owning ActiveElections
// mutex; the state machine itself performs no network I/O, staging requests
// and broadcasts through the solicitor instead.
type Election struct {
	active *ActiveElections

	Root      common.QualifiedRoot
	Status    ElectionStatus
	LastVotes map[common.Account]VoteInfo
	// Blocks holds the competing candidates; insertion order breaks tally
	// ties in favor of the earliest seen.
	Blocks     map[common.Hash]*types.Block
	blockOrder []common.Hash
	LastTally  map[common.Hash]*uint256.Int

	ConfirmationRequestCount int
	DependentBlocks          map[common.Hash]struct{}
	height                   uint64

	state         ElectionState
	stateStart    mclock.AbsTime
	electionStart mclock.AbsTime

	prioritized         bool
	dependenciesFlagged bool
	confirmationAction  func(*types.Block)
}

func newElection(active *ActiveElections, block *types.Block, action func(*types.Block)) *Election {
	now := active.clock.Now()
	e := &Election{
		active:             active,
		Root:               block.QualifiedRoot(),
		LastVotes:          make(map[common.Account]VoteInfo),
		Blocks:             map[common.Hash]*types.Block{block.Hash(): block},
		blockOrder:         []common.Hash{block.Hash()},
		LastTally:          make(map[common.Hash]*uint256.Int),
		DependentBlocks:    make(map[common.Hash]struct{}),
		height:             block.Height(),
		state:              StateIdle,
		stateStart:         now,
		electionStart:      now,
		confirmationAction: action,
	}
	e.Status = ElectionStatus{Winner: block, Tally: uint256.NewInt(0), Type: StatusOngoing}
	return e
}

// Idle reports whether the election has not yet begun soliciting.
func (e *Election) Idle() bool { return e.state == StateIdle }

// Confirmed reports whether quorum was reached.
func (e *Election) Confirmed() bool {
	return e.state == StateConfirmed || e.state == StateExpiredConfirmed
}

// Prioritized reports whether the election was boosted by the scheduler.
func (e *Election) Prioritized() bool { return e.prioritized }

func (e *Election) baseLatency() time.Duration {
	return e.active.config.BaseLatency
}

func (e *Election) stateElapsed() time.Duration {
	return e.active.clock.Now().Sub(e.stateStart)
}

// validChange enforces the legal state transitions.
func validChange(from, to ElectionState) bool {
	switch from {
	case StateIdle:
		return to == StatePassive || to == StateActive || to == StateConfirmed
	case StatePassive:
		return to == StateActive || to == StateConfirmed || to == StateExpiredUnconfirmed
	case StateActive:
		return to == StateBroadcasting || to == StateConfirmed || to == StateExpiredUnconfirmed
	case StateBroadcasting:
		return to == StateBacktracking || to == StateConfirmed || to == StateExpiredUnconfirmed
	case StateBacktracking:
		return to == StateConfirmed || to == StateExpiredUnconfirmed
	case StateConfirmed:
		return to == StateExpiredConfirmed
	}
	return false
}

func (e *Election) stateChange(from, to ElectionState) bool {
	if e.state != from || !validChange(from, to) {
		return true
	}
	e.state = to
	e.stateStart = e.active.clock.Now()
	return false
}

// TransitionPassive moves a fresh election into the vote-listening state.
func (e *Election) TransitionPassive() { e.stateChange(StateIdle, StatePassive) }

// TransitionActive moves a fresh election straight to soliciting.
func (e *Election) TransitionActive() { e.stateChange(StateIdle, StateActive) }

// transitionTime drives the state machine one request-loop tick, staging
// work on the solicitor. Returns true when the election has expired and
// should be removed from the active set.
func (e *Election) transitionTime(solicitor *ConfirmationSolicitor) bool {
	// Elections that never progress (no representatives reachable) still
	// expire eventually.
	if !e.Confirmed() && e.active.clock.Now().Sub(e.electionStart) >= time.Duration(electionTimeToLiveFactor)*e.baseLatency() {
		e.stateChange(e.state, StateExpiredUnconfirmed)
		return e.state == StateExpiredUnconfirmed
	}
	switch e.state {
	case StatePassive:
		if e.stateElapsed() >= time.Duration(passiveDurationFactor)*e.baseLatency() {
			e.stateChange(StatePassive, StateActive)
		}
	case StateActive:
		e.sendConfirmReq(solicitor)
		if e.ConfirmationRequestCount >= activeRequestCountMin || e.prioritized {
			e.stateChange(StateActive, StateBroadcasting)
		}
	case StateBroadcasting:
		e.broadcastBlock(solicitor)
		e.sendConfirmReq(solicitor)
		if e.stateElapsed() >= time.Duration(activeBroadcastingDurationFactor)*e.baseLatency() {
			e.stateChange(StateBroadcasting, StateBacktracking)
			e.flagDependencies()
		}
	case StateBacktracking:
		e.sendConfirmReq(solicitor)
		if e.stateElapsed() >= time.Duration(backtrackingDurationFactor)*e.baseLatency() {
			e.stateChange(StateBacktracking, StateExpiredUnconfirmed)
		}
	case StateConfirmed:
		if e.stateElapsed() >= time.Duration(confirmedDurationFactor)*e.baseLatency() {
			e.stateChange(StateConfirmed, StateExpiredConfirmed)
		}
	}
	return e.state == StateExpiredConfirmed || e.state == StateExpiredUnconfirmed
}

func (e *Election) broadcastBlock(solicitor *ConfirmationSolicitor) {
	solicitor.Broadcast(e)
}

func (e *Election) sendConfirmReq(solicitor *ConfirmationSolicitor) {
	if !solicitor.Add(e) {
		e.ConfirmationRequestCount++
		e.Status.ConfirmationRequestCount = e.ConfirmationRequestCount
	}
}

// ActivateDependencies flags the election for dependency activation; the
// owning set resolves the flagged elections outside the tick.
func (e *Election) ActivateDependencies() { e.flagDependencies() }

func (e *Election) flagDependencies() {
	e.dependenciesFlagged = true
	e.active.flagDependencies(e)
}

// Vote records one representative's endorsement. Holds the active mutex.
func (e *Election) vote(voter common.Account, sequence uint64, hash common.Hash) VoteResult {
	weight := e.active.ledger.Weight(voter)
	onlineStake := e.active.onlineReps.OnlineStake()
	if !e.active.config.IsTestNetwork {
		minimum := new(uint256.Int).Div(onlineStake, uint256.NewInt(1000))
		if !weight.Gt(minimum) {
			return VoteResult{}
		}
	}
	cooldown := e.voteCooldown(weight, onlineStake)

	last, ok := e.LastVotes[voter]
	if ok {
		if last.Sequence > sequence || (last.Sequence == sequence && last.Hash == hash) {
			return VoteResult{Replay: true}
		}
		if last.Hash == hash && e.active.clock.Now().Sub(last.Time) < cooldown {
			return VoteResult{Replay: true}
		}
	}
	e.LastVotes[voter] = VoteInfo{Time: e.active.clock.Now(), Sequence: sequence, Hash: hash}
	e.confirmIfQuorum()
	return VoteResult{Processed: true}
}

// voteCooldown rate-limits same-hash re-votes by weight class.
func (e *Election) voteCooldown(weight, onlineStake *uint256.Int) time.Duration {
	if e.active.config.IsTestNetwork {
		return 0
	}
	switch {
	case weight.Lt(new(uint256.Int).Div(onlineStake, uint256.NewInt(100))):
		return 15 * time.Second
	case weight.Lt(new(uint256.Int).Div(onlineStake, uint256.NewInt(20))):
		return 5 * time.Second
	default:
		return time.Second
	}
}

// tally sums each candidate's voter weight.
func (e *Election) tally() map[common.Hash]*uint256.Int {
	sums := make(map[common.Hash]*uint256.Int, len(e.Blocks))
	for hash := range e.Blocks {
		sums[hash] = uint256.NewInt(0)
	}
	for voter, info := range e.LastVotes {
		if sum, ok := sums[info.Hash]; ok {
			sum.Add(sum, e.active.ledger.Weight(voter))
		}
	}
	e.LastTally = sums
	return sums
}

// confirmIfQuorum re-tallies, promotes the strongest candidate to winner and
// confirms when it holds a quorum of the online stake. Ties keep the
// earliest-seen candidate.
func (e *Election) confirmIfQuorum() {
	sums := e.tally()
	winnerHash := e.Status.Winner.Hash()
	winnerTally := sums[winnerHash]
	if winnerTally == nil {
		winnerTally = uint256.NewInt(0)
	}
	for _, hash := range e.blockOrder {
		if sum := sums[hash]; sum != nil && sum.Gt(winnerTally) {
			winnerHash, winnerTally = hash, sum
		}
	}
	if winnerHash != e.Status.Winner.Hash() {
		e.Status.Winner = e.Blocks[winnerHash]
		e.active.winnerChanged(e)
	}
	e.Status.Tally = new(uint256.Int).Set(winnerTally)

	quorum := e.active.quorumDelta()
	if winnerTally.Lt(quorum) {
		return
	}
	e.confirmOnce(StatusActiveConfirmedQuorum)
}

// confirmOnce transitions to confirmed exactly once, recording status and
// handing the winner to the cementing pipeline.
func (e *Election) confirmOnce(statusType ElectionStatusType) {
	if e.Confirmed() {
		return
	}
	if e.stateChange(e.state, StateConfirmed) {
		return
	}
	e.Status.Type = statusType
	e.Status.Time = time.Now()
	e.Status.BlockCount = len(e.Blocks)
	e.Status.VoterCount = len(e.LastVotes)
	e.active.electionConfirmed(e)
}

// publish adds a competing fork candidate. Returns true when the election is
// saturated and the block was not admitted.
func (e *Election) publish(block *types.Block) bool {
	hash := block.Hash()
	if _, ok := e.Blocks[hash]; ok {
		return false
	}
	if len(e.Blocks) >= electionMaxBlocks {
		return true
	}
	e.Blocks[hash] = block
	e.blockOrder = append(e.blockOrder, hash)
	e.confirmIfQuorum()
	return false
}

// insertVotesCache seeds the election with the votes observed before it
// existed. Returns the number of cached votes found, whether or not each
// one advanced the election.
func (e *Election) insertVotesCache(hash common.Hash) int {
	votes := e.active.votesCache.Find(hash)
	for _, vote := range votes {
		e.vote(vote.Account, vote.Sequence, hash)
	}
	return len(votes)
}

// prioritize marks the election for accelerated broadcasting and requests
// stronger work for its winner proportional to its dependents.
func (e *Election) prioritize() {
	if e.prioritized {
		return
	}
	e.prioritized = true
	e.active.adjustDependentDifficulty(e)
}

// cleanup removes the election's candidates from the secondary index and,
// for unconfirmed candidates, clears their digests from the network filter
// so the blocks can be observed again.
func (e *Election) cleanup() {
	for hash := range e.Blocks {
		delete(e.active.blocks, hash)
		e.active.votesCache.Remove(hash)
		if !e.Confirmed() && e.active.filter != nil {
			e.active.filter.Clear(hash)
		}
	}
}
