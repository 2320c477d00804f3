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
	"sync/atomic"
	"testing"
	"time"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVoteProcessor(t *testing.T, sys *testSystem) *VoteProcessor {
	t.Helper()
	checker := crypto.NewSignatureChecker(1)
	p := NewVoteProcessor(checker, sys.active, nil, sys.onlineReps, sys.ledger,
		&sys.config, sys.registry, log.NewLogger(log.DiscardHandler{}))
	return p
}

func TestVoteProcessorValidVoteReachesElection(t *testing.T) {
	sys := newTestSystem(t)
	blocks := sys.makeGenesisChain(t, 1)
	sys.active.StartElection(blocks[0], nil)

	p := newTestVoteProcessor(t, sys)
	var seen atomic.Int32
	var lastCode VoteCode
	p.SubscribeVotes(func(vote *types.Vote, channel network.Channel, code VoteCode) {
		lastCode = code
		seen.Add(1)
	})
	p.Start()
	defer p.Stop()

	vote := types.NewVote(sys.genesis, 1, []common.Hash{blocks[0].Hash()})
	require.False(t, p.Vote(vote, nil))
	p.Flush()

	assert.EqualValues(t, 1, seen.Load())
	assert.Equal(t, VoteValid, lastCode)
	election := sys.active.ElectionByBlock(blocks[0].Hash())
	require.NotNil(t, election)
	assert.True(t, election.Confirmed())
}

func TestVoteProcessorInvalidSignature(t *testing.T) {
	sys := newTestSystem(t)
	p := newTestVoteProcessor(t, sys)
	var invalid atomic.Int32
	p.SubscribeVotes(func(vote *types.Vote, channel network.Channel, code VoteCode) {
		if code == VoteInvalid {
			invalid.Add(1)
		}
	})
	p.Start()
	defer p.Stop()

	vote := types.NewVote(sys.genesis, 1, []common.Hash{common.RandomHash()})
	vote.Signature[0] ^= 0xff
	p.Vote(vote, nil)
	p.Flush()

	assert.EqualValues(t, 1, invalid.Load())
	assert.EqualValues(t, 1, sys.registry.CounterValue("oslo/vote/invalid"))
}

func TestVoteProcessorIndeterminate(t *testing.T) {
	sys := newTestSystem(t)
	p := newTestVoteProcessor(t, sys)

	vote := types.NewVote(sys.genesis, 1, []common.Hash{common.RandomHash()})
	code := p.VoteBlocking(vote, nil, true)
	assert.Equal(t, VoteIndeterminate, code)
}

func TestVoteProcessorReplay(t *testing.T) {
	sys := newTestSystem(t)
	blocks := sys.makeGenesisChain(t, 1)
	sys.active.StartElection(blocks[0], nil)

	p := newTestVoteProcessor(t, sys)
	vote := types.NewVote(sys.genesis, 1, []common.Hash{blocks[0].Hash()})
	assert.Equal(t, VoteValid, p.VoteBlocking(vote, nil, true))
	assert.Equal(t, VoteReplay, p.VoteBlocking(vote, nil, true))
}

// Admission drops everything from unknown voters once the queue passes 6/9
// fill, and counts the overflow.
func TestVoteProcessorTieredAdmission(t *testing.T) {
	sys := newTestSystem(t)
	sys.config.VoteProcessorCapacity = 9 // tiny queue: tiers at 6, 7, 8
	p := newTestVoteProcessor(t, sys)
	// Not started: votes accumulate in the queue.

	nobody, err := crypto.GenerateKey()
	require.NoError(t, err)
	dropped := 0
	for i := 0; i < 12; i++ {
		vote := types.NewVote(nobody, uint64(i+1), []common.Hash{common.RandomHash()})
		if p.Vote(vote, nil) {
			dropped++
		}
	}
	// Fill gate admits the first 6, drops the rest.
	assert.Equal(t, 6, p.Size())
	assert.Equal(t, 6, dropped)
	assert.EqualValues(t, 6, sys.registry.CounterValue("oslo/vote/overflow"))

	// The genesis rep is in every tier and is admitted up to capacity.
	p.CalculateWeights()
	for i := 0; i < 3; i++ {
		vote := types.NewVote(sys.genesis, uint64(i+1), []common.Hash{common.RandomHash()})
		assert.False(t, p.Vote(vote, nil), "rep vote %d", i)
	}
	assert.Equal(t, 9, p.Size())

	// At capacity even the heaviest rep is dropped.
	overflow := types.NewVote(sys.genesis, 99, []common.Hash{common.RandomHash()})
	assert.True(t, p.Vote(overflow, nil))
}

func TestVoteProcessorCalculateWeights(t *testing.T) {
	sys := newTestSystem(t)
	p := newTestVoteProcessor(t, sys)
	p.CalculateWeights()

	// The genesis holds 100% of the stake: present in all three tiers.
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.True(t, p.reps1.Contains(sys.genesis.Account))
	assert.True(t, p.reps2.Contains(sys.genesis.Account))
	assert.True(t, p.reps3.Contains(sys.genesis.Account))
}

func TestVoteProcessorFlushEmpty(t *testing.T) {
	sys := newTestSystem(t)
	p := newTestVoteProcessor(t, sys)
	p.Start()
	defer p.Stop()

	done := make(chan struct{})
	go func() {
		p.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush on empty queue blocked")
	}
	assert.True(t, p.Empty())
}
