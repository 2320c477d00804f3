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
	"testing"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepareSolicitor(sys *testSystem, channel network.Channel) (*ConfirmationSolicitor, network.Representative) {
	rep := network.Representative{
		Account: sys.genesis.Account,
		Weight:  sys.ledger.Constants.GenesisAmount,
		Channel: channel,
	}
	solicitor := NewConfirmationSolicitor(sys.net, &sys.config, sys.registry)
	solicitor.Prepare([]network.Representative{rep})
	return solicitor, rep
}

// Seven elections for one representative bundle into a single confirm_req
// of seven root/hash pairs.
func TestSolicitorBatches(t *testing.T) {
	sys := newTestSystem(t)
	channel := newTestChannel("rep")
	solicitor, _ := prepareSolicitor(sys, channel)

	send := sys.solicitorGenesisSend(t)
	for i := 0; i < network.ConfirmReqHashesMax; i++ {
		election := newElection(sys.active, send, nil)
		assert.False(t, solicitor.Add(election), "add %d", i)
	}
	assert.EqualValues(t, 1, solicitor.maxConfirmReqBatches)
	assert.EqualValues(t, 0, publishOut(sys.registry))

	solicitor.Flush()
	reqs := channel.confirmReqs()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].RootHashes, 7)
	assert.EqualValues(t, 1, confirmReqOut(sys.registry))
	assert.EqualValues(t, 0, publishOut(sys.registry))
}

// With the channel exhausted, the eighth add reports a full queue and the
// election falls back to broadcasting: one directed publish, one flood.
func TestSolicitorBatchesOverflow(t *testing.T) {
	sys := newTestSystem(t)
	channel := newTestChannel("rep")
	solicitor, _ := prepareSolicitor(sys, channel)

	send := sys.solicitorGenesisSend(t)
	for i := 0; i < network.ConfirmReqHashesMax; i++ {
		election := newElection(sys.active, send, nil)
		require.False(t, solicitor.Add(election))
	}
	// Reached the maximum amount of requests for the channel.
	overflow := newElection(sys.active, send, nil)
	assert.True(t, solicitor.Add(overflow))
	// Broadcasting is immediate.
	assert.EqualValues(t, 0, publishOut(sys.registry))
	assert.False(t, solicitor.Broadcast(overflow))

	// One publish through directed broadcasting, another through flooding.
	assert.EqualValues(t, 2, publishOut(sys.registry))
	assert.Len(t, channel.publishes(), 1)

	solicitor.Flush()
	reqs := channel.confirmReqs()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].RootHashes, 7)
	assert.EqualValues(t, 1, confirmReqOut(sys.registry))
}

// A representative on record for a different hash still gets both the
// request and the broadcast.
func TestSolicitorDifferentHash(t *testing.T) {
	sys := newTestSystem(t)
	channel := newTestChannel("rep")
	solicitor, rep := prepareSolicitor(sys, channel)

	send := sys.solicitorGenesisSend(t)
	election := newElection(sys.active, send, nil)
	// A vote for something else, not the winner.
	election.LastVotes[rep.Account] = VoteInfo{Time: sys.active.clock.Now(), Sequence: 1, Hash: common.Hash{31: 1}}

	assert.False(t, solicitor.Add(election))
	assert.False(t, solicitor.Broadcast(election))
	assert.EqualValues(t, 2, publishOut(sys.registry))

	solicitor.Flush()
	assert.EqualValues(t, 1, confirmReqOut(sys.registry))
}

// A representative already on record for the winner is skipped entirely.
func TestSolicitorSkipsVotedRep(t *testing.T) {
	sys := newTestSystem(t)
	channel := newTestChannel("rep")
	solicitor, rep := prepareSolicitor(sys, channel)

	send := sys.solicitorGenesisSend(t)
	election := newElection(sys.active, send, nil)
	election.LastVotes[rep.Account] = VoteInfo{Time: sys.active.clock.Now(), Sequence: 1, Hash: send.Hash()}

	// No representative left to ask.
	assert.True(t, solicitor.Add(election))
	// Broadcast skips the rep but still floods.
	assert.False(t, solicitor.Broadcast(election))
	assert.Len(t, channel.publishes(), 0)
	assert.EqualValues(t, 1, publishOut(sys.registry))

	solicitor.Flush()
	assert.EqualValues(t, 0, confirmReqOut(sys.registry))
}

// The tick-global broadcast budget stops further rebroadcasts.
func TestSolicitorBroadcastBudget(t *testing.T) {
	sys := newTestSystem(t)
	channel := newTestChannel("rep")
	solicitor, _ := prepareSolicitor(sys, channel)

	send := sys.solicitorGenesisSend(t)
	election := newElection(sys.active, send, nil)
	for i := 0; i < sys.config.MaxBlockBroadcasts; i++ {
		assert.False(t, solicitor.Broadcast(election), "broadcast %d", i)
	}
	assert.True(t, solicitor.Broadcast(election))
}
