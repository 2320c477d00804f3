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

package node

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/network"
	"github.com/oslocurrency/go-oslo/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type localReps struct {
	keys []*crypto.Keypair
}

func (l *localReps) LocalReps() []*crypto.Keypair { return l.keys }

type nodeEnv struct {
	node    *Node
	genesis *crypto.Keypair
}

func newTestNode(t *testing.T, withLocalRep bool) *nodeEnv {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })

	config := TestConfig()
	constants := ledger.MakeGenesis(key)
	// Online stake floor keeps quorum meaningful without a rep crawler.
	config.Consensus.OnlineWeightMinimum = new(uint256.Int).Set(constants.GenesisAmount)

	deps := Dependencies{
		Store:         s,
		Constants:     constants,
		WorkValidator: work.AcceptAll{},
		Logger:        log.NewLogger(log.DiscardHandler{}),
	}
	if withLocalRep {
		deps.LocalReps = &localReps{keys: []*crypto.Keypair{key}}
	}
	n := New(config, deps)
	n.Start()
	t.Cleanup(n.Stop)
	return &nodeEnv{node: n, genesis: key}
}

func (e *nodeEnv) genesisSend(t *testing.T, amount uint64) *types.Block {
	t.Helper()
	dest, err := crypto.GenerateKey()
	require.NoError(t, err)
	l := e.node.Ledger
	txn := l.Store.BeginRead()
	head := l.Latest(txn, e.genesis.Account)
	balance := l.Balance(txn, head)
	txn.Discard()
	return types.State().
		Account(e.genesis.Account).
		Previous(head).
		Representative(e.genesis.Account).
		Balance(new(uint256.Int).Sub(balance, uint256.NewInt(amount))).
		Link(dest.Account.Hash()).
		Sign(e.genesis).
		Build()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// A published block creates an election; a quorum confirm_ack confirms it
// and drives the confirmation height forward.
func TestNodeConfirmsPublishedBlock(t *testing.T) {
	env := newTestNode(t, false)
	n := env.node

	send := env.genesisSend(t, 100)
	n.OnPublish(send)
	n.Flush()
	waitFor(t, 2*time.Second, func() bool {
		return n.Active.ElectionByBlock(send.Hash()) != nil
	})

	vote := types.NewVote(env.genesis, 1, []common.Hash{send.Hash()})
	n.OnConfirmAck(vote, nil)
	n.Flush()

	waitFor(t, 2*time.Second, func() bool {
		txn := n.Ledger.Store.BeginRead()
		defer txn.Discard()
		return n.Ledger.ConfirmationHeight(txn, env.genesis.Account).Height == 2
	})
	// The election lingers in confirmed state until its dwell expires.
	if election := n.Active.ElectionByBlock(send.Hash()); election != nil {
		assert.True(t, election.Confirmed())
	}
}

// With a local representative key holding quorum, the vote generator
// confirms local blocks end to end without any peers.
func TestNodeLocalRepSelfConfirms(t *testing.T) {
	env := newTestNode(t, true)
	n := env.node

	send := env.genesisSend(t, 1)
	n.ProcessLocal(send)
	n.Flush()

	waitFor(t, 5*time.Second, func() bool {
		txn := n.Ledger.Store.BeginRead()
		defer txn.Discard()
		return n.Ledger.ConfirmationHeight(txn, env.genesis.Account).Height == 2
	})
	assert.Equal(t, uint64(2), n.Ledger.Cache.CementedCount.Load())
}

// A confirm_req for a cemented block arms the vote generator.
func TestNodeConfirmReqKnownBlock(t *testing.T) {
	env := newTestNode(t, true)
	n := env.node

	genesisHash := n.Ledger.Constants.GenesisBlock.Hash()
	n.OnConfirmReq([]network.RootHash{{Hash: genesisHash, Root: env.genesis.Account.Hash()}}, nil)

	waitFor(t, 2*time.Second, func() bool {
		return n.Registry.CounterValue("oslo/vote/generated") >= 1
	})
}
