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
	"testing"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
	"github.com/oslocurrency/go-oslo/work"
	"github.com/stretchr/testify/require"
)

// testChannel records the messages sent to one peer.
type testChannel struct {
	mu   sync.Mutex
	name string
	msgs []interface{}
}

func newTestChannel(name string) *testChannel {
	return &testChannel{name: name}
}

func (c *testChannel) Send(msg interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *testChannel) String() string { return c.name }

func (c *testChannel) confirmReqs() []network.ConfirmReq {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []network.ConfirmReq
	for _, msg := range c.msgs {
		if req, ok := msg.(network.ConfirmReq); ok {
			out = append(out, req)
		}
	}
	return out
}

func (c *testChannel) publishes() []network.Publish {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []network.Publish
	for _, msg := range c.msgs {
		if pub, ok := msg.(network.Publish); ok {
			out = append(out, pub)
		}
	}
	return out
}

// testNetwork counts floods.
type testNetwork struct {
	mu          sync.Mutex
	blockFloods int
	voteFloods  int
	fanout      int
}

func (n *testNetwork) FloodBlock(block *types.Block, scale float64) {
	n.mu.Lock()
	n.blockFloods++
	n.mu.Unlock()
}

func (n *testNetwork) FloodVote(vote *types.Vote, scale float64) {
	n.mu.Lock()
	n.voteFloods++
	n.mu.Unlock()
}

func (n *testNetwork) Fanout(scale float64) int { return n.fanout }

// testBootstrap records lazy bootstrap requests.
type testBootstrap struct {
	mu     sync.Mutex
	lazy   []common.Hash
	legacy int
}

func (b *testBootstrap) BootstrapLazy(hash common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lazy = append(b.lazy, hash)
}

func (b *testBootstrap) Bootstrap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.legacy++
}

func (b *testBootstrap) InProgress() bool { return false }

func (b *testBootstrap) lazyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lazy)
}

type staticReps struct {
	reps []network.Representative
}

func (s *staticReps) Representatives() []network.Representative { return s.reps }

// testSystem is the wired consensus core over an in-memory ledger.
type testSystem struct {
	config     Config
	genesis    *crypto.Keypair
	ledger     *ledger.Ledger
	writeQueue *core.WriteQueue
	registry   *metrics.Registry
	onlineReps *OnlineReps
	votesCache *VotesCache
	active     *ActiveElections
	net        *testNetwork
}

func newTestSystem(t *testing.T) *testSystem {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })

	registry := metrics.NewRegistry()
	logger := log.NewLogger(log.DiscardHandler{})
	l := ledger.New(s, ledger.MakeGenesis(key), work.AcceptAll{}, registry, logger)
	writeQueue := core.NewWriteQueue()
	config := TestConfig()

	onlineReps := NewOnlineReps(l, writeQueue, &config)
	onlineReps.SetOnline(l.Constants.GenesisAmount)
	votesCache := NewVotesCache(config.VotesCacheSize)
	net := &testNetwork{fanout: 4}

	sys := &testSystem{
		config:     config,
		genesis:    key,
		ledger:     l,
		writeQueue: writeQueue,
		registry:   registry,
		onlineReps: onlineReps,
		votesCache: votesCache,
		net:        net,
	}
	sys.active = NewActiveElections(&sys.config, l, votesCache, onlineReps, nil, net, network.NewFilter(1<<20), nil, registry, logger)
	return sys
}

// process applies a block directly to the ledger.
func (s *testSystem) process(t *testing.T, block *types.Block) {
	t.Helper()
	txn := s.ledger.Store.BeginWrite(store.TableAccounts, store.TableBlocks, store.TablePending, store.TableFrontiers)
	result := s.ledger.Process(txn, block)
	require.NoError(t, txn.Commit())
	require.Equal(t, ledger.Progress, result, "block %s", block.Hash())
}

// makeGenesisChain extends the genesis account with n state sends of one raw
// each, returning the blocks indexed so that blocks[i] has sideband height
// i+2 (genesis itself is height 1).
func (s *testSystem) makeGenesisChain(t *testing.T, n int) []*types.Block {
	t.Helper()
	head := s.ledger.Constants.GenesisBlock.Hash()
	balance := new(uint256.Int).Set(s.ledger.Constants.GenesisAmount)
	dest, err := crypto.GenerateKey()
	require.NoError(t, err)
	var blocks []*types.Block
	for i := 0; i < n; i++ {
		balance.Sub(balance, uint256.NewInt(1))
		block := types.State().
			Account(s.genesis.Account).
			Previous(head).
			Representative(s.genesis.Account).
			Balance(new(uint256.Int).Set(balance)).
			Link(dest.Account.Hash()).
			Sign(s.genesis).
			Build()
		s.process(t, block)
		head = block.Hash()
		blocks = append(blocks, block)
	}
	return blocks
}

// solicitorGenesisSend is the canonical single-send block used by the
// solicitor scenarios.
func (s *testSystem) solicitorGenesisSend(t *testing.T) *types.Block {
	t.Helper()
	dest, err := crypto.GenerateKey()
	require.NoError(t, err)
	balance := new(uint256.Int).Sub(s.ledger.Constants.GenesisAmount, uint256.NewInt(100))
	block := types.State().
		Account(s.genesis.Account).
		Previous(s.ledger.Constants.GenesisBlock.Hash()).
		Representative(s.genesis.Account).
		Balance(balance).
		Link(dest.Account.Hash()).
		Sign(s.genesis).
		Build()
	block.SetSideband(&types.Sideband{Account: s.genesis.Account, Balance: balance, Height: 2})
	return block
}

// distinctElections builds count elections over distinct roots sharing no
// votes, for batching tests.
func (s *testSystem) distinctElections(t *testing.T, count int) []*Election {
	t.Helper()
	var elections []*Election
	for i := 0; i < count; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		block := types.State().
			Account(key.Account).
			Representative(key.Account).
			BalanceUint(1).
			Link(common.Hash{0: byte(i + 1)}).
			Sign(key).
			Build()
		block.SetSideband(&types.Sideband{Account: key.Account, Balance: uint256.NewInt(1), Height: 1})
		result := s.active.Insert(block, nil)
		require.True(t, result.Inserted, "election %d", i)
		elections = append(elections, result.Election)
	}
	return elections
}

func publishOut(registry *metrics.Registry) int64 {
	return registry.CounterValue("oslo/message/publish/out")
}

func confirmReqOut(registry *metrics.Registry) int64 {
	return registry.CounterValue("oslo/message/confirm_req/out")
}
