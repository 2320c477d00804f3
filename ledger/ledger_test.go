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

package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ledger  *Ledger
	genesis *crypto.Keypair
}

func newTestLedger(t *testing.T) *testEnv {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })
	l := New(s, MakeGenesis(key), work.AcceptAll{}, metrics.NewRegistry(),
		log.NewLogger(log.DiscardHandler{}))
	return &testEnv{ledger: l, genesis: key}
}

func (e *testEnv) process(t *testing.T, block *types.Block) ProcessResult {
	t.Helper()
	txn := e.ledger.Store.BeginWrite(store.TableAccounts, store.TableBlocks, store.TablePending, store.TableFrontiers)
	result := e.ledger.Process(txn, block)
	require.NoError(t, txn.Commit())
	return result
}

// genesisSend builds a signed state send from the genesis chain that leaves
// the given balance.
func (e *testEnv) genesisSend(t *testing.T, previous common.Hash, balance *uint256.Int, dest common.Account) *types.Block {
	t.Helper()
	return types.State().
		Account(e.genesis.Account).
		Previous(previous).
		Representative(e.genesis.Account).
		Balance(balance).
		Link(dest.Hash()).
		Sign(e.genesis).
		Build()
}

func TestGenesisInitialization(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	txn := l.Store.BeginRead()
	defer txn.Discard()
	info, ok := l.AccountInfo(txn, env.genesis.Account)
	require.True(t, ok)
	assert.Equal(t, uint64(1), info.BlockCount)
	assert.Equal(t, l.Constants.GenesisBlock.Hash(), info.Head)
	assert.Equal(t, uint64(1), l.ConfirmationHeight(txn, env.genesis.Account).Height)
	assert.True(t, l.Constants.GenesisAmount.Eq(l.Weight(env.genesis.Account)))
	assert.Equal(t, uint64(1), l.Cache.BlockCount.Load())
	assert.Equal(t, uint64(1), l.Cache.CementedCount.Load())
}

func TestProcessSendProgressAndOld(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	balance := new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(100))
	send := env.genesisSend(t, l.Constants.GenesisBlock.Hash(), balance, dest.Account)

	assert.Equal(t, Progress, env.process(t, send))
	assert.Equal(t, Old, env.process(t, send))

	txn := l.Store.BeginRead()
	defer txn.Discard()
	info, _ := l.AccountInfo(txn, env.genesis.Account)
	assert.Equal(t, send.Hash(), info.Head)
	assert.Equal(t, uint64(2), info.BlockCount)
	assert.True(t, balance.Eq(l.Weight(env.genesis.Account)))

	// The send parked a receivable for the destination.
	pending, ok := store.PendingGet(txn, types.PendingKey{Account: dest.Account, Hash: send.Hash()})
	require.True(t, ok)
	assert.True(t, uint256.NewInt(100).Eq(pending.Amount))
}

func TestProcessReceiveOpensAccount(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	balance := new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(50))
	send := env.genesisSend(t, l.Constants.GenesisBlock.Hash(), balance, dest.Account)
	require.Equal(t, Progress, env.process(t, send))

	open := types.State().
		Account(dest.Account).
		Representative(dest.Account).
		Balance(uint256.NewInt(50)).
		Link(send.Hash()).
		Sign(dest).
		Build()
	assert.Equal(t, Progress, env.process(t, open))
	assert.True(t, uint256.NewInt(50).Eq(l.Weight(dest.Account)))

	txn := l.Store.BeginRead()
	defer txn.Discard()
	info, ok := l.AccountInfo(txn, dest.Account)
	require.True(t, ok)
	assert.Equal(t, uint64(1), info.BlockCount)

	// Receiving twice is unreceivable: the pending entry is consumed.
	dup := types.State().
		Account(dest.Account).
		Previous(open.Hash()).
		Representative(dest.Account).
		Balance(uint256.NewInt(100)).
		Link(send.Hash()).
		Sign(dest).
		Build()
	assert.Equal(t, Unreceivable, env.process(t, dup))
}

func TestProcessGapResults(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	missing := common.RandomHash()
	// Send whose previous does not exist.
	send := env.genesisSend(t, missing, uint256.NewInt(1), dest.Account)
	assert.Equal(t, GapPrevious, env.process(t, send))

	// Open whose source does not exist.
	open := types.State().
		Account(dest.Account).
		Representative(dest.Account).
		Balance(uint256.NewInt(1)).
		Link(missing).
		Sign(dest).
		Build()
	assert.Equal(t, GapSource, env.process(t, open))
	assert.False(t, l.BlockExists(open.Hash()))
}

func TestProcessFork(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	a, _ := crypto.GenerateKey()
	b, _ := crypto.GenerateKey()
	balance := new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(1))
	send1 := env.genesisSend(t, l.Constants.GenesisBlock.Hash(), balance, a.Account)
	send2 := env.genesisSend(t, l.Constants.GenesisBlock.Hash(), balance, b.Account)
	require.NotEqual(t, send1.Hash(), send2.Hash())

	assert.Equal(t, Progress, env.process(t, send1))
	assert.Equal(t, Fork, env.process(t, send2))

	// The existing chain entry at the contested root is send1.
	txn := l.Store.BeginRead()
	defer txn.Discard()
	forked := l.ForkedBlock(txn, send2)
	require.NotNil(t, forked)
	assert.Equal(t, send1.Hash(), forked.Hash())
}

func TestProcessBadSignature(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	balance := new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(1))
	send := env.genesisSend(t, l.Constants.GenesisBlock.Hash(), balance, dest.Account)
	send.Signature[0] ^= 0xff
	assert.Equal(t, BadSignature, env.process(t, send))
	assert.False(t, l.BlockExists(send.Hash()))
}

func TestProcessBalanceMismatch(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	balance := new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(10))
	send := env.genesisSend(t, l.Constants.GenesisBlock.Hash(), balance, dest.Account)
	require.Equal(t, Progress, env.process(t, send))

	// Open claiming more than was sent.
	open := types.State().
		Account(dest.Account).
		Representative(dest.Account).
		Balance(uint256.NewInt(11)).
		Link(send.Hash()).
		Sign(dest).
		Build()
	assert.Equal(t, BalanceMismatch, env.process(t, open))
}

func TestLegacyNegativeSpend(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	// The genesis balance is the largest representable amount, so first
	// spend some to leave room for a balance above the previous one.
	first := types.Send().
		Previous(l.Constants.GenesisBlock.Hash()).
		Destination(dest.Account).
		Balance(new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(10))).
		Sign(env.genesis).
		Build()
	require.Equal(t, Progress, env.process(t, first))
	send := types.Send().
		Previous(first.Hash()).
		Destination(dest.Account).
		Balance(new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(9))).
		Sign(env.genesis).
		Build()
	assert.Equal(t, NegativeSpend, env.process(t, send))
}

func TestBacktrackAndSuccessor(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	head := l.Constants.GenesisBlock.Hash()
	balance := new(uint256.Int).Set(l.Constants.GenesisAmount)
	var blocks []*types.Block
	for i := 0; i < 5; i++ {
		balance.Sub(balance, uint256.NewInt(1))
		send := env.genesisSend(t, head, new(uint256.Int).Set(balance), dest.Account)
		require.Equal(t, Progress, env.process(t, send))
		head = send.Hash()
		blocks = append(blocks, send)
	}

	txn := l.Store.BeginRead()
	defer txn.Discard()
	frontier := l.BlockGet(txn, head)
	require.NotNil(t, frontier)
	assert.Equal(t, uint64(6), frontier.Height())

	back := l.Backtrack(txn, frontier, 3)
	require.NotNil(t, back)
	assert.Equal(t, blocks[1].Hash(), back.Hash())

	// Successor links chain forward again.
	succ := l.Successor(txn, blocks[1].QualifiedRoot())
	require.NotNil(t, succ)
	assert.Equal(t, blocks[1].Hash(), succ.Hash())
}

func TestRollback(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	dest, _ := crypto.GenerateKey()
	balance := new(uint256.Int).Sub(l.Constants.GenesisAmount, uint256.NewInt(5))
	send := env.genesisSend(t, l.Constants.GenesisBlock.Hash(), balance, dest.Account)
	require.Equal(t, Progress, env.process(t, send))

	txn := l.Store.BeginWrite(store.TableAccounts, store.TableBlocks, store.TablePending, store.TableFrontiers)
	rolled, err := l.Rollback(txn, send.Hash())
	require.False(t, err)
	require.NoError(t, txn.Commit())
	require.Len(t, rolled, 1)
	assert.Equal(t, send.Hash(), rolled[0].Hash())

	read := l.Store.BeginRead()
	defer read.Discard()
	info, _ := l.AccountInfo(read, env.genesis.Account)
	assert.Equal(t, l.Constants.GenesisBlock.Hash(), info.Head)
	assert.True(t, l.Constants.GenesisAmount.Eq(l.Weight(env.genesis.Account)))
	assert.False(t, store.BlockExists(read, send.Hash()))

	// Cemented blocks refuse to roll back.
	txn = l.Store.BeginWrite(store.TableAccounts, store.TableBlocks)
	_, err = l.Rollback(txn, l.Constants.GenesisBlock.Hash())
	assert.True(t, err)
	require.NoError(t, txn.Commit())
}

func TestEpochUpgrade(t *testing.T) {
	env := newTestLedger(t)
	l := env.ledger

	epochSigner, _ := crypto.GenerateKey()
	epochLink := crypto.Blake2b([]byte("epoch v1 block"))
	l.Epochs.Add(types.Epoch1, epochSigner.Account, epochLink)

	epoch := types.State().
		Account(env.genesis.Account).
		Previous(l.Constants.GenesisBlock.Hash()).
		Representative(env.genesis.Account).
		Balance(l.Constants.GenesisAmount).
		Link(epochLink).
		Sign(epochSigner).
		Build()
	assert.Equal(t, Progress, env.process(t, epoch))

	txn := l.Store.BeginRead()
	defer txn.Discard()
	info, _ := l.AccountInfo(txn, env.genesis.Account)
	assert.Equal(t, types.Epoch1, info.Epoch)
	got := l.BlockGet(txn, epoch.Hash())
	require.NotNil(t, got)
	assert.True(t, got.Sideband().IsEpoch)

	// A legacy block cannot extend the upgraded chain.
	legacy := types.Send().
		Previous(epoch.Hash()).
		Destination(epochSigner.Account).
		Balance(uint256.NewInt(0)).
		Sign(env.genesis).
		Build()
	assert.Equal(t, BlockPosition, env.process(t, legacy))
}
