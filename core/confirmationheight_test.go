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

package core

import (
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cementEnv struct {
	genesis   *crypto.Keypair
	ledger    *ledger.Ledger
	queue     *WriteQueue
	processor *ConfirmationHeightProcessor

	mu              sync.Mutex
	cemented        []common.Hash
	alreadyCemented []common.Hash
}

func newCementEnv(t *testing.T, mode ConfirmationHeightMode) *cementEnv {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })

	registry := metrics.NewRegistry()
	logger := log.NewLogger(log.DiscardHandler{})
	l := ledger.New(s, ledger.MakeGenesis(key), work.AcceptAll{}, registry, logger)
	queue := NewWriteQueue()

	env := &cementEnv{genesis: key, ledger: l, queue: queue}
	env.processor = NewConfirmationHeightProcessor(l, queue, mode, registry, logger)
	env.processor.AddCementedObserver(func(block *types.Block) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.cemented = append(env.cemented, block.Hash())
	})
	env.processor.AddAlreadyCementedObserver(func(hash common.Hash) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.alreadyCemented = append(env.alreadyCemented, hash)
	})
	env.processor.Start()
	t.Cleanup(env.processor.Stop)
	return env
}

func (e *cementEnv) process(t *testing.T, block *types.Block) {
	t.Helper()
	txn := e.ledger.Store.BeginWrite(store.TableAccounts, store.TableBlocks, store.TablePending, store.TableFrontiers)
	require.Equal(t, ledger.Progress, e.ledger.Process(txn, block))
	require.NoError(t, txn.Commit())
}

func (e *cementEnv) cementedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cemented)
}

func (e *cementEnv) alreadyCementedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.alreadyCemented)
}

func (e *cementEnv) waitCemented(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.cementedCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d cemented blocks, have %d", n, e.cementedCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *cementEnv) waitAlreadyCemented(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.alreadyCementedCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d already-cemented events", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *cementEnv) confHeight(t *testing.T, account common.Account) uint64 {
	t.Helper()
	txn := e.ledger.Store.BeginRead()
	defer txn.Discard()
	return e.ledger.ConfirmationHeight(txn, account).Height
}

// extendGenesis adds n sends to the genesis chain and returns them.
func (e *cementEnv) extendGenesis(t *testing.T, n int) []*types.Block {
	t.Helper()
	dest, err := crypto.GenerateKey()
	require.NoError(t, err)
	head := e.ledger.Constants.GenesisBlock.Hash()
	balance := new(uint256.Int).Set(e.ledger.Constants.GenesisAmount)
	var blocks []*types.Block
	for i := 0; i < n; i++ {
		balance.Sub(balance, uint256.NewInt(1))
		block := types.State().
			Account(e.genesis.Account).
			Previous(head).
			Representative(e.genesis.Account).
			Balance(new(uint256.Int).Set(balance)).
			Link(dest.Account.Hash()).
			Sign(e.genesis).
			Build()
		e.process(t, block)
		head = block.Hash()
		blocks = append(blocks, block)
	}
	return blocks
}

func TestCementChainAdvancesHeight(t *testing.T) {
	for _, mode := range []ConfirmationHeightMode{ModeBounded, ModeUnbounded} {
		env := newCementEnv(t, mode)
		blocks := env.extendGenesis(t, 5)

		env.processor.Add(blocks[len(blocks)-1].Hash())
		env.waitCemented(t, 5)

		assert.Equal(t, uint64(6), env.confHeight(t, env.genesis.Account))
		assert.Equal(t, uint64(6), env.ledger.Cache.CementedCount.Load())

		// Ancestors cement before descendants on the same chain.
		env.mu.Lock()
		for i, hash := range env.cemented {
			assert.Equal(t, blocks[i].Hash(), hash, "cement order at %d", i)
		}
		env.mu.Unlock()
	}
}

// Cementing is idempotent: re-cementing below the frontier is a no-op
// emitting one block_already_cemented per call.
func TestCementIdempotent(t *testing.T) {
	env := newCementEnv(t, ModeAutomatic)
	blocks := env.extendGenesis(t, 3)

	env.processor.Add(blocks[2].Hash())
	env.waitCemented(t, 3)
	before := env.confHeight(t, env.genesis.Account)

	for _, block := range blocks {
		env.processor.Add(block.Hash())
	}
	env.waitAlreadyCemented(t, 3)
	assert.Equal(t, before, env.confHeight(t, env.genesis.Account))
	assert.Equal(t, 3, env.cementedCount())
}

// Confirmation height never decreases.
func TestCementMonotonic(t *testing.T) {
	env := newCementEnv(t, ModeAutomatic)
	blocks := env.extendGenesis(t, 4)

	env.processor.Add(blocks[1].Hash())
	env.waitCemented(t, 2)
	require.Equal(t, uint64(3), env.confHeight(t, env.genesis.Account))

	// A lower hash afterwards leaves the height unchanged.
	env.processor.Add(blocks[0].Hash())
	env.waitAlreadyCemented(t, 1)
	assert.Equal(t, uint64(3), env.confHeight(t, env.genesis.Account))

	env.processor.Add(blocks[3].Hash())
	env.waitCemented(t, 4)
	assert.Equal(t, uint64(5), env.confHeight(t, env.genesis.Account))
}

// A receive's source account cements in the same batch, source first.
func TestCementCrossAccountReceive(t *testing.T) {
	env := newCementEnv(t, ModeAutomatic)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	balance := new(uint256.Int).Sub(env.ledger.Constants.GenesisAmount, uint256.NewInt(10))
	send := types.State().
		Account(env.genesis.Account).
		Previous(env.ledger.Constants.GenesisBlock.Hash()).
		Representative(env.genesis.Account).
		Balance(balance).
		Link(key.Account.Hash()).
		Sign(env.genesis).
		Build()
	env.process(t, send)

	open := types.State().
		Account(key.Account).
		Representative(key.Account).
		Balance(uint256.NewInt(10)).
		Link(send.Hash()).
		Sign(key).
		Build()
	env.process(t, open)

	// Cementing the open must first cement the send on the genesis chain.
	env.processor.Add(open.Hash())
	env.waitCemented(t, 2)

	env.mu.Lock()
	assert.Equal(t, send.Hash(), env.cemented[0])
	assert.Equal(t, open.Hash(), env.cemented[1])
	env.mu.Unlock()
	assert.Equal(t, uint64(2), env.confHeight(t, env.genesis.Account))
	assert.Equal(t, uint64(1), env.confHeight(t, key.Account))
}

func TestCementPauseDefersProcessing(t *testing.T) {
	env := newCementEnv(t, ModeAutomatic)
	blocks := env.extendGenesis(t, 2)

	env.processor.Pause()
	env.processor.Add(blocks[1].Hash())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.cementedCount())
	assert.Equal(t, 1, env.processor.AwaitingProcessingSize())
	assert.True(t, env.processor.IsProcessingBlock(blocks[1].Hash()))

	env.processor.Unpause()
	env.waitCemented(t, 2)
	assert.Equal(t, uint64(3), env.confHeight(t, env.genesis.Account))
}
