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

// Package ledger validates candidate blocks against per-account chains and
// persists them, maintaining account heads, receivable entries,
// representative weights and confirmation heights.
package ledger

import (
	"sync/atomic"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/work"
)

// ProcessResult describes the outcome of applying one block to the ledger.
type ProcessResult int

const (
	Progress ProcessResult = iota
	BadSignature
	Old
	NegativeSpend
	Fork
	Unreceivable
	GapPrevious
	GapSource
	GapEpochOpenPending
	OpenedBurnAccount
	BalanceMismatch
	RepresentativeMismatch
	BlockPosition
	InsufficientWork
)

// String implements the fmt.Stringer interface.
func (r ProcessResult) String() string {
	switch r {
	case Progress:
		return "progress"
	case BadSignature:
		return "bad_signature"
	case Old:
		return "old"
	case NegativeSpend:
		return "negative_spend"
	case Fork:
		return "fork"
	case Unreceivable:
		return "unreceivable"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case GapEpochOpenPending:
		return "gap_epoch_open_pending"
	case OpenedBurnAccount:
		return "opened_burn_account"
	case BalanceMismatch:
		return "balance_mismatch"
	case RepresentativeMismatch:
		return "representative_mismatch"
	case BlockPosition:
		return "block_position"
	case InsufficientWork:
		return "insufficient_work"
	default:
		return "unknown"
	}
}

// IsGap reports whether the result parks the block behind a missing
// dependency rather than rejecting it.
func (r ProcessResult) IsGap() bool {
	return r == GapPrevious || r == GapSource || r == GapEpochOpenPending
}

// Constants fixes the genesis state of a network.
type Constants struct {
	GenesisBlock   *types.Block
	GenesisAccount common.Account
	GenesisAmount  *uint256.Int
}

// MakeGenesis builds network constants around the given key: an open block
// holding the entire supply, self-represented.
func MakeGenesis(key *crypto.Keypair) Constants {
	amount := new(uint256.Int).SetAllOne()
	genesis := types.Open().
		Account(key.Account).
		Representative(key.Account).
		Source(key.Account.Hash()).
		Sign(key).
		Build()
	return Constants{
		GenesisBlock:   genesis,
		GenesisAccount: key.Account,
		GenesisAmount:  amount,
	}
}

// Cache carries cheap aggregate counts maintained alongside the store.
type Cache struct {
	BlockCount    atomic.Uint64
	CementedCount atomic.Uint64
}

// Ledger is the validated view over the block store.
type Ledger struct {
	Store      store.Store
	Constants  Constants
	RepWeights *RepWeights
	Epochs     *Epochs
	Cache      Cache

	validator work.Validator
	registry  *metrics.Registry
	logger    log.Logger
}

// New creates a ledger over the given store, bootstrapping genesis when the
// store is empty and rebuilding the weight and count caches otherwise.
func New(s store.Store, constants Constants, validator work.Validator, registry *metrics.Registry, logger log.Logger) *Ledger {
	l := &Ledger{
		Store:      s,
		Constants:  constants,
		RepWeights: NewRepWeights(),
		Epochs:     NewEpochs(),
		validator:  validator,
		registry:   registry,
		logger:     logger,
	}
	txn := s.BeginWrite(store.TableAccounts, store.TableBlocks, store.TableConfirmationHeight, store.TableFrontiers)
	if _, ok := store.AccountGet(txn, constants.GenesisAccount); !ok {
		l.addGenesis(txn)
	}
	if err := txn.Commit(); err != nil {
		logger.Crit("Ledger initialization failed", "err", err)
	}
	l.buildCaches()
	return l
}

func (l *Ledger) addGenesis(txn store.WriteTransaction) {
	genesis := l.Constants.GenesisBlock
	hash := genesis.Hash()
	genesis.SetSideband(&types.Sideband{
		Account:   l.Constants.GenesisAccount,
		Balance:   l.Constants.GenesisAmount,
		Height:    1,
		Epoch:     types.Epoch0,
		IsReceive: true,
	})
	store.BlockPut(txn, hash, genesis)
	store.AccountPut(txn, l.Constants.GenesisAccount, &types.AccountInfo{
		Head:           hash,
		Representative: genesis.Representative,
		Open:           hash,
		Balance:        l.Constants.GenesisAmount,
		BlockCount:     1,
		Epoch:          types.Epoch0,
	})
	// Genesis is born cemented.
	store.ConfirmationHeightPut(txn, l.Constants.GenesisAccount, &types.ConfirmationHeightInfo{
		Height:   1,
		Frontier: hash,
	})
	store.FrontierPut(txn, hash, l.Constants.GenesisAccount)
	l.RepWeights.Put(genesis.Representative, l.Constants.GenesisAmount)
}

func (l *Ledger) buildCaches() {
	txn := l.Store.BeginRead()
	defer txn.Discard()
	var blocks, cemented uint64
	weights := NewRepWeights()
	store.AccountEach(txn, func(account common.Account, info *types.AccountInfo) bool {
		blocks += info.BlockCount
		cemented += store.ConfirmationHeightGet(txn, account).Height
		weights.Add(info.Representative, info.Balance)
		return true
	})
	l.Cache.BlockCount.Store(blocks)
	l.Cache.CementedCount.Store(cemented)
	l.RepWeights = weights
}

// BlockGet returns a stored block with sideband.
func (l *Ledger) BlockGet(txn store.Transaction, hash common.Hash) *types.Block {
	return store.BlockGet(txn, hash)
}

// BlockExists reports whether the block is in the ledger.
func (l *Ledger) BlockExists(hash common.Hash) bool {
	txn := l.Store.BeginRead()
	defer txn.Discard()
	return store.BlockExists(txn, hash)
}

// AccountInfo returns the latest chain state of the account.
func (l *Ledger) AccountInfo(txn store.Transaction, account common.Account) (*types.AccountInfo, bool) {
	return store.AccountGet(txn, account)
}

// Latest returns the head hash of the account chain, or the zero hash for
// unopened accounts.
func (l *Ledger) Latest(txn store.Transaction, account common.Account) common.Hash {
	info, ok := store.AccountGet(txn, account)
	if !ok {
		return common.Hash{}
	}
	return info.Head
}

// LatestRoot returns the root a new block for the account must use: its head
// when opened, its key otherwise.
func (l *Ledger) LatestRoot(txn store.Transaction, account common.Account) common.Root {
	info, ok := store.AccountGet(txn, account)
	if !ok {
		return account.Hash()
	}
	return info.Head
}

// Balance returns the balance the chain has after the given block.
func (l *Ledger) Balance(txn store.Transaction, hash common.Hash) *uint256.Int {
	block := store.BlockGet(txn, hash)
	if block == nil {
		return uint256.NewInt(0)
	}
	return l.blockBalance(txn, block)
}

func (l *Ledger) blockBalance(txn store.Transaction, block *types.Block) *uint256.Int {
	switch block.Type {
	case types.BlockSend, types.BlockState:
		return block.BalanceOrZero()
	default:
		if sb := block.Sideband(); sb != nil && sb.Balance != nil {
			return sb.Balance
		}
		return uint256.NewInt(0)
	}
}

// Amount returns the value transferred by the given block.
func (l *Ledger) Amount(txn store.Transaction, hash common.Hash) *uint256.Int {
	block := store.BlockGet(txn, hash)
	if block == nil {
		return uint256.NewInt(0)
	}
	balance := l.blockBalance(txn, block)
	if block.Previous.IsZero() {
		return balance
	}
	previous := l.Balance(txn, block.Previous)
	diff := new(uint256.Int)
	if balance.Lt(previous) {
		return diff.Sub(previous, balance)
	}
	return diff.Sub(balance, previous)
}

// Weight returns the voting weight delegated to the representative.
func (l *Ledger) Weight(rep common.Account) *uint256.Int {
	return l.RepWeights.Get(rep)
}

// ConfirmationHeight returns the cemented frontier info of the account.
func (l *Ledger) ConfirmationHeight(txn store.Transaction, account common.Account) *types.ConfirmationHeightInfo {
	return store.ConfirmationHeightGet(txn, account)
}

// BlockConfirmed reports whether the block at hash is cemented.
func (l *Ledger) BlockConfirmed(txn store.Transaction, hash common.Hash) bool {
	block := store.BlockGet(txn, hash)
	if block == nil {
		return false
	}
	sb := block.Sideband()
	if sb == nil {
		return false
	}
	return store.ConfirmationHeightGet(txn, sb.Account).Height >= sb.Height
}

// BlockAccount returns the account owning the stored block.
func (l *Ledger) BlockAccount(txn store.Transaction, hash common.Hash) common.Account {
	block := store.BlockGet(txn, hash)
	if block == nil {
		return common.Account{}
	}
	if sb := block.Sideband(); sb != nil {
		return sb.Account
	}
	return block.BlockAccount()
}

// Successor returns the block following the given qualified root on its
// chain: the open block for account roots, the stored successor otherwise.
func (l *Ledger) Successor(txn store.Transaction, root common.QualifiedRoot) *types.Block {
	if root.Previous.IsZero() {
		info, ok := store.AccountGet(txn, common.Account(root.Root))
		if !ok {
			return nil
		}
		return store.BlockGet(txn, info.Open)
	}
	block := store.BlockGet(txn, root.Previous)
	if block == nil {
		return nil
	}
	sb := block.Sideband()
	if sb == nil || sb.Successor.IsZero() {
		return nil
	}
	return store.BlockGet(txn, sb.Successor)
}

// ForkedBlock returns the block already occupying the root of the given
// block, i.e. the existing chain entry a fork competes with.
func (l *Ledger) ForkedBlock(txn store.Transaction, block *types.Block) *types.Block {
	return l.Successor(txn, block.QualifiedRoot())
}

// Backtrack walks distance predecessors back from the given block, staying on
// its account chain. Returns the reached block, or nil when the walk leaves
// the chain.
func (l *Ledger) Backtrack(txn store.Transaction, block *types.Block, distance uint64) *types.Block {
	current := block
	for i := uint64(0); i < distance && current != nil; i++ {
		if current.Previous.IsZero() {
			return nil
		}
		current = store.BlockGet(txn, current.Previous)
	}
	return current
}

// DependentBlocks returns the hashes this block depends on: its previous and
// its receive source, either of which may be zero.
func (l *Ledger) DependentBlocks(txn store.Transaction, block *types.Block) [2]common.Hash {
	return [2]common.Hash{block.Previous, block.SourceHash()}
}

// IsEpochLink reports whether the link marks a protocol upgrade.
func (l *Ledger) IsEpochLink(link common.Hash) bool {
	return l.Epochs.IsEpochLink(link)
}

// EpochSigner returns the account allowed to sign the upgrade block with the
// given link.
func (l *Ledger) EpochSigner(link common.Hash) common.Account {
	return l.Epochs.Signer(l.Epochs.EpochOf(link))
}
