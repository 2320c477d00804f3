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
	"time"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/work"
)

// Process validates the block against the ledger and persists it on success.
// It requires the exclusive write transaction and mutates nothing on error
// results; Old is returned idempotently for already-stored blocks.
func (l *Ledger) Process(txn store.WriteTransaction, block *types.Block) ProcessResult {
	result := l.processOne(txn, block)
	metrics.GetOrRegisterCounter("oslo/ledger/"+result.String(), l.registry).Inc(1)
	return result
}

func (l *Ledger) processOne(txn store.WriteTransaction, block *types.Block) ProcessResult {
	hash := block.Hash()
	if store.BlockExists(txn, hash) {
		return Old
	}
	if l.validator != nil && l.validator.Validate(work.Version1, block.Root(), block.Work) == 0 {
		return InsufficientWork
	}
	switch block.Type {
	case types.BlockState:
		return l.processState(txn, block, hash)
	case types.BlockSend:
		return l.processSend(txn, block, hash)
	case types.BlockReceive:
		return l.processReceive(txn, block, hash)
	case types.BlockOpen:
		return l.processOpen(txn, block, hash)
	case types.BlockChange:
		return l.processChange(txn, block, hash)
	default:
		return BadSignature
	}
}

func (l *Ledger) processState(txn store.WriteTransaction, block *types.Block, hash common.Hash) ProcessResult {
	account := block.Account
	if account.IsZero() {
		return OpenedBurnAccount
	}
	isEpoch := !block.Link.IsZero() && l.Epochs.IsEpochLink(block.Link)

	// Epoch blocks may be signed by the epoch upgrade account instead of
	// the chain owner.
	signer := account
	if isEpoch && !block.VerifySignature(account) {
		signer = l.EpochSigner(block.Link)
	}
	if !block.VerifySignature(signer) {
		return BadSignature
	}

	info, opened := store.AccountGet(txn, account)
	var previous *types.Block
	if !block.Previous.IsZero() {
		previous = store.BlockGet(txn, block.Previous)
		if previous == nil {
			return GapPrevious
		}
		if !opened {
			return Fork
		}
		if info.Head != block.Previous {
			return Fork
		}
	} else if opened {
		return Fork
	}

	prevBalance := uint256.NewInt(0)
	prevEpoch := types.Epoch0
	var prevRep common.Account
	height := uint64(1)
	if previous != nil {
		prevBalance = l.blockBalance(txn, previous)
		prevEpoch = info.Epoch
		prevRep = info.Representative
		height = info.BlockCount + 1
	}
	balance := block.BalanceOrZero()

	if isEpoch {
		return l.processEpoch(txn, block, hash, info, opened, prevBalance, prevEpoch, prevRep, height)
	}

	isSend := balance.Lt(prevBalance)
	isReceive := !isSend && !block.Link.IsZero()
	epoch := prevEpoch

	if isReceive {
		source := store.BlockGet(txn, block.Link)
		if source == nil {
			return GapSource
		}
		pendingKey := types.PendingKey{Account: account, Hash: block.Link}
		pending, ok := store.PendingGet(txn, pendingKey)
		if !ok {
			return Unreceivable
		}
		amount := new(uint256.Int).Sub(balance, prevBalance)
		if !amount.Eq(pending.Amount) {
			return BalanceMismatch
		}
		if pending.Epoch > epoch {
			epoch = pending.Epoch
		}
		store.PendingDel(txn, pendingKey)
	} else if !isSend && block.Link.IsZero() && previous == nil {
		// An account cannot be opened without receiving funds.
		return GapSource
	}

	if isSend {
		amount := new(uint256.Int).Sub(prevBalance, balance)
		store.PendingPut(txn, types.PendingKey{Account: common.Account(block.Link), Hash: hash},
			&types.PendingInfo{Source: account, Amount: amount, Epoch: epoch})
	}

	l.moveRepresentation(prevRep, block.Representative, prevBalance, balance, previous != nil)
	l.persist(txn, block, hash, account, info, opened, &types.Sideband{
		Account:   account,
		Balance:   balance,
		Height:    height,
		Timestamp: uint64(time.Now().Unix()),
		Epoch:     epoch,
		IsSend:    isSend,
		IsReceive: isReceive,
	})
	return Progress
}

func (l *Ledger) processEpoch(txn store.WriteTransaction, block *types.Block, hash common.Hash, info *types.AccountInfo, opened bool, prevBalance *uint256.Int, prevEpoch types.Epoch, prevRep common.Account, height uint64) ProcessResult {
	epoch := l.Epochs.EpochOf(block.Link)
	if !types.EpochSequential(prevEpoch, epoch) {
		return BlockPosition
	}
	if !block.BalanceOrZero().Eq(prevBalance) {
		return BalanceMismatch
	}
	if opened && block.Representative != prevRep {
		return RepresentativeMismatch
	}
	if !opened {
		// Epoch-open is only valid when the account has something pending;
		// otherwise the block is premature.
		if !l.anyPending(txn, block.Account) {
			return GapEpochOpenPending
		}
		if block.Representative != (common.Account{}) {
			return RepresentativeMismatch
		}
	}
	l.persist(txn, block, hash, block.Account, info, opened, &types.Sideband{
		Account:   block.Account,
		Balance:   block.BalanceOrZero(),
		Height:    height,
		Timestamp: uint64(time.Now().Unix()),
		Epoch:     epoch,
		IsEpoch:   true,
	})
	return Progress
}

func (l *Ledger) anyPending(txn store.Transaction, account common.Account) bool {
	found := false
	store.PendingEach(txn, account, func(types.PendingKey, *types.PendingInfo) bool {
		found = true
		return false
	})
	return found
}

func (l *Ledger) processSend(txn store.WriteTransaction, block *types.Block, hash common.Hash) ProcessResult {
	result, info, previous := l.legacyPrevious(txn, block)
	if result != Progress {
		return result
	}
	account := previous.Sideband().Account
	if !block.VerifySignature(account) {
		return BadSignature
	}
	prevBalance := l.blockBalance(txn, previous)
	balance := block.BalanceOrZero()
	if prevBalance.Lt(balance) {
		return NegativeSpend
	}
	amount := new(uint256.Int).Sub(prevBalance, balance)
	store.PendingPut(txn, types.PendingKey{Account: block.Destination, Hash: hash},
		&types.PendingInfo{Source: account, Amount: amount, Epoch: types.Epoch0})
	l.RepWeights.Sub(info.Representative, amount)
	l.persist(txn, block, hash, account, info, true, &types.Sideband{
		Account: account,
		Balance: balance,
		Height:  info.BlockCount + 1,
		Epoch:   types.Epoch0,
		IsSend:  true,
	})
	return Progress
}

func (l *Ledger) processReceive(txn store.WriteTransaction, block *types.Block, hash common.Hash) ProcessResult {
	result, info, previous := l.legacyPrevious(txn, block)
	if result != Progress {
		return result
	}
	account := previous.Sideband().Account
	if !block.VerifySignature(account) {
		return BadSignature
	}
	result, amount := l.receiveSource(txn, block.Source, account)
	if result != Progress {
		return result
	}
	balance := new(uint256.Int).Add(l.blockBalance(txn, previous), amount)
	l.RepWeights.Add(info.Representative, amount)
	l.persist(txn, block, hash, account, info, true, &types.Sideband{
		Account:   account,
		Balance:   balance,
		Height:    info.BlockCount + 1,
		Epoch:     types.Epoch0,
		IsReceive: true,
	})
	return Progress
}

func (l *Ledger) processOpen(txn store.WriteTransaction, block *types.Block, hash common.Hash) ProcessResult {
	account := block.Account
	if account.IsZero() {
		return OpenedBurnAccount
	}
	if !block.VerifySignature(account) {
		return BadSignature
	}
	if _, opened := store.AccountGet(txn, account); opened {
		return Fork
	}
	result, amount := l.receiveSource(txn, block.Source, account)
	if result != Progress {
		return result
	}
	l.RepWeights.Add(block.Representative, amount)
	l.persist(txn, block, hash, account, nil, false, &types.Sideband{
		Account:   account,
		Balance:   amount,
		Height:    1,
		Epoch:     types.Epoch0,
		IsReceive: true,
	})
	return Progress
}

func (l *Ledger) processChange(txn store.WriteTransaction, block *types.Block, hash common.Hash) ProcessResult {
	result, info, previous := l.legacyPrevious(txn, block)
	if result != Progress {
		return result
	}
	account := previous.Sideband().Account
	if !block.VerifySignature(account) {
		return BadSignature
	}
	balance := l.blockBalance(txn, previous)
	l.RepWeights.Sub(info.Representative, balance)
	l.RepWeights.Add(block.Representative, balance)
	l.persist(txn, block, hash, account, info, true, &types.Sideband{
		Account: account,
		Balance: balance,
		Height:  info.BlockCount + 1,
		Epoch:   types.Epoch0,
	})
	return Progress
}

// legacyPrevious resolves and validates the previous block of a legacy
// (send/receive/change) block.
func (l *Ledger) legacyPrevious(txn store.WriteTransaction, block *types.Block) (ProcessResult, *types.AccountInfo, *types.Block) {
	previous := store.BlockGet(txn, block.Previous)
	if previous == nil {
		return GapPrevious, nil, nil
	}
	sb := previous.Sideband()
	if sb == nil {
		return GapPrevious, nil, nil
	}
	// Legacy blocks cannot extend a chain upgraded past epoch 0.
	if sb.Epoch > types.Epoch0 {
		return BlockPosition, nil, nil
	}
	info, ok := store.AccountGet(txn, sb.Account)
	if !ok {
		return GapPrevious, nil, nil
	}
	if info.Head != block.Previous {
		return Fork, nil, nil
	}
	return Progress, info, previous
}

// receiveSource validates that source is a stored send destined to account
// with a matching pending entry, consuming the entry on success.
func (l *Ledger) receiveSource(txn store.WriteTransaction, source common.Hash, account common.Account) (ProcessResult, *uint256.Int) {
	if store.BlockGet(txn, source) == nil {
		return GapSource, nil
	}
	pendingKey := types.PendingKey{Account: account, Hash: source}
	pending, ok := store.PendingGet(txn, pendingKey)
	if !ok {
		return Unreceivable, nil
	}
	store.PendingDel(txn, pendingKey)
	return Progress, pending.Amount
}

// moveRepresentation shifts weight between representatives for a state block
// transition.
func (l *Ledger) moveRepresentation(prevRep, newRep common.Account, prevBalance, balance *uint256.Int, hadPrevious bool) {
	if hadPrevious {
		l.RepWeights.Sub(prevRep, prevBalance)
	}
	l.RepWeights.Add(newRep, balance)
}

// persist writes the block, updates the account record and chains the
// sideband successor pointers.
func (l *Ledger) persist(txn store.WriteTransaction, block *types.Block, hash common.Hash, account common.Account, info *types.AccountInfo, opened bool, sideband *types.Sideband) {
	block.SetSideband(sideband)
	store.BlockPut(txn, hash, block)
	open := hash
	rep := block.Representative
	if opened {
		open = info.Open
		if block.Type == types.BlockSend || block.Type == types.BlockReceive {
			rep = info.Representative
		}
		if sideband.IsEpoch {
			rep = info.Representative
		}
		store.BlockSuccessorSet(txn, block.Previous, hash)
		store.FrontierDel(txn, info.Head)
	} else if sideband.IsEpoch {
		rep = common.Account{}
	}
	store.AccountPut(txn, account, &types.AccountInfo{
		Head:           hash,
		Representative: rep,
		Open:           open,
		Balance:        sideband.Balance,
		Modified:       sideband.Timestamp,
		BlockCount:     sideband.Height,
		Epoch:          sideband.Epoch,
	})
	store.FrontierPut(txn, hash, account)
	l.Cache.BlockCount.Add(1)
}

// Rollback removes the block at hash and every successor above it from the
// ledger, returning the removed blocks newest-first so they can be replayed
// or discarded by the caller. Cemented blocks are never rolled back.
func (l *Ledger) Rollback(txn store.WriteTransaction, hash common.Hash) ([]*types.Block, bool) {
	target := store.BlockGet(txn, hash)
	if target == nil {
		return nil, true
	}
	account := target.Sideband().Account
	if store.ConfirmationHeightGet(txn, account).Height >= target.Sideband().Height {
		return nil, true
	}
	var rolled []*types.Block
	for {
		info, ok := store.AccountGet(txn, account)
		if !ok {
			break
		}
		head := store.BlockGet(txn, info.Head)
		if head == nil {
			break
		}
		l.rollbackOne(txn, head, info, account)
		rolled = append(rolled, head)
		if head.Hash() == hash {
			break
		}
	}
	return rolled, false
}

func (l *Ledger) rollbackOne(txn store.WriteTransaction, block *types.Block, info *types.AccountInfo, account common.Account) {
	hash := block.Hash()
	sb := block.Sideband()
	store.BlockDel(txn, hash)
	store.FrontierDel(txn, hash)
	l.Cache.BlockCount.Store(l.Cache.BlockCount.Load() - 1)

	if sb.IsSend {
		// Undo the receivable the send created; refund the weight.
		dest := common.Account(block.Link)
		if block.Type == types.BlockSend {
			dest = block.Destination
		}
		store.PendingDel(txn, types.PendingKey{Account: dest, Hash: hash})
	}
	if sb.IsReceive {
		source := block.SourceHash()
		srcBlock := store.BlockGet(txn, source)
		if srcBlock != nil {
			amount := l.Amount(txn, hash)
			store.PendingPut(txn, types.PendingKey{Account: account, Hash: source},
				&types.PendingInfo{Source: srcBlock.Sideband().Account, Amount: amount, Epoch: sb.Epoch})
		}
	}

	if block.Previous.IsZero() {
		l.RepWeights.Sub(info.Representative, info.Balance)
		store.AccountDel(txn, account)
		return
	}
	previous := store.BlockGet(txn, block.Previous)
	prevSb := previous.Sideband()
	prevSb.Successor = common.Hash{}
	previous.SetSideband(prevSb)
	store.BlockPut(txn, block.Previous, previous)
	store.FrontierPut(txn, block.Previous, account)

	prevRep := l.representativeAt(txn, previous)
	l.RepWeights.Sub(info.Representative, info.Balance)
	l.RepWeights.Add(prevRep, prevSb.Balance)
	store.AccountPut(txn, account, &types.AccountInfo{
		Head:           block.Previous,
		Representative: prevRep,
		Open:           info.Open,
		Balance:        prevSb.Balance,
		Modified:       prevSb.Timestamp,
		BlockCount:     prevSb.Height,
		Epoch:          prevSb.Epoch,
	})
}

// representativeAt walks back from the given block to the most recent block
// naming a representative.
func (l *Ledger) representativeAt(txn store.Transaction, block *types.Block) common.Account {
	current := block
	for current != nil {
		switch current.Type {
		case types.BlockState, types.BlockOpen, types.BlockChange:
			return current.Representative
		}
		current = store.BlockGet(txn, current.Previous)
	}
	return common.Account{}
}
