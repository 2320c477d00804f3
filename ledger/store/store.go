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

// Package store implements the transactional block store consumed by the
// ledger: typed tables over a key-value backend with snapshot reads and
// batched exclusive writes.
package store

import (
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
)

// Table identifies one of the typed key spaces of the store.
type Table byte

const (
	TableAccounts Table = iota + 1
	TableBlocks
	TablePending
	TableConfirmationHeight
	TableOnlineWeight
	TableFrontiers
	TableUnchecked
	TableRepWeights
	TableMeta
)

// Transaction is the read surface shared by read and write transactions.
type Transaction interface {
	get(key []byte) ([]byte, bool)
	iterate(prefix []byte, fn func(key, value []byte) bool)
}

// ReadTransaction is a consistent read snapshot. Long-running holders must
// Renew to release old backend snapshots.
type ReadTransaction interface {
	Transaction
	// Renew refreshes the snapshot to current store state.
	Renew()
	// Discard releases the snapshot.
	Discard()
}

// WriteTransaction buffers mutations and applies them atomically on Commit.
// Reads observe the transaction's own pending writes. Only one write
// transaction is live at a time; callers obtain exclusivity through the
// write-database queue.
type WriteTransaction interface {
	Transaction
	put(key, value []byte)
	delete(key []byte)
	// Commit atomically applies all buffered writes.
	Commit() error
	// Renew commits the writes so far and continues the transaction. Used by
	// batch writers to bound write-lock hold times.
	Renew() error
}

// Store is the transactional block store interface consumed by the ledger.
type Store interface {
	BeginRead() ReadTransaction
	// BeginWrite opens a write transaction covering the given tables. The
	// table set is declarative; the backend locks the whole store.
	BeginWrite(tables ...Table) WriteTransaction
	Close() error
}

func tableKey(t Table, key []byte) []byte {
	b := make([]byte, 0, 1+len(key))
	b = append(b, byte(t))
	return append(b, key...)
}

// BlockPut stores a block with its sideband under its hash.
func BlockPut(txn WriteTransaction, hash common.Hash, block *types.Block) {
	enc, err := block.MarshalBinary()
	if err != nil {
		panic(err) // all block variants are encodable
	}
	txn.put(tableKey(TableBlocks, hash.Bytes()), enc)
}

// BlockGet returns the stored block, or nil when absent.
func BlockGet(txn Transaction, hash common.Hash) *types.Block {
	data, ok := txn.get(tableKey(TableBlocks, hash.Bytes()))
	if !ok {
		return nil
	}
	block := new(types.Block)
	if err := block.UnmarshalBinary(data); err != nil {
		return nil
	}
	return block
}

// BlockExists reports whether a block is stored under the hash.
func BlockExists(txn Transaction, hash common.Hash) bool {
	_, ok := txn.get(tableKey(TableBlocks, hash.Bytes()))
	return ok
}

// BlockDel removes a block.
func BlockDel(txn WriteTransaction, hash common.Hash) {
	txn.delete(tableKey(TableBlocks, hash.Bytes()))
}

// BlockSuccessorSet updates the successor field of a stored block's sideband.
func BlockSuccessorSet(txn WriteTransaction, hash, successor common.Hash) {
	block := BlockGet(txn, hash)
	if block == nil {
		return
	}
	sb := block.Sideband()
	if sb == nil {
		sb = &types.Sideband{}
	}
	sb.Successor = successor
	block.SetSideband(sb)
	BlockPut(txn, hash, block)
}

// AccountPut stores the account info record.
func AccountPut(txn WriteTransaction, account common.Account, info *types.AccountInfo) {
	enc, _ := info.MarshalBinary()
	txn.put(tableKey(TableAccounts, account.Bytes()), enc)
}

// AccountGet returns the account info, or false when the account is unopened.
func AccountGet(txn Transaction, account common.Account) (*types.AccountInfo, bool) {
	data, ok := txn.get(tableKey(TableAccounts, account.Bytes()))
	if !ok {
		return nil, false
	}
	info := new(types.AccountInfo)
	if err := info.UnmarshalBinary(data); err != nil {
		return nil, false
	}
	return info, true
}

// AccountDel removes the account info record.
func AccountDel(txn WriteTransaction, account common.Account) {
	txn.delete(tableKey(TableAccounts, account.Bytes()))
}

// AccountEach iterates all account records in key order.
func AccountEach(txn Transaction, fn func(common.Account, *types.AccountInfo) bool) {
	txn.iterate(tableKey(TableAccounts, nil), func(key, value []byte) bool {
		info := new(types.AccountInfo)
		if err := info.UnmarshalBinary(value); err != nil {
			return true
		}
		return fn(common.BytesToAccount(key), info)
	})
}

// PendingPut stores a receivable entry.
func PendingPut(txn WriteTransaction, key types.PendingKey, info *types.PendingInfo) {
	enc, _ := info.MarshalBinary()
	txn.put(tableKey(TablePending, key.Bytes()), enc)
}

// PendingGet returns a receivable entry, or false when absent.
func PendingGet(txn Transaction, key types.PendingKey) (*types.PendingInfo, bool) {
	data, ok := txn.get(tableKey(TablePending, key.Bytes()))
	if !ok {
		return nil, false
	}
	info := new(types.PendingInfo)
	if err := info.UnmarshalBinary(data); err != nil {
		return nil, false
	}
	return info, true
}

// PendingDel removes a receivable entry.
func PendingDel(txn WriteTransaction, key types.PendingKey) {
	txn.delete(tableKey(TablePending, key.Bytes()))
}

// PendingEach iterates the receivable entries of one destination account.
func PendingEach(txn Transaction, account common.Account, fn func(types.PendingKey, *types.PendingInfo) bool) {
	txn.iterate(tableKey(TablePending, account.Bytes()), func(key, value []byte) bool {
		if len(key) != 32 {
			return true
		}
		info := new(types.PendingInfo)
		if err := info.UnmarshalBinary(value); err != nil {
			return true
		}
		return fn(types.PendingKey{Account: account, Hash: common.BytesToHash(key)}, info)
	})
}

// ConfirmationHeightPut stores the cemented frontier of an account.
func ConfirmationHeightPut(txn WriteTransaction, account common.Account, info *types.ConfirmationHeightInfo) {
	enc, _ := info.MarshalBinary()
	txn.put(tableKey(TableConfirmationHeight, account.Bytes()), enc)
}

// ConfirmationHeightGet returns the cemented frontier of an account. Missing
// entries read as height zero.
func ConfirmationHeightGet(txn Transaction, account common.Account) *types.ConfirmationHeightInfo {
	data, ok := txn.get(tableKey(TableConfirmationHeight, account.Bytes()))
	if !ok {
		return &types.ConfirmationHeightInfo{}
	}
	info := new(types.ConfirmationHeightInfo)
	if err := info.UnmarshalBinary(data); err != nil {
		return &types.ConfirmationHeightInfo{}
	}
	return info
}

// FrontierPut maps a head block hash back to its account.
func FrontierPut(txn WriteTransaction, hash common.Hash, account common.Account) {
	txn.put(tableKey(TableFrontiers, hash.Bytes()), account.Bytes())
}

// FrontierGet returns the account owning the given head hash.
func FrontierGet(txn Transaction, hash common.Hash) (common.Account, bool) {
	data, ok := txn.get(tableKey(TableFrontiers, hash.Bytes()))
	if !ok {
		return common.Account{}, false
	}
	return common.BytesToAccount(data), true
}

// FrontierDel removes a frontier mapping.
func FrontierDel(txn WriteTransaction, hash common.Hash) {
	txn.delete(tableKey(TableFrontiers, hash.Bytes()))
}
