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

package store

import (
	"encoding/binary"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
)

// UncheckedKey addresses a parked block by the hash it depends on plus its
// own hash, so multiple children of one gap coexist.
type UncheckedKey struct {
	Dependency common.Hash
	Hash       common.Hash
}

func (k UncheckedKey) bytes() []byte {
	b := make([]byte, 0, 64)
	b = append(b, k.Dependency.Bytes()...)
	return append(b, k.Hash.Bytes()...)
}

// UncheckedInfo is a block parked behind a missing dependency.
type UncheckedInfo struct {
	Block    *types.Block
	Account  common.Account
	Modified uint64
}

// UncheckedPut parks a block under the dependency hash that is missing.
func UncheckedPut(txn WriteTransaction, dependency common.Hash, info *UncheckedInfo) {
	key := UncheckedKey{Dependency: dependency, Hash: info.Block.Hash()}
	enc, err := info.Block.MarshalBinary()
	if err != nil {
		panic(err)
	}
	buf := make([]byte, 0, 32+8+len(enc))
	buf = append(buf, info.Account.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, info.Modified)
	buf = append(buf, enc...)
	txn.put(tableKey(TableUnchecked, key.bytes()), buf)
}

// UncheckedGet returns all blocks parked under the given dependency.
func UncheckedGet(txn Transaction, dependency common.Hash) []*UncheckedInfo {
	var result []*UncheckedInfo
	txn.iterate(tableKey(TableUnchecked, dependency.Bytes()), func(key, value []byte) bool {
		if len(value) < 40 {
			return true
		}
		block := new(types.Block)
		if err := block.UnmarshalBinary(value[40:]); err != nil {
			return true
		}
		result = append(result, &UncheckedInfo{
			Block:    block,
			Account:  common.BytesToAccount(value[:32]),
			Modified: binary.BigEndian.Uint64(value[32:40]),
		})
		return true
	})
	return result
}

// UncheckedDel removes one parked block.
func UncheckedDel(txn WriteTransaction, key UncheckedKey) {
	txn.delete(tableKey(TableUnchecked, key.bytes()))
}

// UncheckedCount returns the number of parked blocks.
func UncheckedCount(txn Transaction) int {
	count := 0
	txn.iterate(tableKey(TableUnchecked, nil), func(key, value []byte) bool {
		count++
		return true
	})
	return count
}

// OnlineWeightPut stores a sampled online weight under its timestamp.
func OnlineWeightPut(txn WriteTransaction, timestamp uint64, weight []byte) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], timestamp)
	txn.put(tableKey(TableOnlineWeight, key[:]), weight)
}

// OnlineWeightDel removes a sample.
func OnlineWeightDel(txn WriteTransaction, timestamp uint64) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], timestamp)
	txn.delete(tableKey(TableOnlineWeight, key[:]))
}

// OnlineWeightEach iterates samples in timestamp order.
func OnlineWeightEach(txn Transaction, fn func(timestamp uint64, weight []byte) bool) {
	txn.iterate(tableKey(TableOnlineWeight, nil), func(key, value []byte) bool {
		return fn(binary.BigEndian.Uint64(key), value)
	})
}

// OnlineWeightCount returns the number of stored samples.
func OnlineWeightCount(txn Transaction) int {
	count := 0
	OnlineWeightEach(txn, func(uint64, []byte) bool {
		count++
		return true
	})
	return count
}

// RepWeightPut persists a representative weight amount.
func RepWeightPut(txn WriteTransaction, rep common.Account, amount []byte) {
	txn.put(tableKey(TableRepWeights, rep.Bytes()), amount)
}

// RepWeightEach iterates persisted representative weights.
func RepWeightEach(txn Transaction, fn func(rep common.Account, amount []byte) bool) {
	txn.iterate(tableKey(TableRepWeights, nil), func(key, value []byte) bool {
		return fn(common.BytesToAccount(key), value)
	})
}

// MetaPut stores a store metadata entry.
func MetaPut(txn WriteTransaction, key string, value []byte) {
	txn.put(tableKey(TableMeta, []byte(key)), value)
}

// MetaGet reads a store metadata entry.
func MetaGet(txn Transaction, key string) ([]byte, bool) {
	return txn.get(tableKey(TableMeta, []byte(key)))
}
