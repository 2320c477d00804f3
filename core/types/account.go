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

package types

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
)

// Epoch tags which protocol upgrade an entry belongs to.
type Epoch uint8

const (
	EpochInvalid     Epoch = 0
	EpochUnspecified Epoch = 1
	Epoch0           Epoch = 2
	Epoch1           Epoch = 3
	Epoch2           Epoch = 4
	EpochMax               = Epoch2
)

// EpochSequential checks that next is exactly one upgrade above cur.
func EpochSequential(cur, next Epoch) bool {
	return next >= Epoch0+1 && next == cur+1
}

// AccountInfo holds the latest chain state of an account.
type AccountInfo struct {
	Head           common.Hash
	Representative common.Account
	Open           common.Hash
	Balance        *uint256.Int
	Modified       uint64
	BlockCount     uint64
	Epoch          Epoch
}

// ConfirmationHeightInfo records the cemented frontier of an account: all
// blocks up to Height are final.
type ConfirmationHeightInfo struct {
	Height   uint64
	Frontier common.Hash
}

// PendingKey identifies a receivable amount by destination account and the
// hash of the sending block.
type PendingKey struct {
	Account common.Account
	Hash    common.Hash
}

// Bytes returns the store key encoding account||hash.
func (k PendingKey) Bytes() []byte {
	b := make([]byte, 0, 64)
	b = append(b, k.Account.Bytes()...)
	return append(b, k.Hash.Bytes()...)
}

// PendingInfo is the receivable amount parked under a PendingKey.
type PendingInfo struct {
	Source common.Account
	Amount *uint256.Int
	Epoch  Epoch
}

var errBadRecordEncoding = errors.New("bad record encoding")

// MarshalBinary encodes the account info for storage.
func (i *AccountInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 32*3+32+8+8+1)
	buf = append(buf, i.Head.Bytes()...)
	buf = append(buf, i.Representative.Bytes()...)
	buf = append(buf, i.Open.Bytes()...)
	buf = append(buf, balanceBytes(i.Balance)...)
	buf = binary.BigEndian.AppendUint64(buf, i.Modified)
	buf = binary.BigEndian.AppendUint64(buf, i.BlockCount)
	return append(buf, byte(i.Epoch)), nil
}

// UnmarshalBinary decodes an account info record.
func (i *AccountInfo) UnmarshalBinary(data []byte) error {
	if len(data) != 32*3+32+8+8+1 {
		return errBadRecordEncoding
	}
	i.Head = common.BytesToHash(data[:32])
	i.Representative = common.BytesToAccount(data[32:64])
	i.Open = common.BytesToHash(data[64:96])
	i.Balance = new(uint256.Int).SetBytes(data[96:128])
	i.Modified = binary.BigEndian.Uint64(data[128:136])
	i.BlockCount = binary.BigEndian.Uint64(data[136:144])
	i.Epoch = Epoch(data[144])
	return nil
}

// MarshalBinary encodes the confirmation height info for storage.
func (i *ConfirmationHeightInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 8+32)
	buf = binary.BigEndian.AppendUint64(buf, i.Height)
	return append(buf, i.Frontier.Bytes()...), nil
}

// UnmarshalBinary decodes a confirmation height record.
func (i *ConfirmationHeightInfo) UnmarshalBinary(data []byte) error {
	if len(data) != 8+32 {
		return errBadRecordEncoding
	}
	i.Height = binary.BigEndian.Uint64(data[:8])
	i.Frontier = common.BytesToHash(data[8:])
	return nil
}

// MarshalBinary encodes the pending info for storage.
func (i *PendingInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 32+32+1)
	buf = append(buf, i.Source.Bytes()...)
	buf = append(buf, balanceBytes(i.Amount)...)
	return append(buf, byte(i.Epoch)), nil
}

// UnmarshalBinary decodes a pending info record.
func (i *PendingInfo) UnmarshalBinary(data []byte) error {
	if len(data) != 32+32+1 {
		return errBadRecordEncoding
	}
	i.Source = common.BytesToAccount(data[:32])
	i.Amount = new(uint256.Int).SetBytes(data[32:64])
	i.Epoch = Epoch(data[64])
	return nil
}
