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

// Package types contains the consensus data types of the oslo protocol:
// blocks with their sidebands, votes and per-account ledger records.
package types

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/crypto"
)

// BlockType tags the variant of a block.
type BlockType uint8

const (
	BlockInvalid BlockType = iota
	BlockSend
	BlockReceive
	BlockOpen
	BlockChange
	BlockState
)

// String implements the fmt.Stringer interface.
func (t BlockType) String() string {
	switch t {
	case BlockSend:
		return "send"
	case BlockReceive:
		return "receive"
	case BlockOpen:
		return "open"
	case BlockChange:
		return "change"
	case BlockState:
		return "state"
	default:
		return "invalid"
	}
}

// Block is a single entry in an account chain. The populated fields depend on
// the variant:
//
//	send:    Previous, Destination, Balance
//	receive: Previous, Source
//	open:    Source, Representative, Account
//	change:  Previous, Representative
//	state:   Account, Previous, Representative, Balance, Link
//
// Every block carries Signature and Work. A stored block additionally carries
// a Sideband with derived chain metadata.
type Block struct {
	Type BlockType

	Previous       common.Hash
	Account        common.Account
	Representative common.Account
	Balance        *uint256.Int
	Link           common.Hash
	Destination    common.Account
	Source         common.Hash

	Signature common.Signature
	Work      uint64

	sideband atomic.Pointer[Sideband]
	hash     atomic.Pointer[common.Hash]
}

// Sideband is the derived metadata attached to a block when it is persisted.
type Sideband struct {
	Successor common.Hash
	Account   common.Account
	Balance   *uint256.Int
	Height    uint64
	Timestamp uint64
	Epoch     Epoch
	IsSend    bool
	IsReceive bool
	IsEpoch   bool
}

// Hash returns the blake2b digest of the block's canonical encoding, caching
// the result.
func (b *Block) Hash() common.Hash {
	if h := b.hash.Load(); h != nil {
		return *h
	}
	h := b.computeHash()
	b.hash.Store(&h)
	return h
}

func (b *Block) computeHash() common.Hash {
	var buf [8]byte
	switch b.Type {
	case BlockSend:
		return crypto.Blake2b(b.Previous.Bytes(), b.Destination.Bytes(), balanceBytes(b.Balance))
	case BlockReceive:
		return crypto.Blake2b(b.Previous.Bytes(), b.Source.Bytes())
	case BlockOpen:
		return crypto.Blake2b(b.Source.Bytes(), b.Representative.Bytes(), b.Account.Bytes())
	case BlockChange:
		return crypto.Blake2b(b.Previous.Bytes(), b.Representative.Bytes())
	case BlockState:
		binary.BigEndian.PutUint64(buf[:], uint64(BlockState))
		return crypto.Blake2b(buf[:], b.Account.Bytes(), b.Previous.Bytes(),
			b.Representative.Bytes(), balanceBytes(b.Balance), b.Link.Bytes())
	default:
		return common.Hash{}
	}
}

func balanceBytes(b *uint256.Int) []byte {
	if b == nil {
		return make([]byte, 32)
	}
	v := b.Bytes32()
	return v[:]
}

// Root returns the election root of the block: previous for non-open blocks,
// the account key for open blocks and first state blocks.
func (b *Block) Root() common.Root {
	if !b.Previous.IsZero() {
		return b.Previous
	}
	switch b.Type {
	case BlockOpen, BlockState:
		return b.BlockAccount().Hash()
	default:
		return b.Previous
	}
}

// QualifiedRoot returns the (previous, root) pair identifying the election
// this block competes in.
func (b *Block) QualifiedRoot() common.QualifiedRoot {
	return common.QualifiedRoot{Previous: b.Previous, Root: b.Root()}
}

// BlockAccount returns the account the block itself names, which is only
// present on open and state blocks. For other variants the account is
// recovered from the sideband or the ledger.
func (b *Block) BlockAccount() common.Account {
	switch b.Type {
	case BlockOpen, BlockState:
		return b.Account
	default:
		if sb := b.sideband.Load(); sb != nil {
			return sb.Account
		}
		return common.Account{}
	}
}

// SourceHash returns the hash of the block being received, or the zero hash
// when the block does not receive funds. For state blocks the link field is
// the source only when the sideband marks the block a receive.
func (b *Block) SourceHash() common.Hash {
	switch b.Type {
	case BlockReceive, BlockOpen:
		return b.Source
	case BlockState:
		if sb := b.sideband.Load(); sb != nil && sb.IsReceive {
			return b.Link
		}
		return common.Hash{}
	default:
		return common.Hash{}
	}
}

// Sideband returns the attached sideband, or nil when the block has not been
// persisted.
func (b *Block) Sideband() *Sideband {
	return b.sideband.Load()
}

// SetSideband attaches derived chain metadata to the block.
func (b *Block) SetSideband(sb *Sideband) {
	b.sideband.Store(sb)
}

// Height returns the sideband height, or zero for unpersisted blocks.
func (b *Block) Height() uint64 {
	if sb := b.sideband.Load(); sb != nil {
		return sb.Height
	}
	return 0
}

// BalanceOrZero returns the block balance, never nil.
func (b *Block) BalanceOrZero() *uint256.Int {
	if b.Balance == nil {
		return uint256.NewInt(0)
	}
	return b.Balance
}

// Sign signs the block hash with the given keypair and attaches the
// signature.
func (b *Block) Sign(key *crypto.Keypair) *Block {
	b.Signature = key.Sign(b.Hash())
	return b
}

// VerifySignature checks the block signature against the given account.
func (b *Block) VerifySignature(account common.Account) bool {
	return crypto.Verify(account, b.Hash(), b.Signature)
}

const sidebandFlagSend = 1 << 0
const sidebandFlagReceive = 1 << 1
const sidebandFlagEpoch = 1 << 2

var errBadBlockEncoding = errors.New("bad block encoding")

// MarshalBinary encodes the block and its sideband (when present) for
// storage. The layout is internal to the store and carries a leading type
// byte.
func (b *Block) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, byte(b.Type))
	buf = append(buf, b.Previous.Bytes()...)
	buf = append(buf, b.Account.Bytes()...)
	buf = append(buf, b.Representative.Bytes()...)
	buf = append(buf, balanceBytes(b.Balance)...)
	buf = append(buf, b.Link.Bytes()...)
	buf = append(buf, b.Destination.Bytes()...)
	buf = append(buf, b.Source.Bytes()...)
	buf = append(buf, b.Signature.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, b.Work)
	if sb := b.sideband.Load(); sb != nil {
		buf = append(buf, 1)
		buf = append(buf, sb.Successor.Bytes()...)
		buf = append(buf, sb.Account.Bytes()...)
		buf = append(buf, balanceBytes(sb.Balance)...)
		buf = binary.BigEndian.AppendUint64(buf, sb.Height)
		buf = binary.BigEndian.AppendUint64(buf, sb.Timestamp)
		buf = append(buf, byte(sb.Epoch))
		var flags byte
		if sb.IsSend {
			flags |= sidebandFlagSend
		}
		if sb.IsReceive {
			flags |= sidebandFlagReceive
		}
		if sb.IsEpoch {
			flags |= sidebandFlagEpoch
		}
		buf = append(buf, flags)
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

// UnmarshalBinary decodes a block previously encoded with MarshalBinary.
func (b *Block) UnmarshalBinary(data []byte) error {
	const fixed = 1 + 32*4 + 32 + 32 + 32 + 64 + 8 + 1
	if len(data) < fixed {
		return errBadBlockEncoding
	}
	b.Type = BlockType(data[0])
	off := 1
	next := func(n int) []byte {
		s := data[off : off+n]
		off += n
		return s
	}
	b.Previous = common.BytesToHash(next(32))
	b.Account = common.BytesToAccount(next(32))
	b.Representative = common.BytesToAccount(next(32))
	b.Balance = new(uint256.Int).SetBytes(next(32))
	b.Link = common.BytesToHash(next(32))
	b.Destination = common.BytesToAccount(next(32))
	b.Source = common.BytesToHash(next(32))
	b.Signature = common.BytesToSignature(next(64))
	b.Work = binary.BigEndian.Uint64(next(8))
	hasSideband := next(1)[0] == 1
	if hasSideband {
		if len(data)-off < 32+32+32+8+8+1+1 {
			return errBadBlockEncoding
		}
		sb := &Sideband{}
		sb.Successor = common.BytesToHash(next(32))
		sb.Account = common.BytesToAccount(next(32))
		sb.Balance = new(uint256.Int).SetBytes(next(32))
		sb.Height = binary.BigEndian.Uint64(next(8))
		sb.Timestamp = binary.BigEndian.Uint64(next(8))
		sb.Epoch = Epoch(next(1)[0])
		flags := next(1)[0]
		sb.IsSend = flags&sidebandFlagSend != 0
		sb.IsReceive = flags&sidebandFlagReceive != 0
		sb.IsEpoch = flags&sidebandFlagEpoch != 0
		b.sideband.Store(sb)
	}
	b.hash.Store(nil)
	return nil
}
