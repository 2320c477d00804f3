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
	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/crypto"
)

// BlockBuilder assembles blocks field by field. It is primarily a test and
// wallet convenience; obtain one from NewBlockBuilder or a per-type
// constructor such as State, since the zero value holds no block.
type BlockBuilder struct {
	block *Block
}

// NewBlockBuilder starts building a block of the given type.
func NewBlockBuilder(typ BlockType) *BlockBuilder {
	return &BlockBuilder{block: &Block{Type: typ}}
}

// State starts a state block.
func State() *BlockBuilder { return NewBlockBuilder(BlockState) }

// Send starts a legacy send block.
func Send() *BlockBuilder { return NewBlockBuilder(BlockSend) }

// Receive starts a legacy receive block.
func Receive() *BlockBuilder { return NewBlockBuilder(BlockReceive) }

// Open starts a legacy open block.
func Open() *BlockBuilder { return NewBlockBuilder(BlockOpen) }

// Change starts a legacy change block.
func Change() *BlockBuilder { return NewBlockBuilder(BlockChange) }

func (b *BlockBuilder) Account(a common.Account) *BlockBuilder {
	b.block.Account = a
	return b
}

func (b *BlockBuilder) Previous(h common.Hash) *BlockBuilder {
	b.block.Previous = h
	return b
}

func (b *BlockBuilder) Representative(a common.Account) *BlockBuilder {
	b.block.Representative = a
	return b
}

func (b *BlockBuilder) Balance(v *uint256.Int) *BlockBuilder {
	b.block.Balance = v
	return b
}

func (b *BlockBuilder) BalanceUint(v uint64) *BlockBuilder {
	b.block.Balance = uint256.NewInt(v)
	return b
}

func (b *BlockBuilder) Link(h common.Hash) *BlockBuilder {
	b.block.Link = h
	return b
}

func (b *BlockBuilder) Destination(a common.Account) *BlockBuilder {
	b.block.Destination = a
	return b
}

func (b *BlockBuilder) Source(h common.Hash) *BlockBuilder {
	b.block.Source = h
	return b
}

func (b *BlockBuilder) Work(w uint64) *BlockBuilder {
	b.block.Work = w
	return b
}

// Sign signs the block with the given key and returns the builder.
func (b *BlockBuilder) Sign(key *crypto.Keypair) *BlockBuilder {
	b.block.Sign(key)
	return b
}

// Build returns the assembled block.
func (b *BlockBuilder) Build() *Block {
	return b.block
}
