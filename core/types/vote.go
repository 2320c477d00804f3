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
	"strings"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/crypto"
)

// VoteMaxHashes is the maximum number of block hashes a single vote endorses.
const VoteMaxHashes = 12

// Vote is a representative's endorsement of up to VoteMaxHashes blocks, with
// a per-voter monotonically increasing sequence number.
type Vote struct {
	Account   common.Account
	Sequence  uint64
	Hashes    []common.Hash
	Signature common.Signature
}

// NewVote constructs a signed vote for the given hashes.
func NewVote(key *crypto.Keypair, sequence uint64, hashes []common.Hash) *Vote {
	v := &Vote{Account: key.Account, Sequence: sequence, Hashes: hashes}
	v.Signature = key.Sign(v.Digest())
	return v
}

// Digest returns the blake2b digest covered by the vote signature.
func (v *Vote) Digest() common.Hash {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], v.Sequence)
	parts := make([][]byte, 0, len(v.Hashes)+2)
	parts = append(parts, []byte("vote "), seq[:])
	for i := range v.Hashes {
		parts = append(parts, v.Hashes[i].Bytes())
	}
	return crypto.Blake2b(parts...)
}

// Validate reports an error result when the vote signature does not verify.
// It returns true on a bad signature, matching the "error" convention of the
// processing pipeline.
func (v *Vote) Validate() bool {
	return !crypto.Verify(v.Account, v.Digest(), v.Signature)
}

// HashesString formats the endorsed hashes for logging.
func (v *Vote) HashesString() string {
	var b strings.Builder
	for i := range v.Hashes {
		b.WriteString(v.Hashes[i].Hex())
		b.WriteString(", ")
	}
	return b.String()
}
