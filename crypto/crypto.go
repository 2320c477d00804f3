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

// Package crypto implements the digest and signature helpers used by the
// consensus core: blake2b block digests and ed25519 account signatures.
package crypto

import (
	"crypto/ed25519"
	crand "crypto/rand"

	"github.com/oslocurrency/go-oslo/common"
	"golang.org/x/crypto/blake2b"
)

// Blake2b computes the 32 byte blake2b digest over the concatenation of the
// given byte slices.
func Blake2b(data ...[]byte) common.Hash {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	return common.BytesToHash(h.Sum(nil))
}

// Keypair is a locally held ed25519 signing key with its derived account.
type Keypair struct {
	Account common.Account
	priv    ed25519.PrivateKey
}

// GenerateKey creates a new random keypair.
func GenerateKey() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{Account: common.BytesToAccount(pub), priv: priv}, nil
}

// Sign signs the given digest with the keypair's private key.
func (k *Keypair) Sign(digest common.Hash) common.Signature {
	return common.BytesToSignature(ed25519.Sign(k.priv, digest.Bytes()))
}

// Verify reports whether sig is a valid signature of digest by account.
func Verify(account common.Account, digest common.Hash, sig common.Signature) bool {
	return ed25519.Verify(account.Bytes(), digest.Bytes(), sig.Bytes())
}
