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

// Package common contains the fixed-size value types shared across the node:
// block hashes, accounts, signatures and election roots.
package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/rand"
)

const (
	// HashLength is the expected length of a block hash in bytes.
	HashLength = 32
	// AccountLength is the expected length of an account public key in bytes.
	AccountLength = 32
	// SignatureLength is the expected length of an ed25519 signature in bytes.
	SignatureLength = 64
)

// Hash represents the 32 byte blake2b digest of a block's canonical encoding.
type Hash [HashLength]byte

// BytesToHash sets b to hash. If b is larger than 32 bytes, b will be
// cropped from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash sets byte representation of s to hash.
func HexToHash(s string) Hash { return BytesToHash(fromHex(s)) }

// Bytes gets the byte representation of the underlying hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex converts a hash to a hex string.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// String implements the fmt.Stringer interface.
func (h Hash) String() string { return h.Hex() }

// TerminalString implements log.TerminalStringer, formatting a string for
// console output during logging.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x..%x", h[:3], h[29:])
}

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// SetBytes sets the hash to the value of b.
// If b is larger than len(h), b will be cropped from the left.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Cmp compares two hashes lexicographically.
func (h Hash) Cmp(other Hash) int { return bytes.Compare(h[:], other[:]) }

// Account represents the 32 byte ed25519 public key identifying a chain of
// blocks.
type Account [AccountLength]byte

// BytesToAccount returns the account whose key is the value of b.
func BytesToAccount(b []byte) Account {
	var a Account
	a.SetBytes(b)
	return a
}

// HexToAccount sets byte representation of s to account.
func HexToAccount(s string) Account { return BytesToAccount(fromHex(s)) }

// Bytes gets the byte representation of the underlying account key.
func (a Account) Bytes() []byte { return a[:] }

// Hex converts an account to a hex string.
func (a Account) Hex() string { return hex.EncodeToString(a[:]) }

// String implements the fmt.Stringer interface.
func (a Account) String() string { return a.Hex() }

// IsZero reports whether the account is the all-zero (burn) value.
func (a Account) IsZero() bool { return a == Account{} }

// SetBytes sets the account to the value of b.
func (a *Account) SetBytes(b []byte) {
	if len(b) > len(a) {
		b = b[len(b)-AccountLength:]
	}
	copy(a[AccountLength-len(b):], b)
}

// Hash converts the account key to a Hash, used where open blocks are rooted
// on the account itself.
func (a Account) Hash() Hash { return Hash(a) }

// Signature is a 64 byte ed25519 signature.
type Signature [SignatureLength]byte

// BytesToSignature returns the signature with the value of b.
func BytesToSignature(b []byte) Signature {
	var s Signature
	if len(b) > len(s) {
		b = b[len(b)-SignatureLength:]
	}
	copy(s[SignatureLength-len(b):], b)
	return s
}

// Bytes gets the byte representation of the signature.
func (s Signature) Bytes() []byte { return s[:] }

// Hex converts the signature to a hex string.
func (s Signature) Hex() string { return hex.EncodeToString(s[:]) }

// IsZero reports whether the signature is the all-zero value.
func (s Signature) IsZero() bool { return s == Signature{} }

// Root is the election root of a block: the previous hash for non-open
// blocks, or the account key for open blocks.
type Root = Hash

// QualifiedRoot is the 64 byte (previous-or-zero, root) pair identifying an
// election across the system.
type QualifiedRoot struct {
	Previous Hash
	Root     Root
}

// Bytes returns the 64 byte concatenation previous||root.
func (q QualifiedRoot) Bytes() []byte {
	b := make([]byte, 0, 2*HashLength)
	b = append(b, q.Previous[:]...)
	return append(b, q.Root[:]...)
}

// String implements the fmt.Stringer interface.
func (q QualifiedRoot) String() string {
	return q.Previous.Hex() + ":" + q.Root.Hex()
}

// RandomHash returns a pseudo-random hash, for tests and nonces.
func RandomHash() Hash {
	var h Hash
	rand.Read(h[:])
	return h
}

// fromHex decodes s, ignoring an optional 0x prefix. Invalid input yields
// the bytes that parsed before the error, matching lenient CLI-style input
// handling.
func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}
