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
	"sync"

	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
)

// RepWeights is the authoritative in-memory cache of per-representative
// voting weight, maintained incrementally by Process and rollback.
type RepWeights struct {
	mu      sync.Mutex
	amounts map[common.Account]*uint256.Int
}

// NewRepWeights creates an empty weight cache.
func NewRepWeights() *RepWeights {
	return &RepWeights{amounts: make(map[common.Account]*uint256.Int)}
}

// Add adjusts the representative's weight by amount.
func (r *RepWeights) Add(rep common.Account, amount *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.amounts[rep]
	if !ok {
		cur = uint256.NewInt(0)
		r.amounts[rep] = cur
	}
	cur.Add(cur, amount)
}

// Sub adjusts the representative's weight down by amount, clamping at zero.
func (r *RepWeights) Sub(rep common.Account, amount *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.amounts[rep]
	if !ok {
		return
	}
	if cur.Lt(amount) {
		cur.Clear()
		return
	}
	cur.Sub(cur, amount)
}

// Put overwrites the representative's weight.
func (r *RepWeights) Put(rep common.Account, amount *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.amounts[rep] = new(uint256.Int).Set(amount)
}

// Get returns the representative's weight, zero when unknown.
func (r *RepWeights) Get(rep common.Account) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.amounts[rep]; ok {
		return new(uint256.Int).Set(cur)
	}
	return uint256.NewInt(0)
}

// Amounts returns a copy of all representative weights.
func (r *RepWeights) Amounts() map[common.Account]*uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[common.Account]*uint256.Int, len(r.amounts))
	for rep, amount := range r.amounts {
		out[rep] = new(uint256.Int).Set(amount)
	}
	return out
}
