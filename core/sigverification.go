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

package core

import (
	"sync"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/log"
)

// SignatureChecker is the batch verification service consumed by the
// pipeline stages.
type SignatureChecker interface {
	Verify(set *crypto.SignatureCheckSet)
}

// stateBlockVerification is the dedicated stage batch-verifying state block
// signatures before they enter the main processing queue. The input queue is
// bounded; producers block on the condition variable when it fills.
type stateBlockVerification struct {
	checker  SignatureChecker
	epochs   *ledger.Epochs
	maxBatch int
	maxSize  int
	output   func(valid, invalid []blockItem)
	logger   log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []blockItem
	active  bool
	stopped bool
	wg      sync.WaitGroup
}

func newStateBlockVerification(checker SignatureChecker, epochs *ledger.Epochs, maxBatch, maxSize int, output func(valid, invalid []blockItem), logger log.Logger) *stateBlockVerification {
	v := &stateBlockVerification{
		checker:  checker,
		epochs:   epochs,
		maxBatch: maxBatch,
		maxSize:  maxSize,
		output:   output,
		logger:   logger,
	}
	v.cond = sync.NewCond(&v.mu)
	return v
}

func (v *stateBlockVerification) start() {
	v.wg.Add(1)
	go v.run()
}

func (v *stateBlockVerification) stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.cond.Broadcast()
	v.wg.Wait()
}

func (v *stateBlockVerification) add(item blockItem) {
	v.mu.Lock()
	for !v.stopped && len(v.queue) >= v.maxSize {
		v.cond.Wait()
	}
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.queue = append(v.queue, item)
	v.mu.Unlock()
	v.cond.Broadcast()
}

func (v *stateBlockVerification) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queue)
}

func (v *stateBlockVerification) flush() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for !v.stopped && (v.active || len(v.queue) > 0) {
		v.cond.Wait()
	}
}

func (v *stateBlockVerification) run() {
	defer v.wg.Done()
	v.mu.Lock()
	for !v.stopped {
		if len(v.queue) > 0 {
			v.active = true
			for len(v.queue) > 0 && !v.stopped {
				items := v.takeBatch()
				v.mu.Unlock()
				v.verify(items)
				v.mu.Lock()
			}
			v.active = false
			v.cond.Broadcast()
		} else {
			v.cond.Wait()
		}
	}
	v.mu.Unlock()
}

func (v *stateBlockVerification) takeBatch() []blockItem {
	n := len(v.queue)
	if n > v.maxBatch {
		n = v.maxBatch
	}
	items := make([]blockItem, n)
	copy(items, v.queue[:n])
	v.queue = v.queue[n:]
	v.cond.Broadcast() // wake producers blocked on the size bound
	return items
}

func (v *stateBlockVerification) verify(items []blockItem) {
	if len(items) == 0 {
		return
	}
	set := &crypto.SignatureCheckSet{
		Messages:      make([]common.Hash, len(items)),
		PubKeys:       make([]common.Account, len(items)),
		Signatures:    make([]common.Signature, len(items)),
		Verifications: make([]int, len(items)),
	}
	for i, item := range items {
		block := item.block
		account := block.Account
		// Epoch blocks may carry the upgrade account's signature.
		if !block.Link.IsZero() && v.epochs.IsEpochLink(block.Link) {
			if !block.VerifySignature(account) {
				account = v.epochs.Signer(v.epochs.EpochOf(block.Link))
			}
		}
		set.Messages[i] = block.Hash()
		set.PubKeys[i] = account
		set.Signatures[i] = block.Signature
	}
	v.checker.Verify(set)

	var valid, invalid []blockItem
	for i, item := range items {
		if set.Verifications[i] == 1 {
			valid = append(valid, item)
		} else {
			invalid = append(invalid, item)
		}
	}
	if len(invalid) > 0 {
		v.logger.Debug("Rejected state blocks with bad signatures", "count", len(invalid))
	}
	v.output(valid, invalid)
}
