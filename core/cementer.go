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
	"time"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/ledger/store"
)

// Adaptive batch-write bounds for the bounded strategy.
const (
	minBatchWriteSize     = 4096
	initialBatchWriteSize = 16384
	maxBatchWriteSize     = 65536
	batchWriteTargetTime  = 250 * time.Millisecond
)

// confirmedIterated tracks per-account progress during one traversal.
type confirmedIterated struct {
	confirmed uint64
	iterated  uint64
}

// pendingCement is one account segment awaiting the confirmation height
// write: heights (bottom..top] become cemented, with the walked blocks kept
// lowest-first for observer callbacks.
type pendingCement struct {
	account common.Account
	top     common.Hash
	height  uint64
	bottom  uint64
	blocks  []*types.Block
}

// walkChains resolves the dependency closure of the target frontier into an
// ordered list of account segments: a receive's source segment always
// precedes the receive's own segment, so cross-account dependencies land in
// the same write batch.
func walkChains(p *ConfirmationHeightProcessor, txn store.ReadTransaction, original common.Hash) []*pendingCement {
	progress := make(map[common.Account]*confirmedIterated)
	onStack := make(map[common.Hash]struct{})
	var writes []*pendingCement

	stack := []common.Hash{original}
	onStack[original] = struct{}{}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		block := p.ledger.BlockGet(txn, current)
		if block == nil {
			stack = stack[:len(stack)-1]
			continue
		}
		sb := block.Sideband()
		account := sb.Account

		state, ok := progress[account]
		if !ok {
			conf := p.ledger.ConfirmationHeight(txn, account)
			state = &confirmedIterated{confirmed: conf.Height, iterated: conf.Height}
			progress[account] = state
		}
		if sb.Height <= state.confirmed {
			stack = stack[:len(stack)-1]
			delete(onStack, current)
			continue
		}

		// Walk down to the confirmed frontier, collecting the segment and
		// any uncemented receive sources.
		var segment []*types.Block
		var sources []common.Hash
		walker := block
		for walker != nil && walker.Sideband().Height > state.confirmed {
			segment = append(segment, walker)
			if src := walker.SourceHash(); !src.IsZero() {
				if srcBlock := p.ledger.BlockGet(txn, src); srcBlock != nil {
					srcSb := srcBlock.Sideband()
					srcState, seen := progress[srcSb.Account]
					cemented := false
					if seen {
						cemented = srcSb.Height <= srcState.confirmed
					} else {
						cemented = p.ledger.ConfirmationHeight(txn, srcSb.Account).Height >= srcSb.Height
					}
					if _, queued := onStack[src]; !cemented && !queued {
						sources = append(sources, src)
					}
				}
			}
			if walker.Previous.IsZero() {
				break
			}
			walker = p.ledger.BlockGet(txn, walker.Previous)
		}

		if len(sources) > 0 {
			// Sources first; current is revisited once they are queued.
			for _, src := range sources {
				stack = append(stack, src)
				onStack[src] = struct{}{}
			}
			continue
		}

		// Reverse to lowest-first for the height-ordered cement invariant.
		for i, j := 0, len(segment)-1; i < j; i, j = i+1, j-1 {
			segment[i], segment[j] = segment[j], segment[i]
		}
		writes = append(writes, &pendingCement{
			account: account,
			top:     current,
			height:  sb.Height,
			bottom:  state.confirmed,
			blocks:  segment,
		})
		state.confirmed = sb.Height
		stack = stack[:len(stack)-1]
		delete(onStack, current)
	}
	return writes
}

// boundedCementer cements in adaptive slices, renewing the write transaction
// between slices to bound write-lock hold times.
type boundedCementer struct {
	p              *ConfirmationHeightProcessor
	batchWriteSize int
}

func newBoundedCementer(p *ConfirmationHeightProcessor) *boundedCementer {
	return &boundedCementer{p: p, batchWriteSize: initialBatchWriteSize}
}

func (c *boundedCementer) process(original common.Hash) {
	read := c.p.ledger.Store.BeginRead()
	writes := walkChains(c.p, read, original)
	read.Discard()
	if len(writes) == 0 {
		c.p.notifyAlreadyCemented(original)
		return
	}

	guard := c.p.writeQueue.Wait(WriterConfirmationHeight)
	defer guard.Release()
	txn := c.p.ledger.Store.BeginWrite(store.TableConfirmationHeight)
	sliced := 0
	for _, write := range writes {
		cemented := c.p.applyCement(txn, write)
		sliced += len(cemented)
		if sliced >= c.batchWriteSize {
			start := time.Now()
			if err := txn.Renew(); err != nil {
				c.p.logger.Error("Cement batch write failed", "err", err)
				txn.Commit()
				return
			}
			c.adapt(time.Since(start))
			sliced = 0
		}
		c.p.notifyCemented(cemented)
	}
	if err := txn.Commit(); err != nil {
		c.p.logger.Error("Cement batch commit failed", "err", err)
	}
}

// adapt doubles the slice size after fast flushes and halves it after slow
// ones, within fixed bounds.
func (c *boundedCementer) adapt(elapsed time.Duration) {
	switch {
	case elapsed < batchWriteTargetTime/2 && c.batchWriteSize < maxBatchWriteSize:
		c.batchWriteSize *= 2
	case elapsed > batchWriteTargetTime && c.batchWriteSize > minBatchWriteSize:
		c.batchWriteSize /= 2
	}
}

// unboundedCementer accumulates every write in memory and flushes once at
// the end.
type unboundedCementer struct {
	p *ConfirmationHeightProcessor
}

func newUnboundedCementer(p *ConfirmationHeightProcessor) *unboundedCementer {
	return &unboundedCementer{p: p}
}

func (c *unboundedCementer) process(original common.Hash) {
	read := c.p.ledger.Store.BeginRead()
	writes := walkChains(c.p, read, original)
	read.Discard()
	if len(writes) == 0 {
		c.p.notifyAlreadyCemented(original)
		return
	}

	guard := c.p.writeQueue.Wait(WriterConfirmationHeight)
	defer guard.Release()
	txn := c.p.ledger.Store.BeginWrite(store.TableConfirmationHeight)
	var cemented []*types.Block
	for _, write := range writes {
		cemented = append(cemented, c.p.applyCement(txn, write)...)
	}
	if err := txn.Commit(); err != nil {
		c.p.logger.Error("Cement batch commit failed", "err", err)
		return
	}
	c.p.notifyCemented(cemented)
}

// applyCement advances one account's confirmation height, skipping segments
// another traversal already cemented. Returns the newly cemented blocks.
func (p *ConfirmationHeightProcessor) applyCement(txn store.WriteTransaction, write *pendingCement) []*types.Block {
	current := store.ConfirmationHeightGet(txn, write.account)
	if current.Height >= write.height {
		return nil
	}
	// Trim blocks another write already covered.
	blocks := write.blocks
	for len(blocks) > 0 && blocks[0].Sideband().Height <= current.Height {
		blocks = blocks[1:]
	}
	store.ConfirmationHeightPut(txn, write.account, &types.ConfirmationHeightInfo{
		Height:   write.height,
		Frontier: write.top,
	})
	p.ledger.Cache.CementedCount.Add(uint64(len(blocks)))
	return blocks
}
