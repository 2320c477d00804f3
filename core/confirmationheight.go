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
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
)

// ConfirmationHeightMode selects the cementing strategy.
type ConfirmationHeightMode int

const (
	// ModeAutomatic picks per root by remaining chain depth.
	ModeAutomatic ConfirmationHeightMode = iota
	ModeBounded
	ModeUnbounded
)

// UnboundedCutoff is the remaining chain depth above which the automatic
// mode switches to the unbounded strategy.
const UnboundedCutoff = 1 << 19

// ConfirmationHeightProcessor cements confirmed blocks: a dedicated thread
// dequeues winner hashes in FIFO order, walks their chains and advances
// per-account confirmation heights atomically under the write slot.
type ConfirmationHeightProcessor struct {
	ledger     *ledger.Ledger
	writeQueue *WriteQueue
	registry   *metrics.Registry
	logger     log.Logger
	mode       ConfirmationHeightMode

	bounded   *boundedCementer
	unbounded *unboundedCementer

	mu           sync.Mutex
	cond         *sync.Cond
	awaiting     []common.Hash
	awaitingSet  map[common.Hash]struct{}
	originalHash common.Hash
	paused       bool
	stopped      bool
	wg           sync.WaitGroup

	// Registration must complete before the first cementation.
	cementedObservers        []func(*types.Block)
	alreadyCementedObservers []func(common.Hash)
}

// NewConfirmationHeightProcessor wires a processor over the ledger and write
// queue.
func NewConfirmationHeightProcessor(l *ledger.Ledger, writeQueue *WriteQueue, mode ConfirmationHeightMode, registry *metrics.Registry, logger log.Logger) *ConfirmationHeightProcessor {
	p := &ConfirmationHeightProcessor{
		ledger:      l,
		writeQueue:  writeQueue,
		registry:    registry,
		logger:      logger,
		mode:        mode,
		awaitingSet: make(map[common.Hash]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.bounded = newBoundedCementer(p)
	p.unbounded = newUnboundedCementer(p)
	return p
}

// Start launches the cementing thread.
func (p *ConfirmationHeightProcessor) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop terminates the thread after the in-flight cementation.
func (p *ConfirmationHeightProcessor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// Add enqueues a confirmed block hash for cementing.
func (p *ConfirmationHeightProcessor) Add(hash common.Hash) {
	p.mu.Lock()
	p.awaiting = append(p.awaiting, hash)
	p.awaitingSet[hash] = struct{}{}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// AwaitingProcessingSize returns the number of queued hashes.
func (p *ConfirmationHeightProcessor) AwaitingProcessingSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.awaiting)
}

// IsProcessingBlock reports whether the hash is queued or being cemented.
func (p *ConfirmationHeightProcessor) IsProcessingBlock(hash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.awaitingSet[hash]; ok {
		return true
	}
	return p.originalHash == hash
}

// Current returns the hash being cemented, or zero when idle.
func (p *ConfirmationHeightProcessor) Current() common.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.originalHash
}

// Pause stops dequeuing new hashes; the in-flight cementation completes.
// Used for test determinism.
func (p *ConfirmationHeightProcessor) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Unpause resumes dequeuing.
func (p *ConfirmationHeightProcessor) Unpause() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// AddCementedObserver registers a per-block cement callback. Not
// thread-safe; call before Start.
func (p *ConfirmationHeightProcessor) AddCementedObserver(fn func(*types.Block)) {
	p.cementedObservers = append(p.cementedObservers, fn)
}

// AddAlreadyCementedObserver registers the idempotent re-cement callback.
// Not thread-safe; call before Start.
func (p *ConfirmationHeightProcessor) AddAlreadyCementedObserver(fn func(common.Hash)) {
	p.alreadyCementedObservers = append(p.alreadyCementedObservers, fn)
}

func (p *ConfirmationHeightProcessor) run() {
	defer p.wg.Done()
	p.mu.Lock()
	for !p.stopped {
		if !p.paused && len(p.awaiting) > 0 {
			hash := p.awaiting[0]
			p.awaiting = p.awaiting[1:]
			delete(p.awaitingSet, hash)
			p.originalHash = hash
			p.mu.Unlock()

			p.processHash(hash)

			p.mu.Lock()
			p.originalHash = common.Hash{}
			p.cond.Broadcast()
		} else {
			p.cond.Wait()
		}
	}
	p.mu.Unlock()
}

// processHash walks and cements one confirmed frontier.
func (p *ConfirmationHeightProcessor) processHash(hash common.Hash) {
	txn := p.ledger.Store.BeginRead()
	block := p.ledger.BlockGet(txn, hash)
	if block == nil {
		txn.Discard()
		p.logger.Warn("Confirmed block missing from ledger", "hash", hash)
		return
	}
	sb := block.Sideband()
	conf := p.ledger.ConfirmationHeight(txn, sb.Account)
	depth := uint64(0)
	if sb.Height > conf.Height {
		depth = sb.Height - conf.Height
	}
	txn.Discard()

	if depth == 0 {
		p.notifyAlreadyCemented(hash)
		return
	}
	useUnbounded := p.mode == ModeUnbounded || (p.mode == ModeAutomatic && depth > UnboundedCutoff)
	if useUnbounded {
		p.unbounded.process(hash)
	} else {
		p.bounded.process(hash)
	}
}

func (p *ConfirmationHeightProcessor) notifyCemented(blocks []*types.Block) {
	for _, block := range blocks {
		for _, fn := range p.cementedObservers {
			fn(block)
		}
	}
	metrics.GetOrRegisterCounter("oslo/confirmation_height/blocks_confirmed", p.registry).Inc(int64(len(blocks)))
}

func (p *ConfirmationHeightProcessor) notifyAlreadyCemented(hash common.Hash) {
	for _, fn := range p.alreadyCementedObservers {
		fn(hash)
	}
	metrics.GetOrRegisterCounter("oslo/confirmation_height/block_already_cemented", p.registry).Inc(1)
}
