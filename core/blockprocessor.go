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
	"time"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/ledger/store"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
)

// BlockOrigin tags where a candidate block came from.
type BlockOrigin int

const (
	OriginRemote BlockOrigin = iota
	OriginLocal
)

// BlockProcessorConfig bounds the processor's queues and batches.
type BlockProcessorConfig struct {
	// FullSize is the queue length at which Full reports backpressure.
	FullSize int
	// BatchMaxTime caps the wall time of one write batch.
	BatchMaxTime time.Duration
	// MaxVerificationBatch is the per-pass size of the state-block
	// signature verification stage.
	MaxVerificationBatch int
	// VerificationSize bounds the verification stage's input queue; zero
	// selects MaxVerificationBatch.
	VerificationSize int
}

// DefaultBlockProcessorConfig returns the live-network bounds.
func DefaultBlockProcessorConfig() BlockProcessorConfig {
	return BlockProcessorConfig{
		FullSize:             65536,
		BatchMaxTime:         500 * time.Millisecond,
		MaxVerificationBatch: 2048,
		VerificationSize:     0,
	}
}

type blockItem struct {
	block    *types.Block
	origin   BlockOrigin
	verified bool
}

// ProcessedFn observes every terminal processing result. Callbacks run on
// the block processor thread after the write transaction has committed.
type ProcessedFn func(result ledger.ProcessResult, block *types.Block, origin BlockOrigin)

// GapObserver learns about blocks parked behind missing dependencies.
type GapObserver interface {
	Add(hash common.Hash)
}

// BlockProcessor ingests candidate blocks on a dedicated thread: signatures
// are batch-verified, blocks applied to the ledger under the exclusive write
// slot, orphans parked in the unchecked set, and results announced to the
// election engine.
type BlockProcessor struct {
	config     BlockProcessorConfig
	ledger     *ledger.Ledger
	writeQueue *WriteQueue
	net        network.Network
	filter     *network.Filter
	registry   *metrics.Registry
	logger     log.Logger

	verifier *stateBlockVerification

	mu        sync.Mutex
	cond      *sync.Cond
	blocks    []blockItem
	forced    []*types.Block
	active    bool
	stopped   bool
	started   bool
	flushing  bool
	wg        sync.WaitGroup
	postBatch []func()

	// Registered before Start; never mutated afterwards.
	processed      []ProcessedFn
	gaps           GapObserver
	armVotes       func(common.Hash)
	requeueInvalid func(*types.Block)
}

// NewBlockProcessor wires a processor over the ledger and write queue. The
// network and filter are optional; without them no blocks are republished.
func NewBlockProcessor(config BlockProcessorConfig, l *ledger.Ledger, writeQueue *WriteQueue, checker SignatureChecker, net network.Network, filter *network.Filter, registry *metrics.Registry, logger log.Logger) *BlockProcessor {
	if config.VerificationSize == 0 {
		config.VerificationSize = config.MaxVerificationBatch
	}
	bp := &BlockProcessor{
		config:     config,
		ledger:     l,
		writeQueue: writeQueue,
		net:        net,
		filter:     filter,
		registry:   registry,
		logger:     logger,
	}
	bp.cond = sync.NewCond(&bp.mu)
	bp.verifier = newStateBlockVerification(checker, l.Epochs, config.MaxVerificationBatch, config.VerificationSize, bp.enqueueVerified, logger)
	return bp
}

// SubscribeProcessed registers a result observer. Must be called before
// Start.
func (bp *BlockProcessor) SubscribeProcessed(fn ProcessedFn) {
	bp.processed = append(bp.processed, fn)
}

// SetGapObserver registers the gap cache. Must be called before Start.
func (bp *BlockProcessor) SetGapObserver(g GapObserver) { bp.gaps = g }

// SetVoteArm registers the vote generator arming hook. Must be called before
// Start.
func (bp *BlockProcessor) SetVoteArm(fn func(common.Hash)) { bp.armVotes = fn }

// SetRequeueInvalid registers the hook replaying locally originated blocks
// that failed terminally, typically into work regeneration. Must be called
// before Start.
func (bp *BlockProcessor) SetRequeueInvalid(fn func(*types.Block)) { bp.requeueInvalid = fn }

// Start launches the processing and verification threads.
func (bp *BlockProcessor) Start() {
	bp.mu.Lock()
	if bp.started {
		bp.mu.Unlock()
		return
	}
	bp.started = true
	bp.mu.Unlock()
	bp.verifier.start()
	bp.wg.Add(1)
	go bp.processLoop()
}

// Stop terminates the threads after the current batch.
func (bp *BlockProcessor) Stop() {
	bp.mu.Lock()
	bp.stopped = true
	bp.mu.Unlock()
	bp.cond.Broadcast()
	bp.verifier.stop()
	bp.wg.Wait()
}

// Add enqueues a candidate block. State blocks pass through the asynchronous
// signature verification stage first; other variants enter the main queue
// directly. Callers should consult Full and back off instead of relying on
// Add to block.
func (bp *BlockProcessor) Add(block *types.Block, origin BlockOrigin) {
	if block.Type == types.BlockState {
		bp.verifier.add(blockItem{block: block, origin: origin})
		return
	}
	bp.enqueue(blockItem{block: block, origin: origin})
}

// Force enqueues a block into the high-priority queue drained before the
// main queue, used for local and rollback-replay blocks.
func (bp *BlockProcessor) Force(block *types.Block) {
	bp.mu.Lock()
	bp.forced = append(bp.forced, block)
	bp.mu.Unlock()
	bp.cond.Broadcast()
}

// Flush blocks the caller until both queues are drained and no batch is in
// flight.
func (bp *BlockProcessor) Flush() {
	bp.verifier.flush()
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.flushing = true
	for !bp.stopped && (bp.active || len(bp.blocks) > 0 || len(bp.forced) > 0) {
		bp.cond.Wait()
	}
	bp.flushing = false
}

// Flushing reports whether a Flush call is currently draining the queues;
// upstream feeders back off while it is set.
func (bp *BlockProcessor) Flushing() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushing
}

// Size returns the number of queued blocks across both queues.
func (bp *BlockProcessor) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.blocks) + len(bp.forced) + bp.verifier.size()
}

// Full reports whether upstream should stop feeding blocks.
func (bp *BlockProcessor) Full() bool {
	return bp.Size() >= bp.config.FullSize
}

// HalfFull is the early throttle point checked by push servers.
func (bp *BlockProcessor) HalfFull() bool {
	return bp.Size() >= bp.config.FullSize/2
}

func (bp *BlockProcessor) enqueue(item blockItem) {
	bp.mu.Lock()
	bp.blocks = append(bp.blocks, item)
	bp.mu.Unlock()
	bp.cond.Broadcast()
}

// enqueueVerified receives the verification stage's output.
func (bp *BlockProcessor) enqueueVerified(valid []blockItem, invalid []blockItem) {
	for _, item := range invalid {
		metrics.GetOrRegisterCounter("oslo/blockprocessor/bad_signature", bp.registry).Inc(1)
		if item.origin == OriginLocal && bp.requeueInvalid != nil {
			bp.requeueInvalid(item.block)
		}
	}
	if len(valid) == 0 {
		return
	}
	bp.mu.Lock()
	for i := range valid {
		valid[i].verified = true
		bp.blocks = append(bp.blocks, valid[i])
	}
	bp.mu.Unlock()
	bp.cond.Broadcast()
}

func (bp *BlockProcessor) processLoop() {
	defer bp.wg.Done()
	bp.mu.Lock()
	for !bp.stopped {
		if len(bp.blocks) > 0 || len(bp.forced) > 0 {
			bp.active = true
			bp.mu.Unlock()
			bp.processBatch()
			bp.mu.Lock()
			bp.active = false
			bp.cond.Broadcast()
		} else {
			bp.cond.Wait()
		}
	}
	bp.mu.Unlock()
}

// processBatch drains queued blocks under one write transaction, bounded by
// BatchMaxTime. Post-commit events collect during the batch and run after
// the transaction commits, while the write slot is still held, so they must
// not wait on the write queue.
func (bp *BlockProcessor) processBatch() {
	guard := bp.writeQueue.Wait(WriterBlockProcessor)
	defer guard.Release()

	txn := bp.ledger.Store.BeginWrite(
		store.TableAccounts, store.TableBlocks, store.TablePending,
		store.TableFrontiers, store.TableUnchecked)
	deadline := time.Now().Add(bp.config.BatchMaxTime)
	processed := 0

	for time.Now().Before(deadline) {
		item, forced, ok := bp.nextItem()
		if !ok {
			break
		}
		bp.processOne(txn, item, forced)
		processed++
	}
	if err := txn.Commit(); err != nil {
		// A failing store write invalidates the whole batch; surface and
		// abandon it.
		bp.logger.Error("Block batch commit failed", "err", err, "blocks", processed)
		metrics.GetOrRegisterCounter("oslo/blockprocessor/commit_failure", bp.registry).Inc(1)
		bp.mu.Lock()
		bp.postBatch = nil
		bp.mu.Unlock()
		return
	}
	bp.runPostBatch()
	if processed > 0 {
		bp.logger.Debug("Processed block batch", "count", processed)
	}
}

func (bp *BlockProcessor) nextItem() (blockItem, bool, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if len(bp.forced) > 0 {
		block := bp.forced[0]
		bp.forced = bp.forced[1:]
		return blockItem{block: block, origin: OriginLocal}, true, true
	}
	if len(bp.blocks) > 0 {
		item := bp.blocks[0]
		bp.blocks = bp.blocks[1:]
		return item, false, true
	}
	return blockItem{}, false, false
}

func (bp *BlockProcessor) processOne(txn store.WriteTransaction, item blockItem, forced bool) {
	block := item.block
	hash := block.Hash()
	result := bp.ledger.Process(txn, block)

	if result == ledger.Fork && forced {
		// A forced block wins its root: roll the incumbent chain back and
		// replay the contender.
		existing := bp.ledger.ForkedBlock(txn, block)
		if existing != nil && existing.Hash() != hash {
			rolled, failed := bp.ledger.Rollback(txn, existing.Hash())
			if !failed {
				metrics.GetOrRegisterCounter("oslo/blockprocessor/rollback", bp.registry).Inc(int64(len(rolled)))
				result = bp.ledger.Process(txn, block)
			}
		}
	}

	switch result {
	case ledger.Progress:
		bp.queueUnchecked(txn, hash)
		bp.post(func() {
			bp.notifyProcessed(ledger.Progress, block, item.origin)
			if bp.armVotes != nil {
				bp.armVotes(hash)
			}
			if item.origin == OriginRemote && bp.net != nil {
				if bp.filter == nil || !bp.filter.Apply(hash) {
					bp.net.FloodBlock(block, 0.5)
					metrics.GetOrRegisterCounter("oslo/message/publish/out", bp.registry).Inc(1)
				}
			}
		})
	case ledger.GapPrevious, ledger.GapSource:
		dependency := block.Previous
		if result == ledger.GapSource {
			dependency = block.SourceHash()
			if dependency.IsZero() {
				dependency = block.Link
			}
		}
		store.UncheckedPut(txn, dependency, &store.UncheckedInfo{
			Block:    block,
			Account:  block.BlockAccount(),
			Modified: uint64(time.Now().Unix()),
		})
		if bp.gaps != nil {
			bp.post(func() { bp.gaps.Add(hash) })
		}
		metrics.GetOrRegisterCounter("oslo/blockprocessor/"+result.String(), bp.registry).Inc(1)
	case ledger.Old:
		bp.post(func() { bp.notifyProcessed(ledger.Old, block, item.origin) })
	case ledger.Fork:
		bp.post(func() { bp.notifyProcessed(ledger.Fork, block, item.origin) })
		metrics.GetOrRegisterCounter("oslo/blockprocessor/fork", bp.registry).Inc(1)
	default:
		// Terminal rejection. Only locally originated blocks are replayed,
		// preventing remote peers from poisoning the requeue path.
		bp.post(func() { bp.notifyProcessed(result, block, item.origin) })
		if item.origin == OriginLocal && bp.requeueInvalid != nil {
			bp.post(func() { bp.requeueInvalid(block) })
		}
	}
}

// queueUnchecked releases blocks parked behind the now-stored hash back into
// the processor.
func (bp *BlockProcessor) queueUnchecked(txn store.WriteTransaction, hash common.Hash) {
	children := store.UncheckedGet(txn, hash)
	for _, child := range children {
		store.UncheckedDel(txn, store.UncheckedKey{Dependency: hash, Hash: child.Block.Hash()})
		block := child.Block
		bp.post(func() { bp.Add(block, OriginRemote) })
	}
	if len(children) > 0 {
		metrics.GetOrRegisterCounter("oslo/blockprocessor/unchecked_released", bp.registry).Inc(int64(len(children)))
	}
}

func (bp *BlockProcessor) notifyProcessed(result ledger.ProcessResult, block *types.Block, origin BlockOrigin) {
	for _, fn := range bp.processed {
		fn(result, block, origin)
	}
}

// post defers fn until after the current batch's transaction has committed.
func (bp *BlockProcessor) post(fn func()) {
	bp.mu.Lock()
	bp.postBatch = append(bp.postBatch, fn)
	bp.mu.Unlock()
}

func (bp *BlockProcessor) runPostBatch() {
	bp.mu.Lock()
	events := bp.postBatch
	bp.postBatch = nil
	bp.mu.Unlock()
	for _, fn := range events {
		fn()
	}
}
