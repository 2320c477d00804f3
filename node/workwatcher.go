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

package node

import (
	"context"

	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/work"
)

// workWatcher regenerates proof-of-work asynchronously: stronger work for
// prioritized election winners, and fresh work for local blocks rejected
// with insufficient work.
type workWatcher struct {
	n *Node
}

func newWorkWatcher(n *Node) *workWatcher {
	return &workWatcher{n: n}
}

// watch raises the block's work to the escalated difficulty and republishes
// the updated block.
func (w *workWatcher) watch(block *types.Block, difficulty uint64) {
	go func() {
		nonce, err := w.n.deps.WorkGenerator.Generate(context.Background(), work.Version1, block.Root(), difficulty)
		if err != nil {
			w.n.Logger.Debug("Work escalation cancelled", "root", block.Root(), "err", err)
			return
		}
		block.Work = nonce
		if w.n.deps.Network != nil {
			w.n.deps.Network.FloodBlock(block, 0.5)
			metrics.GetOrRegisterCounter("oslo/message/publish/out", w.n.Registry).Inc(1)
		}
	}()
}

// regenerate replays a rejected local block with freshly generated work.
func (w *workWatcher) regenerate(block *types.Block) {
	go func() {
		threshold := uint64(1)
		if w.n.deps.WorkValidator != nil {
			threshold = w.n.deps.WorkValidator.Threshold(work.Version1)
		}
		nonce, err := w.n.deps.WorkGenerator.Generate(context.Background(), work.Version1, block.Root(), threshold)
		if err != nil {
			return
		}
		block.Work = nonce
		w.n.BlockProcessor.Force(block)
	}()
}
