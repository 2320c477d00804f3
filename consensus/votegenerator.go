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

package consensus

import (
	"sync"
	"time"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
)

// LocalRepProvider exposes the representative signing keys held by the
// local wallet. Key storage itself is outside the consensus core.
type LocalRepProvider interface {
	LocalReps() []*crypto.Keypair
}

// VoteGenerator batches block hashes armed by the block processor and signs
// votes for them with every locally held representative key, feeding the
// votes cache, the local election set and the network.
type VoteGenerator struct {
	config     *Config
	reps       LocalRepProvider
	votesCache *VotesCache
	processor  *VoteProcessor
	net        network.Network
	registry   *metrics.Registry
	logger     log.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	hashes    []common.Hash
	sequences map[common.Account]uint64
	stopped   bool
	wg        sync.WaitGroup
}

// NewVoteGenerator wires the generator. The processor and network may be
// nil; votes still reach the cache.
func NewVoteGenerator(config *Config, reps LocalRepProvider, votesCache *VotesCache, processor *VoteProcessor, net network.Network, registry *metrics.Registry, logger log.Logger) *VoteGenerator {
	g := &VoteGenerator{
		config:     config,
		reps:       reps,
		votesCache: votesCache,
		processor:  processor,
		net:        net,
		registry:   registry,
		logger:     logger,
		sequences:  make(map[common.Account]uint64),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Start launches the batching thread.
func (g *VoteGenerator) Start() {
	g.wg.Add(1)
	go g.run()
}

// Stop flushes nothing further and terminates the thread.
func (g *VoteGenerator) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
	g.cond.Broadcast()
	g.wg.Wait()
}

// Add arms the generator with a freshly processed hash.
func (g *VoteGenerator) Add(hash common.Hash) {
	g.mu.Lock()
	g.hashes = append(g.hashes, hash)
	full := len(g.hashes) >= types.VoteMaxHashes
	g.mu.Unlock()
	if full {
		g.cond.Broadcast()
	}
}

func (g *VoteGenerator) run() {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		for !g.stopped && len(g.hashes) < types.VoteMaxHashes {
			// Wake periodically to send partial batches after the delay.
			waitDone := make(chan struct{})
			go func(d time.Duration) {
				select {
				case <-time.After(d):
					g.cond.Broadcast()
				case <-waitDone:
				}
			}(g.config.VoteGeneratorDelay)
			g.cond.Wait()
			close(waitDone)
			if len(g.hashes) > 0 {
				break
			}
			if g.stopped {
				break
			}
		}
		if g.stopped {
			g.mu.Unlock()
			return
		}
		n := len(g.hashes)
		if n > types.VoteMaxHashes {
			n = types.VoteMaxHashes
		}
		batch := make([]common.Hash, n)
		copy(batch, g.hashes[:n])
		g.hashes = g.hashes[n:]
		g.mu.Unlock()

		if len(batch) > 0 {
			g.send(batch)
		}
	}
}

// send signs and distributes one vote per local representative.
func (g *VoteGenerator) send(hashes []common.Hash) {
	for _, key := range g.reps.LocalReps() {
		g.mu.Lock()
		g.sequences[key.Account]++
		sequence := g.sequences[key.Account]
		g.mu.Unlock()

		vote := types.NewVote(key, sequence, hashes)
		g.votesCache.Add(vote)
		if g.processor != nil {
			g.processor.VoteBlocking(vote, nil, true)
		}
		if g.net != nil {
			g.net.FloodVote(vote, 0.5)
		}
		metrics.GetOrRegisterCounter("oslo/vote/generated", g.registry).Inc(1)
	}
}
