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

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/log"
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
)

type gapInfo struct {
	arrival          time.Time
	voters           mapset.Set[common.Account]
	bootstrapStarted bool
}

// GapCache tracks hashes referenced by arriving blocks but absent from the
// ledger. When enough voting weight endorses a missing hash, a delayed lazy
// bootstrap for it is scheduled, giving the block a window to arrive
// naturally first.
type GapCache struct {
	ledger     *ledger.Ledger
	onlineReps *OnlineReps
	bootstrap  network.BootstrapInitiator
	config     *Config
	registry   *metrics.Registry
	logger     log.Logger

	mu    sync.Mutex
	cache *lru.Cache
}

// NewGapCache creates the cache. The bootstrap initiator may be nil, in
// which case threshold crossings only mark entries.
func NewGapCache(l *ledger.Ledger, onlineReps *OnlineReps, bootstrap network.BootstrapInitiator, config *Config, registry *metrics.Registry, logger log.Logger) *GapCache {
	cache, err := lru.New(config.GapCacheSize)
	if err != nil {
		panic(err)
	}
	return &GapCache{
		ledger:     l,
		onlineReps: onlineReps,
		bootstrap:  bootstrap,
		config:     config,
		registry:   registry,
		logger:     logger,
		cache:      cache,
	}
}

// Add upserts a missing hash, refreshing its arrival time.
func (g *GapCache) Add(hash common.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.cache.Get(hash); ok {
		existing.(*gapInfo).arrival = time.Now()
		return
	}
	g.cache.Add(hash, &gapInfo{
		arrival: time.Now(),
		voters:  mapset.NewThreadUnsafeSet[common.Account](),
	})
}

// Erase removes a hash, called once the block arrives.
func (g *GapCache) Erase(hash common.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Remove(hash)
}

// Vote accumulates the voter behind every cached hash the vote endorses and
// triggers the bootstrap check on new voters.
func (g *GapCache) Vote(vote *types.Vote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, hash := range vote.Hashes {
		existing, ok := g.cache.Get(hash)
		if !ok {
			continue
		}
		info := existing.(*gapInfo)
		if info.bootstrapStarted {
			continue
		}
		if !info.voters.Add(vote.Account) {
			continue
		}
		if g.bootstrapCheck(info.voters, hash) {
			info.bootstrapStarted = true
		}
	}
}

// bootstrapCheck sums the voters' weight and, at quorum, schedules the
// delayed bootstrap. Returns whether the bootstrap was started.
func (g *GapCache) bootstrapCheck(voters mapset.Set[common.Account], hash common.Hash) bool {
	tally := uint256.NewInt(0)
	voters.Each(func(voter common.Account) bool {
		tally.Add(tally, g.ledger.Weight(voter))
		return false
	})
	if tally.Lt(g.BootstrapThreshold()) {
		return false
	}
	if g.ledger.BlockExists(hash) {
		return false
	}
	metrics.GetOrRegisterCounter("oslo/gap_cache/bootstrap_threshold", g.registry).Inc(1)
	time.AfterFunc(g.config.GapCacheBootstrapStartInterval, func() {
		g.startBootstrap(hash)
	})
	return true
}

func (g *GapCache) startBootstrap(hash common.Hash) {
	if g.ledger.BlockExists(hash) {
		return
	}
	if g.bootstrap == nil {
		return
	}
	if !g.bootstrap.InProgress() {
		g.logger.Info("Missing block with vote quorum, lazy bootstrapping", "hash", hash)
	}
	g.bootstrap.BootstrapLazy(hash)
	metrics.GetOrRegisterCounter("oslo/gap_cache/bootstrap_started", g.registry).Inc(1)
}

// BootstrapThreshold is online_stake/256 scaled by the configured numerator.
func (g *GapCache) BootstrapThreshold() *uint256.Int {
	threshold := g.onlineReps.OnlineStake()
	threshold.Rsh(threshold, 8)
	return threshold.Mul(threshold, uint256.NewInt(g.config.BootstrapFractionNumerator))
}

// Size returns the number of tracked gaps.
func (g *GapCache) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.Len()
}

// BootstrapStarted reports whether the hash's entry has tripped the
// threshold.
func (g *GapCache) BootstrapStarted(hash common.Hash) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.cache.Get(hash); ok {
		return existing.(*gapInfo).bootstrapStarted
	}
	return false
}
