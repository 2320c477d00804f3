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

// Package consensus runs the election side of the node: per-root election
// state machines, the vote ingestion pipeline, the confirmation solicitor
// and the caches feeding them.
package consensus

import (
	"time"

	"github.com/holiman/uint256"
)

// Config carries the consensus parameters, with live-network defaults and
// the tighter test-network overrides.
type Config struct {
	// IsTestNetwork relaxes weight gates and shrinks solicitation limits.
	IsTestNetwork bool

	// BaseLatency approximates half the network round-trip; election dwell
	// times are multiples of it.
	BaseLatency time.Duration
	// RequestInterval is the election request-loop tick.
	RequestInterval time.Duration

	// QuorumPercent of online stake required to confirm a winner.
	QuorumPercent uint64
	// MaxActiveElections bounds the elections visited per tick.
	MaxActiveElections int

	// MaxConfirmReqBatches bounds confirm_req batches per channel per tick.
	MaxConfirmReqBatches int
	// MaxBlockBroadcasts bounds winner broadcasts per tick.
	MaxBlockBroadcasts int
	// MaxElectionRequests bounds requests queued per election per tick.
	MaxElectionRequests int

	// VoteProcessorCapacity is the queue bound behind the tiered admission
	// gates.
	VoteProcessorCapacity int
	// VotesCacheSize bounds the observed-votes cache.
	VotesCacheSize int

	// GapCacheSize bounds the missing-dependency cache.
	GapCacheSize int
	// BootstrapFractionNumerator scales the gap-vote bootstrap threshold
	// online_stake/256 × numerator.
	BootstrapFractionNumerator uint64
	// GapCacheBootstrapStartInterval delays the bootstrap so a naturally
	// propagating block can still arrive.
	GapCacheBootstrapStartInterval time.Duration

	// OnlineWeightMinimum floors the online stake estimate.
	OnlineWeightMinimum *uint256.Int
	// MaxWeightSamples bounds the persisted online weight trend.
	MaxWeightSamples int

	// VoteGeneratorDelay batches locally generated votes.
	VoteGeneratorDelay time.Duration
}

// DefaultConfig returns the live-network parameters.
func DefaultConfig() Config {
	return Config{
		BaseLatency:                    time.Second,
		RequestInterval:                500 * time.Millisecond,
		QuorumPercent:                  50,
		MaxActiveElections:             4096,
		MaxConfirmReqBatches:           20,
		MaxBlockBroadcasts:             30,
		MaxElectionRequests:            30,
		VoteProcessorCapacity:          144 * 1024,
		VotesCacheSize:                 65536,
		GapCacheSize:                   256,
		BootstrapFractionNumerator:     1,
		GapCacheBootstrapStartInterval: 30 * time.Second,
		OnlineWeightMinimum:            uint256.NewInt(0),
		MaxWeightSamples:               4032,
		VoteGeneratorDelay:             100 * time.Millisecond,
	}
}

// TestConfig returns the test-network parameters: short latencies and the
// original's reduced solicitation caps.
func TestConfig() Config {
	config := DefaultConfig()
	config.IsTestNetwork = true
	config.BaseLatency = 25 * time.Millisecond
	config.RequestInterval = 20 * time.Millisecond
	config.MaxConfirmReqBatches = 1
	config.MaxBlockBroadcasts = 4
	config.GapCacheBootstrapStartInterval = 5 * time.Millisecond
	config.VoteGeneratorDelay = 10 * time.Millisecond
	return config
}
