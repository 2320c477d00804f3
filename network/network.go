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

// Package network declares the message-bus surface the consensus core
// drives. Wire codecs and transports are provided by the integrator; the
// core only addresses channels and floods messages.
package network

import (
	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
)

// ConfirmReqHashesMax is the maximum number of root/hash pairs bundled into
// a single confirmation request.
const ConfirmReqHashesMax = 7

// RootHash pairs a block hash with its election root inside a confirm_req.
type RootHash struct {
	Hash common.Hash
	Root common.Root
}

// Publish announces a block to a peer.
type Publish struct {
	Block *types.Block
}

// ConfirmReq solicits votes for the given roots.
type ConfirmReq struct {
	RootHashes []RootHash
}

// ConfirmAck carries a representative's vote.
type ConfirmAck struct {
	Vote *types.Vote
}

// Channel is a single peer link capable of carrying messages.
type Channel interface {
	// Send enqueues a message; it must not block on peer backpressure.
	Send(msg interface{})
	// String identifies the remote endpoint for logging.
	String() string
}

// Network is the flooding side of the message bus.
type Network interface {
	// FloodBlock publishes the block to a random scale fraction of peers.
	FloodBlock(block *types.Block, scale float64)
	// FloodVote sends the vote to a random scale fraction of peers.
	FloodVote(vote *types.Vote, scale float64)
	// Fanout returns the peer count targeted at the given scale.
	Fanout(scale float64) int
}

// Representative is a voting peer with its current weight, as produced by
// the rep crawler.
type Representative struct {
	Account common.Account
	Weight  *uint256.Int
	Channel Channel
}

// BootstrapInitiator is the hook point into the bootstrap subsystem used by
// the gap cache when enough voting weight references a missing block.
type BootstrapInitiator interface {
	// BootstrapLazy pulls the given hash and its dependency closure.
	BootstrapLazy(hash common.Hash)
	// Bootstrap starts a legacy full bootstrap.
	Bootstrap()
	// InProgress reports whether any bootstrap attempt is running.
	InProgress() bool
}
