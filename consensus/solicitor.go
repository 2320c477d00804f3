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
	"github.com/oslocurrency/go-oslo/metrics"
	"github.com/oslocurrency/go-oslo/network"
)

// ConfirmationSolicitor bundles the elections needing further votes into
// confirm_req batches per representative channel, and meters winner
// broadcasts. One solicitor lives for exactly one request-loop tick.
type ConfirmationSolicitor struct {
	net      network.Network
	registry *metrics.Registry

	// Per-channel cap of queued confirmation requests.
	maxConfirmReqBatches int
	// Tick-global cap of winner broadcasts.
	maxBlockBroadcasts int
	// Per-election caps.
	maxElectionRequests   int
	maxElectionBroadcasts int

	prepared      bool
	rebroadcasted int
	// Reps eligible for requests; entries are dropped once their channel
	// queue fills. Broadcasts keep the full copy.
	repsRequests   []network.Representative
	repsBroadcasts []network.Representative
	requests       map[network.Channel][]network.RootHash
	channelOrder   []network.Channel
}

// NewConfirmationSolicitor builds a solicitor with the network's limits.
func NewConfirmationSolicitor(net network.Network, config *Config, registry *metrics.Registry) *ConfirmationSolicitor {
	maxElectionBroadcasts := 1
	if net != nil {
		if fanout := net.Fanout(1.0) / 2; fanout > 1 {
			maxElectionBroadcasts = fanout
		}
	}
	return &ConfirmationSolicitor{
		net:                   net,
		registry:              registry,
		maxConfirmReqBatches:  config.MaxConfirmReqBatches,
		maxBlockBroadcasts:    config.MaxBlockBroadcasts,
		maxElectionRequests:   config.MaxElectionRequests,
		maxElectionBroadcasts: maxElectionBroadcasts,
		requests:              make(map[network.Channel][]network.RootHash),
	}
}

// Prepare arms the solicitor with the current representative set. Two copies
// are kept, as representatives are erased from the request set when their
// channels fill.
func (s *ConfirmationSolicitor) Prepare(representatives []network.Representative) {
	s.repsRequests = append([]network.Representative(nil), representatives...)
	s.repsBroadcasts = append([]network.Representative(nil), representatives...)
	s.requests = make(map[network.Channel][]network.RootHash)
	s.channelOrder = nil
	s.rebroadcasted = 0
	s.prepared = true
}

// Broadcast publishes the election winner: directed sends to representatives
// that have not voted for it, then a flood to half the peers. Returns true
// when the tick's broadcast budget is exhausted and nothing was sent.
func (s *ConfirmationSolicitor) Broadcast(e *Election) bool {
	if !s.prepared {
		return true
	}
	s.rebroadcasted++
	if s.rebroadcasted > s.maxBlockBroadcasts {
		return true
	}
	winner := e.Status.Winner
	hash := winner.Hash()
	count := 0
	for _, rep := range s.repsBroadcasts {
		if count >= s.maxElectionBroadcasts {
			break
		}
		if vote, ok := e.LastVotes[rep.Account]; ok && vote.Hash == hash {
			continue
		}
		rep.Channel.Send(network.Publish{Block: winner})
		metrics.GetOrRegisterCounter("oslo/message/publish/out", s.registry).Inc(1)
		count++
	}
	if s.net != nil {
		s.net.FloodBlock(winner, 0.5)
		metrics.GetOrRegisterCounter("oslo/message/publish/out", s.registry).Inc(1)
	}
	return false
}

// Add queues a confirmation request for every representative that has not
// voted for the winner and whose channel still has space. Returns true when
// no request could be queued.
func (s *ConfirmationSolicitor) Add(e *Election) bool {
	if !s.prepared {
		return true
	}
	maxChannelRequests := s.maxConfirmReqBatches * network.ConfirmReqHashesMax
	winner := e.Status.Winner
	hash := winner.Hash()
	root := winner.Root()
	count := 0
	kept := s.repsRequests[:0]
	for i, rep := range s.repsRequests {
		if count >= s.maxElectionRequests {
			kept = append(kept, s.repsRequests[i:]...)
			break
		}
		if vote, ok := e.LastVotes[rep.Account]; ok && vote.Hash == hash {
			kept = append(kept, rep)
			continue
		}
		queue := s.requests[rep.Channel]
		if len(queue) >= maxChannelRequests {
			// Channel exhausted for this tick; drop the rep from further
			// request consideration.
			continue
		}
		if len(queue) == 0 {
			s.channelOrder = append(s.channelOrder, rep.Channel)
		}
		s.requests[rep.Channel] = append(queue, network.RootHash{Hash: hash, Root: root})
		count++
		kept = append(kept, rep)
	}
	s.repsRequests = kept
	return count == 0
}

// Flush emits one confirm_req per batch of at most ConfirmReqHashesMax
// queued pairs on every channel, ending the tick.
func (s *ConfirmationSolicitor) Flush() {
	if !s.prepared {
		return
	}
	for _, channel := range s.channelOrder {
		pairs := s.requests[channel]
		for len(pairs) > 0 {
			n := len(pairs)
			if n > network.ConfirmReqHashesMax {
				n = network.ConfirmReqHashesMax
			}
			batch := make([]network.RootHash, n)
			copy(batch, pairs[:n])
			channel.Send(network.ConfirmReq{RootHashes: batch})
			metrics.GetOrRegisterCounter("oslo/message/confirm_req/out", s.registry).Inc(1)
			pairs = pairs[n:]
		}
	}
	s.requests = make(map[network.Channel][]network.RootHash)
	s.channelOrder = nil
	s.prepared = false
}
