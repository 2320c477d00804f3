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

	lru "github.com/hashicorp/golang-lru"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
)

type cachedVotes struct {
	votes []*types.Vote
}

// VotesCache stores recently observed votes per block hash so a newly
// created election starts from the votes that arrived before it existed.
// Buckets are evicted oldest-first at the configured bound.
type VotesCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewVotesCache creates a cache bounded to maxSize hash buckets.
func NewVotesCache(maxSize int) *VotesCache {
	cache, err := lru.New(maxSize)
	if err != nil {
		panic(err)
	}
	return &VotesCache{cache: cache}
}

// Add records the vote under each hash it endorses, replacing any older
// sequence from the same voter.
func (c *VotesCache) Add(vote *types.Vote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, hash := range vote.Hashes {
		var entry *cachedVotes
		if existing, ok := c.cache.Get(hash); ok {
			entry = existing.(*cachedVotes)
		} else {
			entry = &cachedVotes{}
			c.cache.Add(hash, entry)
		}
		replaced := false
		for i, cached := range entry.votes {
			if cached.Account == vote.Account {
				if vote.Sequence > cached.Sequence {
					entry.votes[i] = vote
				}
				replaced = true
				break
			}
		}
		if !replaced {
			entry.votes = append(entry.votes, vote)
		}
	}
}

// Find returns the stored votes endorsing the hash.
func (c *VotesCache) Find(hash common.Hash) []*types.Vote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache.Get(hash); ok {
		entry := existing.(*cachedVotes)
		out := make([]*types.Vote, len(entry.votes))
		copy(out, entry.votes)
		return out
	}
	return nil
}

// Remove drops the hash's bucket, called when its election terminates.
func (c *VotesCache) Remove(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(hash)
}

// Size returns the number of cached buckets.
func (c *VotesCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
