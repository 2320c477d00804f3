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
	"testing"

	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
	"github.com/oslocurrency/go-oslo/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVotesCacheAddFind(t *testing.T) {
	cache := NewVotesCache(16)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	h1, h2 := common.Hash{31: 1}, common.Hash{31: 2}
	vote := types.NewVote(key, 1, []common.Hash{h1, h2})
	cache.Add(vote)

	// Every endorsed hash finds the vote.
	for _, h := range []common.Hash{h1, h2} {
		found := cache.Find(h)
		require.Len(t, found, 1)
		assert.Equal(t, vote, found[0])
	}
	assert.Empty(t, cache.Find(common.Hash{31: 3}))
}

func TestVotesCacheDedupePerVoter(t *testing.T) {
	cache := NewVotesCache(16)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	hash := common.Hash{31: 1}
	older := types.NewVote(key, 1, []common.Hash{hash})
	newer := types.NewVote(key, 2, []common.Hash{hash})

	cache.Add(older)
	cache.Add(newer)
	found := cache.Find(hash)
	require.Len(t, found, 1)
	assert.Equal(t, uint64(2), found[0].Sequence)

	// A stale sequence does not replace the newer one.
	cache.Add(older)
	found = cache.Find(hash)
	require.Len(t, found, 1)
	assert.Equal(t, uint64(2), found[0].Sequence)
}

func TestVotesCacheRemove(t *testing.T) {
	cache := NewVotesCache(16)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	hash := common.Hash{31: 1}
	cache.Add(types.NewVote(key, 1, []common.Hash{hash}))
	require.NotEmpty(t, cache.Find(hash))

	cache.Remove(hash)
	assert.Empty(t, cache.Find(hash))
	assert.Equal(t, 0, cache.Size())
}

func TestVotesCacheEvictsOldestBucket(t *testing.T) {
	cache := NewVotesCache(2)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	h1, h2, h3 := common.Hash{31: 1}, common.Hash{31: 2}, common.Hash{31: 3}
	cache.Add(types.NewVote(key, 1, []common.Hash{h1}))
	cache.Add(types.NewVote(key, 2, []common.Hash{h2}))
	cache.Add(types.NewVote(key, 3, []common.Hash{h3}))

	assert.Equal(t, 2, cache.Size())
	assert.Empty(t, cache.Find(h1))
	assert.NotEmpty(t, cache.Find(h3))
}
