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

package network

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/oslocurrency/go-oslo/common"
)

var filterValue = []byte{1}

// Filter deduplicates message digests so a block or vote flooding back from
// peers is not reprocessed. Elections clear the digests of losing blocks on
// cleanup so they can arrive again.
type Filter struct {
	cache *fastcache.Cache
}

// NewFilter creates a filter bounded to roughly maxBytes of digest storage.
func NewFilter(maxBytes int) *Filter {
	return &Filter{cache: fastcache.New(maxBytes)}
}

// Apply registers the digest and reports whether it was already present.
func (f *Filter) Apply(digest common.Hash) (existed bool) {
	if f.cache.Has(digest.Bytes()) {
		return true
	}
	f.cache.Set(digest.Bytes(), filterValue)
	return false
}

// Has reports whether the digest is registered.
func (f *Filter) Has(digest common.Hash) bool {
	return f.cache.Has(digest.Bytes())
}

// Clear removes the digest, allowing the message to be seen once more.
func (f *Filter) Clear(digest common.Hash) {
	f.cache.Del(digest.Bytes())
}

// Reset drops all digests.
func (f *Filter) Reset() {
	f.cache.Reset()
}
