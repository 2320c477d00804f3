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

package crypto

import (
	"runtime"

	"github.com/oslocurrency/go-oslo/common"
	"golang.org/x/sync/errgroup"
)

// batchSize is the number of signatures a single worker verifies in one slice.
// Batches at or below this size are verified synchronously on the caller.
const batchSize = 256

// SignatureCheckSet is a batch of signatures to verify. All slices must have
// equal length; Verifications is written with 1 for valid entries and 0 for
// invalid ones.
type SignatureCheckSet struct {
	Messages      []common.Hash
	PubKeys       []common.Account
	Signatures    []common.Signature
	Verifications []int
}

// Size returns the number of entries in the set.
func (s *SignatureCheckSet) Size() int { return len(s.Messages) }

// SignatureChecker verifies batches of ed25519 signatures, spreading large
// batches over a bounded worker pool plus the calling goroutine.
type SignatureChecker struct {
	workers int
}

// NewSignatureChecker creates a checker with the given number of workers. A
// non-positive count selects half the hardware threads.
func NewSignatureChecker(workers int) *SignatureChecker {
	if workers <= 0 {
		workers = runtime.NumCPU() / 2
	}
	return &SignatureChecker{workers: workers}
}

// Verify checks every signature in the set and fills in Verifications.
// Small batches run synchronously on the caller; larger batches are
// partitioned across the pool and the call blocks until all partitions have
// completed. No entry is ever skipped.
func (c *SignatureChecker) Verify(set *SignatureCheckSet) {
	size := set.Size()
	if len(set.Verifications) != size {
		set.Verifications = make([]int, size)
	}
	if size <= batchSize || c.workers == 0 {
		verifyRange(set, 0, size)
		return
	}
	var g errgroup.Group
	g.SetLimit(c.workers + 1)
	for start := 0; start < size; start += batchSize {
		start := start
		end := start + batchSize
		if end > size {
			end = size
		}
		g.Go(func() error {
			verifyRange(set, start, end)
			return nil
		})
	}
	// Verification itself never errors; a panicking worker takes the
	// process down, matching the fatal-on-crash contract.
	g.Wait()
}

func verifyRange(set *SignatureCheckSet, start, end int) {
	for i := start; i < end; i++ {
		if Verify(set.PubKeys[i], set.Messages[i], set.Signatures[i]) {
			set.Verifications[i] = 1
		} else {
			set.Verifications[i] = 0
		}
	}
}
