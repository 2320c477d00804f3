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

// Package work declares the proof-of-work interfaces the consensus core
// consumes. Generation and validation themselves are provided by the
// integrator.
package work

import (
	"context"

	"github.com/oslocurrency/go-oslo/common"
)

// Version selects the difficulty rules in force for a block.
type Version uint8

const Version1 Version = 1

// Validator checks attached proof-of-work against the network threshold.
type Validator interface {
	// Validate returns the difficulty the work achieves over the root, or
	// zero when the work is below the acceptance threshold.
	Validate(version Version, root common.Root, work uint64) uint64
	// Threshold returns the minimum acceptable difficulty.
	Threshold(version Version) uint64
}

// Generator computes proof-of-work for a root at a target difficulty. The
// context cancels an in-flight generation.
type Generator interface {
	Generate(ctx context.Context, version Version, root common.Root, difficulty uint64) (uint64, error)
}

// AcceptAll is a Validator that accepts any work value, used on test
// networks where proof-of-work is disabled.
type AcceptAll struct{}

func (AcceptAll) Validate(version Version, root common.Root, work uint64) uint64 { return 1 }
func (AcceptAll) Threshold(version Version) uint64                               { return 1 }
