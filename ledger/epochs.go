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

package ledger

import (
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core/types"
)

type epochInfo struct {
	signer common.Account
	link   common.Hash
}

// Epochs is the registry of protocol-upgrade markers: the special link
// values recognized in state blocks and the accounts allowed to sign them.
type Epochs struct {
	entries map[types.Epoch]epochInfo
}

// NewEpochs creates an empty epoch registry.
func NewEpochs() *Epochs {
	return &Epochs{entries: make(map[types.Epoch]epochInfo)}
}

// Add registers an upgrade marker.
func (e *Epochs) Add(epoch types.Epoch, signer common.Account, link common.Hash) {
	e.entries[epoch] = epochInfo{signer: signer, link: link}
}

// IsEpochLink reports whether link is a registered upgrade marker.
func (e *Epochs) IsEpochLink(link common.Hash) bool {
	for _, info := range e.entries {
		if info.link == link {
			return true
		}
	}
	return false
}

// EpochOf returns the epoch a link value upgrades to, or EpochInvalid.
func (e *Epochs) EpochOf(link common.Hash) types.Epoch {
	for epoch, info := range e.entries {
		if info.link == link {
			return epoch
		}
	}
	return types.EpochInvalid
}

// Signer returns the account allowed to sign blocks for the given epoch.
func (e *Epochs) Signer(epoch types.Epoch) common.Account {
	return e.entries[epoch].signer
}

// Link returns the marker link value of the given epoch.
func (e *Epochs) Link(epoch types.Epoch) common.Hash {
	return e.entries[epoch].link
}
