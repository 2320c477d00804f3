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
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
	"github.com/oslocurrency/go-oslo/common"
	"github.com/oslocurrency/go-oslo/core"
	"github.com/oslocurrency/go-oslo/ledger"
	"github.com/oslocurrency/go-oslo/ledger/store"
)

// OnlineReps estimates the online voting stake: representatives observed
// voting are sampled periodically into the online_weight table and the
// online figure is the median of stored samples, floored by the configured
// minimum.
type OnlineReps struct {
	ledger     *ledger.Ledger
	writeQueue *core.WriteQueue
	config     *Config

	mu     sync.Mutex
	reps   mapset.Set[common.Account]
	online *uint256.Int
}

// NewOnlineReps creates the tracker, seeding the trend from stored samples.
func NewOnlineReps(l *ledger.Ledger, writeQueue *core.WriteQueue, config *Config) *OnlineReps {
	o := &OnlineReps{
		ledger:     l,
		writeQueue: writeQueue,
		config:     config,
		reps:       mapset.NewSet[common.Account](),
		online:     uint256.NewInt(0),
	}
	txn := l.Store.BeginRead()
	o.online = o.trend(txn)
	txn.Discard()
	return o
}

// Observe records a representative seen voting; zero-weight accounts are
// ignored.
func (o *OnlineReps) Observe(rep common.Account) {
	if o.ledger.Weight(rep).IsZero() {
		return
	}
	o.mu.Lock()
	o.reps.Add(rep)
	o.mu.Unlock()
}

// Sample persists the currently observed reps' summed weight and refreshes
// the trend, clearing the observation window.
func (o *OnlineReps) Sample() {
	guard := o.writeQueue.Wait(core.WriterOnlineWeight)
	defer guard.Release()
	txn := o.ledger.Store.BeginWrite(store.TableOnlineWeight)

	// Discard oldest samples beyond the bound.
	for store.OnlineWeightCount(txn) >= o.config.MaxWeightSamples {
		var oldest uint64
		found := false
		store.OnlineWeightEach(txn, func(ts uint64, _ []byte) bool {
			oldest = ts
			found = true
			return false
		})
		if !found {
			break
		}
		store.OnlineWeightDel(txn, oldest)
	}

	o.mu.Lock()
	observed := o.reps
	o.reps = mapset.NewSet[common.Account]()
	o.mu.Unlock()

	current := uint256.NewInt(0)
	observed.Each(func(rep common.Account) bool {
		current.Add(current, o.ledger.Weight(rep))
		return false
	})
	weight := current.Bytes32()
	store.OnlineWeightPut(txn, uint64(time.Now().UnixNano()), weight[:])

	trend := o.trend(txn)
	if err := txn.Commit(); err != nil {
		return
	}
	o.mu.Lock()
	o.online = trend
	o.mu.Unlock()
}

// trend returns the median stored sample, with the minimum as an implicit
// extra sample.
func (o *OnlineReps) trend(txn store.Transaction) *uint256.Int {
	items := []*uint256.Int{new(uint256.Int).Set(o.config.OnlineWeightMinimum)}
	store.OnlineWeightEach(txn, func(_ uint64, weight []byte) bool {
		items = append(items, new(uint256.Int).SetBytes(weight))
		return true
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Lt(items[j]) })
	return items[len(items)/2]
}

// OnlineStake returns the current online weight estimate, never below the
// configured minimum.
func (o *OnlineReps) OnlineStake() *uint256.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.online.Lt(o.config.OnlineWeightMinimum) {
		return new(uint256.Int).Set(o.config.OnlineWeightMinimum)
	}
	return new(uint256.Int).Set(o.online)
}

// SetOnline overrides the estimate directly; used by tests and by
// integrators with an external crawler.
func (o *OnlineReps) SetOnline(stake *uint256.Int) {
	o.mu.Lock()
	o.online = new(uint256.Int).Set(stake)
	o.mu.Unlock()
}

// List returns the representatives observed since the last sample.
func (o *OnlineReps) List() []common.Account {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reps.ToSlice()
}
