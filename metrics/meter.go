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

package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// GetOrRegisterMeter returns an existing Meter or constructs and registers a
// new Meter.
func GetOrRegisterMeter(name string, r *Registry) *Meter {
	if r == nil {
		r = DefaultRegistry
	}
	return r.GetOrRegister(name, NewMeter).(*Meter)
}

// NewMeter constructs a new Meter.
func NewMeter() *Meter {
	return newStandardMeter()
}

// NewRegisteredMeter constructs and registers a new Meter.
func NewRegisteredMeter(name string, r *Registry) *Meter {
	m := NewMeter()
	if r == nil {
		r = DefaultRegistry
	}
	r.Register(name, m)
	return m
}

// MeterSnapshot is a read-only copy of a Meter.
type MeterSnapshot struct {
	count    int64
	rateMean float64
}

// Count returns the count of events at the time the snapshot was taken.
func (m *MeterSnapshot) Count() int64 { return m.count }

// RateMean returns the meter's mean rate of events per second at the time the
// snapshot was taken.
func (m *MeterSnapshot) RateMean() float64 { return m.rateMean }

// Meter counts events to produce a mean throughput rate.
type Meter struct {
	count     atomic.Int64
	startTime time.Time
	mu        sync.Mutex
}

func newStandardMeter() *Meter {
	return &Meter{startTime: time.Now()}
}

// Mark records the occurrence of n events.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
}

// Count returns the total number of events recorded.
func (m *Meter) Count() int64 {
	return m.count.Load()
}

// RateMean returns the mean rate of events per second since the meter was
// constructed.
func (m *Meter) RateMean() float64 {
	m.mu.Lock()
	elapsed := time.Since(m.startTime).Seconds()
	m.mu.Unlock()
	if elapsed == 0 {
		return 0
	}
	return float64(m.count.Load()) / elapsed
}

// Snapshot returns a read-only copy of the meter.
func (m *Meter) Snapshot() *MeterSnapshot {
	return &MeterSnapshot{count: m.count.Load(), rateMean: m.RateMean()}
}
