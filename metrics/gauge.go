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

import "sync/atomic"

// GetOrRegisterGauge returns an existing Gauge or constructs and registers a
// new Gauge.
func GetOrRegisterGauge(name string, r *Registry) *Gauge {
	if r == nil {
		r = DefaultRegistry
	}
	return r.GetOrRegister(name, NewGauge).(*Gauge)
}

// NewGauge constructs a new Gauge.
func NewGauge() *Gauge {
	return new(Gauge)
}

// NewRegisteredGauge constructs and registers a new Gauge.
func NewRegisteredGauge(name string, r *Registry) *Gauge {
	g := NewGauge()
	if r == nil {
		r = DefaultRegistry
	}
	r.Register(name, g)
	return g
}

// GaugeSnapshot is a read-only copy of a Gauge.
type GaugeSnapshot int64

// Value returns the value at the time the snapshot was taken.
func (g GaugeSnapshot) Value() int64 { return int64(g) }

// Gauge holds an int64 value that can be set arbitrarily.
type Gauge atomic.Int64

// Snapshot returns a read-only copy of the gauge.
func (g *Gauge) Snapshot() GaugeSnapshot {
	return GaugeSnapshot((*atomic.Int64)(g).Load())
}

// Update updates the gauge's value.
func (g *Gauge) Update(v int64) {
	(*atomic.Int64)(g).Store(v)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return (*atomic.Int64)(g).Load()
}

// Inc increments the gauge's current value by the given amount.
func (g *Gauge) Inc(delta int64) {
	(*atomic.Int64)(g).Add(delta)
}

// Dec decrements the gauge's current value by the given amount.
func (g *Gauge) Dec(delta int64) {
	(*atomic.Int64)(g).Add(-delta)
}
