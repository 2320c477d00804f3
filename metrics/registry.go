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

// Package metrics provides counters, gauges and meters registered by
// slash-separated name. Every backpressure drop, validation failure and
// message emission in the consensus core reports through a metric so that
// integrators and tests can observe them.
package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultRegistry is the registry used by the convenience constructors when
// nil is passed for the registry.
var DefaultRegistry = NewRegistry()

// Registry holds references to a set of metrics by name.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]interface{}
}

// NewRegistry constructs a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]interface{})}
}

// Each calls the given function for each registered metric, sorted by name.
func (r *Registry) Each(f func(string, interface{})) {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metrics := make([]interface{}, len(names))
	for i, name := range names {
		metrics[i] = r.metrics[name]
	}
	r.mu.RUnlock()

	for i, name := range names {
		f(name, metrics[i])
	}
}

// Get the metric by the given name or nil if none is registered.
func (r *Registry) Get(name string) interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// GetOrRegister gets an existing metric or registers the one returned by the
// given constructor.
func (r *Registry) GetOrRegister(name string, ctor interface{}) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return m
	}
	var m interface{}
	switch c := ctor.(type) {
	case func() *Counter:
		m = c()
	case func() *Gauge:
		m = c()
	case func() *Meter:
		m = c()
	default:
		m = ctor
	}
	r.metrics[name] = m
	return m
}

// Register the given metric under the given name. Replaces any existing
// metric with that name.
func (r *Registry) Register(name string, m interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
}

// Unregister the metric with the given name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, name)
}

// CounterValue is a test helper returning the current value of a registered
// counter, or zero when absent.
func (r *Registry) CounterValue(name string) int64 {
	if c, ok := r.Get(name).(*Counter); ok {
		return c.Count()
	}
	return 0
}

func (r *Registry) String() string {
	var s string
	r.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case *Counter:
			s += fmt.Sprintf("%s: %d\n", name, v.Count())
		case *Gauge:
			s += fmt.Sprintf("%s: %d\n", name, v.Value())
		case *Meter:
			s += fmt.Sprintf("%s: %d\n", name, v.Count())
		}
	})
	return s
}
