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

package mclock

import (
	"sync"
	"time"
)

// Simulated implements a virtual Clock for reproducible time-sensitive tests.
// It simulates a scheduler on a virtual timescale where actual processing
// takes zero time.
//
// The virtual clock doesn't advance on its own, call Run to advance it and
// execute timers. Since there is no way to influence the Go scheduler, testing
// timeout behaviour involving goroutines needs special care. A good way to
// test such timeouts is as follows: First perform the action that is supposed
// to time out. Ensure that the timer you want to test is created. Then run the
// clock until after the timeout. Finally observe the effect of the timeout
// using a channel or semaphore.
type Simulated struct {
	now       AbsTime
	scheduled []*simTimer
	mu        sync.RWMutex
	cond      *sync.Cond
}

// simTimer implements a timer on the virtual clock.
type simTimer struct {
	at AbsTime
	ch chan AbsTime
}

func (s *Simulated) init() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
}

// Run moves the clock by the given duration, executing all timers before that
// duration.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	s.init()

	end := s.now.Add(d)
	for len(s.scheduled) > 0 && s.scheduled[0].at <= end {
		ev := s.scheduled[0]
		s.scheduled = s.scheduled[1:]
		s.now = ev.at
		ev.ch <- ev.at
	}
	s.now = end
	s.mu.Unlock()
}

// ActiveTimers returns the number of timers that haven't fired.
func (s *Simulated) ActiveTimers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.scheduled)
}

// WaitForTimers waits until the clock has at least n scheduled timers.
func (s *Simulated) WaitForTimers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	for len(s.scheduled) < n {
		s.cond.Wait()
	}
}

// Now returns the current virtual time.
func (s *Simulated) Now() AbsTime {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.now
}

// Sleep blocks until the clock has advanced by d.
func (s *Simulated) Sleep(d time.Duration) {
	<-s.After(d)
}

// After returns a channel which receives the current time after the clock
// has advanced by d.
func (s *Simulated) After(d time.Duration) <-chan AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	ch := make(chan AbsTime, 1)
	timer := &simTimer{at: s.now.Add(d), ch: ch}
	l, h := 0, len(s.scheduled)
	ll := h
	for l != h {
		m := (l + h) / 2
		if timer.at < s.scheduled[m].at {
			h = m
		} else {
			l = m + 1
		}
	}
	s.scheduled = append(s.scheduled, nil)
	copy(s.scheduled[l+1:], s.scheduled[l:ll])
	s.scheduled[l] = timer
	s.cond.Broadcast()
	return ch
}
