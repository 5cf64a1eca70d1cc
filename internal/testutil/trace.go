// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"strings"
	"sync"
	"time"
)

// Event is one recorded interaction with a fake.
type Event struct {
	At     time.Time
	Node   string
	Kind   string
	Detail string
}

// Trace records events from concurrent fakes.
type Trace struct {
	mu     sync.Mutex
	clock  *FakeClock
	events []Event
}

// NewTrace stamps events with clock, or the zero time when clock is nil.
func NewTrace(clock *FakeClock) *Trace {
	return &Trace{clock: clock}
}

// Add records an event.
func (t *Trace) Add(node, kind, detail string) {
	var at time.Time
	if t.clock != nil {
		at = t.clock.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, Event{At: at, Node: node, Kind: kind, Detail: detail})
}

// Events returns a copy of all recorded events.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// Filter returns events of kind whose detail contains substr.
func (t *Trace) Filter(kind, substr string) []Event {
	var out []Event
	for _, e := range t.Events() {
		if e.Kind == kind && strings.Contains(e.Detail, substr) {
			out = append(out, e)
		}
	}
	return out
}

// Count is len(Filter(kind, substr)).
func (t *Trace) Count(kind, substr string) int {
	return len(t.Filter(kind, substr))
}
