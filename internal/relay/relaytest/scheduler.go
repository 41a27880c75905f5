// Package relaytest provides a manually driven relay.Scheduler for tests.
package relaytest

import (
	"sort"
	"sync"
	"time"

	"github.com/magefree/anonrelay-server-go/internal/relay"
)

var _ relay.Scheduler = (*ManualScheduler)(nil)

// ManualScheduler is a Scheduler driven by Advance. Callbacks run
// synchronously on the goroutine calling Advance, in due order.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	s       *ManualScheduler
	at      time.Duration
	delay   time.Duration
	f       func()
	fired   bool
	stopped bool
}

func (t *manualTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManualScheduler returns a scheduler whose clock starts at zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) relay.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTask{s: s, at: s.now + d, delay: d, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by d and runs every callback that became due.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	s.now += d
	due := make([]*manualTask, 0)
	for _, t := range s.tasks {
		if !t.fired && !t.stopped && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// Pending returns the requested delays of callbacks that have not run or been stopped.
func (s *ManualScheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]time.Duration, 0)
	for _, t := range s.tasks {
		if !t.fired && !t.stopped {
			out = append(out, t.delay)
		}
	}
	return out
}
