package testsuite

import (
	"sort"
	"sync"
	"time"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// ManualScheduler is a stomp.Scheduler whose clock only moves when Advance is called.
// Callbacks run synchronously inside Advance.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*manualTimer
}

type manualTimer struct {
	s      *ManualScheduler
	id     int
	at     time.Time
	period time.Duration
	fn     func()
}

// NewManualScheduler creates a ManualScheduler starting at the current time.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{
		now:    time.Now(),
		timers: map[int]*manualTimer{},
	}
}

// Now returns the scheduler clock.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc schedules fn once.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) stomp.Timer {
	return s.add(d, 0, fn)
}

// Every schedules fn repeatedly.
func (s *ManualScheduler) Every(d time.Duration, fn func()) stomp.Timer {
	return s.add(d, d, fn)
}

func (s *ManualScheduler) add(d, period time.Duration, fn func()) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, id: s.seq, at: s.now.Add(d), period: period, fn: fn}
	s.timers[t.id] = t
	return t
}

// Pending returns the number of armed timers.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Advance moves the clock forward by d, running every callback that comes due in
// deadline order.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	end := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		var due []*manualTimer
		for _, t := range s.timers {
			if !t.at.After(end) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			s.now = end
			s.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].id < due[j].id
			}
			return due[i].at.Before(due[j].at)
		})
		t := due[0]
		if t.at.After(s.now) {
			s.now = t.at
		}
		if t.period > 0 {
			t.at = t.at.Add(t.period)
		} else {
			delete(s.timers, t.id)
		}
		s.mu.Unlock()
		t.fn()
	}
}

// Stop implements stomp.Timer.
func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.timers[t.id]; !ok {
		return false
	}
	delete(t.s.timers, t.id)
	return true
}
