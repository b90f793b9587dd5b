package restart

import (
	"sync"
	"time"
)

// Scheduler arms one deferred restart plus zero or more advance-warning
// reminders. Scheduling a new cycle cancels the previous timer set
// atomically, so a manual restart pre-empting a policy-driven one never
// leaves stale timers behind.
type Scheduler struct {
	mu     sync.Mutex
	timers []*time.Timer
}

func NewScheduler() *Scheduler { return &Scheduler{} }

// Schedule arms a restart cycle. The restart fires after delay; for every
// offset strictly less than delay, a reminder fires at delay-offset (i.e.
// offset before the restart) carrying that offset. Offsets >= delay are
// skipped. Any previously pending cycle is cancelled first.
func (s *Scheduler) Schedule(delay time.Duration, offsets []time.Duration, remind func(offset time.Duration), restart func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	for _, off := range offsets {
		if off >= delay || off <= 0 {
			continue
		}
		offset := off
		s.timers = append(s.timers, time.AfterFunc(delay-offset, func() { remind(offset) }))
	}
	s.timers = append(s.timers, time.AfterFunc(delay, restart))
}

// Cancel stops every pending reminder and restart timer.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Scheduler) cancelLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// Pending reports how many timers are currently armed (reminders plus the
// restart itself).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
