package overlay

import "time"

// Scheduler coalesces work onto the next render opportunity. Two kinds of
// work exist: one-shot units (deferred badge creation, notification
// assembly — these queue up) and the re-layout pass (a single pending
// token that is replaced, not stacked, on repeated requests). Arming again
// while a fire is pending cancels and reschedules it, so an event burst
// produces at most one pass — trailing-edge coalescing.
//
// The Scheduler is owned by the agent loop goroutine; everything runs
// synchronously inside one Drain, with no interleaving mid-pass.
type Scheduler struct {
	interval time.Duration
	timer    *time.Timer
	timerCh  <-chan time.Time
	work     []func()
	relayout bool
}

// DefaultFrameInterval approximates one animation frame.
const DefaultFrameInterval = 16 * time.Millisecond

// NewScheduler creates a Scheduler firing at most once per interval.
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Scheduler{interval: interval}
}

// Enqueue queues a one-shot unit for the next pass.
func (s *Scheduler) Enqueue(fn func()) {
	s.work = append(s.work, fn)
	s.arm()
}

// RequestRelayout marks the re-layout pass pending. Repeated requests
// collapse into one.
func (s *Scheduler) RequestRelayout() {
	s.relayout = true
	s.arm()
}

// C is the channel that fires when a pass is due. It is nil while nothing
// is pending, which blocks that select arm.
func (s *Scheduler) C() <-chan time.Time {
	return s.timerCh
}

// Drain runs all queued units synchronously and reports whether a
// re-layout was requested. The pending state is reset before the units
// run, so work scheduled from inside a unit lands in the next pass.
func (s *Scheduler) Drain() (relayout bool) {
	work := s.work
	relayout = s.relayout
	s.work = nil
	s.relayout = false
	s.disarm()

	for _, fn := range work {
		fn()
	}
	return relayout
}

// Pending reports whether a pass is scheduled.
func (s *Scheduler) Pending() bool {
	return s.timerCh != nil
}

func (s *Scheduler) arm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.NewTimer(s.interval)
	s.timerCh = s.timer.C
}

func (s *Scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.timerCh = nil
	}
}
