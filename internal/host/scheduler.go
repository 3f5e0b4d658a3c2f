package host

// Timer is a scheduled callback on the simulated clock. The handler runs with
// the scheduler clock set to WakeTime; returning Reschedule re-inserts the
// timer, so the handler must move WakeTime forward first.
type Timer struct {
	WakeTime uint64
	Handler  func(*Timer) uint8

	next   *Timer
	queued bool
}

const (
	Done       = 0
	Reschedule = 1
)

// Pending reports whether t is waiting in a scheduler queue.
func (t *Timer) Pending() bool { return t.queued }

// Scheduler is a sorted timer list driven by simulated nanoseconds.
//
// Not safe for concurrent use.
type Scheduler struct {
	now  uint64
	list *Timer
}

func (s *Scheduler) Now() uint64 { return s.now }

// Schedule queues t. A timer that is already queued is moved to its new
// WakeTime. Wake times in the past fire on the next dispatch.
func (s *Scheduler) Schedule(t *Timer) {
	if t.queued {
		s.remove(t)
	}
	s.insert(t)
}

// Cancel removes t from the queue if it is pending.
func (s *Scheduler) Cancel(t *Timer) {
	if t.queued {
		s.remove(t)
	}
}

// insert keeps the list sorted by WakeTime; equal wake times fire in the
// order they were scheduled.
func (s *Scheduler) insert(t *Timer) {
	t.queued = true
	if s.list == nil || t.WakeTime < s.list.WakeTime {
		t.next = s.list
		s.list = t
		return
	}
	cur := s.list
	for cur.next != nil && cur.next.WakeTime <= t.WakeTime {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
}

func (s *Scheduler) remove(t *Timer) {
	t.queued = false
	if s.list == t {
		s.list = t.next
		t.next = nil
		return
	}
	for cur := s.list; cur != nil; cur = cur.next {
		if cur.next == t {
			cur.next = t.next
			t.next = nil
			return
		}
	}
}

// NextWake returns the earliest pending wake time.
func (s *Scheduler) NextWake() (uint64, bool) {
	if s.list == nil {
		return 0, false
	}
	return s.list.WakeTime, true
}

// RunUntil dispatches every timer due at or before deadline in wake order and
// leaves the clock at deadline. The clock never moves backwards.
func (s *Scheduler) RunUntil(deadline uint64) {
	for s.list != nil && s.list.WakeTime <= deadline {
		t := s.list
		s.list = t.next
		t.next = nil
		t.queued = false

		if t.WakeTime > s.now {
			s.now = t.WakeTime
		}
		if t.Handler(t) == Reschedule {
			s.insert(t)
		}
	}
	if deadline > s.now {
		s.now = deadline
	}
}
