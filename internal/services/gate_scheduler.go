package services

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"gate-admission/utils"
)

// Scheduler fires a callback for every armed entry once its deadline has
// passed. Armed deadlines are never cancelled: the callback re-checks the
// entry and ignores deadlines that no longer apply.
type Scheduler interface {
	Arm(entryID string, at time.Time)
	// RunDue fires every deadline that has passed and returns how many fired.
	RunDue(ctx context.Context, fire func(ctx context.Context, entryID string)) int
	// Run blocks until ctx is done, firing deadlines as they pass.
	Run(ctx context.Context, fire func(ctx context.Context, entryID string))
}

type deadline struct {
	at      time.Time
	entryID string
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].entryID < h[j].entryID
	}
	return h[i].at.Before(h[j].at)
}
func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)   { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DeadlineScheduler keeps every armed deadline in a min-heap and holds a
// single clock timer for the earliest one. The timer only wakes Run, the
// callbacks always run on the Run goroutine (or the RunDue caller).
type DeadlineScheduler struct {
	clock utils.Clock

	mu      sync.Mutex
	items   deadlineHeap
	timer   utils.Timer
	timerAt time.Time

	wake chan struct{}
}

func NewDeadlineScheduler(clock utils.Clock) *DeadlineScheduler {
	return &DeadlineScheduler{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

func (s *DeadlineScheduler) Arm(entryID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heap.Push(&s.items, deadline{at: at, entryID: entryID})
	if s.timer == nil || at.Before(s.timerAt) {
		s.resetTimerLocked(at)
	}
}

// Len returns the number of deadlines that have not fired yet.
func (s *DeadlineScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Len()
}

func (s *DeadlineScheduler) RunDue(ctx context.Context, fire func(ctx context.Context, entryID string)) int {
	s.mu.Lock()
	now := s.clock.Now()
	var due []string
	for s.items.Len() > 0 && !s.items[0].at.After(now) {
		due = append(due, heap.Pop(&s.items).(deadline).entryID)
	}

	if s.timer != nil && !s.timerAt.After(now) {
		s.timer = nil
	}
	if s.items.Len() > 0 && (s.timer == nil || s.items[0].at.Before(s.timerAt)) {
		s.resetTimerLocked(s.items[0].at)
	}
	s.mu.Unlock()

	for _, entryID := range due {
		if ctx.Err() != nil {
			break
		}
		fire(ctx, entryID)
	}
	return len(due)
}

func (s *DeadlineScheduler) Run(ctx context.Context, fire func(ctx context.Context, entryID string)) {
	// Deadlines armed before Run started may already be due.
	s.RunDue(ctx, fire)
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			s.mu.Unlock()
			return
		case <-s.wake:
			s.RunDue(ctx, fire)
		}
	}
}

func (s *DeadlineScheduler) resetTimerLocked(at time.Time) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerAt = at
	s.timer = s.clock.AfterFunc(at.Sub(s.clock.Now()), s.signal)
}

func (s *DeadlineScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
