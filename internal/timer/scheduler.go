package timer

import (
	"container/heap"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned when scheduling on a stopped Scheduler.
var ErrStopped = errors.New("scheduler is stopped")

// Task is a callback due at a point in time.
type Task struct {
	ID    string
	DueAt time.Time
	Run   func()
	index int // heap position
}

// taskHeap is a min-heap of tasks ordered by DueAt
type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].DueAt.Before(h[j].DueAt) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs tasks at their due time on a fixed pool of workers. Due
// tasks queue for a free worker, so a pool of one never overlaps runs.
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task
	wakeup  chan struct{}
	due     chan *Task
	stopCh  chan struct{}
	stopped bool
	workers int
	wg      sync.WaitGroup
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler creates a scheduler with the given number of workers.
func NewScheduler(workers int, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		due:     make(chan *Task),
		stopCh:  make(chan struct{}),
		workers: workers,
		logger:  logger,
		now:     time.Now,
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the dispatch loop and the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.run()
}

// Stop halts dispatching and waits for running tasks to return. Pending
// tasks are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule registers fn to run at dueAt, replacing any task with the same id.
func (s *Scheduler) Schedule(id string, dueAt time.Time, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
	}

	t := &Task{ID: id, DueAt: dueAt, Run: fn}
	heap.Push(&s.heap, t)
	s.tasks[id] = t

	if s.heap[0] == t {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Next returns the due time of a pending task.
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return t.DueAt, true
}

// Pending returns the number of scheduled tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ScheduleDaily runs fn every day at hour:minute in loc. The next run is
// computed after each run returns or panics.
func (s *Scheduler) ScheduleDaily(id string, hour, minute int, loc *time.Location, fn func()) error {
	var scheduleNext func() error
	scheduleNext = func() error {
		next := NextDaily(s.now().In(loc), hour, minute)
		s.logger.Info("task_scheduled", "task", id, "next_run", next.Format(time.RFC3339))
		return s.Schedule(id, next, func() {
			defer func() {
				if err := scheduleNext(); err != nil && !errors.Is(err, ErrStopped) {
					s.logger.Error("task_reschedule_failed", "task", id, "error", err)
				}
			}()
			fn()
		})
	}
	return scheduleNext()
}

// NextDaily returns the first hour:minute in now's location strictly after now.
func NextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		wait := 24 * time.Hour
		var ready *Task
		if s.heap.Len() > 0 {
			wait = s.heap[0].DueAt.Sub(s.now())
			if wait <= 0 {
				ready = heap.Pop(&s.heap).(*Task)
				delete(s.tasks, ready.ID)
			}
		}
		s.mu.Unlock()

		if ready != nil {
			select {
			case s.due <- ready:
			case <-s.stopCh:
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case t := <-s.due:
			s.execute(t)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) execute(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task_panicked", "task", t.ID, "panic", r)
		}
	}()
	t.Run()
}
