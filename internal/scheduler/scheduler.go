package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kerrors "katalyst/internal/errors"
	"katalyst/internal/logging"
	"katalyst/internal/metrics"
)

// Task is the user-supplied unit of scheduled work.
type Task func(ctx context.Context) error

// SuccessCallback is invoked after a task run completes without
// error.
type SuccessCallback func(name string, elapsed time.Duration)

// ErrorCallback is invoked after a task run fails (or is skipped for
// overlap). After a failed run, returning false terminates the handle
// and true continues scheduling; for an overlap skip the return value is
// ignored.
type ErrorCallback func(name string, cause error, consecutiveFailures int) bool

// ScheduleConfig configures one scheduled task registration.
type ScheduleConfig struct {
	Name             string
	Tags             []string
	InitialDelay     time.Duration
	TimeZone         *time.Location
	MaxExecutionTime time.Duration
	OnSuccess        SuccessCallback
	OnError          ErrorCallback
}

func (c ScheduleConfig) location() *time.Location {
	if c.TimeZone != nil {
		return c.TimeZone
	}
	return time.UTC
}

// Handle is a cancellable reference to a scheduled task.
type Handle struct {
	id   string
	name string
	tags []string
	s    *Scheduler
}

// Cancel requests cooperative abort of the task's scope and removes the
// entry from the scheduler. An in-flight run is given the scheduler's
// configured grace window before being abandoned; its side effects are
// left untouched.
func (h *Handle) Cancel() error { return h.s.cancel(h.id) }

// IsActive reports whether the handle is still registered (not
// cancelled and not terminated by an error callback).
func (h *Handle) IsActive() bool { return h.s.isActive(h.id) }

// Tag returns the handle's first registered tag, or "" if none.
func (h *Handle) Tag() string {
	if len(h.tags) == 0 {
		return ""
	}
	return h.tags[0]
}

// entryKind distinguishes cron-driven entries from fixed-delay ones.
type entryKind int

const (
	kindCron entryKind = iota
	kindFixedDelay
)

type entry struct {
	id       string
	kind     entryKind
	cfg      ScheduleConfig
	schedule *Schedule     // kindCron
	delay    time.Duration // kindFixedDelay
	task     Task

	nextFire time.Time
	heapIdx  int

	mu                  sync.Mutex
	running             bool
	cancelled           bool
	terminated          bool
	consecutiveFailures int
	cancelRun           context.CancelFunc
}

// entryHeap is a container/heap min-heap ordered by nextFire.
type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].nextFire.Before(h[j].nextFire) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx, h[j].heapIdx = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// Scheduler drives a single loop that fires the nearest-due task onto a
// goroutine per run, never overlapping runs for the same handle.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	pq      entryHeap
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	grace   time.Duration
	metrics *metrics.SchedulerMetrics
	logger  *slog.Logger
	started bool
	stopped bool
}

// New builds a Scheduler. gracePeriod bounds how long Handle.Cancel
// waits for an in-flight run before abandoning it
// (katalyst.scheduler.gracePeriodMs).
func New(gracePeriod time.Duration, m *metrics.SchedulerMetrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		grace:   gracePeriod,
		metrics: m,
		logger:  logger,
	}
}

// Start launches the dispatch loop. Calling it again, or after Stop, is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.loop()
}

// Stop signals the dispatch loop to exit and waits for it to finish.
// Idempotent, and safe to call on a scheduler that was never started;
// bootstrap teardown runs it unconditionally. Already-running task
// goroutines are not forcibly terminated.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.stopCh)
	if started {
		<-s.doneCh
	}
}

// ScheduleCron registers a cron-driven task.
func (s *Scheduler) ScheduleCron(cfg ScheduleConfig, cronExpr string, task Task) (*Handle, error) {
	if cfg.Name == "" {
		return nil, kerrors.NewConfigurationError("scheduler: ScheduleConfig.Name must not be empty", nil)
	}
	sched, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.entries[cfg.Name]; exists {
		s.mu.Unlock()
		return nil, kerrors.NewConfigurationError(fmt.Sprintf("scheduler: task name %q already registered", cfg.Name), nil)
	}
	s.mu.Unlock()

	ref := time.Now()
	if cfg.InitialDelay > 0 {
		ref = ref.Add(cfg.InitialDelay)
	}
	first, err := sched.Next(ref.Add(-time.Second), cfg.location())
	if err != nil {
		return nil, err
	}

	e := &entry{id: cfg.Name, kind: kindCron, cfg: cfg, schedule: sched, task: task, nextFire: first}
	s.register(e)
	return &Handle{id: e.id, name: cfg.Name, tags: cfg.Tags, s: s}, nil
}

// ScheduleFixedDelay registers a task that fires once after
// initialDelay and then every delay thereafter, measured from the
// previous run's scheduled instant, not from its completion.
func (s *Scheduler) ScheduleFixedDelay(cfg ScheduleConfig, initialDelay, delay time.Duration, task Task) (*Handle, error) {
	if cfg.Name == "" {
		return nil, kerrors.NewConfigurationError("scheduler: ScheduleConfig.Name must not be empty", nil)
	}
	if delay <= 0 {
		return nil, kerrors.NewConfigurationError("scheduler: fixed-delay interval must be positive", nil)
	}

	s.mu.Lock()
	if _, exists := s.entries[cfg.Name]; exists {
		s.mu.Unlock()
		return nil, kerrors.NewConfigurationError(fmt.Sprintf("scheduler: task name %q already registered", cfg.Name), nil)
	}
	s.mu.Unlock()

	e := &entry{id: cfg.Name, kind: kindFixedDelay, cfg: cfg, delay: delay, task: task, nextFire: time.Now().Add(initialDelay)}
	s.register(e)
	return &Handle{id: e.id, name: cfg.Name, tags: cfg.Tags, s: s}, nil
}

func (s *Scheduler) register(e *entry) {
	s.mu.Lock()
	s.entries[e.id] = e
	heap.Push(&s.pq, e)
	s.mu.Unlock()
	s.nudge()
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) cancel(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: no such task %q", id)
	}
	e.mu.Lock()
	e.cancelled = true
	cancelRun := e.cancelRun
	e.mu.Unlock()
	if e.heapIdx >= 0 && e.heapIdx < len(s.pq) {
		heap.Remove(&s.pq, e.heapIdx)
	}
	delete(s.entries, id)
	s.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
		if s.grace > 0 {
			time.Sleep(s.grace)
		}
	}
	return nil
}

func (s *Scheduler) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.cancelled && !e.terminated
}

// loop picks the nearest-due entry, sleeps until it fires (interruptible
// on new registration/cancellation), and launches it on its own
// goroutine. The due entry's next occurrence is computed and
// re-pushed onto the heap before the goroutine is launched, not after
// it completes, so an entry whose task is still running when its next
// instant comes due is popped again and reaches fire's overlap check.
func (s *Scheduler) loop() {
	defer close(s.doneCh)
	for {
		s.mu.Lock()
		var wait time.Duration
		var due *entry
		var fireDue bool
		if len(s.pq) == 0 {
			wait = time.Hour
		} else {
			next := s.pq[0]
			wait = time.Until(next.nextFire)
			if wait <= 0 {
				due = heap.Pop(&s.pq).(*entry)
				fireDue = s.requeue(due)
			}
		}
		s.mu.Unlock()

		if due != nil {
			if fireDue {
				go s.fire(due)
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// requeue computes e's next scheduled instant from its previous
// nextFire (not from this run's completion time, so a slow or still-
// running task never pushes back the next scheduled slot) and pushes
// e back onto the heap, unless e has been cancelled, terminated, or (for
// a cron entry) has no future match, in which case it is dropped from
// s.entries instead. Called with s.mu held. Reports whether e should
// actually be fired now.
func (s *Scheduler) requeue(e *entry) bool {
	e.mu.Lock()
	stop := e.cancelled || e.terminated
	e.mu.Unlock()
	if stop {
		delete(s.entries, e.id)
		return false
	}

	var next time.Time
	var err error
	switch e.kind {
	case kindCron:
		next, err = e.schedule.Next(e.nextFire, e.cfg.location())
	case kindFixedDelay:
		next = e.nextFire.Add(e.delay)
		if !next.After(time.Now()) {
			next = time.Now().Add(e.delay)
		}
	}
	if err != nil {
		logging.FromContext(context.Background(), s.logger).Error("scheduler: dropping task, no future match",
			"task", e.id, "error", err)
		delete(s.entries, e.id)
		return false
	}

	e.nextFire = next
	heap.Push(&s.pq, e)
	return true
}

// fire runs one due entry: it checks/claims the single-flight guard,
// invokes the task, and records the outcome. The entry's next
// occurrence has already been computed and requeued by requeue before
// fire was launched.
func (s *Scheduler) fire(e *entry) {
	e.mu.Lock()
	if e.cancelled || e.terminated {
		e.mu.Unlock()
		return
	}
	if e.running {
		e.mu.Unlock()
		s.recordOverlap(e)
		return
	}
	e.running = true
	runCtx, baseCancel := context.WithCancel(context.Background())
	cancel := baseCancel
	if e.cfg.MaxExecutionTime > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, e.cfg.MaxExecutionTime)
		cancel = func() {
			timeoutCancel()
			baseCancel()
		}
	}
	e.cancelRun = cancel
	e.mu.Unlock()

	start := time.Now()
	err := e.task(runCtx)
	cancel()
	elapsed := time.Since(start)

	e.mu.Lock()
	e.running = false
	e.cancelRun = nil
	wasCancelled := e.cancelled
	e.mu.Unlock()

	if wasCancelled {
		return
	}

	if err != nil {
		s.recordFailure(e, err, elapsed)
	} else {
		s.recordSuccess(e, elapsed)
	}
}

func (s *Scheduler) recordSuccess(e *entry, elapsed time.Duration) {
	e.mu.Lock()
	e.consecutiveFailures = 0
	e.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordFire(e.id, "success", elapsed.Seconds())
		s.metrics.SetConsecutiveFailures(e.id, 0)
	}
	if e.cfg.OnSuccess != nil {
		e.cfg.OnSuccess(e.id, elapsed)
	}
}

func (s *Scheduler) recordFailure(e *entry, cause error, elapsed time.Duration) {
	e.mu.Lock()
	e.consecutiveFailures++
	count := e.consecutiveFailures
	e.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordFire(e.id, "failure", elapsed.Seconds())
		s.metrics.SetConsecutiveFailures(e.id, count)
	}
	logging.FromContext(context.Background(), s.logger).Error("scheduled task failed",
		"task", e.id, "consecutive_failures", count, "error", cause)

	cont := true
	if e.cfg.OnError != nil {
		cont = e.cfg.OnError(e.id, cause, count)
	}
	if !cont {
		e.mu.Lock()
		e.terminated = true
		e.mu.Unlock()
		s.mu.Lock()
		delete(s.entries, e.id)
		s.mu.Unlock()
	}
}

func (s *Scheduler) recordOverlap(e *entry) {
	if s.metrics != nil {
		s.metrics.RecordFire(e.id, "overlap", 0)
		s.metrics.RecordOverlap(e.id)
	}
	overlapErr := kerrors.NewOverlapSkipped(e.id)
	if e.cfg.OnError != nil {
		e.mu.Lock()
		count := e.consecutiveFailures
		e.mu.Unlock()
		e.cfg.OnError(e.id, overlapErr, count)
	}
}
