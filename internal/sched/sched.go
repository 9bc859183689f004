// Package sched provides the fixed worker pool executing the core's deferred
// work: per-worker FIFO queues with stealing between idle and busy workers, a
// shared priority heap for urgent submissions, and the Limiter bounding
// concurrent use of finite resource classes.
package sched

import (
	"container/heap"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/internal/task"
)

// Priority orders tasks in the shared priority queue.
// Critical > High > Normal > Low; within equal priority, FIFO by arrival.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

type schedState int

const (
	stateRunning schedState = iota
	stateDraining
	stateStopped
)

// Config holds scheduler tunables. Zero values mean defaults.
type Config struct {
	// Workers is the fixed pool size; defaults to runtime.NumCPU().
	Workers int
	Logger  zerolog.Logger
}

type worker struct {
	id    int
	queue []func() // guarded by Scheduler.mu
}

// Scheduler is a fixed pool of workers, each with a local FIFO queue. Idle
// workers first drain their own queue, then the priority heap, then steal one
// item from a randomly chosen sibling before sleeping on the shared condition
// variable.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	workers []*worker
	prio    prioQueue
	seq     uint64
	state   schedState
	next    int
	idle    int

	pending   atomic.Int64
	completed atomic.Uint64
	steals    atomic.Uint64

	wg  sync.WaitGroup
	log zerolog.Logger
}

// New constructs and starts the worker pool.
func New(cfg Config) *Scheduler {
	n := cfg.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	s := &Scheduler{log: cfg.Logger}
	s.cond = sync.NewCond(&s.mu)
	s.workers = make([]*worker, n)
	for i := range s.workers {
		s.workers[i] = &worker{id: i}
	}
	s.wg.Add(n)
	for _, w := range s.workers {
		go s.run(w)
	}
	return s
}

// Submit enqueues fn on a worker's local FIFO queue and wakes one idle
// worker. After Shutdown it fails with ServiceUnavailable.
func (s *Scheduler) Submit(fn func()) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return fault.New(fault.ServiceUnavailable, "scheduler is shut down")
	}
	w := s.workers[s.next%len(s.workers)]
	s.next++
	w.queue = append(w.queue, fn)
	s.pending.Add(1)
	s.mu.Unlock()
	s.cond.Signal()
	return nil
}

// SubmitPriority enqueues fn on the shared priority heap. Priority tasks are
// preferred over plain-queue tasks whenever both are non-empty.
func (s *Scheduler) SubmitPriority(fn func(), pri Priority) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return fault.New(fault.ServiceUnavailable, "scheduler is shut down")
	}
	s.seq++
	heap.Push(&s.prio, prioItem{fn: fn, pri: pri, seq: s.seq})
	s.pending.Add(1)
	s.mu.Unlock()
	s.cond.Signal()
	return nil
}

// Run submits fn as a Task on the plain queue and returns its handle. A
// refused submission (shutdown) resolves the task immediately with the error.
func Run[T any](s *Scheduler, fn func() task.Result[T]) *task.Task[T] {
	return runOn(s, fn, func(body func()) error { return s.Submit(body) })
}

// RunPriority submits fn as a Task at the given priority.
func RunPriority[T any](s *Scheduler, pri Priority, fn func() task.Result[T]) *task.Task[T] {
	return runOn(s, fn, func(body func()) error { return s.SubmitPriority(body, pri) })
}

func runOn[T any](s *Scheduler, fn func() task.Result[T], submit func(func()) error) *task.Task[T] {
	t, resolve := task.New[T](s, uuid.NewString())
	if err := submit(func() { resolve(fn()) }); err != nil {
		resolve(task.ErrFrom[T](err))
	}
	return t
}

func (s *Scheduler) run(w *worker) {
	defer s.wg.Done()
	for {
		fn, ok := s.take(w)
		if !ok {
			return
		}
		s.execute(fn)
	}
}

// take blocks until work is available for w or the scheduler stops.
func (s *Scheduler) take(w *worker) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		// Own queue first, FIFO.
		if len(w.queue) > 0 {
			fn := w.queue[0]
			w.queue = w.queue[1:]
			return fn, true
		}
		// Priority heap next.
		if s.prio.Len() > 0 {
			it := heap.Pop(&s.prio).(prioItem)
			return it.fn, true
		}
		// Steal one item from a randomly chosen sibling; steal from the head
		// so the victim's FIFO order is preserved for the stolen item.
		if fn := s.stealLocked(w); fn != nil {
			return fn, true
		}
		if s.state == stateStopped {
			return nil, false
		}
		if s.state == stateDraining && s.pending.Load() == 0 {
			return nil, false
		}
		s.idle++
		s.cond.Wait()
		s.idle--
	}
}

func (s *Scheduler) stealLocked(w *worker) func() {
	n := len(s.workers)
	if n < 2 {
		return nil
	}
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		v := s.workers[(start+i)%n]
		if v.id == w.id || len(v.queue) == 0 {
			continue
		}
		fn := v.queue[0]
		v.queue = v.queue[1:]
		s.steals.Add(1)
		return fn
	}
	return nil
}

func (s *Scheduler) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("task panicked")
		}
		s.pending.Add(-1)
		s.completed.Add(1)
		s.mu.Lock()
		if s.pending.Load() == 0 {
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}()
	fn()
}

// WaitIdle blocks until no task is pending or running.
func (s *Scheduler) WaitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending.Load() > 0 {
		s.cond.Wait()
	}
}

// Shutdown stops accepting new work, drains queued and in-flight work, then
// joins all workers. Safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.state = stateDraining
	s.cond.Broadcast()
	for s.pending.Load() > 0 {
		s.cond.Wait()
	}
	s.state = stateStopped
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

// Stats is a point-in-time view of scheduler accounting.
type Stats struct {
	Workers   int
	Pending   int64
	Completed uint64
	Steals    uint64
	Idle      int
}

// Stats returns current accounting. Pending never goes negative; Completed is
// strictly monotonic.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	idle := s.idle
	n := len(s.workers)
	s.mu.Unlock()
	return Stats{
		Workers:   n,
		Pending:   s.pending.Load(),
		Completed: s.completed.Load(),
		Steals:    s.steals.Load(),
		Idle:      idle,
	}
}

// prioItem is one heap entry: higher priority first, then FIFO by seq.
type prioItem struct {
	fn  func()
	pri Priority
	seq uint64
}

type prioQueue []prioItem

func (q prioQueue) Len() int { return len(q) }
func (q prioQueue) Less(i, j int) bool {
	if q[i].pri != q[j].pri {
		return q[i].pri > q[j].pri
	}
	return q[i].seq < q[j].seq
}
func (q prioQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *prioQueue) Push(x any)   { *q = append(*q, x.(prioItem)) }
func (q *prioQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
