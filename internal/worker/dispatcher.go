// Package worker runs background jobs on a bounded pool, dispatching users
// round-robin so one busy user cannot starve the others.
package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDispatcherBusy is returned when the intake queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrDispatcherStopped is returned after Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

type Dispatcher struct {
	pool     *pool
	jobQueue chan Job
	quit     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // users with pending jobs, least recently served first
	positions map[int64]*list.Element
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		pool:      newPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		jobQueue:  make(chan Job, cfg.QueueSize),
		quit:      make(chan struct{}),
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
	}
	go d.run()
	return d
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run function")
	}
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Stop halts intake and retires the workers. Jobs already running finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.stop()
	})
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the user in front of the ready list
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// CancelUser drops the user's pending jobs.
func (d *Dispatcher) CancelUser(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// dispatchOne hands the next job of the front user to a worker and moves
// that user to the back of the ready list.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	w, ok := d.pool.acquire()
	if !ok {
		return false
	}
	debugLog("[dispatcher] assign %s for user %d to worker-%d", job.Kind, userID, w.id)
	w.jobs <- job
	return true
}

// Do runs fn on the dispatcher for userID and waits for its result. If ctx
// ends first Do returns ctx.Err(); fn still runs to completion.
func Do[T any](ctx context.Context, d *Dispatcher, userID int64, kind string, fn func() T) (T, error) {
	var zero T
	result := make(chan T, 1)
	job := Job{UserID: userID, Kind: kind, Run: func() { result <- fn() }}
	if err := d.Submit(job); err != nil {
		return zero, err
	}
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
