package worker

import (
	"log/slog"
	"runtime/debug"
)

// Job is one unit of background work attributed to a user.
type Job struct {
	UserID int64
	Kind   string
	Run    func()
}

type worker struct {
	id   int
	pool *pool
	jobs chan Job
}

func newWorker(id int, p *pool) *worker {
	return &worker{id: id, pool: p, jobs: make(chan Job)}
}

func (w *worker) start() {
	go func() {
		// The pool closes jobs to retire the worker.
		for job := range w.jobs {
			w.run(job)
			w.pool.release(w)
		}
	}()
}

func (w *worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker job panicked",
				"worker", w.id,
				"kind", job.Kind,
				"user_id", job.UserID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	debugLog("[worker-%d] run %s for user %d", w.id, job.Kind, job.UserID)
	job.Run()
}
