package worker

import (
	"sync"
	"time"
)

type workerMeta struct {
	w         *worker
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted as delete
}

// pool keeps between min and max workers, growing on demand and retiring
// workers that sat idle longer than expiry.
type pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[*worker]*workerMeta
	min      int
	max      int
	running  int
	nextID   int
	expiry   time.Duration
	stopped  bool
	quit     chan struct{}
}

const defaultWorkerIdle = 30 * time.Second

func newPool(minWorkers, maxWorkers int, idle time.Duration) *pool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &pool{
		metadata: make(map[*worker]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		quit:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < minWorkers; i++ {
		p.mu.Lock()
		w := p.spawnLocked()
		p.idle = append(p.idle, p.metadata[w])
		p.metadata[w].enqueued = true
		p.mu.Unlock()
	}
	go p.purgeStaleWorkers()
	return p
}

func (p *pool) spawnLocked() *worker {
	p.nextID++
	w := newWorker(p.nextID, p)
	p.metadata[w] = &workerMeta{w: w, lastUsed: time.Now()}
	p.running++
	w.start()
	return w
}

// acquire returns an idle worker, spawning one while below max. It blocks
// when every worker is busy and returns false once the pool is stopped.
func (p *pool) acquire() (*worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return nil, false
		}
		if meta := p.popIdleLocked(); meta != nil {
			return meta.w, true
		}
		if p.running < p.max {
			return p.spawnLocked(), true
		}
		p.cond.Wait()
	}
}

// release puts a worker back into the idle queue.
func (p *pool) release(w *worker) {
	p.mu.Lock()
	meta, ok := p.metadata[w]
	if !ok || meta.discarded || meta.enqueued {
		p.mu.Unlock()
		return
	}
	if p.stopped {
		meta.discarded = true
		p.mu.Unlock()
		close(w.jobs)
		return
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *pool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

func (p *pool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.shutdownExpired()
		case <-p.quit:
			return
		}
	}
}

// shutdownExpired retires idle workers past expiry while staying above min.
func (p *pool) shutdownExpired() {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	for _, meta := range stale {
		delete(p.metadata, meta.w)
		p.running--
	}
	p.mu.Unlock()

	for _, meta := range stale {
		close(meta.w.jobs)
	}
	p.cond.Broadcast()
}

// stop retires idle workers immediately; busy workers exit after their job.
func (p *pool) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	idle := p.idle
	p.idle = nil
	for _, meta := range idle {
		if !meta.discarded {
			meta.discarded = true
			close(meta.w.jobs)
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
