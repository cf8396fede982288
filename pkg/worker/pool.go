// Package worker implements the Worker Pool Gateway (spec.md §4.2): it
// lends worker slots to the Sync Engine in TTI order and serializes uplink
// submission across workers via a rotating mutex ring. Grounded on the
// teacher's pkg/node.NodeProcessor — context-cancelled background
// goroutines tracked by a sync.WaitGroup — generalized from "one fixed
// background+main loop pair" to "a bounded pool of on-demand worker slots".
package worker

import (
	"context"
	"sync"

	"github.com/telcogo/uecore"
)

// WorkFunc is invoked once per dispatched TTI on its own goroutine, holding
// the worker's rotating TX mutex for the duration of "decode → uplink
// submit" (spec.md §4.1 TX-mutex rotation).
type WorkFunc func(ctx context.Context, w *Worker, tti uint32)

// Worker is one pool slot. CellState is scratch space the Sync Engine
// attaches per-cell configuration to (antenna buffers, DSP handles) via
// GetWorker traversal in init_cell/free_cell; the pool never reads it.
type Worker struct {
	ID        int
	CellState any
	txMutex   *sync.Mutex
}

// Handle is a single-use worker slot stamped with the TTI it will process.
type Handle struct {
	worker  *Worker
	tti     uint32
	started bool
}

func (h *Handle) TTI() uint32     { return h.tti }
func (h *Handle) Worker() *Worker { return h.worker }

// Pool is the Worker Pool Gateway.
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	free    chan int
	wg      sync.WaitGroup
	closed  bool

	mutexRing []sync.Mutex
	nextRing  int
}

// New constructs a pool of nofWorkers slots, each initially free, with the
// uplink mutex ring sized to nofWorkers (callers needing a larger ring call
// SetNofMutex afterward).
func New(nofWorkers int) *Pool {
	p := &Pool{
		workers: make([]*Worker, nofWorkers),
		free:    make(chan int, nofWorkers),
	}
	for i := 0; i < nofWorkers; i++ {
		p.workers[i] = &Worker{ID: i}
		p.free <- i
	}
	p.mutexRing = make([]sync.Mutex, nofWorkers)
	return p
}

// NofWorkers returns the pool's fixed worker-slot count.
func (p *Pool) NofWorkers() int { return len(p.workers) }

// GetWorker returns the i'th worker for per-cell configuration traversal
// (spec.md §4.2).
func (p *Pool) GetWorker(i int) *Worker { return p.workers[i] }

// SetNofMutex configures the rotating uplink-mutex ring to size k. The pool
// size must evenly divide k (spec.md §4.1 "TX-mutex rotation").
func (p *Pool) SetNofMutex(k int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k <= 0 || k%len(p.workers) != 0 {
		return uecore.ErrIllegalArgument
	}
	p.mutexRing = make([]sync.Mutex, k)
	p.nextRing = 0
	return nil
}

// WaitWorker blocks until a worker slot is free or the pool is closed
// (spec.md §4.2: "wait_worker returns Closed only after stop has been
// requested"). ctx cancellation also unblocks the wait.
func (p *Pool) WaitWorker(ctx context.Context, tti uint32) (*Handle, error) {
	select {
	case id, ok := <-p.free:
		if !ok {
			return nil, uecore.ErrPoolClosed
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, uecore.ErrPoolClosed
		}
		ring := len(p.mutexRing)
		idx := p.nextRing % ring
		p.nextRing++
		w := p.workers[id]
		w.txMutex = &p.mutexRing[idx]
		p.mu.Unlock()
		return &Handle{worker: w, tti: tti}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartWorker releases the stamped handle to run fn on its own goroutine,
// holding the worker's rotating TX mutex across the call. The worker slot
// returns to the free pool once fn returns.
func (p *Pool) StartWorker(ctx context.Context, h *Handle, fn WorkFunc) {
	if h.started {
		return
	}
	h.started = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(h.worker.ID)
		h.worker.txMutex.Lock()
		defer h.worker.txMutex.Unlock()
		fn(ctx, h.worker, h.tti)
	}()
}

func (p *Pool) release(id int) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.free <- id
}

// Stop closes the pool: every WaitWorker call after Stop returns
// uecore.ErrPoolClosed, even while free slots remain buffered.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.free)
}

// Wait blocks until every started worker goroutine has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
