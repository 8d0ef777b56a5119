/*
DESCRIPTION
  wavefront.go provides the wavefront job queue and its worker fleet: row
  indices are enqueued as their dependencies allow, and workers always take
  the lowest ready row.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package encoder

import (
	"sync"

	"github.com/ausocean/utils/logging"
	"golang.org/x/sync/errgroup"
)

// wavefront distributes CTU row jobs to a fleet of workers. Lower row
// indices have priority: a worker always picks the lowest queued row, and
// a worker deep in the frame yields when an earlier row becomes ready.
type wavefront struct {
	log     logging.Logger
	process func(row int)

	mu      sync.Mutex
	cond    *sync.Cond
	queued  []bool
	stopped bool

	threads int
	g       *errgroup.Group
}

// newWavefront returns a wavefront over numRows rows, processing rows with
// process on up to threads workers.
func newWavefront(numRows, threads int, log logging.Logger, process func(int)) (*wavefront, error) {
	if numRows <= 0 {
		return nil, ErrZeroRows
	}
	w := &wavefront{
		log:     log,
		process: process,
		queued:  make([]bool, numRows),
		threads: threads,
	}
	w.cond = sync.NewCond(&w.mu)
	return w, nil
}

// enqueue opens the queue for a new frame and launches the worker fleet.
// Workers run until dequeue.
func (w *wavefront) enqueue() {
	w.mu.Lock()
	for i := range w.queued {
		w.queued[i] = false
	}
	w.stopped = false
	w.mu.Unlock()

	w.g = &errgroup.Group{}
	for i := 0; i < w.threads; i++ {
		w.g.Go(w.worker)
	}
	w.log.Debug("wavefront workers launched", "threads", w.threads)
}

// dequeue stops the worker fleet and waits for it to drain. Called after
// the frame's completion event has fired.
func (w *wavefront) dequeue() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
	w.g.Wait()
}

// enqueueRow marks row r ready. A row already queued stays queued.
func (w *wavefront) enqueueRow(r int) {
	w.mu.Lock()
	w.queued[r] = true
	w.mu.Unlock()
	w.cond.Signal()
}

// findJob dequeues the lowest ready row, or returns -1. Caller holds mu.
func (w *wavefront) findJob() int {
	for i, q := range w.queued {
		if q {
			w.queued[i] = false
			return i
		}
	}
	return -1
}

// higherPriorityRow reports whether a row earlier than r is ready. Workers
// deep in the frame use it to yield to the rows that unblock the most
// parallelism.
func (w *wavefront) higherPriorityRow(r int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < r && i < len(w.queued); i++ {
		if w.queued[i] {
			return true
		}
	}
	return false
}

func (w *wavefront) worker() error {
	for {
		w.mu.Lock()
		row := w.findJob()
		for row < 0 && !w.stopped {
			w.cond.Wait()
			row = w.findJob()
		}
		if row < 0 {
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()
		w.process(row)
	}
}
