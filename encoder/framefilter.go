/*
DESCRIPTION
  framefilter.go provides the in-loop filter pipeline: a second wavefront
  trailing the encode wavefront by a configurable number of rows, applying
  deblocking and SAO reconstruction to completed CTU rows.

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
)

// RowFilter is a pixel-domain filter kernel applied to one completed CTU
// row of a picture. Deblocking and SAO kernels are supplied at encoder
// construction.
type RowFilter func(p *Picture, row int)

// frameFilter runs the in-loop filters behind the encode wavefront. Rows
// are filtered strictly in order; enqueueRow has replace semantics, so
// enqueuing row r makes every row up to r eligible and repeated enqueues
// are no-ops.
type frameFilter struct {
	log      logging.Logger
	deblock  RowFilter
	saoApply RowFilter

	numRows  int
	rowDelay int

	mu   sync.Mutex
	cond *sync.Cond
	mark int // highest eligible row
	next int // next row to filter
	pic  *Picture
	done chan struct{}
}

func newFrameFilter(numRows, rowDelay int, log logging.Logger, deblock, saoApply RowFilter) *frameFilter {
	f := &frameFilter{
		log:      log,
		deblock:  deblock,
		saoApply: saoApply,
		numRows:  numRows,
		rowDelay: rowDelay,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// start readies the filter for pic and launches its worker.
func (f *frameFilter) start(p *Picture) {
	f.mu.Lock()
	f.pic = p
	f.mark = -1
	f.next = 0
	f.done = make(chan struct{})
	f.mu.Unlock()
	go f.run()
}

// enqueueRow makes rows up to and including r eligible for filtering.
func (f *frameFilter) enqueueRow(r int) {
	f.mu.Lock()
	if r > f.mark {
		f.mark = r
	}
	f.mu.Unlock()
	f.cond.Signal()
}

// processRow filters row r synchronously. The filter's worker calls it for
// every row, in both the wavefront and the sequential path.
func (f *frameFilter) processRow(r int) {
	if f.deblock != nil {
		f.deblock(f.pic, r)
	}
	if f.saoApply != nil {
		f.saoApply(f.pic, r)
	}
}

// wait blocks until every row of the frame has been filtered.
func (f *frameFilter) wait() {
	<-f.done
}

// dequeue releases the worker after a frame. The worker exits on its own
// once the last row is filtered; dequeue exists for symmetry with the
// encode wavefront and asserts that state.
func (f *frameFilter) dequeue() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next != f.numRows {
		f.log.Warning("loop filter dequeued before frame drained", "next", f.next)
	}
}

// end releases per-frame state.
func (f *frameFilter) end() {
	f.mu.Lock()
	f.pic = nil
	f.mu.Unlock()
}

func (f *frameFilter) run() {
	for {
		f.mu.Lock()
		for f.next > f.mark {
			f.cond.Wait()
		}
		r := f.next
		f.mu.Unlock()

		f.processRow(r)

		f.mu.Lock()
		f.next++
		fin := f.next == f.numRows
		f.mu.Unlock()
		if fin {
			f.log.Debug("loop filter drained frame")
			close(f.done)
			return
		}
	}
}
