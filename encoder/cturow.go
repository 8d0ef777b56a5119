/*
DESCRIPTION
  cturow.go provides the per-row mutable state of the wavefront: the
  active-flag state machine, the row's working CABAC coder, the row-end
  context snapshot consumed by the row below, and the RDO scratch coders.

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

	"github.com/ausocean/hevc/cabac"
)

// rdoDepths is the number of RDO scratch coders per row, one per CU depth
// of a 64x64 CTU plus one for the current best.
const rdoDepths = 5

// ctuRow holds the state of one CTU row. Rows are allocated once at
// encoder construction, indexed by row number, and reset per frame;
// cross-row references are row indices, never pointers.
type ctuRow struct {
	lock   sync.Mutex // guards active and the enqueue decision
	active bool

	// coder is the row's working CABAC state during the analysis pass.
	coder *cabac.Coder

	// bufferCoder snapshots coder's contexts after the row's second CTU;
	// it is written exactly once per frame and read at most once, by the
	// row below at its start-of-row synchronisation.
	bufferCoder *cabac.Coder

	// rdCoders are counting coders scratched over during rate-distortion
	// optimisation of the row's CTUs.
	rdCoders []*cabac.Coder
}

func newCTURow() *ctuRow {
	r := &ctuRow{
		coder:       cabac.NewCounter(),
		bufferCoder: cabac.NewCounter(),
	}
	for i := 0; i < rdoDepths; i++ {
		r.rdCoders = append(r.rdCoders, cabac.NewCounter())
	}
	return r
}

// init resets the row for a new frame, loading the slice's initial
// entropy state from master into the working and RDO coders.
func (r *ctuRow) init(master *cabac.Coder) {
	r.active = false
	r.coder.Load(master)
	for _, rd := range r.rdCoders {
		rd.Load(master)
	}
}
