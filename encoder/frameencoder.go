/*
DESCRIPTION
  frameencoder.go provides the frame encoder: per-picture orchestration of
  slice initialisation, the wavefront analysis pass over CTU rows, the
  trailing loop filter, SAO parameter estimation, the final entropy pass
  and NAL unit emission.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package encoder provides the per-frame core of an HEVC encoder: it turns
// one scheduled input picture into that picture's NAL units, compressing
// CTU rows in a wavefront pattern when parallel processing is enabled,
// with the in-loop filters running as a second wavefront behind the CU
// compression and reconstruction.
package encoder

import (
	"github.com/ausocean/hevc/cabac"
	"github.com/ausocean/hevc/nal"
	"github.com/ausocean/utils/logging"
)

const adaptSRScale = 1

// Encoder compresses pictures one at a time. Construct with New; row
// state outlives individual frames and is reset at each frame start.
type Encoder struct {
	cfg Config
	log logging.Logger

	analyzer Analyzer

	numRows, numCols int
	rowDelay         int

	rows   []*ctuRow
	wf     *wavefront
	filter *frameFilter

	// masterCoder carries the slice-initial entropy state loaded into
	// each row at frame start.
	masterCoder *cabac.Coder

	// Per-frame state, scoped to one CompressFrame call.
	pic      *Picture
	slice    *Slice
	complete chan struct{}

	// Adaptive per-reference search ranges, list by reference index.
	searchRanges [2][]int

	lambdaModifier float64
	prevWP         [2][]WPScalingParam
	curACDC        acdc

	accessUnit nal.AccessUnit
}

// Option configures an Encoder beyond its Config.
type Option func(*Encoder) error

// WithDeblock supplies the deblocking kernel invoked by the loop-filter
// pipeline on each completed row.
func WithDeblock(f RowFilter) Option {
	return func(e *Encoder) error {
		e.filter.deblock = f
		return nil
	}
}

// WithSAOApply supplies the SAO reconstruction kernel invoked by the
// loop-filter pipeline after deblocking.
func WithSAOApply(f RowFilter) Option {
	return func(e *Encoder) error {
		e.filter.saoApply = f
		return nil
	}
}

// WithLambdaModifier scales the lambda of non-I slices, in the manner of a
// temporal-layer rate adjustment.
func WithLambdaModifier(m float64) Option {
	return func(e *Encoder) error {
		e.lambdaModifier = m
		return nil
	}
}

// New returns an Encoder for cfg using a as the CTU-level encoder. cfg is
// validated, defaulting unset fields.
func New(cfg Config, a Analyzer, opts ...Option) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{
		cfg:            cfg,
		log:            cfg.Logger,
		analyzer:       a,
		numRows:        cfg.heightInCTU(),
		numCols:        cfg.widthInCTU(),
		masterCoder:    cabac.NewCounter(),
		lambdaModifier: 1.0,
	}

	// SAO LCU-boundary optimisation needs the row below's CTUs
	// reconstructed before filtering, so the filter trails further.
	e.rowDelay = 1
	if cfg.SAO && cfg.SAOLCUBoundary {
		e.rowDelay = 2
	}

	for i := 0; i < e.numRows; i++ {
		e.rows = append(e.rows, newCTURow())
	}

	if cfg.Wavefront {
		wf, err := newWavefront(e.numRows, cfg.Threads, e.log, e.processRow)
		if err != nil {
			// Fall back to the sequential path rather than refuse the
			// stream.
			e.log.Error("unable to initialise wavefront job queue, using single thread", "error", err.Error())
			e.cfg.Wavefront = false
		} else {
			e.wf = wf
		}
	}
	e.filter = newFrameFilter(e.numRows, e.rowDelay, e.log, nil, nil)

	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// NumSubstreams returns the number of entropy substreams the final pass
// produces: one per CTU row under wavefront, else one.
func (e *Encoder) NumSubstreams() int {
	if e.cfg.Wavefront {
		return e.numRows
	}
	return 1
}

// StreamHeaders returns the access unit emitted at stream start: VPS, SPS
// and PPS, followed by the configured informational SEI messages.
func (e *Encoder) StreamHeaders() (nal.AccessUnit, error) {
	var au nal.AccessUnit
	au = append(au,
		nal.NewUnit(nal.TypeVPS, e.writeVPS()),
		nal.NewUnit(nal.TypeSPS, e.writeSPS()),
		nal.NewUnit(nal.TypePPS, e.writePPS()),
	)
	if e.cfg.ActiveParameterSetsSEI {
		au = append(au, nal.NewUnit(nal.TypePrefixSEI, e.writeActiveParameterSetsSEI()))
	}
	if e.cfg.DisplayOrientationSEIAngle != 0 {
		au = append(au, nal.NewUnit(nal.TypePrefixSEI, e.writeDisplayOrientationSEI()))
	}
	e.log.Debug("stream headers emitted", "units", len(au))
	return au, nil
}

// CompressFrame compresses pic into the encoder's pending access unit.
// The picture's reference lists must be resolved; forceI overrides the
// GOP entry's slice type and gopID selects the GOP entry. The caller
// collects the output with EncodedPicture.
func (e *Encoder) CompressFrame(pic *Picture, forceI bool, gopID int) error {
	e.pic = pic
	e.slice = e.initSlice(pic, forceI, gopID)
	s := e.slice
	e.log.Debug("slice initialised", "POC", pic.POC, "type", s.Type, "QP", s.QP, "depth", s.Depth)

	// Effective search range per reference scales with POC distance.
	if e.cfg.AdaptiveSearchRange && !s.IsIntra() {
		numPredDir := 2
		if s.IsInterP() {
			numPredDir = 1
		}
		for dir := 0; dir < numPredDir; dir++ {
			e.searchRanges[dir] = e.searchRanges[dir][:0]
			for _, ref := range s.RefLists[dir] {
				maxSR := e.cfg.SearchRange
				d := pic.POC - ref.POC
				if d < 0 {
					d = -d
				}
				sr := clip3(8, maxSR, (maxSR*adaptSRScale*d+4)>>3)
				e.searchRanges[dir] = append(e.searchRanges[dir], sr)
			}
		}
	}

	// Weighted prediction parameter estimation.
	e.storeWPParams(s)
	wpExplicit := (s.IsInterP() && e.cfg.WeightedPred) ||
		(s.Type == SliceB && e.cfg.WeightedBiPred)
	if wpExplicit {
		e.calcACDCParams(s)
		e.estimateWPParams(s)
		e.checkWPEnable(s)
	}

	// Generate motion references, warped by WP when in use.
	if !s.IsIntra() {
		numPredDir := 2
		if s.IsInterP() {
			numPredDir = 1
		}
		for l := 0; l < numPredDir; l++ {
			pic.mrefs[l] = pic.mrefs[l][:0]
			for ref := range s.RefLists[l] {
				var w *WPScalingParam
				if s.IsInterP() && e.cfg.WeightedPred && s.UseWP {
					w = &s.WPParams[l][ref]
				}
				pic.mrefs[l] = append(pic.mrefs[l], generateMotionReference(s.RefLists[l][ref], w))
			}
		}
	}

	// Analyse CTU rows; most of the hard work is done here. The frame is
	// compressed in a wavefront pattern if WPP is enabled, with the loop
	// filter running as a wavefront behind the CU compression.
	e.compressCTURows()

	// Wait for loop filter completion.
	if e.cfg.DeblockingEnabled || e.cfg.SAO {
		e.filter.wait()
		e.filter.dequeue()
	}

	e.restoreWPParams(s)

	if e.cfg.RecoveryPointSEI && s.IsIntra() {
		if e.cfg.GradualDecodingRefreshSEI && !s.NALType.IsIRAP() {
			e.accessUnit = append(e.accessUnit,
				nal.NewUnit(nal.TypePrefixSEI, e.writeRegionRefreshSEI()))
		}
		e.accessUnit = append(e.accessUnit,
			nal.NewUnit(nal.TypePrefixSEI, e.writeRecoveryPointSEI(pic.POC == 0)))
	}

	// Frame-wide SAO decision from the reconstructed picture.
	if e.cfg.SAO {
		e.estimateSAO(pic, s)
	}

	// Final pass: re-encode the decided slice into per-row substreams and
	// publish the slice NAL unit.
	unit, err := e.encodeSlice(pic, s)
	if err != nil {
		return err
	}
	e.accessUnit = append(e.accessUnit, unit)

	if e.cfg.SAO {
		e.filter.end()
	}
	pic.CompressMotion()
	e.log.Debug("frame compressed", "POC", pic.POC, "NALs", len(e.accessUnit))
	return nil
}

// EncodedPicture returns the just-compressed picture and appends its NAL
// units to au. It returns a nil picture when no frame is pending.
func (e *Encoder) EncodedPicture(au nal.AccessUnit) (*Picture, nal.AccessUnit) {
	if e.pic == nil {
		return nil, au
	}
	pic := e.pic
	e.pic = nil
	au = append(au, e.accessUnit...)
	e.accessUnit = e.accessUnit[:0]
	return pic, au
}

// SearchRange returns the motion search range for a reference of the
// current slice, adapted to POC distance when adaptive search range is
// enabled. The CTU analyzer consults this during motion estimation.
func (e *Encoder) SearchRange(list, ref int) int {
	if !e.cfg.AdaptiveSearchRange || list >= len(e.searchRanges) || ref >= len(e.searchRanges[list]) {
		return e.cfg.SearchRange
	}
	return e.searchRanges[list][ref]
}

// compressCTURows resets the per-row entropy state and drives the
// analysis pass over all CTU rows, in a wavefront when enabled and
// sequentially otherwise.
func (e *Encoder) compressCTURows() {
	s := e.slice

	e.masterCoder.InitSlice(s.Type, s.QP)
	for _, r := range e.rows {
		r.init(e.masterCoder)
	}
	e.pic.resetRows()

	filterOn := e.cfg.DeblockingEnabled || e.cfg.SAO
	if e.wf != nil && e.cfg.Wavefront {
		e.complete = make(chan struct{})
		e.wf.enqueue()
		if filterOn {
			e.filter.start(e.pic)
		}

		// Enqueue the first row, then block until workers complete the
		// frame.
		e.rows[0].active = true
		e.wf.enqueueRow(0)
		<-e.complete
		e.wf.dequeue()
		return
	}

	e.complete = nil
	for i := 0; i < e.numRows; i++ {
		e.processRow(i)
	}
	if filterOn {
		e.filter.start(e.pic)
		e.filter.enqueueRow(e.numRows - 1)
	}
}

// processRow encodes the remaining CTUs of one row. Called by wavefront
// workers, and directly in the sequential fallback. A worker returns early
// when the row above stalls it or a higher priority row becomes ready; the
// row is re-enqueued by the worker that completes the blocking CTU.
func (e *Encoder) processRow(row int) {
	curRow := e.rows[row]
	codeRow := e.rows[0]
	if e.cfg.Wavefront {
		codeRow = e.rows[row]
	}
	wavefront := e.cfg.Wavefront && e.wf != nil

	for col := e.pic.CompleteEnc(row); col < e.numCols; col++ {
		ctu := e.pic.CTU(row, col)
		ctu.QP = e.slice.QP

		// Synchronise with the upper-right CTU's contexts at the start of
		// a row.
		if wavefront && col == 0 && row > 0 {
			codeRow.coder.LoadContexts(e.rows[row-1].bufferCoder)
		}

		bits := e.analyzer.Analyze(e.pic, e.slice, ctu, codeRow.coder, curRow.rdCoders)
		e.slice.addBits(bits)

		// Publish this row's contexts for the row below once the second
		// CTU is done.
		if wavefront && col == 1 {
			curRow.bufferCoder.LoadContexts(codeRow.coder)
		}

		e.pic.completeEnc[row].Add(1)

		// Promotion: wake the row below once it has two CTUs of headroom.
		if wavefront && e.pic.CompleteEnc(row) >= 2 && row < e.numRows-1 {
			below := e.rows[row+1]
			below.lock.Lock()
			if !below.active && e.pic.CompleteEnc(row+1)+2 <= e.pic.CompleteEnc(row) {
				below.active = true
				e.wf.enqueueRow(row + 1)
			}
			below.lock.Unlock()
		}

		if !wavefront {
			continue
		}
		curRow.lock.Lock()
		if row > 0 && e.pic.CompleteEnc(row) < e.numCols-1 &&
			e.pic.CompleteEnc(row-1) < e.pic.CompleteEnc(row)+2 {
			curRow.active = false
			curRow.lock.Unlock()
			return
		}
		if e.wf.higherPriorityRow(row) {
			curRow.active = false
			curRow.lock.Unlock()
			return
		}
		curRow.lock.Unlock()
	}

	// Row finished: release the lagging loop-filter rows it unblocks.
	if e.cfg.DeblockingEnabled || e.cfg.SAO {
		if row >= e.rowDelay {
			e.filter.enqueueRow(row - e.rowDelay)
		}
		if row == e.numRows-1 {
			e.filter.enqueueRow(row)
		}
	}
	if row == e.numRows-1 && e.complete != nil {
		close(e.complete)
	}
}
