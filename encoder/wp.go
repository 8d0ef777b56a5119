/*
DESCRIPTION
  wp.go provides explicit weighted-prediction parameter estimation: AC/DC
  sample statistics for the current picture and its references, per
  reference weight and offset estimates, and the profitability check that
  disables weighting when it cannot help.

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
	"gonum.org/v1/gonum/stat"
)

// wpLog2Denom is the weight denominator used for explicit weighting: a
// weight of 1<<wpLog2Denom leaves the reference unscaled.
const wpLog2Denom = 6

// WPScalingParam is one reference's explicit weighted-prediction
// parameters.
type WPScalingParam struct {
	Present   bool
	Log2Denom int
	Weight    int
	Offset    int
}

// acdc is a picture's luma sample statistics: the DC (mean) and AC (mean
// absolute deviation from DC) values.
type acdc struct {
	dc, ac float64
}

// lumaACDC computes the AC/DC statistics of p's source luma plane.
func lumaACDC(p *Picture) acdc {
	samples := make([]float64, len(p.Y))
	for i, s := range p.Y {
		samples[i] = float64(s)
	}
	dc := stat.Mean(samples, nil)
	for i := range samples {
		samples[i] -= dc
		if samples[i] < 0 {
			samples[i] = -samples[i]
		}
	}
	return acdc{dc: dc, ac: stat.Mean(samples, nil)}
}

// storeWPParams remembers the current weighted-prediction parameters so
// CompressFrame can restore them after the slice is emitted.
func (e *Encoder) storeWPParams(s *Slice) {
	for l := range e.prevWP {
		e.prevWP[l] = append(e.prevWP[l][:0], s.WPParams[l]...)
	}
}

// restoreWPParams restores the parameters saved by storeWPParams.
func (e *Encoder) restoreWPParams(s *Slice) {
	for l := range e.prevWP {
		s.WPParams[l] = append(s.WPParams[l][:0], e.prevWP[l]...)
	}
}

// calcACDCParams computes the current picture's statistics and caches
// them on the encoder for estimation.
func (e *Encoder) calcACDCParams(s *Slice) {
	e.curACDC = lumaACDC(e.pic)
}

// estimateWPParams estimates a weight and offset per reference from the
// ratio of AC energies and the difference of DC levels.
func (e *Encoder) estimateWPParams(s *Slice) {
	cur := e.curACDC
	for l := range s.RefLists {
		s.WPParams[l] = s.WPParams[l][:0]
		for _, ref := range s.RefLists[l] {
			r := lumaACDC(ref)
			w := 1 << wpLog2Denom
			if r.ac > 0 {
				w = int(float64(int(1)<<wpLog2Denom)*cur.ac/r.ac + 0.5)
			}
			w = clip3(-128, 127, w)
			o := clip3(-128, 127, int(cur.dc-float64(w)*r.dc/float64(int(1)<<wpLog2Denom)+0.5))
			p := WPScalingParam{
				Present:   w != 1<<wpLog2Denom || o != 0,
				Log2Denom: wpLog2Denom,
				Weight:    w,
				Offset:    o,
			}
			s.WPParams[l] = append(s.WPParams[l], p)
		}
	}
	s.UseWP = true
}

// checkWPEnable disables weighted prediction for the slice when every
// estimated weight is within one denominator step of unity and every
// offset is zero; coding the table would cost bits for no gain.
func (e *Encoder) checkWPEnable(s *Slice) {
	for l := range s.WPParams {
		for _, p := range s.WPParams[l] {
			d := p.Weight - 1<<wpLog2Denom
			if d < 0 {
				d = -d
			}
			if d > 1 || p.Offset != 0 {
				return
			}
		}
	}
	s.UseWP = false
	for l := range s.WPParams {
		for i := range s.WPParams[l] {
			s.WPParams[l][i].Present = false
		}
	}
	e.log.Debug("weighted prediction disabled, estimated weights trivial", "POC", s.POC)
}
