/*
DESCRIPTION
  analyzer.go provides the interface to the CTU-level encoder: the
  analysis-pass operation that decides modes and reconstructs one CTU, and
  the final-pass operation that re-codes the decided CTU into the slice
  bitstream.

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

import "github.com/ausocean/hevc/cabac"

// Analyzer is the CTU-level encoder. Analyze performs rate-distortion
// optimisation and reconstruction of one CTU, advancing coder's context
// models as the chosen symbols are counted; rd supplies per-depth scratch
// coders for candidate costing. EncodeCTU codes the already-decided CTU
// with the supplied coder in the final entropy pass; it must emit exactly
// the symbols whose contexts Analyze advanced.
//
// Analyze is called concurrently for CTUs of different rows, never for two
// CTUs of the same row. Implementations may write only the picture rows
// they are handed.
type Analyzer interface {
	Analyze(p *Picture, s *Slice, ctu CTU, coder *cabac.Coder, rd []*cabac.Coder) int64
	EncodeCTU(p *Picture, s *Slice, ctu CTU, coder *cabac.Coder)
}

// NullAnalyzer is a stand-in CTU encoder: it copies source samples into
// the reconstruction unchanged and codes a minimal unsplit quadtree per
// CTU. It exercises the full row pipeline and entropy machinery with
// deterministic output and is used by the pipeline tests and the hevcenc
// measurement harness.
type NullAnalyzer struct{}

// Analyze copies the CTU's source samples to the reconstruction plane and
// counts the minimal CTU symbols.
func (NullAnalyzer) Analyze(p *Picture, s *Slice, ctu CTU, coder *cabac.Coder, rd []*cabac.Coder) int64 {
	x1 := min(ctu.X+p.CTUSize, p.Width)
	y1 := min(ctu.Y+p.CTUSize, p.Height)
	for y := ctu.Y; y < y1; y++ {
		copy(p.RecY[y*p.Width+ctu.X:y*p.Width+x1], p.Y[y*p.Width+ctu.X:y*p.Width+x1])
	}
	cw := p.Width / 2
	for y := ctu.Y / 2; y < (y1+1)/2; y++ {
		copy(p.RecCb[y*cw+ctu.X/2:y*cw+x1/2], p.Cb[y*cw+ctu.X/2:y*cw+x1/2])
		copy(p.RecCr[y*cw+ctu.X/2:y*cw+x1/2], p.Cr[y*cw+ctu.X/2:y*cw+x1/2])
	}
	before := rd[0].FracBits()
	rd[0].EncodeBin(0, cabac.OffSplitCU)
	coder.EncodeBin(0, cabac.OffSplitCU)
	return int64((rd[0].FracBits() - before) >> 15)
}

// EncodeCTU codes the minimal unsplit quadtree decided by Analyze.
func (NullAnalyzer) EncodeCTU(p *Picture, s *Slice, ctu CTU, coder *cabac.Coder) {
	coder.EncodeBin(0, cabac.OffSplitCU)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
