/*
DESCRIPTION
  slice.go provides the per-picture slice state and its initialisation:
  hierarchical GOP depth, slice QP, and the luma and chroma rate-distortion
  lambdas derived from it.

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
	"math"
	"sync/atomic"

	"github.com/ausocean/hevc/cabac"
	"github.com/ausocean/hevc/nal"
)

// Slice types, matching the context initialisation sets of the cabac
// package.
const (
	SliceB = cabac.SliceB
	SliceP = cabac.SliceP
	SliceI = cabac.SliceI
)

const (
	maxQP   = 51
	shiftQP = 12
)

// Slice carries the coding state of one picture's single slice segment.
// A fresh Slice is created for every picture handed to CompressFrame.
type Slice struct {
	Type    int
	NALType nal.UnitType
	POC     int
	Depth   int // hierarchical GOP depth

	QP            int
	LambdaLuma    float64
	LambdaChroma  float64
	CbDistWeight  float64
	CrDistWeight  float64
	chromaQPOff   [2]int

	// Deblocking, copied from config at slice init.
	DeblockDisable bool
	BetaOffsetDiv2 int
	TcOffsetDiv2   int

	MaxMergeCand int

	// SAO enable flags, decided after frame-wide SAO estimation.
	SAOEnabled       bool
	SAOChromaEnabled bool

	// Reference lists, resolved by the GOP scheduler before compression.
	RefLists [2][]*Picture

	// Weighted prediction parameters, one per list and reference.
	WPParams [2][]WPScalingParam
	UseWP    bool

	// Per-substream coded sizes in bits, inclusive of emulation
	// prevention bytes, populated by the final coding pass. All but the
	// last substream are recorded; each becomes an entry point offset.
	SubstreamSizes []uint32

	// Rate-control hook: total analysis-pass bits across CTUs.
	TotalBits atomic.Int64
}

// addBits accumulates an analysis-pass bit estimate. Safe for concurrent
// use by row workers.
func (s *Slice) addBits(n int64) { s.TotalBits.Add(n) }

// IsIntra reports whether the slice codes no inter prediction.
func (s *Slice) IsIntra() bool { return s.Type == SliceI }

// IsInterP reports whether the slice is uni-predicted.
func (s *Slice) IsInterP() bool { return s.Type == SliceP }

// NumRefIdx returns the number of active references in list l.
func (s *Slice) NumRefIdx(l int) int { return len(s.RefLists[l]) }

// chromaScale maps a luma-derived chroma QP index to the chroma QP for
// 4:2:0 content, per table 8-10 of the specifications.
var chromaScale = buildChromaScale()

func buildChromaScale() [58]int {
	var t [58]int
	mid := []int{29, 30, 31, 32, 33, 33, 34, 34, 35, 35, 36, 36, 37, 37}
	for i := range t {
		switch {
		case i < 30:
			t[i] = i
		case i < 30+len(mid):
			t[i] = mid[i-30]
		default:
			t[i] = i - 6
		}
	}
	return t
}

// gopDepth computes the hierarchical-B depth of poc within a GOP of the
// given size by binary subdivision: depth 0 for GOP boundaries, increasing
// for each halving step needed to reach the picture's position.
func gopDepth(poc, gopSize int) int {
	p := poc % gopSize
	if p == 0 {
		return 0
	}
	depth := 0
	step := gopSize
	for i := step >> 1; i >= 1; i >>= 1 {
		found := false
		for j := i; j < gopSize; j += step {
			if j == p {
				found = true
				break
			}
		}
		step >>= 1
		depth++
		if found {
			break
		}
	}
	return depth
}

// initSlice builds the slice for pic: slice type, hierarchical depth, QP
// and lambdas. gopID indexes the configured GOP entry; forceI overrides
// the slice type at random access points.
func (e *Encoder) initSlice(pic *Picture, forceI bool, gopID int) *Slice {
	cfg := &e.cfg
	s := &Slice{
		POC:            pic.POC,
		DeblockDisable: !cfg.DeblockingEnabled,
		BetaOffsetDiv2: cfg.BetaOffsetDiv2,
		TcOffsetDiv2:   cfg.TcOffsetDiv2,
		MaxMergeCand:   cfg.MaxMergeCand,
		RefLists:       pic.RefLists,
	}

	entry := cfg.GOP[gopID%len(cfg.GOP)]
	if forceI {
		s.Type = SliceI
		s.NALType = nal.TypeIDRWRADL
	} else {
		s.Type = entry.SliceType
		s.NALType = nal.TypeTrailR
	}

	s.Depth = gopDepth(pic.POC, cfg.GOPSize)

	// QP: the rate controller's base, plus the GOP entry offset for non-I
	// slices, plus any per-POC override.
	qpd := cfg.BaseQP
	if s.Type != SliceI && !(qpd == float64(-cfg.QPBDOffsetY) && cfg.Lossless) {
		qpd += float64(entry.QPOffset)
	}
	// TODO: Remove dQP?
	if cfg.DQPs != nil && pic.POC < len(cfg.DQPs) {
		qpd += float64(cfg.DQPs[pic.POC])
	}

	// Lambda. The scale accounts for the number of B frames in the GOP;
	// hierarchical depth further weights it.
	numBFrames := cfg.GOPSize - 1
	lambdaScale := 1.0 - clipF(0.0, 0.5, 0.05*float64(numBFrames))
	qpTemp := qpd - shiftQP

	qpFactor := entry.QPFactor
	if s.Type == SliceI {
		qpFactor = 0.57 * lambdaScale
	}
	lambda := qpFactor * math.Pow(2.0, qpTemp/3.0)
	if s.Depth > 0 {
		lambda *= clipF(2.0, 4.0, qpTemp/6.0)
	}

	qp := int(math.Floor(qpd + 0.5))
	if qp > maxQP {
		qp = maxQP
	}
	if qp < -cfg.QPBDOffsetY {
		qp = -cfg.QPBDOffsetY
	}

	if s.Type != SliceI {
		lambda *= e.lambdaModifier
	}

	// Chroma weighting. Luma and chroma bits are not separated in RD cost,
	// so chroma distortion is weighted instead.
	weight := 1.0
	for i := range s.chromaQPOff {
		qpc := clip3(0, 57, qp+s.chromaQPOff[i])
		weight = math.Pow(2.0, float64(qp-chromaScale[qpc])/3.0)
		if i == 0 {
			s.CbDistWeight = weight
		} else {
			s.CrDistWeight = weight
		}
	}

	s.QP = qp
	s.LambdaLuma = lambda
	s.LambdaChroma = lambda / weight
	return s
}

func clipF(min, max, v float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clip3(min, max, v int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
