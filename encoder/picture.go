/*
DESCRIPTION
  picture.go provides the in-flight picture representation: original and
  reconstructed 4:2:0 sample planes, the CTU grid, per-row encode
  completion counters, motion reference planes and motion field storage.

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
	"sync/atomic"
)

// Picture is one input picture and its coding state. It is owned by the
// caller and borrowed exclusively by the frame encoder for the duration of
// one CompressFrame call.
type Picture struct {
	POC int

	Width, Height           int
	CTUSize                 int
	WidthInCTU, HeightInCTU int

	// Original 4:2:0 planes.
	Y, Cb, Cr []byte

	// Reconstruction planes, written during encoding and read as a
	// reference by later pictures.
	RecY, RecCb, RecCr []byte

	// Reference lists, resolved by the GOP scheduler.
	RefLists [2][]*Picture

	// Motion reference planes generated per reference before the CTU
	// rows are compressed.
	mrefs [2][]*MotionReference

	// Per-CTU SAO parameters, one set per colour component.
	SAO [3][]SAOParam

	// completeEnc[r] counts the CTUs of row r that have finished the
	// analysis pass. Written by the row's worker, read by its neighbours.
	completeEnc []atomic.Int32

	// Motion field at 4x4 granularity, compressed to 16x16 after the
	// frame completes.
	mvL0, mvL1       []MV
	motionCompressed bool
}

// MV is a motion vector in quarter-pel units.
type MV struct {
	X, Y int16
}

// CTU identifies one coding tree unit of a picture.
type CTU struct {
	Addr     int // raster index
	Col, Row int
	X, Y     int // luma sample position of the top-left corner
	QP       int
}

// NewPicture returns a Picture of the given dimensions with allocated
// planes and a CTU grid of the given size.
func NewPicture(width, height, ctuSize int) *Picture {
	wc := (width + ctuSize - 1) / ctuSize
	hc := (height + ctuSize - 1) / ctuSize
	p := &Picture{
		Width:       width,
		Height:      height,
		CTUSize:     ctuSize,
		WidthInCTU:  wc,
		HeightInCTU: hc,
		Y:           make([]byte, width*height),
		Cb:          make([]byte, width*height/4),
		Cr:          make([]byte, width*height/4),
		RecY:        make([]byte, width*height),
		RecCb:       make([]byte, width*height/4),
		RecCr:       make([]byte, width*height/4),
		completeEnc: make([]atomic.Int32, hc),
		mvL0:        make([]MV, (width/4+1)*(height/4+1)),
		mvL1:        make([]MV, (width/4+1)*(height/4+1)),
	}
	for i := range p.SAO {
		p.SAO[i] = make([]SAOParam, wc*hc)
	}
	return p
}

// CTU returns the coding tree unit at the given grid position.
func (p *Picture) CTU(row, col int) CTU {
	return CTU{
		Addr: row*p.WidthInCTU + col,
		Col:  col,
		Row:  row,
		X:    col * p.CTUSize,
		Y:    row * p.CTUSize,
	}
}

// CompleteEnc returns the number of encoded CTUs in row r.
func (p *Picture) CompleteEnc(r int) int {
	return int(p.completeEnc[r].Load())
}

// resetRows clears the per-row completion counters at frame start.
func (p *Picture) resetRows() {
	for i := range p.completeEnc {
		p.completeEnc[i].Store(0)
	}
	p.motionCompressed = false
}

// MotionReference is a reference picture's reconstruction plane, optionally
// warped by explicit weighted prediction parameters.
type MotionReference struct {
	Ref      *Picture
	Weighted bool
	Plane    []byte
}

// generateMotionReference builds the motion reference plane for ref. When
// wp is non-nil and present, the luma plane is warped by the weight and
// offset so that motion estimation sees the weighted reference.
func generateMotionReference(ref *Picture, wp *WPScalingParam) *MotionReference {
	m := &MotionReference{Ref: ref}
	if wp == nil || !wp.Present {
		m.Plane = ref.RecY
		return m
	}
	m.Weighted = true
	m.Plane = make([]byte, len(ref.RecY))
	round := 1 << (wp.Log2Denom - 1)
	for i, s := range ref.RecY {
		v := (int(wp.Weight)*int(s)+round)>>wp.Log2Denom + int(wp.Offset)
		m.Plane[i] = byte(clip3(0, 255, v))
	}
	return m
}

// CompressMotion reduces the stored motion field from 4x4 to 16x16
// granularity, keeping the top-left vector of each 16x16 block. Reference
// pictures only need the coarse field for temporal prediction.
func (p *Picture) CompressMotion() {
	if p.motionCompressed {
		return
	}
	w := p.Width / 4
	h := p.Height / 4
	for _, mv := range [][]MV{p.mvL0, p.mvL1} {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				mv[y*w+x] = mv[(y&^3)*w+(x&^3)]
			}
		}
	}
	p.motionCompressed = true
}
