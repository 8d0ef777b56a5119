/*
DESCRIPTION
  cabac.go provides a context-adaptive binary arithmetic coder for HEVC
  slice data, with value-typed context snapshots used for wavefront
  synchronisation between coding tree unit rows, and a counting mode used
  during rate-distortion optimisation.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package cabac provides context-adaptive binary arithmetic coding of HEVC
// slice data as specified by section 9.3 of the ITU-T H.265
// specifications.
package cabac

import "github.com/ausocean/hevc/bits"

// Slice types, used to select the context initialisation set.
const (
	SliceB = iota
	SliceP
	SliceI
)

// Context is one binary probability model: a 6-bit state and the value of
// the most probable symbol. Contexts are plain values so that snapshots
// taken for the row below in a wavefront are deep copies.
type Context struct {
	State uint8
	MPS   uint8
}

// Coder is an HEVC binary arithmetic coder. It writes coded bytes to an
// attached bits.Writer, or counts fractional bits when constructed with
// NewCounter.
type Coder struct {
	low         uint32
	rng         uint32
	bitsLeft    int
	buffered    int // pending byte awaiting carry resolution
	numBuffered int // pending bytes including buffered and any 0xff run

	counting bool
	fracBits uint64 // accumulated cost in 1/32768 bit units

	bs  *bits.Writer
	ctx [NumContexts]Context
}

// New returns a Coder writing to bs.
func New(bs *bits.Writer) *Coder {
	c := &Coder{bs: bs}
	c.Reset()
	return c
}

// NewCounter returns a Coder that accumulates fractional bit costs instead
// of producing output. Used for the rate term of RDO decisions.
func NewCounter() *Coder {
	c := &Coder{counting: true}
	c.Reset()
	return c
}

// SetBitstream attaches bs as the coder's output. The arithmetic engine
// state is unchanged; substream routing in the final coding pass switches
// bitstreams per coding tree unit row.
func (c *Coder) SetBitstream(bs *bits.Writer) { c.bs = bs }

// Reset restores the arithmetic engine to its start-of-slice state. The
// context models are untouched; use InitSlice for those.
func (c *Coder) Reset() {
	c.low = 0
	c.rng = 510
	c.bitsLeft = 23
	c.buffered = 0xff
	c.numBuffered = 0
	c.fracBits = 0
}

// InitSlice initialises all context models for the given slice type and
// QP, per section 9.3.2.2, and resets the arithmetic engine.
func (c *Coder) InitSlice(sliceType, qp int) {
	initIdx := 0
	switch sliceType {
	case SliceI:
		initIdx = 0
	case SliceP:
		initIdx = 1
	case SliceB:
		initIdx = 2
	}
	for i := range c.ctx {
		iv := uint8(neutralInit)
		if ivs, ok := ctxInit[i]; ok {
			iv = ivs[initIdx]
		}
		c.ctx[i] = initState(iv, qp)
	}
	c.Reset()
}

// Load deep-copies the whole coder state, engine and contexts, from src.
func (c *Coder) Load(src *Coder) {
	bs, counting := c.bs, c.counting
	*c = *src
	c.bs, c.counting = bs, counting
}

// LoadContexts copies only the context models from src, leaving the
// arithmetic engine alone. This is the wavefront synchronisation point: row
// r+1 loads the contexts row r published after its second CTU.
func (c *Coder) LoadContexts(src *Coder) {
	c.ctx = src.ctx
}

// Contexts returns a value copy of the context models.
func (c *Coder) Contexts() [NumContexts]Context { return c.ctx }

// EncodeBin codes bin with the context model at ctxIdx.
func (c *Coder) EncodeBin(bin int, ctxIdx int) {
	ctx := &c.ctx[ctxIdx]
	if c.counting {
		isLPS := 0
		if uint8(bin) != ctx.MPS {
			isLPS = 1
		}
		c.fracBits += uint64(entropyBits[int(ctx.State)<<1|isLPS])
		if uint8(bin) != ctx.MPS {
			if ctx.State == 0 {
				ctx.MPS ^= 1
			}
			ctx.State = transIdxLPS[ctx.State]
		} else {
			ctx.State = transIdxMPS[ctx.State]
		}
		return
	}

	lps := uint32(rangeTabLPS[ctx.State][(c.rng>>6)&3])
	c.rng -= lps
	if uint8(bin) != ctx.MPS {
		shift := int(renormTable[lps>>3])
		c.low = (c.low + c.rng) << uint(shift)
		c.rng = lps << uint(shift)
		if ctx.State == 0 {
			ctx.MPS ^= 1
		}
		ctx.State = transIdxLPS[ctx.State]
		c.bitsLeft -= shift
		c.testAndWriteOut()
		return
	}
	ctx.State = transIdxMPS[ctx.State]
	if c.rng < 256 {
		c.low <<= 1
		c.rng <<= 1
		c.bitsLeft--
		c.testAndWriteOut()
	}
}

// EncodeBypass codes bin with the equiprobable model.
func (c *Coder) EncodeBypass(bin int) {
	if c.counting {
		c.fracBits += 32768
		return
	}
	c.low <<= 1
	if bin != 0 {
		c.low += c.rng
	}
	c.bitsLeft--
	c.testAndWriteOut()
}

// EncodeBypassBits bypass-codes the n least significant bits of v, most
// significant first.
func (c *Coder) EncodeBypassBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		c.EncodeBypass(int(v>>uint(i)) & 1)
	}
}

// EncodeTerminate codes the end_of_slice_segment_flag or the terminate bin
// preceding PCM data. bin is 1 at the end of a substream.
func (c *Coder) EncodeTerminate(bin int) {
	if c.counting {
		c.fracBits += 32768
		return
	}
	c.rng -= 2
	if bin != 0 {
		c.low += c.rng
		c.low <<= 7
		c.rng = 2 << 7
		c.bitsLeft -= 7
		c.testAndWriteOut()
		return
	}
	if c.rng < 256 {
		c.low <<= 1
		c.rng <<= 1
		c.bitsLeft--
		c.testAndWriteOut()
	}
}

// Finish flushes the arithmetic engine to the attached bitstream. Called
// once per substream after the terminating bin.
func (c *Coder) Finish() {
	if c.counting {
		return
	}
	if c.low>>uint(32-c.bitsLeft) != 0 {
		c.bs.WriteBits(uint32(c.buffered)+1, 8)
		for ; c.numBuffered > 1; c.numBuffered-- {
			c.bs.WriteBits(0x00, 8)
		}
		c.low -= 1 << uint(32-c.bitsLeft)
	} else {
		if c.numBuffered > 0 {
			c.bs.WriteBits(uint32(c.buffered), 8)
		}
		for ; c.numBuffered > 1; c.numBuffered-- {
			c.bs.WriteBits(0xff, 8)
		}
	}
	c.bs.WriteBits(c.low>>8, 24-c.bitsLeft)
	c.buffered = 0xff
	c.numBuffered = 0
}

// FracBits returns the accumulated fractional bit cost of a counting
// coder, in 1/32768 bit units.
func (c *Coder) FracBits() uint64 { return c.fracBits }

func (c *Coder) testAndWriteOut() {
	if c.bitsLeft < 12 {
		c.writeOut()
	}
}

func (c *Coder) writeOut() {
	lead := c.low >> uint(24-c.bitsLeft)
	c.bitsLeft += 8
	c.low &= 0xffffffff >> uint(c.bitsLeft)

	if lead == 0xff {
		c.numBuffered++
		return
	}
	if c.numBuffered > 0 {
		carry := lead >> 8
		c.bs.WriteBits(uint32(c.buffered)+carry, 8)
		for ; c.numBuffered > 1; c.numBuffered-- {
			c.bs.WriteBits((0xff+carry)&0xff, 8)
		}
	} else {
		c.numBuffered = 1
	}
	c.buffered = int(lead & 0xff)
}
