/*
DESCRIPTION
  bitwriter.go provides a big-endian bit writer used to assemble raw byte
  sequence payloads (RBSP) for HEVC NAL units, including Exp-Golomb coding
  and byte-alignment helpers.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package bits provides a bit-level writer for building HEVC raw byte
// sequence payloads. Bits are written most-significant first, matching the
// bit order of the ITU-T H.265 bitstream syntax.
package bits

import "fmt"

// Writer accumulates bits most-significant first into a growable byte
// slice. The zero value is ready for use.
type Writer struct {
	data   []byte
	bitPos int // number of bits used in the final byte, 0..7
}

// NewWriter returns a Writer with capacity for n bytes.
func NewWriter(n int) *Writer {
	return &Writer{data: make([]byte, 0, n)}
}

// WriteBits writes the n least significant bits of v, most significant
// first. n must be in [0,32].
func (w *Writer) WriteBits(v uint32, n int) {
	if n < 0 || n > 32 {
		panic(fmt.Sprintf("bits: invalid write of %d bits", n))
	}
	for n > 0 {
		if w.bitPos == 0 {
			w.data = append(w.data, 0)
		}
		room := 8 - w.bitPos
		if room > n {
			room = n
		}
		shift := n - room
		b := (v >> uint(shift)) & ((1 << uint(room)) - 1)
		w.data[len(w.data)-1] |= byte(b << uint(8-w.bitPos-room))
		w.bitPos = (w.bitPos + room) % 8
		n -= room
	}
}

// WriteBit writes a single bit.
func (w *Writer) WriteBit(v uint32) {
	w.WriteBits(v&1, 1)
}

// WriteUE writes v as an unsigned Exp-Golomb code (ue(v), section 9.2 of
// the specifications).
func (w *Writer) WriteUE(v uint32) {
	if v == 1<<32-1 {
		panic("bits: ue(v) value out of range")
	}
	v++
	var lead int
	for t := v; t > 1; t >>= 1 {
		lead++
	}
	w.WriteBits(0, lead)
	w.WriteBits(v, lead+1)
}

// WriteSE writes v as a signed Exp-Golomb code (se(v)).
func (w *Writer) WriteSE(v int32) {
	var code uint32
	if v <= 0 {
		code = uint32(-v) * 2
	} else {
		code = uint32(v)*2 - 1
	}
	w.WriteUE(code)
}

// WriteAlignOne writes one bits until the writer is byte-aligned.
func (w *Writer) WriteAlignOne() {
	for w.bitPos != 0 {
		w.WriteBit(1)
	}
}

// WriteAlignZero writes zero bits until the writer is byte-aligned.
func (w *Writer) WriteAlignZero() {
	for w.bitPos != 0 {
		w.WriteBit(0)
	}
}

// WriteRBSPTrailingBits writes the rbsp_stop_one_bit followed by
// rbsp_alignment_zero_bits. The stop bit is always written, even when the
// writer is already aligned.
func (w *Writer) WriteRBSPTrailingBits() {
	w.WriteBit(1)
	w.WriteAlignZero()
}

// WriteBytes appends raw bytes. The writer must be byte-aligned.
func (w *Writer) WriteBytes(p []byte) {
	if w.bitPos != 0 {
		panic("bits: WriteBytes on unaligned writer")
	}
	w.data = append(w.data, p...)
}

// AppendSubstream appends the contents of sub. Both writers must be
// byte-aligned; substreams are concatenated whole when assembling a slice
// from wavefront rows.
func (w *Writer) AppendSubstream(sub *Writer) {
	if w.bitPos != 0 || sub.bitPos != 0 {
		panic("bits: AppendSubstream on unaligned writer")
	}
	w.data = append(w.data, sub.data...)
}

// Len returns the number of bits written.
func (w *Writer) Len() int {
	n := len(w.data) * 8
	if w.bitPos != 0 {
		n -= 8 - w.bitPos
	}
	return n
}

// Aligned reports whether the writer is at a byte boundary.
func (w *Writer) Aligned() bool { return w.bitPos == 0 }

// Bytes returns the written bytes. The final partial byte, if any, is
// included with its unused bits zero.
func (w *Writer) Bytes() []byte { return w.data }

// Reset discards all written bits, retaining the underlying buffer.
func (w *Writer) Reset() {
	w.data = w.data[:0]
	w.bitPos = 0
}

// CountStartCodeEmulations returns the number of emulation prevention bytes
// that conversion of the written payload to EBSP would insert. Entry point
// offsets in the slice header count these bytes.
func (w *Writer) CountStartCodeEmulations() int {
	var n, zeros int
	for _, b := range w.data {
		if zeros >= 2 && b <= 3 {
			n++
			zeros = 0
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return n
}
