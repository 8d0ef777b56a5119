/*
DESCRIPTION
  substream.go provides the final entropy pass: re-coding the decided CTUs
  into per-row substreams, flushing and measuring each substream for the
  slice header's entry points, and assembling the slice NAL unit.

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

	"github.com/pkg/errors"

	"github.com/ausocean/hevc/bits"
	"github.com/ausocean/hevc/cabac"
	"github.com/ausocean/hevc/nal"
)

// ErrStreamOverflow is returned when a substream exceeds the entry point
// offset field's representable size.
var ErrStreamOverflow = errors.New("substream exceeds entry point representation")

// encodeSlice re-encodes the slice from the already-decided CTUs and
// returns the finished slice NAL unit. Bits route into the substream of
// the CTU's row; under wavefront the CABAC contexts synchronise with the
// upper-right CTU at each row start, exactly as the analysis pass did.
func (e *Encoder) encodeSlice(pic *Picture, s *Slice) (*nal.Unit, error) {
	nss := e.NumSubstreams()
	wavefront := e.cfg.Wavefront && nss > 1

	substreams := make([]*bits.Writer, nss)
	subCoders := make([]*cabac.Coder, nss)
	bufferCoders := make([]*cabac.Coder, nss)
	for i := range substreams {
		substreams[i] = bits.NewWriter(e.numCols * 64)
		subCoders[i] = cabac.New(substreams[i])
		subCoders[i].InitSlice(s.Type, s.QP)
		bufferCoders[i] = cabac.NewCounter()
		bufferCoders[i].LoadContexts(subCoders[i])
	}

	total := e.numRows * e.numCols
	for addr := 0; addr < total; addr++ {
		col := addr % e.numCols
		lin := addr / e.numCols
		sub := lin % nss
		coder := subCoders[sub]

		// Synchronise with the upper-right CTU's contexts at the start of
		// a line; if the upper-right CTU is outside the picture there is
		// nothing to synchronise with.
		if wavefront && col == 0 && lin > 0 && e.numCols > 1 {
			coder.LoadContexts(bufferCoders[lin-1])
		}

		ctu := pic.CTU(lin, col)
		ctu.QP = s.QP

		if e.cfg.SAO && (s.SAOEnabled || s.SAOChromaEnabled) {
			e.codeSAOParams(coder, pic, s, ctu)
		}

		e.analyzer.EncodeCTU(pic, s, ctu, coder)

		// Store the probabilities after the second CTU in the line for
		// the line below.
		if wavefront && col == 1 {
			bufferCoders[lin].LoadContexts(coder)
		}

		// end_of_slice_segment_flag for every CTU but a substream's last;
		// the flush codes the terminating one.
		if !(col == e.numCols-1 && (wavefront || lin == e.numRows-1)) {
			coder.EncodeTerminate(0)
		}
	}

	// Flush all substreams, including empty ones: terminating bit, flush
	// and byte alignment, recording the sizes the slice header needs.
	s.SubstreamSizes = s.SubstreamSizes[:0]
	for i, bs := range substreams {
		subCoders[i].EncodeTerminate(1)
		subCoders[i].Finish()
		bs.WriteBit(1)
		bs.WriteAlignZero()
		if i+1 < nss {
			n := int64(bs.Len()) + int64(bs.CountStartCodeEmulations())<<3
			if n > math.MaxUint32 {
				return nil, errors.Wrapf(ErrStreamOverflow, "substream %d", i)
			}
			s.SubstreamSizes = append(s.SubstreamSizes, uint32(n))
		}
	}

	// The slice header is CAVLC coded, then byte-aligned, then the
	// substreams are concatenated behind it.
	hw := bits.NewWriter(64)
	e.writeSliceHeader(hw, s)
	hw.WriteBit(1) // alignment_bit_equal_to_one
	hw.WriteAlignZero()
	for _, bs := range substreams {
		hw.AppendSubstream(bs)
	}

	u := nal.NewUnit(s.NALType, hw.Bytes())
	e.log.Debug("slice coded", "POC", s.POC, "substreams", nss, "bytes", len(u.RBSP))
	return u, nil
}

// codeSAOParams codes the SAO merge flags and, where not merged, the
// offset parameters of every enabled component of one CTU.
func (e *Encoder) codeSAOParams(coder *cabac.Coder, pic *Picture, s *Slice, ctu CTU) {
	p := pic.SAO[0][ctu.Addr]
	allowMergeLeft := ctu.Col > 0
	allowMergeUp := ctu.Row > 0

	mergeLeft := p.MergeLeft
	if allowMergeLeft {
		coder.EncodeBin(b2i(mergeLeft), cabac.OffSAOMergeFlag)
	} else {
		mergeLeft = false
	}
	if mergeLeft {
		return
	}
	mergeUp := p.MergeUp
	if allowMergeUp {
		coder.EncodeBin(b2i(mergeUp), cabac.OffSAOMergeFlag)
	} else {
		mergeUp = false
	}
	if mergeUp {
		return
	}
	for comp := 0; comp < 3; comp++ {
		if comp == 0 && !s.SAOEnabled {
			continue
		}
		if comp > 0 && !s.SAOChromaEnabled {
			continue
		}
		// Cr shares its type with Cb; only the offsets are coded.
		if comp != 2 {
			codeSAOType(coder, pic.SAO[comp][ctu.Addr])
		}
		codeSAOOffsets(coder, pic.SAO[comp][ctu.Addr])
	}
}

func codeSAOType(coder *cabac.Coder, p SAOParam) {
	if p.TypeIdx == SAOTypeOff {
		coder.EncodeBin(0, cabac.OffSAOTypeIdx)
		return
	}
	coder.EncodeBin(1, cabac.OffSAOTypeIdx)
	coder.EncodeBypass(0) // band offset, not edge
}

func codeSAOOffsets(coder *cabac.Coder, p SAOParam) {
	if p.TypeIdx == SAOTypeOff {
		return
	}
	for _, off := range p.Offsets {
		a := off
		if a < 0 {
			a = -a
		}
		// sao_offset_abs, truncated unary with cMax 7.
		for i := 0; i < a; i++ {
			coder.EncodeBypass(1)
		}
		if a < 7 {
			coder.EncodeBypass(0)
		}
	}
	for _, off := range p.Offsets {
		if off > 0 {
			coder.EncodeBypass(0)
		} else if off < 0 {
			coder.EncodeBypass(1)
		}
	}
	coder.EncodeBypassBits(uint32(p.BandPos), 5)
}

// writeSliceHeader writes the slice segment header, including the entry
// point offsets recorded by the final pass.
func (e *Encoder) writeSliceHeader(w *bits.Writer, s *Slice) {
	w.WriteBit(1) // first_slice_segment_in_pic_flag
	if s.NALType.IsIRAP() {
		w.WriteBit(0) // no_output_of_prior_pics_flag
	}
	w.WriteUE(0) // slice_pic_parameter_set_id

	var st uint32
	switch s.Type {
	case SliceB:
		st = 0
	case SliceP:
		st = 1
	default:
		st = 2
	}
	w.WriteUE(st) // slice_type

	idr := s.NALType == nal.TypeIDRWRADL || s.NALType == nal.TypeIDRNLP
	if !idr {
		w.WriteBits(uint32(s.POC)&0xff, 8) // slice_pic_order_cnt_lsb
		w.WriteBit(0)                      // short_term_ref_pic_set_sps_flag
		writeShortTermRPS(w, s)
	}

	if e.cfg.SAO {
		w.WriteBit(uint32(b2i(s.SAOEnabled)))       // slice_sao_luma_flag
		w.WriteBit(uint32(b2i(s.SAOChromaEnabled))) // slice_sao_chroma_flag
	}

	if !s.IsIntra() {
		w.WriteBit(1) // num_ref_idx_active_override_flag
		w.WriteUE(uint32(s.NumRefIdx(0) - 1))
		if s.Type == SliceB {
			w.WriteUE(uint32(s.NumRefIdx(1) - 1))
			w.WriteBit(0) // mvd_l1_zero_flag
		}
		wp := (s.IsInterP() && e.cfg.WeightedPred) ||
			(s.Type == SliceB && e.cfg.WeightedBiPred)
		if wp {
			writePredWeightTable(w, s)
		}
		w.WriteUE(uint32(5 - s.MaxMergeCand)) // five_minus_max_num_merge_cand
	}

	w.WriteSE(int32(s.QP - 26)) // slice_qp_delta

	if e.cfg.Wavefront {
		w.WriteUE(uint32(len(s.SubstreamSizes))) // num_entry_point_offsets
		if len(s.SubstreamSizes) > 0 {
			var maxOff uint32
			for _, n := range s.SubstreamSizes {
				if b := n >> 3; b > maxOff {
					maxOff = b
				}
			}
			offLen := 1
			for uint32(1)<<uint(offLen) <= maxOff {
				offLen++
			}
			w.WriteUE(uint32(offLen - 1)) // offset_len_minus1
			for _, n := range s.SubstreamSizes {
				w.WriteBits(n>>3-1, offLen) // entry_point_offset_minus1
			}
		}
	}
}

// writeShortTermRPS writes the slice's inline short-term reference picture
// set, every reference marked used by the current picture.
func writeShortTermRPS(w *bits.Writer, s *Slice) {
	var neg, pos []*Picture
	for _, ref := range s.RefLists[0] {
		if ref.POC < s.POC {
			neg = append(neg, ref)
		}
	}
	for _, ref := range s.RefLists[1] {
		if ref.POC > s.POC {
			pos = append(pos, ref)
		}
	}
	w.WriteUE(uint32(len(neg))) // num_negative_pics
	w.WriteUE(uint32(len(pos))) // num_positive_pics
	prev := s.POC
	for _, ref := range neg {
		w.WriteUE(uint32(prev - ref.POC - 1)) // delta_poc_s0_minus1
		w.WriteBit(1)                         // used_by_curr_pic_s0_flag
		prev = ref.POC
	}
	prev = s.POC
	for _, ref := range pos {
		w.WriteUE(uint32(ref.POC - prev - 1)) // delta_poc_s1_minus1
		w.WriteBit(1)                         // used_by_curr_pic_s1_flag
		prev = ref.POC
	}
}

// writePredWeightTable writes the explicit weighted prediction table:
// luma weights only, chroma unweighted.
func writePredWeightTable(w *bits.Writer, s *Slice) {
	w.WriteUE(wpLog2Denom) // luma_log2_weight_denom
	w.WriteSE(0)           // delta_chroma_log2_weight_denom
	lists := 1
	if s.Type == SliceB {
		lists = 2
	}
	for l := 0; l < lists; l++ {
		for i := range s.RefLists[l] {
			present := s.UseWP && i < len(s.WPParams[l]) && s.WPParams[l][i].Present
			w.WriteBit(uint32(b2i(present))) // luma_weight_flag
		}
		for range s.RefLists[l] {
			w.WriteBit(0) // chroma_weight_flag
		}
		for i := range s.RefLists[l] {
			if s.UseWP && i < len(s.WPParams[l]) && s.WPParams[l][i].Present {
				p := s.WPParams[l][i]
				w.WriteSE(int32(p.Weight - (1 << wpLog2Denom))) // delta_luma_weight
				w.WriteSE(int32(p.Offset))                      // luma_offset
			}
		}
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
