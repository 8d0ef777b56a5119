/*
DESCRIPTION
  headers.go provides emission of the stream-level parameter sets (VPS,
  SPS, PPS) and the informational SEI messages the encoder can be
  configured to send.

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

import "github.com/ausocean/hevc/bits"

// SEI payload types used by the encoder.
const (
	seiRecoveryPoint       = 6
	seiActiveParameterSets = 129
	seiDisplayOrientation  = 47
	seiRegionRefreshInfo   = 134
)

const profileMain = 1

// writePTL writes the profile_tier_level structure for the Main profile.
func (e *Encoder) writePTL(w *bits.Writer) {
	w.WriteBits(0, 2) // general_profile_space
	w.WriteBit(0)     // general_tier_flag
	w.WriteBits(profileMain, 5)
	for i := 0; i < 32; i++ { // general_profile_compatibility_flag
		if i == profileMain {
			w.WriteBit(1)
		} else {
			w.WriteBit(0)
		}
	}
	w.WriteBit(1) // general_progressive_source_flag
	w.WriteBit(0) // general_interlaced_source_flag
	w.WriteBit(0) // general_non_packed_constraint_flag
	w.WriteBit(1) // general_frame_only_constraint_flag
	w.WriteBits(0, 32)
	w.WriteBits(0, 12) // general_reserved_zero_44bits
	w.WriteBits(e.cfg.Level, 8)
}

// writeVPS returns the video parameter set RBSP.
func (e *Encoder) writeVPS() []byte {
	w := bits.NewWriter(64)
	w.WriteBits(0, 4)        // vps_video_parameter_set_id
	w.WriteBit(1)            // vps_base_layer_internal_flag
	w.WriteBit(1)            // vps_base_layer_available_flag
	w.WriteBits(0, 6)        // vps_max_layers_minus1
	w.WriteBits(0, 3)        // vps_max_sub_layers_minus1
	w.WriteBit(1)            // vps_temporal_id_nesting_flag
	w.WriteBits(0xffff, 16)  // vps_reserved_0xffff_16bits
	e.writePTL(w)
	w.WriteBit(0)     // vps_sub_layer_ordering_info_present_flag
	w.WriteUE(4)      // vps_max_dec_pic_buffering_minus1
	w.WriteUE(0)      // vps_max_num_reorder_pics
	w.WriteUE(0)      // vps_max_latency_increase_plus1
	w.WriteBits(0, 6) // vps_max_layer_id
	w.WriteUE(0)      // vps_num_layer_sets_minus1
	w.WriteBit(0)     // vps_timing_info_present_flag
	w.WriteBit(0)     // vps_extension_flag
	w.WriteRBSPTrailingBits()
	return w.Bytes()
}

// writeSPS returns the sequence parameter set RBSP.
func (e *Encoder) writeSPS() []byte {
	cfg := &e.cfg
	w := bits.NewWriter(128)
	w.WriteBits(0, 4) // sps_video_parameter_set_id
	w.WriteBits(0, 3) // sps_max_sub_layers_minus1
	w.WriteBit(1)     // sps_temporal_id_nesting_flag
	e.writePTL(w)
	w.WriteUE(0) // sps_seq_parameter_set_id
	w.WriteUE(1) // chroma_format_idc, 4:2:0
	w.WriteUE(uint32(cfg.Width))
	w.WriteUE(uint32(cfg.Height))
	w.WriteBit(0) // conformance_window_flag
	w.WriteUE(0)  // bit_depth_luma_minus8
	w.WriteUE(0)  // bit_depth_chroma_minus8
	w.WriteUE(4)  // log2_max_pic_order_cnt_lsb_minus4
	w.WriteBit(0) // sps_sub_layer_ordering_info_present_flag
	w.WriteUE(4)  // sps_max_dec_pic_buffering_minus1
	w.WriteUE(0)  // sps_max_num_reorder_pics
	w.WriteUE(0)  // sps_max_latency_increase_plus1

	// CTU geometry: min CB 8, max CB equal to the configured CTU size.
	log2CTU := uint32(0)
	for s := cfg.CTUSize; s > 1; s >>= 1 {
		log2CTU++
	}
	w.WriteUE(0)           // log2_min_luma_coding_block_size_minus3
	w.WriteUE(log2CTU - 3) // log2_diff_max_min_luma_coding_block_size
	w.WriteUE(0)           // log2_min_luma_transform_block_size_minus2
	w.WriteUE(3)           // log2_diff_max_min_luma_transform_block_size
	w.WriteUE(0)           // max_transform_hierarchy_depth_inter
	w.WriteUE(0)           // max_transform_hierarchy_depth_intra
	w.WriteBit(0)          // scaling_list_enabled_flag
	w.WriteBit(0)          // amp_enabled_flag
	if cfg.SAO {
		w.WriteBit(1) // sample_adaptive_offset_enabled_flag
	} else {
		w.WriteBit(0)
	}
	w.WriteBit(0) // pcm_enabled_flag
	w.WriteUE(0)  // num_short_term_ref_pic_sets
	w.WriteBit(0) // long_term_ref_pics_present_flag
	w.WriteBit(0) // sps_temporal_mvp_enabled_flag
	w.WriteBit(1) // strong_intra_smoothing_enabled_flag
	w.WriteBit(0) // vui_parameters_present_flag
	w.WriteBit(0) // sps_extension_present_flag
	w.WriteRBSPTrailingBits()
	return w.Bytes()
}

// writePPS returns the picture parameter set RBSP.
func (e *Encoder) writePPS() []byte {
	cfg := &e.cfg
	w := bits.NewWriter(64)
	w.WriteUE(0)      // pps_pic_parameter_set_id
	w.WriteUE(0)      // pps_seq_parameter_set_id
	w.WriteBit(0)     // dependent_slice_segments_enabled_flag
	w.WriteBit(0)     // output_flag_present_flag
	w.WriteBits(0, 3) // num_extra_slice_header_bits
	w.WriteBit(0)     // sign_data_hiding_enabled_flag
	w.WriteBit(0)     // cabac_init_present_flag
	w.WriteUE(0)      // num_ref_idx_l0_default_active_minus1
	w.WriteUE(0)      // num_ref_idx_l1_default_active_minus1
	w.WriteSE(0)      // init_qp_minus26
	w.WriteBit(0)     // constrained_intra_pred_flag
	w.WriteBit(0)     // transform_skip_enabled_flag
	w.WriteBit(0)     // cu_qp_delta_enabled_flag
	w.WriteSE(0)      // pps_cb_qp_offset
	w.WriteSE(0)      // pps_cr_qp_offset
	w.WriteBit(0)     // pps_slice_chroma_qp_offsets_present_flag
	if cfg.WeightedPred {
		w.WriteBit(1) // weighted_pred_flag
	} else {
		w.WriteBit(0)
	}
	if cfg.WeightedBiPred {
		w.WriteBit(1) // weighted_bipred_flag
	} else {
		w.WriteBit(0)
	}
	w.WriteBit(0) // transquant_bypass_enabled_flag
	w.WriteBit(0) // tiles_enabled_flag
	if cfg.Wavefront {
		w.WriteBit(1) // entropy_coding_sync_enabled_flag
	} else {
		w.WriteBit(0)
	}
	w.WriteBit(1) // pps_loop_filter_across_slices_enabled_flag
	w.WriteBit(0) // deblocking_filter_control_present_flag
	w.WriteBit(0) // pps_scaling_list_data_present_flag
	w.WriteBit(0) // lists_modification_present_flag
	w.WriteUE(0)  // log2_parallel_merge_level_minus2
	w.WriteBit(0) // slice_segment_header_extension_present_flag
	w.WriteBit(0) // pps_extension_present_flag
	w.WriteRBSPTrailingBits()
	return w.Bytes()
}

// writeSEI frames one SEI message of the given payload type and returns
// the SEI NAL RBSP.
func writeSEI(payloadType int, payload func(*bits.Writer)) []byte {
	pw := bits.NewWriter(16)
	payload(pw)
	if !pw.Aligned() {
		// payload_bit_equal_to_one and alignment zeros.
		pw.WriteBit(1)
		pw.WriteAlignZero()
	}
	body := pw.Bytes()

	w := bits.NewWriter(len(body) + 8)
	for t := payloadType; ; t -= 255 {
		if t < 255 {
			w.WriteBits(uint32(t), 8)
			break
		}
		w.WriteBits(0xff, 8)
	}
	for n := len(body); ; n -= 255 {
		if n < 255 {
			w.WriteBits(uint32(n), 8)
			break
		}
		w.WriteBits(0xff, 8)
	}
	w.WriteBytes(body)
	w.WriteRBSPTrailingBits()
	return w.Bytes()
}

// writeActiveParameterSetsSEI returns the active_parameter_sets SEI RBSP.
func (e *Encoder) writeActiveParameterSetsSEI() []byte {
	return writeSEI(seiActiveParameterSets, func(w *bits.Writer) {
		w.WriteBits(0, 4) // active_video_parameter_set_id
		w.WriteBit(0)     // self_contained_cvs_flag
		w.WriteBit(0)     // no_parameter_set_update_flag
		w.WriteUE(0)      // num_sps_ids_minus1
		w.WriteUE(0)      // active_seq_parameter_set_id
	})
}

// writeDisplayOrientationSEI returns the display_orientation SEI RBSP.
func (e *Encoder) writeDisplayOrientationSEI() []byte {
	return writeSEI(seiDisplayOrientation, func(w *bits.Writer) {
		w.WriteBit(0) // display_orientation_cancel_flag
		w.WriteBit(0) // hor_flip
		w.WriteBit(0) // ver_flip
		w.WriteBits(uint32(e.cfg.DisplayOrientationSEIAngle), 16)
		w.WriteUE(0)  // display_orientation_repetition_period
		w.WriteBit(0) // display_orientation_persistence_flag
	})
}

// writeRecoveryPointSEI returns the recovery_point SEI RBSP. exact is
// whether decoded pictures at the recovery point match the encoder's
// reconstruction exactly.
func (e *Encoder) writeRecoveryPointSEI(exact bool) []byte {
	return writeSEI(seiRecoveryPoint, func(w *bits.Writer) {
		w.WriteSE(0) // recovery_poc_cnt
		if exact {
			w.WriteBit(1) // exact_match_flag
		} else {
			w.WriteBit(0)
		}
		w.WriteBit(0) // broken_link_flag
	})
}

// writeRegionRefreshSEI returns the region_refresh_info SEI RBSP used for
// gradual decoding refresh; all regions are marked foreground.
func (e *Encoder) writeRegionRefreshSEI() []byte {
	return writeSEI(seiRegionRefreshInfo, func(w *bits.Writer) {
		w.WriteBit(1) // refreshed_region_flag
	})
}
