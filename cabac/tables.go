/*
DESCRIPTION
  tables.go provides the probability state transition, LPS range and context
  initialisation tables for HEVC context-adaptive binary arithmetic coding,
  as given by tables 9-45 to 9-48 of the specifications.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package cabac

import "math"

// transIdxMPS gives the next probability state after coding the most
// probable symbol (table 9-45).
var transIdxMPS = [64]uint8{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44, 45, 46, 47, 48,
	49, 50, 51, 52, 53, 54, 55, 56, 57, 58, 59, 60, 61, 62, 62, 63,
}

// transIdxLPS gives the next probability state after coding the least
// probable symbol.
var transIdxLPS = [64]uint8{
	0, 0, 1, 2, 2, 4, 4, 5, 6, 7, 8, 9, 9, 11, 11, 12,
	13, 13, 15, 15, 16, 16, 18, 18, 19, 19, 21, 21, 22, 22, 23, 24,
	24, 25, 26, 26, 27, 27, 28, 29, 29, 30, 30, 30, 31, 32, 32, 33,
	33, 33, 34, 34, 35, 35, 35, 36, 36, 36, 37, 37, 37, 38, 38, 63,
}

// renormTable gives the number of renormalisation shifts for an LPS range,
// indexed by range>>3.
var renormTable = [32]uint8{
	6, 5, 4, 4, 3, 3, 3, 3, 2, 2, 2, 2, 2, 2, 2, 2,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
}

// rangeTabLPS gives the LPS subinterval range, indexed by probability state
// and the two range quantisation bits (table 9-46).
var rangeTabLPS = [64][4]uint16{
	{128, 176, 208, 240}, {128, 167, 197, 227}, {128, 158, 187, 216}, {123, 150, 178, 205},
	{116, 142, 169, 195}, {111, 135, 160, 185}, {105, 128, 152, 175}, {100, 122, 144, 166},
	{95, 116, 137, 158}, {90, 110, 130, 150}, {85, 104, 123, 142}, {81, 99, 117, 135},
	{77, 94, 111, 128}, {73, 89, 105, 122}, {69, 85, 100, 116}, {66, 80, 95, 110},
	{62, 76, 90, 104}, {59, 72, 86, 99}, {56, 69, 81, 94}, {53, 65, 77, 89},
	{51, 62, 73, 85}, {48, 59, 69, 80}, {46, 56, 66, 76}, {43, 53, 63, 72},
	{41, 50, 59, 69}, {39, 48, 56, 65}, {37, 45, 54, 62}, {35, 43, 51, 59},
	{33, 41, 48, 56}, {32, 39, 46, 53}, {30, 37, 43, 50}, {29, 35, 41, 48},
	{27, 33, 39, 45}, {26, 31, 37, 43}, {24, 30, 35, 41}, {23, 28, 33, 39},
	{22, 27, 32, 37}, {21, 26, 30, 35}, {20, 24, 29, 33}, {19, 23, 27, 31},
	{18, 22, 26, 30}, {17, 21, 25, 28}, {16, 20, 23, 27}, {15, 19, 22, 25},
	{14, 18, 21, 24}, {14, 17, 20, 23}, {13, 16, 19, 22}, {12, 15, 18, 21},
	{12, 14, 17, 20}, {11, 14, 16, 19}, {11, 13, 15, 18}, {10, 12, 15, 17},
	{10, 12, 14, 16}, {9, 11, 13, 15}, {9, 11, 12, 14}, {8, 10, 12, 14},
	{8, 9, 11, 13}, {7, 9, 11, 12}, {7, 9, 10, 12}, {7, 8, 10, 11},
	{6, 8, 9, 11}, {6, 7, 9, 10}, {6, 7, 8, 9}, {2, 2, 2, 2},
}

// Context model offsets for the syntax elements the frame core codes
// itself. The CTU analyzer owns the remaining coding-unit and transform
// contexts; it addresses them relative to OffCTU.
const (
	OffSAOMergeFlag = 0 // sao_merge_left_flag and sao_merge_up_flag
	OffSAOTypeIdx   = 1 // sao_type_idx_luma and sao_type_idx_chroma
	OffSplitCU      = 2 // split_cu_flag, 3 contexts
	OffSkipFlag     = 5 // cu_skip_flag, 3 contexts
	OffCTU          = 8 // first context owned by the CTU analyzer

	// NumContexts covers the full model set. The frame core addresses only
	// the offsets above; the rest follow the default initialisation.
	NumContexts = 154
)

// neutralInit is the init value giving an equiprobable context at any QP.
const neutralInit = 154

// ctxInit gives per-slice-type initialisation values (table 9-48 layout:
// index 0 for I slices, 1 for P, 2 for B) for the contexts owned by the
// frame core. Contexts not listed initialise from neutralInit.
var ctxInit = map[int][3]uint8{
	OffSAOMergeFlag: {153, 153, 153},
	OffSAOTypeIdx:   {200, 185, 160},
	OffSplitCU:      {139, 107, 107},
	OffSplitCU + 1:  {141, 139, 139},
	OffSplitCU + 2:  {157, 126, 126},
	OffSkipFlag:     {neutralInit, 197, 197},
	OffSkipFlag + 1: {neutralInit, 185, 185},
	OffSkipFlag + 2: {neutralInit, 201, 201},
}

// entropyBits[state<<1|isLPS] estimates the cost of coding the most probable
// (isLPS 0) or least probable (isLPS 1) symbol in probability state state,
// in 1/32768 bit units. Used by the counting coder during rate
// distortion optimisation. Derived from the state probabilities
// p(s) = 0.5*alpha^s with alpha as per section 9.3.
var entropyBits [128]int32

func init() {
	const alpha = 0.949217148
	for s := 0; s < 64; s++ {
		pLPS := 0.5 * math.Pow(alpha, float64(s))
		entropyBits[s<<1] = int32(-math.Log2(1-pLPS)*32768 + 0.5)
		entropyBits[s<<1|1] = int32(-math.Log2(pLPS)*32768 + 0.5)
	}
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

// initState computes the initial context state for an init value at a given
// slice QP, per section 9.3.2.2.
func initState(initValue uint8, qp int) Context {
	slope := int(initValue>>4)*5 - 45
	offset := (int(initValue&15) << 3) - 16
	pre := clip3(1, 126, ((slope*clip3(0, 51, qp))>>4)+offset)
	if pre >= 64 {
		return Context{State: uint8(pre - 64), MPS: 1}
	}
	return Context{State: uint8(63 - pre), MPS: 0}
}
