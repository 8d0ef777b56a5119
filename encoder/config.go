/*
DESCRIPTION
  config.go provides configuration for the HEVC frame encoder, with
  validation and defaulting in the manner required before a stream is
  started.

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
	"errors"
	"runtime"

	"github.com/ausocean/utils/logging"
)

// Scaling list modes. Only off and default are supported.
const (
	ScalingListOff = iota
	ScalingListDefault
)

// Validation errors.
var (
	ErrNoDimensions     = errors.New("frame dimensions not set")
	ErrZeroRows         = errors.New("frame has zero CTU rows")
	ErrWidthNotMultiple = errors.New("width is not a multiple of the CTU size")
	ErrLosslessQPOffset = errors.New("lossless coding conflicts with a GOP QP offset")
	ErrScalingList      = errors.New("unsupported scaling list mode")
	ErrBadGOP           = errors.New("GOP size does not match GOP entry count")
)

// GOPEntry describes one picture of the GOP structure in encode order.
type GOPEntry struct {
	POC       int     // display offset within the GOP
	SliceType int     // SliceI, SliceP or SliceB
	QPOffset  int     // added to the base QP for non-I slices
	QPFactor  float64 // lambda weighting for this GOP position
}

// Config configures an Encoder.
type Config struct {
	// Frame geometry.
	Width, Height int
	CTUSize       int // luma samples per CTU side, default 64

	// Rate parameters, supplied by the rate controller.
	BaseQP      float64
	DQPs        []int // optional per-POC QP override, indexed by POC
	QPBDOffsetY int   // luma QP bit-depth offset, 0 for 8 bit
	Lossless    bool

	// GOP structure, supplied by the GOP scheduler.
	GOPSize int
	GOP     []GOPEntry

	// Wavefront parallel processing.
	Wavefront bool
	Threads   int

	// In-loop filters.
	DeblockingEnabled bool
	BetaOffsetDiv2    int
	TcOffsetDiv2      int
	SAO               bool
	SAOChroma         bool
	SAOLCUBoundary    bool // SAO LCU-boundary optimisation; widens the filter lag

	// Motion estimation.
	SearchRange         int
	AdaptiveSearchRange bool
	MaxMergeCand        int

	// Weighted prediction.
	WeightedPred   bool // P slices
	WeightedBiPred bool // B slices

	// Headers and SEI.
	ScalingListMode            int
	RecoveryPointSEI           bool
	GradualDecodingRefreshSEI  bool
	ActiveParameterSetsSEI     bool
	DisplayOrientationSEIAngle int
	Level                      uint32

	Logger logging.Logger
}

// Validate checks c, defaulting unset fields, and returns the first fatal
// problem found. Fatal configuration problems abort before any frame is
// compressed.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("no logger provided")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return ErrNoDimensions
	}
	if c.CTUSize == 0 {
		c.Logger.Debug("CTUSize unset, defaulting", "CTUSize", 64)
		c.CTUSize = 64
	}
	if (c.Height+c.CTUSize-1)/c.CTUSize == 0 {
		return ErrZeroRows
	}
	if !c.Wavefront && c.Width%c.CTUSize != 0 {
		return ErrWidthNotMultiple
	}
	if c.Wavefront && c.widthInCTU() < 2 {
		// The wavefront dependency needs two CTUs of headroom per row, so
		// a single-column frame can never promote the row below.
		c.Logger.Info("frame too narrow for wavefront, disabling", "widthInCTU", c.widthInCTU())
		c.Wavefront = false
	}
	if c.GOPSize == 0 {
		c.Logger.Debug("GOPSize unset, defaulting", "GOPSize", 1)
		c.GOPSize = 1
	}
	if len(c.GOP) == 0 {
		c.GOP = defaultGOP(c.GOPSize)
	}
	if len(c.GOP) != c.GOPSize {
		return ErrBadGOP
	}
	if c.Lossless {
		for _, e := range c.GOP {
			if e.QPOffset != 0 {
				return ErrLosslessQPOffset
			}
		}
	}
	if c.ScalingListMode != ScalingListOff && c.ScalingListMode != ScalingListDefault {
		return ErrScalingList
	}
	if c.Threads == 0 {
		c.Threads = runtime.NumCPU()
		c.Logger.Debug("Threads unset, defaulting", "Threads", c.Threads)
	}
	if c.SearchRange == 0 {
		c.SearchRange = 60
	}
	if c.MaxMergeCand == 0 {
		c.MaxMergeCand = 2
	}
	if c.Level == 0 {
		c.Level = 120 // level 4.0
	}
	return nil
}

// widthInCTU returns the frame width in CTUs, rounding up.
func (c *Config) widthInCTU() int { return (c.Width + c.CTUSize - 1) / c.CTUSize }

// heightInCTU returns the frame height in CTUs, rounding up.
func (c *Config) heightInCTU() int { return (c.Height + c.CTUSize - 1) / c.CTUSize }

// defaultGOP returns a low-delay GOP of the given size: one leading P and
// trailing references with the standard QP factors.
func defaultGOP(size int) []GOPEntry {
	gop := make([]GOPEntry, size)
	for i := range gop {
		gop[i] = GOPEntry{
			POC:       i + 1,
			SliceType: SliceP,
			QPOffset:  3,
			QPFactor:  0.4624,
		}
	}
	if size > 0 {
		gop[size-1].QPOffset = 1
		gop[size-1].QPFactor = 0.578
	}
	return gop
}
