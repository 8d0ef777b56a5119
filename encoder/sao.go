/*
DESCRIPTION
  sao.go provides frame-wide estimation of sample adaptive offset
  parameters from the reconstructed picture: a per-CTU band-offset
  decision costed against the slice lambdas, and merge flags where
  neighbouring CTUs share parameters.

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

// SAO type indices.
const (
	SAOTypeOff = iota
	SAOTypeBand
)

// SAOParam is the sample adaptive offset decision for one CTU of one
// colour component.
type SAOParam struct {
	MergeLeft bool
	MergeUp   bool
	TypeIdx   int
	BandPos   int
	Offsets   [4]int
}

// same reports whether two parameter sets are mergeable.
func (p SAOParam) same(q SAOParam) bool {
	return p.TypeIdx == q.TypeIdx && p.BandPos == q.BandPos && p.Offsets == q.Offsets
}

// saoRate is the approximate bit cost of coding one explicit band-offset
// parameter set.
const saoRate = 22

// estimateSAO decides SAO parameters for every CTU of pic and sets the
// slice enable flags. The luma lambda costs the luma component and the
// chroma lambda the chroma components.
func (e *Encoder) estimateSAO(pic *Picture, s *Slice) {
	var lumaOn, chromaOn bool
	for row := 0; row < pic.HeightInCTU; row++ {
		for col := 0; col < pic.WidthInCTU; col++ {
			ctu := pic.CTU(row, col)
			var params [3]SAOParam
			for comp := 0; comp < 3; comp++ {
				lambda := s.LambdaLuma
				if comp > 0 {
					lambda = s.LambdaChroma
				}
				params[comp] = estimateBandOffset(pic, ctu, comp, lambda)
				if params[comp].TypeIdx != SAOTypeOff {
					if comp == 0 {
						lumaOn = true
					} else {
						chromaOn = true
					}
				}
			}

			// A merge flag covers all three components, so merging
			// requires every component to match the neighbour.
			mergeLeft := col > 0
			mergeUp := row > 0
			for comp := 0; comp < 3; comp++ {
				mergeLeft = mergeLeft && params[comp].same(pic.SAO[comp][ctu.Addr-1])
				mergeUp = mergeUp && params[comp].same(pic.SAO[comp][ctu.Addr-pic.WidthInCTU])
			}
			for comp := 0; comp < 3; comp++ {
				params[comp].MergeLeft = mergeLeft
				params[comp].MergeUp = !mergeLeft && mergeUp
				pic.SAO[comp][ctu.Addr] = params[comp]
			}
		}
	}
	s.SAOEnabled = lumaOn
	s.SAOChromaEnabled = chromaOn && e.cfg.SAOChroma
	e.log.Debug("SAO estimated", "POC", s.POC, "luma", s.SAOEnabled, "chroma", s.SAOChromaEnabled)
}

// estimateBandOffset derives a band-offset candidate for one CTU component
// from the mean original-to-reconstruction error, and accepts it only if
// the distortion saved exceeds the lambda-scaled rate of coding it.
func estimateBandOffset(pic *Picture, ctu CTU, comp int, lambda float64) SAOParam {
	orig, rec, stride, x0, y0, x1, y1 := componentWindow(pic, ctu, comp)
	var sum, sumSamples, n int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			sum += int(orig[y*stride+x]) - int(rec[y*stride+x])
			sumSamples += int(rec[y*stride+x])
			n++
		}
	}
	if n == 0 {
		return SAOParam{TypeIdx: SAOTypeOff}
	}
	mean := float64(sum) / float64(n)
	off := int(mean + 0.5)
	if mean < 0 {
		off = int(mean - 0.5)
	}
	off = clip3(-7, 7, off)
	if off == 0 {
		return SAOParam{TypeIdx: SAOTypeOff}
	}

	// Distortion saved by shifting every sample of the CTU component by
	// off, against the rate of signalling the offsets.
	saved := float64(n) * (mean*mean - (mean-float64(off))*(mean-float64(off)))
	if saved <= lambda*saoRate {
		return SAOParam{TypeIdx: SAOTypeOff}
	}
	band := clip3(0, 28, (sumSamples/n)>>3)
	return SAOParam{
		TypeIdx: SAOTypeBand,
		BandPos: band,
		Offsets: [4]int{off, off, off, off},
	}
}

// componentWindow returns the plane, stride and CTU sample window of one
// colour component.
func componentWindow(pic *Picture, ctu CTU, comp int) (orig, rec []byte, stride, x0, y0, x1, y1 int) {
	if comp == 0 {
		x1 := min(ctu.X+pic.CTUSize, pic.Width)
		y1 := min(ctu.Y+pic.CTUSize, pic.Height)
		return pic.Y, pic.RecY, pic.Width, ctu.X, ctu.Y, x1, y1
	}
	orig, rec = pic.Cb, pic.RecCb
	if comp == 2 {
		orig, rec = pic.Cr, pic.RecCr
	}
	stride = pic.Width / 2
	x0, y0 = ctu.X/2, ctu.Y/2
	x1 = min((ctu.X+pic.CTUSize)/2, pic.Width/2)
	y1 = min((ctu.Y+pic.CTUSize)/2, pic.Height/2)
	return orig, rec, stride, x0, y0, x1, y1
}
