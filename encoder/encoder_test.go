/*
DESCRIPTION
  encoder_test.go provides end-to-end testing of the frame encoder: stream
  header emission, single-frame compression in sequential and wavefront
  modes, bitstream determinism across worker counts, and substream entry
  point accounting.

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
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/ausocean/hevc/cabac"
	"github.com/ausocean/hevc/nal"
	"github.com/ausocean/utils/logging"
)

// testPicture returns a picture with deterministic sample content.
func testPicture(poc, width, height, ctuSize int) *Picture {
	p := NewPicture(width, height, ctuSize)
	p.POC = poc
	for i := range p.Y {
		p.Y[i] = byte((i*7 + poc*13) & 0xff)
	}
	for i := range p.Cb {
		p.Cb[i] = byte((i*3 + poc) & 0xff)
		p.Cr[i] = byte((i*5 + poc) & 0xff)
	}
	return p
}

func TestStreamHeaders(t *testing.T) {
	e := testEncoder(t, Config{Width: 128, Height: 128, ActiveParameterSetsSEI: true})
	au, err := e.StreamHeaders()
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	wantTypes := []nal.UnitType{nal.TypeVPS, nal.TypeSPS, nal.TypePPS, nal.TypePrefixSEI}
	if len(au) != len(wantTypes) {
		t.Fatalf("did not get expected unit count.\nGot: %v\nWant: %v\n", len(au), len(wantTypes))
	}
	for i, u := range au {
		if u.Type != wantTypes[i] {
			t.Errorf("did not get expected type for unit: %v\nGot: %v\nWant: %v\n", i, u.Type, wantTypes[i])
		}
		if len(u.RBSP) == 0 {
			t.Errorf("unit %v has empty payload", i)
		}
	}
	b, err := au.Bytes()
	if err != nil {
		t.Fatalf("did not expect serialisation error: %v", err)
	}
	if !bytes.HasPrefix(b, []byte{0x00, 0x00, 0x00, 0x01}) {
		t.Error("access unit does not start with a start code")
	}
}

// compress runs one I-frame through a fresh encoder and returns the
// resulting access unit bytes and the encoder.
func compress(t *testing.T, cfg Config, pic *Picture) ([]byte, *Encoder) {
	t.Helper()
	e := testEncoder(t, cfg)
	if err := e.CompressFrame(pic, true, 0); err != nil {
		t.Fatalf("did not expect compress error: %v", err)
	}
	_, au := e.EncodedPicture(nil)
	if len(au) == 0 {
		t.Fatal("no NAL units emitted")
	}
	b, err := au.Bytes()
	if err != nil {
		t.Fatalf("did not expect serialisation error: %v", err)
	}
	return b, e
}

func TestCompressSingleFrameSequential(t *testing.T) {
	pic := testPicture(0, 128, 128, 64) // 2x2 CTUs
	b, e := compress(t, Config{Width: 128, Height: 128, BaseQP: 32}, pic)
	if len(b) == 0 {
		t.Fatal("empty slice bitstream")
	}
	for r := 0; r < 2; r++ {
		if got := pic.CompleteEnc(r); got != 2 {
			t.Errorf("did not get expected completion for row: %v\nGot: %v\nWant: %v\n", r, got, 2)
		}
	}
	if got := e.NumSubstreams(); got != 1 {
		t.Errorf("did not get expected substream count.\nGot: %v\nWant: %v\n", got, 1)
	}
}

func TestCompressFrameWavefrontDeterministic(t *testing.T) {
	const w, h = 256, 256 // 4x4 CTUs
	var ref []byte
	for _, threads := range []int{1, 2, 4, 8} {
		pic := testPicture(0, w, h, 64)
		b, _ := compress(t, Config{Width: w, Height: h, BaseQP: 32, Wavefront: true, Threads: threads}, pic)
		if ref == nil {
			ref = b
			continue
		}
		if !bytes.Equal(ref, b) {
			t.Errorf("bitstream differs with %v threads", threads)
		}
		for r := 0; r < 4; r++ {
			if got := pic.CompleteEnc(r); got != 4 {
				t.Errorf("row %v incomplete with %v threads: %v", r, threads, got)
			}
		}
	}
}

func TestCompressFrameSequentialDeterministic(t *testing.T) {
	a, _ := compress(t, Config{Width: 128, Height: 128, BaseQP: 30}, testPicture(3, 128, 128, 64))
	b, _ := compress(t, Config{Width: 128, Height: 128, BaseQP: 30}, testPicture(3, 128, 128, 64))
	if !bytes.Equal(a, b) {
		t.Error("sequential bitstream not deterministic")
	}
}

func TestSubstreamSizes(t *testing.T) {
	const w, h = 256, 192 // 4x3 CTUs
	pic := testPicture(0, w, h, 64)
	e := testEncoder(t, Config{Width: w, Height: h, BaseQP: 32, Wavefront: true, Threads: 2})
	if err := e.CompressFrame(pic, true, 0); err != nil {
		t.Fatalf("did not expect compress error: %v", err)
	}
	s := e.slice
	if got, want := len(s.SubstreamSizes), e.NumSubstreams()-1; got != want {
		t.Fatalf("did not get expected entry point count.\nGot: %v\nWant: %v\n", got, want)
	}
	for i, n := range s.SubstreamSizes {
		if n == 0 {
			t.Errorf("substream %v has zero size", i)
		}
		if n%8 != 0 {
			t.Errorf("substream %v size not byte aligned: %v bits", i, n)
		}
	}
}

// TestScenarioGOP exercises an I,B,B,P GOP in encode order with reference
// lists, checking WP-eligible B slices code and decode structure stays
// consistent.
func TestScenarioGOP(t *testing.T) {
	gop := []GOPEntry{
		{POC: 4, SliceType: SliceP, QPOffset: 1, QPFactor: 0.5},
		{POC: 2, SliceType: SliceB, QPOffset: 2, QPFactor: 0.5},
		{POC: 1, SliceType: SliceB, QPOffset: 3, QPFactor: 0.68},
		{POC: 3, SliceType: SliceB, QPOffset: 3, QPFactor: 0.68},
	}
	e := testEncoder(t, Config{
		Width: 128, Height: 128, BaseQP: 27,
		GOPSize: 4, GOP: gop,
		WeightedBiPred: true,
	})

	i0 := testPicture(0, 128, 128, 64)
	if err := e.CompressFrame(i0, true, 0); err != nil {
		t.Fatalf("did not expect error on I frame: %v", err)
	}
	_, au := e.EncodedPicture(nil)

	p4 := testPicture(4, 128, 128, 64)
	p4.RefLists[0] = []*Picture{i0}
	if err := e.CompressFrame(p4, false, 0); err != nil {
		t.Fatalf("did not expect error on P frame: %v", err)
	}
	_, au = e.EncodedPicture(au)

	b2 := testPicture(2, 128, 128, 64)
	b2.RefLists[0] = []*Picture{i0}
	b2.RefLists[1] = []*Picture{p4}
	if err := e.CompressFrame(b2, false, 1); err != nil {
		t.Fatalf("did not expect error on B frame: %v", err)
	}
	_, au = e.EncodedPicture(au)

	if len(au) != 3 {
		t.Fatalf("did not get expected NAL count.\nGot: %v\nWant: %v\n", len(au), 3)
	}
	if au[0].Type != nal.TypeIDRWRADL {
		t.Errorf("first unit not IDR: %v", au[0].Type)
	}
	for i := 1; i < 3; i++ {
		if au[i].Type != nal.TypeTrailR {
			t.Errorf("unit %v not trailing: %v", i, au[i].Type)
		}
	}
}

// delayAnalyzer wraps NullAnalyzer with pseudo-random per-CTU delays to
// shake out scheduling orders.
type delayAnalyzer struct {
	NullAnalyzer
	seed int64
}

func (a delayAnalyzer) Analyze(p *Picture, s *Slice, ctu CTU, coder *cabac.Coder, rd []*cabac.Coder) int64 {
	r := rand.New(rand.NewSource(a.seed + int64(ctu.Addr)))
	time.Sleep(time.Duration(r.Intn(200)) * time.Microsecond)
	return a.NullAnalyzer.Analyze(p, s, ctu, coder, rd)
}

func TestWavefrontFuzzDeterminism(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping fuzz determinism test in short mode")
	}
	const w, h = 512, 512 // 8x8 CTUs
	const frames = 10
	var ref [][]byte
	for _, threads := range []int{1, 2, 4, 8} {
		cfg := Config{
			Width: w, Height: h, BaseQP: 32,
			Wavefront: true, Threads: threads,
			Logger: (*logging.TestLogger)(t),
		}
		e, err := New(cfg, delayAnalyzer{seed: 42})
		if err != nil {
			t.Fatalf("did not expect error creating encoder: %v", err)
		}
		var got [][]byte
		for n := 0; n < frames; n++ {
			pic := testPicture(n, w, h, 64)
			if err := e.CompressFrame(pic, true, 0); err != nil {
				t.Fatalf("did not expect compress error: %v", err)
			}
			_, au := e.EncodedPicture(nil)
			b, err := au.Bytes()
			if err != nil {
				t.Fatalf("did not expect serialisation error: %v", err)
			}
			got = append(got, b)
		}
		if ref == nil {
			ref = got
			continue
		}
		for n := range got {
			if !bytes.Equal(ref[n], got[n]) {
				t.Errorf("frame %v bitstream differs with %v threads", n, threads)
			}
		}
	}
}
