/*
DESCRIPTION
  cabac_test.go provides testing for the binary arithmetic coder: context
  initialisation, determinism of the engine, snapshot semantics used for
  wavefront synchronisation, and the counting mode.

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

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/ausocean/hevc/bits"
)

func TestInitState(t *testing.T) {
	tests := []struct {
		initValue uint8
		qp        int
		want      Context
	}{
		// The neutral value gives the equiprobable state at any QP.
		{initValue: 154, qp: 0, want: Context{State: 0, MPS: 1}},
		{initValue: 154, qp: 26, want: Context{State: 0, MPS: 1}},
		{initValue: 154, qp: 51, want: Context{State: 0, MPS: 1}},
		// SAO merge flag init value.
		{initValue: 153, qp: 26, want: Context{State: 7, MPS: 0}},
		// split_cu_flag first context.
		{initValue: 139, qp: 26, want: Context{State: 0, MPS: 0}},
	}

	for i, test := range tests {
		got := initState(test.initValue, test.qp)
		if got != test.want {
			t.Errorf("did not get expected state for test: %v\nGot: %v\nWant: %v\n", i, got, test.want)
		}
	}
}

// encodeSequence codes a fixed pseudo-random mix of context, bypass and
// terminate bins and returns the flushed bytes.
func encodeSequence(seed int64, n int) []byte {
	bs := bits.NewWriter(64)
	c := New(bs)
	c.InitSlice(SliceI, 32)
	r := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		switch r.Intn(3) {
		case 0:
			c.EncodeBin(r.Intn(2), r.Intn(NumContexts))
		case 1:
			c.EncodeBypass(r.Intn(2))
		case 2:
			c.EncodeTerminate(0)
		}
	}
	c.EncodeTerminate(1)
	c.Finish()
	bs.WriteBit(1)
	bs.WriteAlignZero()
	return bs.Bytes()
}

func TestCoderDeterminism(t *testing.T) {
	for seed := int64(0); seed < 8; seed++ {
		a := encodeSequence(seed, 500)
		b := encodeSequence(seed, 500)
		if len(a) == 0 {
			t.Fatalf("no output for seed %v", seed)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("coder output not deterministic for seed: %v", seed)
		}
	}
}

func TestLoadContextsIsDeepCopy(t *testing.T) {
	src := NewCounter()
	src.InitSlice(SliceI, 26)
	dst := NewCounter()
	dst.InitSlice(SliceI, 26)
	dst.LoadContexts(src)

	before := dst.Contexts()
	// Drive the source's contexts away from the snapshot.
	for i := 0; i < 100; i++ {
		src.EncodeBin(i&1, OffSAOMergeFlag)
	}
	if got := dst.Contexts(); got != before {
		t.Error("snapshot changed when source advanced; contexts must be value copies")
	}
}

func TestLoadPreservesAttachment(t *testing.T) {
	bs := bits.NewWriter(16)
	c := New(bs)
	c.InitSlice(SliceB, 30)
	snap := NewCounter()
	snap.InitSlice(SliceB, 30)
	for i := 0; i < 10; i++ {
		snap.EncodeBin(1, OffSplitCU)
	}
	c.Load(snap)
	// The coder must still write to its own bitstream after a load.
	for i := 0; i < 64; i++ {
		c.EncodeBypass(1)
	}
	c.EncodeTerminate(1)
	c.Finish()
	if bs.Len() == 0 {
		t.Error("no bits written after Load; bitstream attachment lost")
	}
}

func TestCounterBypassCost(t *testing.T) {
	c := NewCounter()
	c.InitSlice(SliceP, 32)
	const n = 37
	c.EncodeBypassBits(0x155, n) // only the low n bits matter
	if got, want := c.FracBits(), uint64(n)<<15; got != want {
		t.Errorf("did not get expected bypass cost.\nGot: %v\nWant: %v\n", got, want)
	}
}

func TestCounterContextCost(t *testing.T) {
	c := NewCounter()
	c.InitSlice(SliceI, 32)
	var prev uint64
	for i := 0; i < 20; i++ {
		c.EncodeBin(1, OffSAOTypeIdx)
		if c.FracBits() <= prev {
			t.Fatalf("cost not monotonic at bin %v", i)
		}
		prev = c.FracBits()
	}
	// Repeated MPS coding adapts towards under one bit per bin.
	perBin := prev / 20
	if perBin >= 1<<15 {
		t.Errorf("adapted MPS cost not below one bit: %v frac units", perBin)
	}
}

func TestTerminateFlushAligned(t *testing.T) {
	bs := bits.NewWriter(16)
	c := New(bs)
	c.InitSlice(SliceI, 26)
	c.EncodeBin(1, OffSplitCU)
	c.EncodeTerminate(1)
	c.Finish()
	bs.WriteBit(1)
	bs.WriteAlignZero()
	if !bs.Aligned() {
		t.Error("substream not byte aligned after flush")
	}
	if bs.Len() == 0 {
		t.Error("empty substream after flush")
	}
}
