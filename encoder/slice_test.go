/*
DESCRIPTION
  slice_test.go provides testing for slice initialisation: hierarchical
  GOP depth, QP derivation and lambda behaviour.

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
	"testing"

	"github.com/ausocean/utils/logging"
)

func TestGOPDepth(t *testing.T) {
	tests := []struct {
		poc, gop int
		want     int
	}{
		{poc: 0, gop: 4, want: 0},
		{poc: 4, gop: 4, want: 0},
		{poc: 2, gop: 4, want: 1},
		{poc: 1, gop: 4, want: 2},
		{poc: 3, gop: 4, want: 2},
		{poc: 0, gop: 8, want: 0},
		{poc: 4, gop: 8, want: 1},
		{poc: 2, gop: 8, want: 2},
		{poc: 6, gop: 8, want: 2},
		{poc: 1, gop: 8, want: 3},
		{poc: 7, gop: 8, want: 3},
		{poc: 5, gop: 1, want: 0},
	}

	for i, test := range tests {
		if got := gopDepth(test.poc, test.gop); got != test.want {
			t.Errorf("did not get expected depth for test: %v (poc %v gop %v)\nGot: %v\nWant: %v\n",
				i, test.poc, test.gop, got, test.want)
		}
	}
}

func testEncoder(t *testing.T, cfg Config) *Encoder {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = (*logging.TestLogger)(t)
	}
	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 128, 128
	}
	e, err := New(cfg, NullAnalyzer{})
	if err != nil {
		t.Fatalf("did not expect error creating encoder: %v", err)
	}
	return e
}

func TestInitSliceQPAndLambda(t *testing.T) {
	gop := []GOPEntry{
		{POC: 4, SliceType: SliceP, QPOffset: 1, QPFactor: 0.5},
		{POC: 2, SliceType: SliceB, QPOffset: 2, QPFactor: 0.5},
		{POC: 1, SliceType: SliceB, QPOffset: 3, QPFactor: 0.68},
		{POC: 3, SliceType: SliceB, QPOffset: 3, QPFactor: 0.68},
	}
	e := testEncoder(t, Config{GOPSize: 4, GOP: gop, BaseQP: 27})

	// I-slice at a random access point takes the base QP.
	pic := NewPicture(128, 128, 64)
	pic.POC = 0
	s := e.initSlice(pic, true, 0)
	if s.Type != SliceI {
		t.Errorf("forced I slice has type %v", s.Type)
	}
	if s.QP != 27 {
		t.Errorf("did not get expected I-slice QP.\nGot: %v\nWant: %v\n", s.QP, 27)
	}
	if s.Depth != 0 {
		t.Errorf("did not get expected depth.\nGot: %v\nWant: %v\n", s.Depth, 0)
	}
	if s.LambdaLuma <= 0 || s.LambdaChroma <= 0 {
		t.Errorf("lambdas not positive: %v %v", s.LambdaLuma, s.LambdaChroma)
	}

	// Deeper hierarchy levels get larger QP and lambda.
	var prevLambda float64
	var prevQP int
	for i, tc := range []struct {
		poc, gopID int
	}{
		{poc: 2, gopID: 1},
		{poc: 1, gopID: 2},
	} {
		pic := NewPicture(128, 128, 64)
		pic.POC = tc.poc
		s := e.initSlice(pic, false, tc.gopID)
		if i > 0 {
			if s.QP <= prevQP {
				t.Errorf("QP not increasing with depth.\nGot: %v\nWant: > %v\n", s.QP, prevQP)
			}
			if s.LambdaLuma <= prevLambda {
				t.Errorf("lambda not increasing with depth.\nGot: %v\nWant: > %v\n", s.LambdaLuma, prevLambda)
			}
		}
		prevLambda, prevQP = s.LambdaLuma, s.QP
	}
}

func TestInitSliceDQPOverride(t *testing.T) {
	e := testEncoder(t, Config{BaseQP: 30, DQPs: []int{0, 5}})
	pic := NewPicture(128, 128, 64)
	pic.POC = 1
	s := e.initSlice(pic, true, 0)
	if s.QP != 35 {
		t.Errorf("did not get expected QP with dQP override.\nGot: %v\nWant: %v\n", s.QP, 35)
	}
}

func TestInitSliceQPClamp(t *testing.T) {
	e := testEncoder(t, Config{BaseQP: 60})
	pic := NewPicture(128, 128, 64)
	s := e.initSlice(pic, true, 0)
	if s.QP != maxQP {
		t.Errorf("did not get expected clamped QP.\nGot: %v\nWant: %v\n", s.QP, maxQP)
	}
}

func TestChromaScaleTable(t *testing.T) {
	tests := []struct {
		qp, want int
	}{
		{qp: 0, want: 0},
		{qp: 29, want: 29},
		{qp: 30, want: 29},
		{qp: 34, want: 33},
		{qp: 43, want: 37},
		{qp: 44, want: 38},
		{qp: 57, want: 51},
	}
	for i, test := range tests {
		if got := chromaScale[test.qp]; got != test.want {
			t.Errorf("did not get expected mapping for test: %v\nGot: %v\nWant: %v\n", i, got, test.want)
		}
	}
}
