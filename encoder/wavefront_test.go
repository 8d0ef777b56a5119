/*
DESCRIPTION
  wavefront_test.go provides testing of the wavefront scheduling
  invariants: the two-CTU diagonal dependency, whole-frame completion, and
  priority ordering of the job queue.

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
	"fmt"
	"sync"
	"testing"

	"github.com/ausocean/hevc/cabac"
	"github.com/ausocean/utils/logging"
)

// depAnalyzer asserts the wavefront dependency on entry to every CTU: the
// row above must have reached column col+2, or be finished.
type depAnalyzer struct {
	NullAnalyzer
	mu         sync.Mutex
	violations []string
}

func (a *depAnalyzer) Analyze(p *Picture, s *Slice, ctu CTU, coder *cabac.Coder, rd []*cabac.Coder) int64 {
	if ctu.Row > 0 {
		up := p.CompleteEnc(ctu.Row - 1)
		need := ctu.Col + 2
		if need > p.WidthInCTU {
			need = p.WidthInCTU
		}
		if up < need {
			a.mu.Lock()
			a.violations = append(a.violations,
				fmt.Sprintf("row %d col %d scheduled with row above at %d", ctu.Row, ctu.Col, up))
			a.mu.Unlock()
		}
	}
	return a.NullAnalyzer.Analyze(p, s, ctu, coder, rd)
}

func TestWavefrontDependency(t *testing.T) {
	const w, h = 512, 256 // 8x4 CTUs
	for _, threads := range []int{1, 2, 3, 8} {
		a := &depAnalyzer{}
		cfg := Config{
			Width: w, Height: h, BaseQP: 32,
			Wavefront: true, Threads: threads,
			Logger: (*logging.TestLogger)(t),
		}
		e, err := New(cfg, a)
		if err != nil {
			t.Fatalf("did not expect error creating encoder: %v", err)
		}
		pic := testPicture(0, w, h, 64)
		if err := e.CompressFrame(pic, true, 0); err != nil {
			t.Fatalf("did not expect compress error: %v", err)
		}
		for _, v := range a.violations {
			t.Errorf("dependency violation with %v threads: %v", threads, v)
		}
		for r := 0; r < pic.HeightInCTU; r++ {
			if got := pic.CompleteEnc(r); got != pic.WidthInCTU {
				t.Errorf("row %v incomplete with %v threads: %v", r, threads, got)
			}
		}
	}
}

func TestWavefrontPriority(t *testing.T) {
	log := logging.New(int8(logging.Error), nopWriter{}, true)
	w, err := newWavefront(4, 1, log, func(int) {})
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	w.queued[1] = true
	w.queued[3] = true
	if !w.higherPriorityRow(3) {
		t.Error("expected a higher priority row before row 3")
	}
	if w.higherPriorityRow(1) {
		t.Error("did not expect a higher priority row before row 1")
	}
	if got := w.findJob(); got != 1 {
		t.Errorf("did not get expected job.\nGot: %v\nWant: %v\n", got, 1)
	}
	if got := w.findJob(); got != 3 {
		t.Errorf("did not get expected second job.\nGot: %v\nWant: %v\n", got, 3)
	}
}

func TestWavefrontZeroRows(t *testing.T) {
	log := logging.New(int8(logging.Error), nopWriter{}, true)
	_, err := newWavefront(0, 1, log, func(int) {})
	if err == nil {
		t.Error("expected error for zero rows")
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
