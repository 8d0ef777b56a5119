/*
DESCRIPTION
  framefilter_test.go provides testing of the loop-filter pipeline: in
  order processing, enqueue idempotence, and the row lag behind the encode
  wavefront.

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
	"sync"
	"testing"

	"github.com/ausocean/utils/logging"
)

func TestFrameFilterOrderAndIdempotence(t *testing.T) {
	const rows = 4
	var mu sync.Mutex
	var got []int
	deblock := func(p *Picture, r int) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}
	log := logging.New(int8(logging.Error), nopWriter{}, true)
	f := newFrameFilter(rows, 1, log, deblock, nil)
	f.start(NewPicture(128, 128, 64))

	// Repeated enqueues of the same row must not filter it twice.
	f.enqueueRow(0)
	f.enqueueRow(0)
	f.enqueueRow(2)
	f.enqueueRow(rows - 1)
	f.wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != rows {
		t.Fatalf("did not get expected filtered row count.\nGot: %v\nWant: %v\n", len(got), rows)
	}
	for i, r := range got {
		if r != i {
			t.Errorf("rows filtered out of order: %v", got)
			break
		}
	}
}

// TestFrameFilterLag records the encode completion state whenever a row
// is filtered and checks the filter trails the encode wavefront by the
// configured delay.
func TestFrameFilterLag(t *testing.T) {
	const w, h = 512, 256 // 8x4 CTUs, row delay 2 via SAO LCU boundary
	type event struct {
		row      int
		complete []int
	}
	var mu sync.Mutex
	var events []event

	cfg := Config{
		Width: w, Height: h, BaseQP: 32,
		Wavefront: true, Threads: 4,
		SAO: true, SAOChroma: true, SAOLCUBoundary: true,
		Logger: (*logging.TestLogger)(t),
	}
	deblock := func(p *Picture, r int) {
		mu.Lock()
		var c []int
		for i := 0; i < p.HeightInCTU; i++ {
			c = append(c, p.CompleteEnc(i))
		}
		events = append(events, event{row: r, complete: c})
		mu.Unlock()
	}
	e, err := New(cfg, NullAnalyzer{}, WithDeblock(deblock))
	if err != nil {
		t.Fatalf("did not expect error creating encoder: %v", err)
	}
	if e.rowDelay != 2 {
		t.Fatalf("did not get expected row delay.\nGot: %v\nWant: %v\n", e.rowDelay, 2)
	}

	pic := testPicture(0, w, h, 64)
	if err := e.CompressFrame(pic, true, 0); err != nil {
		t.Fatalf("did not expect compress error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != pic.HeightInCTU {
		t.Fatalf("did not get expected event count.\nGot: %v\nWant: %v\n", len(events), pic.HeightInCTU)
	}
	// With a row delay of 2, filtering row r means encode rows up to r+1
	// had fully completed at enqueue time, so they must be complete when
	// the filter observes them.
	for _, ev := range events {
		for r := 0; r <= ev.row+1 && r < pic.HeightInCTU; r++ {
			if ev.complete[r] != pic.WidthInCTU {
				t.Errorf("filter saw row %v with encode row %v at %v of %v",
					ev.row, r, ev.complete[r], pic.WidthInCTU)
			}
		}
	}
}

// TestSequentialFilterDrain checks the sequential fallback also drives
// the filter over every row.
func TestSequentialFilterDrain(t *testing.T) {
	var mu sync.Mutex
	var got []int
	deblock := func(p *Picture, r int) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}
	cfg := Config{
		Width: 256, Height: 192, BaseQP: 32,
		DeblockingEnabled: true,
		Logger:            (*logging.TestLogger)(t),
	}
	e, err := New(cfg, NullAnalyzer{}, WithDeblock(deblock))
	if err != nil {
		t.Fatalf("did not expect error creating encoder: %v", err)
	}
	pic := testPicture(0, 256, 192, 64)
	if err := e.CompressFrame(pic, true, 0); err != nil {
		t.Fatalf("did not expect compress error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != pic.HeightInCTU {
		t.Errorf("did not get expected filtered rows.\nGot: %v\nWant: %v\n", len(got), pic.HeightInCTU)
	}
}
