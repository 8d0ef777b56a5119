/*
DESCRIPTION
  hevcenc reads raw 4:2:0 planar frames from a file and encodes them to an
  Annex-B HEVC elementary stream, exercising the frame encoder's wavefront
  pipeline. The CTU-level encoder is the pluggable stand-in; the binary is
  a pipeline and conformance-structure harness rather than a production
  transcoder.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main provides the hevcenc command.
package main

import (
	"flag"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/hevc/encoder"
	"github.com/ausocean/hevc/nal"
	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"
)

// Logging configuration.
const (
	logPath      = "hevcenc.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logSuppress  = true
)

// Output pool configuration. Encoded access units pass through a pool
// buffer so that disk latency does not stall the encode loop.
const (
	poolCapacity    = 50
	poolElementSize = 1 << 16
	poolTimeout     = 5 * time.Second
)

func main() {
	var (
		inPath    = flag.String("in", "", "input raw 4:2:0 planar file")
		outPath   = flag.String("out", "out.265", "output Annex-B file")
		width     = flag.Int("width", 640, "frame width in luma samples")
		height    = flag.Int("height", 480, "frame height in luma samples")
		qp        = flag.Float64("qp", 32, "base QP")
		gopSize   = flag.Int("gop", 8, "GOP size; an IDR starts each GOP")
		frames    = flag.Int("frames", 0, "frames to encode, 0 for all")
		wavefront = flag.Bool("wpp", true, "enable wavefront parallel processing")
		threads   = flag.Int("threads", 0, "worker threads, 0 for all cores")
		sao       = flag.Bool("sao", false, "enable sample adaptive offset")
		verbosity = flag.Int("verbosity", int(logging.Info), "log verbosity")
	)
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(int8(*verbosity), io.MultiWriter(fileLog, os.Stderr), logSuppress)

	if *inPath == "" {
		log.Fatal("no input file specified")
	}
	in, err := os.Open(*inPath)
	if err != nil {
		log.Fatal("could not open input", "error", err.Error())
	}
	defer in.Close()
	out, err := os.Create(*outPath)
	if err != nil {
		log.Fatal("could not create output", "error", err.Error())
	}
	defer out.Close()

	cfg := encoder.Config{
		Width:     *width,
		Height:    *height,
		BaseQP:    *qp,
		GOPSize:   *gopSize,
		Wavefront: *wavefront,
		Threads:   *threads,
		SAO:       *sao,
		SAOChroma: *sao,
		Logger:    log,
	}
	enc, err := encoder.New(cfg, encoder.NullAnalyzer{})
	if err != nil {
		log.Fatal("could not create encoder", "error", err.Error())
	}

	// Output side: encoded bytes go through a pool buffer drained by a
	// writer routine.
	buf := pool.NewBuffer(poolCapacity, poolElementSize, poolTimeout)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go output(buf, out, done, &wg, log)

	hdrs, err := enc.StreamHeaders()
	if err != nil {
		log.Fatal("could not emit stream headers", "error", err.Error())
	}
	writeAU(buf, hdrs, log)

	frameSize := *width * *height * 3 / 2
	raw := make([]byte, frameSize)
	var prev *encoder.Picture
	for n := 0; *frames == 0 || n < *frames; n++ {
		_, err := io.ReadFull(in, raw)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatal("could not read frame", "frame", n, "error", err.Error())
		}

		pic := encoder.NewPicture(*width, *height, 64)
		pic.POC = n
		copy(pic.Y, raw[:*width**height])
		copy(pic.Cb, raw[*width**height:*width**height*5/4])
		copy(pic.Cr, raw[*width**height*5/4:])

		gopIdx := n % *gopSize
		forceI := gopIdx == 0
		if !forceI && prev != nil {
			pic.RefLists[0] = []*encoder.Picture{prev}
		}

		err = enc.CompressFrame(pic, forceI, gopIdx)
		if err != nil {
			log.Fatal("could not compress frame", "POC", n, "error", err.Error())
		}
		var au nal.AccessUnit
		prev, au = enc.EncodedPicture(nil)
		writeAU(buf, au, log)
		log.Debug("frame encoded", "POC", n, "NALs", len(au))
	}

	close(done)
	wg.Wait()
	log.Info("encode complete")
}

// writeAU serialises an access unit into the output pool.
func writeAU(buf *pool.Buffer, au nal.AccessUnit, log logging.Logger) {
	b, err := au.Bytes()
	if err != nil {
		log.Fatal("could not serialise access unit", "error", err.Error())
	}
	_, err = buf.Write(b)
	if err == pool.ErrTooLong {
		log.Fatal("access unit exceeds pool element size", "bytes", len(b))
	}
	if err != nil {
		log.Fatal("could not buffer access unit", "error", err.Error())
	}
}

// output drains the pool buffer to dst until done is closed and the pool
// is empty.
func output(buf *pool.Buffer, dst io.Writer, done chan struct{}, wg *sync.WaitGroup, log logging.Logger) {
	defer wg.Done()
	for {
		chunk, err := buf.Next(poolTimeout)
		switch err {
		case nil:
			_, werr := dst.Write(chunk.Bytes())
			if werr != nil {
				log.Error("could not write to output", "error", werr.Error())
			}
			chunk.Close()
		case pool.ErrTimeout, io.EOF:
			select {
			case <-done:
				return
			default:
			}
		default:
			log.Error("unexpected pool error", "error", err.Error())
			select {
			case <-done:
				return
			default:
			}
		}
	}
}
