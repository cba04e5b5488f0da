// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/haru/config"
	"github.com/go-lpc/haru/mcdma"
)

func newContext(ctx context.Context) tdaq.Context {
	return tdaq.Context{
		Ctx: ctx,
		Msg: log.NewMsgStream("mcdma-tdaq", log.LvlError, io.Discard),
	}
}

func configFrame(ch, rx, freq uint32, msg string) tdaq.Frame {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(ch)
	enc.WriteU32(rx)
	enc.WriteU32(freq)
	enc.WriteStr(msg)
	return tdaq.Frame{Body: buf.Bytes()}
}

func TestNode(t *testing.T) {
	cfg := config.Default()
	cfg.Sim = true
	cfg.Channels.N = 2

	var (
		dev  = newNode("mcdma-tdaq", cfg)
		ctx  = newContext(context.Background())
		resp tdaq.Frame
	)

	for _, tc := range []struct {
		name string
		fct  func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
		req  tdaq.Frame
		err  string
	}{
		{"start-before-init", dev.OnStart, tdaq.Frame{}, "device not initialized"},
		{"reset-before-init", dev.OnReset, tdaq.Frame{}, "device not initialized"},
		{"init", dev.OnInit, tdaq.Frame{}, ""},
		{"start-before-config", dev.OnStart, tdaq.Frame{}, "query not configured"},
		{"config-invalid-channel", dev.OnConfig, configFrame(2, 16, 0, "x"), "invalid channel 2 (nchans=2)"},
		{"config", dev.OnConfig, configFrame(1, 64, 10, "adc?"), ""},
		{"reset", dev.OnReset, tdaq.Frame{}, ""},
		{"start", dev.OnStart, tdaq.Frame{}, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fct(ctx, &resp, tc.req)
			switch {
			case tc.err != "":
				if err == nil || err.Error() != tc.err {
					t.Fatalf("invalid error: got=%v, want=%q", err, tc.err)
				}
			case err != nil:
				t.Fatalf("could not run command: %+v", err)
			}
		})
	}

	if got, want := dev.query.freq, 10*time.Microsecond; got != want {
		t.Fatalf("invalid period: got=%v, want=%v", got, want)
	}

	for i := 0; i < 3; i++ {
		err := dev.poll()
		if err != nil {
			t.Fatalf("could not poll device: %+v", err)
		}

		var frame tdaq.Frame
		err = dev.output(ctx, &frame)
		if err != nil {
			t.Fatalf("could not read output: %+v", err)
		}
		if got, want := string(frame.Body), "adc?"; got != want {
			t.Fatalf("invalid response %d: got=%q, want=%q", i, got, want)
		}
	}

	err := dev.OnStop(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not stop: %+v", err)
	}
	if got, want := dev.n, 3; got != want {
		t.Fatalf("invalid number of queries: got=%d, want=%d", got, want)
	}

	// no query outside of a run.
	err = dev.poll()
	if err != nil {
		t.Fatalf("could not poll device: %+v", err)
	}
	if got, want := len(dev.data), 0; got != want {
		t.Fatalf("invalid output queue: got=%d, want=%d", got, want)
	}

	err = dev.OnQuit(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not quit: %+v", err)
	}
	if dev.dev != nil {
		t.Fatalf("device not released")
	}
}

func TestNodeCapacity(t *testing.T) {
	cfg := config.Default()
	cfg.Sim = true
	cfg.Channels.Capacity = 16

	dev := newNode("mcdma-tdaq", cfg)
	err := dev.OnConfig(newContext(context.Background()), new(tdaq.Frame), configFrame(0, 32, 0, "x"))
	if !errors.Is(err, mcdma.ErrLengthExceedsCapacity) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestNodeRun(t *testing.T) {
	cfg := config.Default()
	cfg.Sim = true

	var (
		dev  = newNode("mcdma-tdaq", cfg)
		resp tdaq.Frame
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tctx := newContext(ctx)

	err := dev.OnInit(tctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}
	err = dev.OnConfig(tctx, &resp, configFrame(0, 8, 1000, "ping"))
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	err = dev.OnStart(tctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	done := make(chan error, 1)
	go func() { done <- dev.run(tctx) }()

	var frame tdaq.Frame
	err = dev.output(tctx, &frame)
	if err != nil {
		t.Fatalf("could not read output: %+v", err)
	}
	if got, want := string(frame.Body), "ping"; got != want {
		t.Fatalf("invalid response: got=%q, want=%q", got, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("could not run: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run loop did not stop")
	}

	_ = dev.OnQuit(tctx, &resp, tdaq.Frame{})
}
