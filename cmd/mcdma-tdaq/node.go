// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/haru/config"
	"github.com/go-lpc/haru/internal/sim"
	"github.com/go-lpc/haru/mcdma"
)

// node runs queries on an MCDMA channel on behalf of a TDAQ run control.
type node struct {
	name string
	cfg  config.Config

	mu  sync.Mutex
	dev *mcdma.Device
	eng *sim.Engine

	query struct {
		ch   int
		tx   int    // transmit length
		rx   int    // receive length
		req  []byte // request payload, copied into the source buffer
		freq time.Duration
	}

	running bool
	n       int // number of queries sent during the current run
	data    chan []byte
}

func newNode(name string, cfg config.Config) *node {
	dev := &node{name: name, cfg: cfg}
	dev.query.freq = 100 * time.Millisecond
	return dev
}

// OnConfig decodes the query to run: channel, receive length, period (in
// microseconds) and request payload.
func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
	var (
		ch   = int(dec.ReadU32())
		rx   = int(dec.ReadU32())
		freq = time.Duration(dec.ReadU32()) * time.Microsecond
		msg  = dec.ReadStr()
	)

	if ch >= dev.cfg.Channels.N {
		ctx.Msg.Errorf("invalid channel %d (nchans=%d)", ch, dev.cfg.Channels.N)
		return fmt.Errorf("invalid channel %d (nchans=%d)", ch, dev.cfg.Channels.N)
	}
	if len(msg) > dev.cfg.Channels.Capacity || rx > dev.cfg.Channels.Capacity {
		ctx.Msg.Errorf("query (tx=%d, rx=%d) exceeds channel capacity (%d)", len(msg), rx, dev.cfg.Channels.Capacity)
		return fmt.Errorf("query (tx=%d, rx=%d) exceeds channel capacity (%d): %w",
			len(msg), rx, dev.cfg.Channels.Capacity, mcdma.ErrLengthExceedsCapacity,
		)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.query.ch = ch
	dev.query.tx = len(msg)
	dev.query.rx = rx
	dev.query.req = []byte(msg)
	if freq > 0 {
		dev.query.freq = freq
	}
	ctx.Msg.Infof("query: ch=%d tx=%d rx=%d freq=%v", ch, dev.query.tx, rx, dev.query.freq)
	return nil
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.dev != nil {
		_ = dev.dev.Close()
		dev.dev = nil
	}

	d, eng, err := dev.cfg.NewDevice(nil)
	if err != nil {
		ctx.Msg.Errorf("could not open device: %+v", err)
		return fmt.Errorf("could not open device: %w", err)
	}
	dev.dev = d
	dev.eng = eng
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.dev == nil {
		return fmt.Errorf("device not initialized")
	}
	err := dev.dev.Reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset device: %+v", err)
		return fmt.Errorf("could not reset device: %w", err)
	}
	dev.running = false
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.dev == nil {
		return fmt.Errorf("device not initialized")
	}
	if dev.query.rx == 0 {
		return fmt.Errorf("query not configured")
	}
	dev.running = true
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.running = false
	ctx.Msg.Debugf("received /stop command... -> n=%d", dev.n)
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.running = false
	if dev.dev == nil {
		return nil
	}
	err := dev.dev.Close()
	dev.dev = nil
	if err != nil {
		return fmt.Errorf("could not close device: %w", err)
	}
	return nil
}

func (dev *node) output(ctx tdaq.Context, dst *tdaq.Frame) error {
	dev.mu.Lock()
	data := dev.data
	dev.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-data:
		dst.Body = raw
	}
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
			err := dev.poll()
			if err != nil {
				ctx.Msg.Errorf("could not run query: %+v", err)
			}
		}

		dev.mu.Lock()
		freq := dev.query.freq
		dev.mu.Unlock()
		time.Sleep(freq)
	}
}

// poll runs one query when a run is in progress.
func (dev *node) poll() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if !dev.running || dev.dev == nil {
		return nil
	}

	q := dev.query
	ch, err := dev.dev.Channel(q.ch)
	if err != nil {
		return err
	}
	_, err = ch.WriteSource(q.req)
	if err != nil {
		return err
	}

	_, rx, err := dev.dev.Query(q.ch, q.tx, q.rx)
	if err != nil {
		return err
	}

	raw := make([]byte, rx.Bytes)
	_, err = ch.ReadDestination(raw)
	if err != nil {
		return err
	}

	select {
	case dev.data <- raw:
		dev.n++
	default:
		return fmt.Errorf("output queue full, dropping response %d", dev.n)
	}
	return nil
}
