// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"log"
	"os"
	"time"
)

type config struct {
	nchans  int // number of channels
	nslots  int // descriptor slots per channel and direction
	legacy  bool
	timeout time.Duration
	poll    time.Duration
	msg     *log.Logger
	verbose bool
}

func newConfig() config {
	return config{
		nchans:  1,
		nslots:  1,
		timeout: 1 * time.Second,
		poll:    1 * time.Microsecond,
		msg:     log.New(os.Stdout, "mcdma: ", 0),
	}
}

// Option configures a Device.
type Option func(*config)

// WithChannels sets the number of channels handled by the device.
// The default is 1.
func WithChannels(n int) Option {
	return func(cfg *config) {
		cfg.nchans = n
	}
}

// WithRingSize sets the number of descriptor slots reserved for each
// channel and direction.
// The default is 1.
func WithRingSize(n int) Option {
	return func(cfg *config) {
		cfg.nslots = n
	}
}

// WithLegacyLength accepts descriptors longer than their channel capacity.
// The violation is logged and flagged on the channel before the descriptor
// is written.
func WithLegacyLength() Option {
	return func(cfg *config) {
		cfg.legacy = true
	}
}

// WithTimeout bounds every hardware poll.
// A zero timeout polls forever.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithPollInterval sets the initial delay between two reads of a polled
// register.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithLogger sets the logger used by the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithVerbose traces every register and descriptor write.
func WithVerbose() Option {
	return func(cfg *config) {
		cfg.verbose = true
	}
}
