// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mcdma drives an AXI multichannel DMA (MCDMA) engine operating in
// scatter-gather mode.
//
// A Device owns the control registers of the engine, the source and
// destination buffers shared by all its channels, and one descriptor ring
// per direction. Transfers are synchronous: every call blocks until the
// hardware reports completion, an error, or until the configured timeout
// expires.
package mcdma // import "github.com/go-lpc/haru/mcdma"

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/haru/internal/regs"
)

// Direction identifies one of the two data paths of the engine.
type Direction uint8

const (
	MM2S Direction = iota // transmit: memory-mapped to stream
	S2MM                  // receive: stream to memory-mapped
)

func (dir Direction) String() string {
	switch dir {
	case MM2S:
		return "mm2s"
	case S2MM:
		return "s2mm"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(dir))
	}
}

func (dir Direction) valid() bool { return dir == MM2S || dir == S2MM }

func (dir Direction) base() int64 {
	if dir == S2MM {
		return regs.S2MM_BASE
	}
	return regs.MM2S_BASE
}

// Memory is a byte-addressable view over a mapped memory range.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// Region is a mapped memory range together with the physical address the
// hardware uses to reach it.
type Region struct {
	Addr uint32 // physical address
	Size int    // size in bytes
	Mem  Memory
}

// Regions gathers the memory ranges a Device is attached to.
type Regions struct {
	Ctrl   Region // control registers
	Src    Region // transmit buffers
	Dst    Region // receive buffers
	TxRing Region // transmit descriptors
	RxRing Region // receive descriptors
}

func (rs *Regions) ring(dir Direction) *Region {
	if dir == S2MM {
		return &rs.RxRing
	}
	return &rs.TxRing
}

var (
	// ErrLengthExceedsCapacity is returned when a descriptor would
	// describe more bytes than its channel buffer holds.
	ErrLengthExceedsCapacity = errors.New("mcdma: length exceeds channel capacity")

	// ErrTimeout is returned when the hardware did not reach an
	// expected state in time.
	ErrTimeout = errors.New("mcdma: timeout")

	errNotReady = errors.New("mcdma: not ready")
)
