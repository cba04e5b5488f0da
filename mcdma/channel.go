// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"fmt"
)

// Channel is an independent stream context of the engine.
type Channel struct {
	dev *Device
	id  int

	configured bool

	src  window // transmit buffer slice
	dst  window // receive buffer slice
	size int    // buffer capacity, in bytes
	tag  uint8  // stream tag of transmit descriptors

	rings [2]ring
	cur   [2]int // current descriptor slot, per direction
	tail  [2]int // tail descriptor slot, per direction

	violation [2]bool
}

type window struct {
	mem  Memory
	off  int64  // offset within the shared buffer region
	addr uint32 // physical address
}

// ID returns the channel index.
func (ch *Channel) ID() int { return ch.id }

// Capacity returns the size of the channel buffers.
func (ch *Channel) Capacity() int { return ch.size }

// SourceAddr returns the physical address of the transmit buffer.
func (ch *Channel) SourceAddr() uint32 { return ch.src.addr }

// DestinationAddr returns the physical address of the receive buffer.
func (ch *Channel) DestinationAddr() uint32 { return ch.dst.addr }

// Current returns the physical address of the current descriptor.
func (ch *Channel) Current(dir Direction) uint32 {
	return ch.rings[dir].slotAddr(ch.cur[dir])
}

// Tail returns the physical address of the tail descriptor.
func (ch *Channel) Tail(dir Direction) uint32 {
	return ch.rings[dir].slotAddr(ch.tail[dir])
}

// LengthViolation reports whether the last descriptor programmed in
// direction dir exceeded the channel capacity.
func (ch *Channel) LengthViolation(dir Direction) bool {
	return ch.violation[dir]
}

// SetTag sets the stream tag carried by transmit descriptors.
func (ch *Channel) SetTag(tag uint8) { ch.tag = tag & 1 }

// WriteSource copies p at the start of the transmit buffer.
func (ch *Channel) WriteSource(p []byte) (int, error) {
	if !ch.configured {
		return 0, fmt.Errorf("mcdma: channel %d not configured", ch.id)
	}
	if len(p) > ch.size {
		return 0, fmt.Errorf("mcdma: could not write %d bytes to channel %d: %w", len(p), ch.id, ErrLengthExceedsCapacity)
	}
	n, err := ch.src.mem.WriteAt(p, ch.src.off)
	if err != nil {
		return n, fmt.Errorf("mcdma: could not write channel %d source buffer: %w", ch.id, err)
	}
	return n, nil
}

// ReadDestination copies the start of the receive buffer into p.
func (ch *Channel) ReadDestination(p []byte) (int, error) {
	if !ch.configured {
		return 0, fmt.Errorf("mcdma: channel %d not configured", ch.id)
	}
	if len(p) > ch.size {
		p = p[:ch.size]
	}
	n, err := ch.dst.mem.ReadAt(p, ch.dst.off)
	if err != nil {
		return n, fmt.Errorf("mcdma: could not read channel %d destination buffer: %w", ch.id, err)
	}
	return n, nil
}

func (ch *Channel) window(dir Direction) window {
	if dir == S2MM {
		return ch.dst
	}
	return ch.src
}

// check validates the segment lengths of a transfer in direction dir and
// raises the length-violation flag when they exceed the channel capacity.
// Exceeding the capacity is an error unless the legacy policy is in use.
func (ch *Channel) check(dir Direction, lengths []int) error {
	ring := &ch.rings[dir]
	switch {
	case len(lengths) == 0:
		return fmt.Errorf("mcdma: no %s segment for channel %d", dir, ch.id)
	case len(lengths) > ring.n:
		return fmt.Errorf(
			"mcdma: %d %s segments for channel %d exceed ring size %d",
			len(lengths), dir, ch.id, ring.n,
		)
	}
	total := 0
	for _, n := range lengths {
		if n < 0 || n > MaxLength {
			return fmt.Errorf("mcdma: invalid %s segment length %d for channel %d", dir, n, ch.id)
		}
		total += n
	}

	ch.violation[dir] = total > ch.size
	if ch.violation[dir] && !ch.dev.cfg.legacy {
		return fmt.Errorf(
			"mcdma: could not program %s channel %d with %d bytes (capacity=%d): %w",
			dir, ch.id, total, ch.size, ErrLengthExceedsCapacity,
		)
	}
	return nil
}

// program writes one descriptor per segment into the ring of direction dir,
// chained by slot index, and moves the current/tail pointers to the first
// and last of them.
func (ch *Channel) program(dir Direction, lengths []int) error {
	var (
		dev  = ch.dev
		ring = &ch.rings[dir]
		win  = ch.window(dir)
	)
	err := ch.check(dir, lengths)
	if err != nil {
		return err
	}
	if ch.violation[dir] {
		total := 0
		for _, n := range lengths {
			total += n
		}
		dev.msg.Printf(
			"%s channel %d: length (0x%08x) greater than buffer size (0x%08x)",
			dir, ch.id, total, ch.size,
		)
	}

	var (
		last = len(lengths) - 1
		addr = win.addr
	)
	for i, n := range lengths {
		next := i + 1
		if i == last {
			next = i
		}
		err := dev.encode(ring, i, bd{
			next:   next,
			buf:    addr,
			length: uint32(n),
			sof:    i == 0,
			eof:    i == last,
			tag:    ch.tag,
		})
		if err != nil {
			return fmt.Errorf("mcdma: could not write %s descriptor %d of channel %d: %w", dir, i, ch.id, err)
		}
		addr += uint32(n)
	}

	ch.cur[dir] = 0
	ch.tail[dir] = last
	return nil
}
