// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cenkalti/backoff"
	"github.com/go-lpc/haru/internal/mmap"
	"github.com/go-lpc/haru/internal/regs"
)

// Device is an AXI MCDMA engine.
//
// A Device must not be used concurrently.
type Device struct {
	msg *log.Logger
	cfg config

	mem struct {
		fd   *os.File
		maps []io.Closer
		rs   Regions
	}

	regs  [2]dirRegs
	chans []*Channel
	mask  uint32 // channel enable mask

	err error
	buf [4]byte
}

// New attaches to the engine whose registers, buffers and descriptor rings
// are exposed by rs.
// The engine is reset before New returns.
func New(rs Regions, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.nchans < 1 || cfg.nchans > regs.MaxChannels:
		return nil, fmt.Errorf("mcdma: invalid number of channels %d (max=%d)", cfg.nchans, regs.MaxChannels)
	case cfg.nslots < 1:
		return nil, fmt.Errorf("mcdma: invalid ring size %d", cfg.nslots)
	case cfg.timeout < 0:
		return nil, fmt.Errorf("mcdma: invalid timeout %v", cfg.timeout)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(io.Discard, "", 0)
	}

	for _, v := range []struct {
		name string
		r    Region
	}{
		{"control", rs.Ctrl},
		{"source", rs.Src},
		{"destination", rs.Dst},
		{"mm2s descriptor", rs.TxRing},
		{"s2mm descriptor", rs.RxRing},
	} {
		if v.r.Mem == nil {
			return nil, fmt.Errorf("mcdma: missing %s region", v.name)
		}
	}

	ringSize := cfg.nchans * cfg.nslots * regs.BD_SIZE
	for _, dir := range []Direction{MM2S, S2MM} {
		r := rs.ring(dir)
		if r.Addr&regs.BD_ALIGN != 0 {
			return nil, fmt.Errorf("mcdma: %s descriptor region 0x%08x not 64-byte aligned", dir, r.Addr)
		}
		if r.Size > 0 && r.Size < ringSize {
			return nil, fmt.Errorf(
				"mcdma: %s descriptor region too small (got=%d, want=%d)",
				dir, r.Size, ringSize,
			)
		}
	}

	dev := &Device{
		msg: cfg.msg,
		cfg: cfg,
	}
	dev.mem.rs = rs
	dev.bind(rs.Ctrl.Mem)

	dev.chans = make([]*Channel, cfg.nchans)
	for i := range dev.chans {
		ch := &Channel{dev: dev, id: i}
		for _, dir := range []Direction{MM2S, S2MM} {
			r := rs.ring(dir)
			off := int64(i * cfg.nslots * regs.BD_SIZE)
			ch.rings[dir] = ring{
				dir:  dir,
				mem:  r.Mem,
				off:  off,
				addr: r.Addr + uint32(off),
				n:    cfg.nslots,
			}
		}
		dev.chans[i] = ch
	}

	err := dev.Reset()
	if err != nil {
		return nil, fmt.Errorf("mcdma: could not reset device: %w", err)
	}

	mm2s, _ := dev.Status(MM2S)
	s2mm, _ := dev.Status(S2MM)
	if dev.err != nil {
		return nil, fmt.Errorf("mcdma: could not read device status: %w", dev.err)
	}
	if cfg.verbose {
		dev.msg.Printf("reset: mm2s={%v} s2mm={%v}", mm2s, s2mm)
	}

	return dev, nil
}

// Span is a physical memory range.
type Span struct {
	Addr uint32
	Size int
}

// Layout describes where the engine and its memory live in the physical
// address space.
type Layout struct {
	Ctrl   Span
	Src    Span
	Dst    Span
	TxRing Span
	RxRing Span
}

// Open maps the physical ranges of lay from devmem (usually /dev/mem) and
// attaches a Device to them.
func Open(devmem string, lay Layout, opts ...Option) (*Device, error) {
	f, err := os.OpenFile(devmem, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("mcdma: could not open %q: %w", devmem, err)
	}

	var maps []io.Closer
	defer func() {
		if err != nil {
			for _, m := range maps {
				_ = m.Close()
			}
			_ = f.Close()
		}
	}()

	region := func(name string, sp Span) Region {
		if err != nil {
			return Region{}
		}
		var h *mmap.Handle
		h, err = mmap.Map(f, int64(sp.Addr), sp.Size)
		if err != nil {
			err = fmt.Errorf("mcdma: could not map %s region: %w", name, err)
			return Region{}
		}
		maps = append(maps, h)
		return Region{Addr: sp.Addr, Size: sp.Size, Mem: h}
	}

	rs := Regions{
		Ctrl:   region("control", lay.Ctrl),
		Src:    region("source", lay.Src),
		Dst:    region("destination", lay.Dst),
		TxRing: region("mm2s descriptor", lay.TxRing),
		RxRing: region("s2mm descriptor", lay.RxRing),
	}
	if err != nil {
		return nil, err
	}

	dev, err := New(rs, opts...)
	if err != nil {
		return nil, err
	}
	dev.mem.fd = f
	dev.mem.maps = maps

	return dev, nil
}

// Close detaches from the engine and releases the mapped regions.
func (dev *Device) Close() error {
	var err error
	for _, m := range dev.mem.maps {
		e := m.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("mcdma: could not unmap region: %w", e)
		}
	}
	dev.mem.maps = nil

	if dev.mem.fd != nil {
		e := dev.mem.fd.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("mcdma: could not close device memory: %w", e)
		}
		dev.mem.fd = nil
	}
	return err
}

// NumChannels returns the number of channels of the device.
func (dev *Device) NumChannels() int { return len(dev.chans) }

// EnableMask returns the bitmask of configured channels.
func (dev *Device) EnableMask() uint32 { return dev.mask }

// Channel returns channel id.
func (dev *Device) Channel(id int) (*Channel, error) {
	if id < 0 || id >= len(dev.chans) {
		return nil, fmt.Errorf("mcdma: invalid channel %d (nchans=%d)", id, len(dev.chans))
	}
	return dev.chans[id], nil
}

// channel returns the configured channel id.
func (dev *Device) channel(id int) (*Channel, error) {
	ch, err := dev.Channel(id)
	if err != nil {
		return nil, err
	}
	if !ch.configured {
		return nil, fmt.Errorf("mcdma: channel %d not configured", id)
	}
	return ch, nil
}

func (dev *Device) chanRegs(dir Direction, id int) (*chanRegs, error) {
	if !dir.valid() {
		return nil, fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	if id < 0 || id >= len(dev.chans) {
		return nil, fmt.Errorf("mcdma: invalid channel %d (nchans=%d)", id, len(dev.chans))
	}
	return &dev.regs[dir].chans[id], nil
}

// Configure sets the buffer slices of channel id: capacity bytes at srcOff
// within the source region and at dstOff within the destination region.
// Configuring a channel again updates it in place.
func (dev *Device) Configure(id int, srcOff, dstOff int64, capacity int) error {
	ch, err := dev.Channel(id)
	if err != nil {
		return err
	}
	if capacity < 0 {
		return fmt.Errorf("mcdma: invalid capacity %d for channel %d", capacity, id)
	}
	for _, v := range []struct {
		name string
		r    Region
		off  int64
	}{
		{"source", dev.mem.rs.Src, srcOff},
		{"destination", dev.mem.rs.Dst, dstOff},
	} {
		if v.off < 0 || (v.r.Size > 0 && v.off+int64(capacity) > int64(v.r.Size)) {
			return fmt.Errorf(
				"mcdma: channel %d %s slice [%d, %d) out of region (size=%d)",
				id, v.name, v.off, v.off+int64(capacity), v.r.Size,
			)
		}
	}

	ch.src = window{mem: dev.mem.rs.Src.Mem, off: srcOff, addr: dev.mem.rs.Src.Addr + uint32(srcOff)}
	ch.dst = window{mem: dev.mem.rs.Dst.Mem, off: dstOff, addr: dev.mem.rs.Dst.Addr + uint32(dstOff)}
	ch.size = capacity
	ch.configured = true
	dev.mask |= 1 << id

	if dev.cfg.verbose {
		dev.msg.Printf("ch%d src=0x%08x dst=0x%08x size=0x%08x", id, ch.src.addr, ch.dst.addr, ch.size)
	}
	return nil
}

// ProgramDescriptor writes a single descriptor of length bytes for channel
// id, terminating the chain on itself. Current and tail both point to it.
func (dev *Device) ProgramDescriptor(dir Direction, id, length int) error {
	return dev.ProgramSegments(dir, id, []int{length})
}

// ProgramSegments writes one chained descriptor per segment for channel id.
// Segments are laid out back to back in the channel buffer.
func (dev *Device) ProgramSegments(dir Direction, id int, lengths []int) error {
	if !dir.valid() {
		return fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	ch, err := dev.channel(id)
	if err != nil {
		return err
	}
	return ch.program(dir, lengths)
}

// Descriptor decodes slot i of the ring of channel id.
func (dev *Device) Descriptor(dir Direction, id, i int) (Descriptor, error) {
	if !dir.valid() {
		return Descriptor{}, fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	ch, err := dev.Channel(id)
	if err != nil {
		return Descriptor{}, err
	}
	r := &ch.rings[dir]
	if i < 0 || i >= r.n {
		return Descriptor{}, fmt.Errorf("mcdma: invalid %s slot %d for channel %d", dir, i, id)
	}
	d := dev.decode(r, i)
	return d, dev.err
}

// Reset resets both directions and waits for the reset to complete.
// Resetting the transmit direction also resets the receive one.
func (dev *Device) Reset() error {
	for _, dir := range []Direction{MM2S, S2MM} {
		dev.regs[dir].ccr.w(regs.CCR_RESET)
	}
	for _, dir := range []Direction{MM2S, S2MM} {
		ccr := dev.regs[dir].ccr
		err := dev.poll(dir, "reset", func() bool {
			return ccr.r()&regs.CCR_RESET == 0
		})
		if err != nil {
			return err
		}
	}
	return dev.err
}

// Stop clears the run bit of direction dir and waits for it to halt.
func (dev *Device) Stop(dir Direction) error {
	if !dir.valid() {
		return fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	r := &dev.regs[dir]
	r.ccr.w(0)
	return dev.poll(dir, "stop", func() bool {
		return CommonStatus(r.csr.r()).Halted()
	})
}

// startHalted is the halted mask tested after setting the run bit.
// The transmit path tests the receive halted mask against the transmit
// status register. Both masks select bit 0.
var startHalted = [2]uint32{
	MM2S: regs.S2MM_HALTED,
	S2MM: regs.S2MM_HALTED,
}

// Start sets the run bit of direction dir and waits for it to leave the
// halted state.
func (dev *Device) Start(dir Direction) error {
	if !dir.valid() {
		return fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	r := &dev.regs[dir]
	r.ccr.set(regs.CCR_RS)
	return dev.poll(dir, "start", func() bool {
		return r.csr.r()&startHalted[dir] == 0
	})
}

// EnableChannels writes the channel enable register of direction dir.
func (dev *Device) EnableChannels(dir Direction, mask uint32) error {
	if !dir.valid() {
		return fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	if all := uint32(1)<<len(dev.chans) - 1; mask&^all != 0 {
		return fmt.Errorf("mcdma: invalid %s channel mask 0x%x (nchans=%d)", dir, mask, len(dev.chans))
	}
	dev.regs[dir].chen.w(mask)
	return dev.err
}

// ArmChannel loads the current descriptor of channel id and sets its run bit.
func (dev *Device) ArmChannel(dir Direction, id int) error {
	r, err := dev.chanRegs(dir, id)
	if err != nil {
		return err
	}
	ch, err := dev.channel(id)
	if err != nil {
		return err
	}
	r.curLSB.w(ch.Current(dir))
	r.curMSB.w(0)
	r.cr.set(regs.CHCR_RS)
	return dev.err
}

// ProgramTail writes the tail descriptor of channel id.
// The hardware then processes every descriptor from current to tail.
func (dev *Device) ProgramTail(dir Direction, id int) error {
	r, err := dev.chanRegs(dir, id)
	if err != nil {
		return err
	}
	ch, err := dev.channel(id)
	if err != nil {
		return err
	}
	r.tailMSB.w(0)
	r.tailLSB.w(ch.Tail(dir))
	return dev.err
}

// WaitComplete waits until direction dir is idle.
// If the direction halts without becoming idle, WaitComplete returns a
// *TransferError.
func (dev *Device) WaitComplete(dir Direction) error {
	if !dir.valid() {
		return fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	var (
		r  = &dev.regs[dir]
		st CommonStatus
	)
	err := dev.poll(dir, "wait", func() bool {
		st = CommonStatus(r.csr.r())
		return st.Idle() || st.Halted()
	})
	if err != nil {
		return err
	}
	if st.Idle() {
		return nil
	}
	return dev.transferError(dir)
}

// poll reads until done returns true, the configured timeout expires or
// a register access fails.
func (dev *Device) poll(dir Direction, op string, done func() bool) error {
	if dev.err != nil {
		return dev.err
	}

	err := backoff.Retry(func() error {
		ok := done()
		if dev.err != nil {
			return backoff.Permanent(dev.err)
		}
		if !ok {
			return errNotReady
		}
		return nil
	}, &backoff.ExponentialBackOff{
		InitialInterval:     dev.cfg.poll,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         dev.cfg.poll * 1024,
		MaxElapsedTime:      dev.cfg.timeout,
		Clock:               backoff.SystemClock,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotReady):
		return fmt.Errorf("mcdma: %s %s did not complete within %v: %w", dir, op, dev.cfg.timeout, ErrTimeout)
	default:
		return err
	}
}
