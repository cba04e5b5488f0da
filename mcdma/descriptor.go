// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"github.com/go-lpc/haru/internal/regs"
)

// MaxLength is the largest number of bytes a single descriptor can describe.
const MaxLength = regs.BD_CTRL_LEN_MASK

// Descriptor is the decoded content of a buffer descriptor slot.
type Descriptor struct {
	Next   int    // slot index of the next descriptor, -1 if outside the ring
	Buffer uint32 // physical address of the data buffer
	Length int
	SOF    bool // start of frame
	EOF    bool // end of frame
	Tag    uint8
}

// ring is a fixed arena of descriptor slots, for one channel and one
// direction.
// Slots are addressed by index. Physical addresses only appear when a slot
// is written to memory.
type ring struct {
	dir  Direction
	mem  Memory
	off  int64  // offset of slot 0 within mem
	addr uint32 // physical address of slot 0
	n    int    // number of slots
}

func (r *ring) slotAddr(i int) uint32 {
	return r.addr + uint32(i*regs.BD_SIZE)
}

func (r *ring) slotOff(i int) int64 {
	return r.off + int64(i*regs.BD_SIZE)
}

// index returns the slot index of the physical address addr.
func (r *ring) index(addr uint32) int {
	if addr < r.addr {
		return -1
	}
	d := addr - r.addr
	if d%regs.BD_SIZE != 0 {
		return -1
	}
	i := int(d / regs.BD_SIZE)
	if i >= r.n {
		return -1
	}
	return i
}

func (r *ring) statusOff(i int) int64 {
	if r.dir == S2MM {
		return r.slotOff(i) + regs.S2MM_BD_STATUS
	}
	return r.slotOff(i) + regs.MM2S_BD_STATUS
}

// bd is a descriptor to be written.
// A descriptor whose next slot is itself terminates the chain.
type bd struct {
	next   int
	buf    uint32
	length uint32
	sof    bool
	eof    bool
	tag    uint8
}

func (d bd) control() uint32 {
	v := d.length & regs.BD_CTRL_LEN_MASK
	if d.sof {
		v |= regs.BD_CTRL_SOF
	}
	if d.eof {
		v |= regs.BD_CTRL_EOF
	}
	return v
}

// encode writes the descriptor d into slot i of r and clears its status.
func (dev *Device) encode(r *ring, i int, d bd) error {
	var (
		off  = r.slotOff(i)
		addr = r.slotAddr(i)
		w    = func(field int64, v uint32, name string) {
			if dev.cfg.verbose {
				dev.msg.Printf("bd@0x%08x : 0x%08x (%s %s)", addr+uint32(field), v, r.dir, name)
			}
			dev.writeU32(r.mem, off+field, v)
		}
	)

	w(regs.BD_NEXT_DESC_LSB, r.slotAddr(d.next), "next")
	w(regs.BD_NEXT_DESC_MSB, 0, "next msb")
	w(regs.BD_BUF_ADDR_LSB, d.buf, "buffer")
	w(regs.BD_BUF_ADDR_MSB, 0, "buffer msb")
	w(regs.BD_CONTROL, d.control(), "control")
	switch r.dir {
	case MM2S:
		w(regs.MM2S_BD_CONTROL_SIDEBAND, uint32(d.tag&1)<<regs.MM2S_BD_SIDEBAND_TID_SHIFT, "tid")
		w(regs.MM2S_BD_STATUS, 0, "status")
	case S2MM:
		w(regs.S2MM_BD_STATUS, 0, "status")
	}
	return dev.err
}

// decode reads back the descriptor programmed in slot i of r.
func (dev *Device) decode(r *ring, i int) Descriptor {
	off := r.slotOff(i)
	ctrl := dev.readU32(r.mem, off+regs.BD_CONTROL)
	d := Descriptor{
		Next:   r.index(dev.readU32(r.mem, off+regs.BD_NEXT_DESC_LSB)),
		Buffer: dev.readU32(r.mem, off+regs.BD_BUF_ADDR_LSB),
		Length: int(ctrl & regs.BD_CTRL_LEN_MASK),
		SOF:    ctrl&regs.BD_CTRL_SOF != 0,
		EOF:    ctrl&regs.BD_CTRL_EOF != 0,
	}
	if r.dir == MM2S {
		tid := dev.readU32(r.mem, off+regs.MM2S_BD_CONTROL_SIDEBAND)
		d.Tag = uint8(tid >> regs.MM2S_BD_SIDEBAND_TID_SHIFT)
	}
	return d
}

func (dev *Device) bdStatus(r *ring, i int) BDStatus {
	return decodeBDStatus(r.dir, dev.readU32(r.mem, r.statusOff(i)))
}
