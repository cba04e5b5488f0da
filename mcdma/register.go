// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/haru/internal/regs"
)

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(dev *Device, rw Memory, offset int64, name string) reg32 {
	return reg32{
		r: func() uint32 {
			return dev.readU32(rw, offset)
		},
		w: func(v uint32) {
			if dev.cfg.verbose {
				dev.msg.Printf("reg@0x%03x : 0x%08x (%s)", offset, v, name)
			}
			dev.writeU32(rw, offset, v)
		},
	}
}

// set sets the bits of mask, leaving the others untouched.
func (reg reg32) set(mask uint32) {
	reg.w(reg.r() | mask)
}

// dirRegs holds the registers of one direction.
type dirRegs struct {
	ccr   reg32
	csr   reg32
	chen  reg32
	chser reg32
	err   reg32
	drops reg32 // receive only

	chans []chanRegs
}

// chanRegs holds the registers of one channel, in one direction.
type chanRegs struct {
	cr      reg32
	sr      reg32
	curLSB  reg32
	curMSB  reg32
	tailLSB reg32
	tailMSB reg32
	pkts    reg32
	drops   reg32 // receive only
}

func chanBase(dir Direction, ch int) int64 {
	return dir.base() + regs.CH_BASE + int64(ch)*regs.CH_STRIDE
}

func (dev *Device) bind(ctrl Memory) {
	for _, dir := range []Direction{MM2S, S2MM} {
		var (
			base = dir.base()
			r    = &dev.regs[dir]
			name = func(v string) string { return dir.String() + " " + v }
		)
		r.ccr = newReg32(dev, ctrl, base+regs.CCR, name("ccr"))
		r.csr = newReg32(dev, ctrl, base+regs.CSR, name("csr"))
		r.chen = newReg32(dev, ctrl, base+regs.CHEN, name("chen"))
		r.chser = newReg32(dev, ctrl, base+regs.CHSER, name("chser"))
		r.err = newReg32(dev, ctrl, base+regs.ERR, name("err"))
		if dir == S2MM {
			r.drops = newReg32(dev, ctrl, base+regs.S2MM_PKTDROP, name("pktdrop"))
		}

		r.chans = make([]chanRegs, dev.cfg.nchans)
		for i := range r.chans {
			var (
				off = chanBase(dir, i)
				cr  = &r.chans[i]
				nch = func(v string) string { return fmt.Sprintf("%s ch%d %s", dir, i, v) }
			)
			cr.cr = newReg32(dev, ctrl, off+regs.CHCR, nch("cr"))
			cr.sr = newReg32(dev, ctrl, off+regs.CHSR, nch("sr"))
			cr.curLSB = newReg32(dev, ctrl, off+regs.CHCURDESC_LSB, nch("curdesc lsb"))
			cr.curMSB = newReg32(dev, ctrl, off+regs.CHCURDESC_MSB, nch("curdesc msb"))
			cr.tailLSB = newReg32(dev, ctrl, off+regs.CHTAILDESC_LSB, nch("taildesc lsb"))
			cr.tailMSB = newReg32(dev, ctrl, off+regs.CHTAILDESC_MSB, nch("taildesc msb"))
			switch dir {
			case MM2S:
				cr.pkts = newReg32(dev, ctrl, off+regs.MM2S_CHPKTCOUNT, nch("pktcount"))
			case S2MM:
				cr.pkts = newReg32(dev, ctrl, off+regs.S2MM_CHPKTCOUNT, nch("pktcount"))
				cr.drops = newReg32(dev, ctrl, off+regs.S2MM_CHPKTDROP, nch("pktdrop"))
			}
		}
	}
}

func (dev *Device) readU32(r io.ReaderAt, off int64) uint32 {
	if dev.err != nil {
		return 0
	}
	_, dev.err = r.ReadAt(dev.buf[:4], off)
	if dev.err != nil {
		dev.err = fmt.Errorf("mcdma: could not read register 0x%x: %w", off, dev.err)
		return 0
	}
	return binary.LittleEndian.Uint32(dev.buf[:4])
}

func (dev *Device) writeU32(w io.WriterAt, off int64, v uint32) {
	if dev.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(dev.buf[:4], v)
	_, dev.err = w.WriteAt(dev.buf[:4], off)
	if dev.err != nil {
		dev.err = fmt.Errorf("mcdma: could not write register 0x%x: %w", off, dev.err)
		return
	}
}
