// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim simulates an AXI MCDMA engine over plain memory.
//
// An Engine implements the control register space of the engine. Buffers
// and descriptor rings are mapped into its physical address space with
// Map. Descriptor chains are serviced synchronously, when their tail
// descriptor register is written.
package sim // import "github.com/go-lpc/haru/internal/sim"

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/go-lpc/haru/internal/mmap"
	"github.com/go-lpc/haru/internal/regs"
)

// Directions of the engine.
const (
	MM2S = 0
	S2MM = 1
)

const maxChain = 1 << 16

// Write is a register write, as seen by the engine.
type Write struct {
	Off   int64
	Value uint32
}

// Fault describes an error the engine raises on the next doorbell of a
// channel.
type Fault struct {
	Errors uint32 // error register bits
	Status uint32 // descriptor status bits
}

// Stats holds the activity counters of a channel.
type Stats struct {
	Descriptors int // descriptors serviced
	Packets     int // packets transferred
	Drops       int // packets dropped
}

type window struct {
	addr uint32
	buf  []byte
}

type direction struct {
	resetting int // reads of the control register left before reset completes
	stalled   bool
	faults    map[int]Fault
	chans     [regs.MaxChannels]channel
}

type channel struct {
	stats   Stats
	waiting bool     // receive descriptors armed
	pending [][]byte // packets pushed by the stream peer
}

// Engine is a simulated MCDMA engine.
type Engine struct {
	mu   sync.Mutex
	regs [regs.CTRL_SIZE]byte
	wins []window
	log  []Write
	dirs [2]direction

	// ResetLatency is the number of reads of a common control register
	// after which a reset completes.
	ResetLatency int

	// Responder turns a transmitted packet into the packet delivered to
	// the receive side of the same channel.
	// A nil Responder loops packets back unchanged.
	Responder func(ch int, pkt []byte) []byte
}

// New returns a halted engine.
func New() *Engine {
	e := &Engine{}
	for dir := range e.dirs {
		e.dirs[dir].faults = make(map[int]Fault)
		e.clear(dir)
	}
	return e
}

// Map allocates size bytes of memory at physical address addr.
func (e *Engine) Map(addr uint32, size int) *mmap.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := make([]byte, size)
	e.wins = append(e.wins, window{addr: addr, buf: buf})
	return mmap.New(buf)
}

// Stall freezes the status of direction dir: the run bit no longer moves
// it out of the halted state, and resets never complete.
func (e *Engine) Stall(dir int, stalled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirs[dir].stalled = stalled
}

// Inject arms a fault on channel ch of direction dir.
func (e *Engine) Inject(dir, ch int, f Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirs[dir].faults[ch] = f
}

// Push queues a packet sent by the stream peer to channel ch.
func (e *Engine) Push(ch int, pkt []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rx := &e.dirs[S2MM].chans[ch]
	rx.pending = append(rx.pending, append([]byte(nil), pkt...))
	if rx.waiting {
		e.drain(ch)
	}
}

// Writes returns the register writes seen so far.
func (e *Engine) Writes() []Write {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Write(nil), e.log...)
}

// Stats returns the counters of channel ch in direction dir.
func (e *Engine) Stats(dir, ch int) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirs[dir].chans[ch].stats
}

// Reg returns the value of the register at offset off.
func (e *Engine) Reg(off int64) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.get(off)
}

// ReadAt implements io.ReaderAt over the register space.
func (e *Engine) ReadAt(p []byte, off int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(e.regs)) {
		return 0, fmt.Errorf("sim: invalid register read [%d, %d)", off, off+int64(len(p)))
	}
	if len(p) == 4 && off%4 == 0 {
		e.onRead(off)
	}
	return copy(p, e.regs[off:]), nil
}

// WriteAt implements io.WriterAt over the register space.
func (e *Engine) WriteAt(p []byte, off int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(e.regs)) {
		return 0, fmt.Errorf("sim: invalid register write [%d, %d)", off, off+int64(len(p)))
	}
	if len(p) != 4 || off%4 != 0 {
		return copy(e.regs[off:], p), nil
	}

	v := binary.LittleEndian.Uint32(p)
	e.log = append(e.log, Write{Off: off, Value: v})
	e.onWrite(off, v)
	return len(p), nil
}

func base(dir int) int64 {
	if dir == S2MM {
		return regs.S2MM_BASE
	}
	return regs.MM2S_BASE
}

func chanOff(dir, ch int) int64 {
	return base(dir) + regs.CH_BASE + int64(ch)*regs.CH_STRIDE
}

func (e *Engine) get(off int64) uint32 {
	return binary.LittleEndian.Uint32(e.regs[off:])
}

func (e *Engine) set(off int64, v uint32) {
	binary.LittleEndian.PutUint32(e.regs[off:], v)
}

func (e *Engine) or(off int64, v uint32)  { e.set(off, e.get(off)|v) }
func (e *Engine) clr(off int64, v uint32) { e.set(off, e.get(off)&^v) }
func (e *Engine) inc(off int64)           { e.set(off, e.get(off)+1) }

// clear puts direction dir in its post-reset state.
func (e *Engine) clear(dir int) {
	b := base(dir)
	for i := b; i < b+regs.S2MM_BASE; i++ {
		e.regs[i] = 0
	}
	e.set(b+regs.CSR, regs.MM2S_HALTED)
	for ch := range e.dirs[dir].chans {
		c := &e.dirs[dir].chans[ch]
		c.waiting = false
		e.set(chanOff(dir, ch)+regs.CHSR, regs.CHSR_IDLE)
	}
}

func (e *Engine) onRead(off int64) {
	for dir := range e.dirs {
		d := &e.dirs[dir]
		if off != base(dir)+regs.CCR || d.resetting == 0 || d.stalled {
			continue
		}
		d.resetting--
		if d.resetting == 0 {
			e.clr(off, regs.CCR_RESET)
		}
	}
}

func (e *Engine) onWrite(off int64, v uint32) {
	dir := MM2S
	if off >= regs.S2MM_BASE {
		dir = S2MM
	}
	rel := off - base(dir)

	switch {
	case rel == regs.CCR:
		e.writeCCR(dir, v)
	case rel >= regs.CH_BASE && rel < regs.CH_BASE+regs.MaxChannels*regs.CH_STRIDE:
		ch := int((rel - regs.CH_BASE) / regs.CH_STRIDE)
		e.writeChan(dir, ch, (rel-regs.CH_BASE)%regs.CH_STRIDE, v)
	default:
		e.set(off, v)
	}
}

func (e *Engine) writeCCR(dir int, v uint32) {
	var (
		d   = &e.dirs[dir]
		ccr = base(dir) + regs.CCR
		csr = base(dir) + regs.CSR
	)
	if v&regs.CCR_RESET != 0 {
		targets := []int{dir}
		if dir == MM2S {
			targets = []int{MM2S, S2MM}
		}
		for _, t := range targets {
			e.clear(t)
		}
		if e.ResetLatency > 0 || d.stalled {
			e.set(ccr, regs.CCR_RESET)
			d.resetting = e.ResetLatency
		}
		return
	}

	e.set(ccr, v)
	if d.stalled {
		return
	}
	if v&regs.CCR_RS == 0 {
		e.or(csr, regs.MM2S_HALTED)
		return
	}
	e.clr(csr, regs.MM2S_HALTED)
	e.updateIdle(dir)
}

func (e *Engine) updateIdle(dir int) {
	csr := base(dir) + regs.CSR
	for _, c := range e.dirs[dir].chans {
		if c.waiting {
			e.clr(csr, regs.MM2S_IDLE)
			return
		}
	}
	e.or(csr, regs.MM2S_IDLE)
}

func (e *Engine) writeChan(dir, ch int, reg int64, v uint32) {
	off := chanOff(dir, ch) + reg
	switch reg {
	case regs.CHSR:
		e.clr(off, v&regs.CHSR_IRQ_MASK)
	case regs.CHTAILDESC_LSB:
		e.set(off, v)
		e.doorbell(dir, ch)
	default:
		e.set(off, v)
	}
}

func (e *Engine) running(dir, ch int) bool {
	b := base(dir)
	return e.get(b+regs.CCR)&regs.CCR_RS != 0 &&
		e.get(b+regs.CSR)&regs.MM2S_HALTED == 0 &&
		e.get(b+regs.CHEN)&(1<<ch) != 0 &&
		e.get(chanOff(dir, ch)+regs.CHCR)&regs.CHCR_RS != 0
}

func (e *Engine) doorbell(dir, ch int) {
	if !e.running(dir, ch) {
		return
	}

	b := base(dir)
	if f, ok := e.dirs[dir].faults[ch]; ok {
		delete(e.dirs[dir].faults, ch)
		e.fail(dir, ch, f)
		return
	}

	e.or(b+regs.CHSER, 1<<ch)
	e.clr(chanOff(dir, ch)+regs.CHSR, regs.CHSR_IDLE)

	switch dir {
	case MM2S:
		e.transmit(ch)
	case S2MM:
		e.dirs[S2MM].chans[ch].waiting = true
		e.updateIdle(S2MM)
		e.drain(ch)
	}
}

// fail halts direction dir with the error state described by f.
func (e *Engine) fail(dir, ch int, f Fault) {
	b := base(dir)
	e.or(b+regs.ERR, f.Errors)
	e.clr(chanOff(dir, ch)+regs.CHSR, regs.CHSR_IDLE)
	e.or(chanOff(dir, ch)+regs.CHSR, regs.CHSR_ERR_IRQ)
	chen := e.get(b + regs.CHEN)
	for i := 0; i < regs.MaxChannels; i++ {
		if i != ch && chen&(1<<i) != 0 {
			e.or(chanOff(dir, i)+regs.CHSR, regs.CHSR_ERR_OTH_CH)
		}
	}
	if f.Status != 0 {
		tail := e.get(chanOff(dir, ch) + regs.CHTAILDESC_LSB)
		if bd, err := e.mem(tail, regs.BD_SIZE); err == nil {
			binary.LittleEndian.PutUint32(bd[statusOff(dir):], f.Status)
		}
	}
	e.dirs[dir].chans[ch].waiting = false
	e.set(b+regs.CSR, regs.MM2S_HALTED)
}

func statusOff(dir int) int64 {
	if dir == S2MM {
		return regs.S2MM_BD_STATUS
	}
	return regs.MM2S_BD_STATUS
}

func (e *Engine) mem(addr uint32, n int) ([]byte, error) {
	for _, w := range e.wins {
		if addr < w.addr {
			continue
		}
		beg := int64(addr) - int64(w.addr)
		end := beg + int64(n)
		if end > int64(len(w.buf)) {
			continue
		}
		return w.buf[beg:end], nil
	}
	return nil, fmt.Errorf("sim: no memory at 0x%08x (len=%d): %w", addr, n, io.ErrUnexpectedEOF)
}

// transmit walks the transmit chain of channel ch and delivers every
// completed packet to the receive side.
func (e *Engine) transmit(ch int) {
	var (
		c    = &e.dirs[MM2S].chans[ch]
		coff = chanOff(MM2S, ch)
		addr = e.get(coff + regs.CHCURDESC_LSB)
		tail = e.get(coff + regs.CHTAILDESC_LSB)
		pkt  []byte
	)
	for i := 0; i < maxChain; i++ {
		bd, err := e.mem(addr, regs.BD_SIZE)
		if err != nil {
			e.fail(MM2S, ch, Fault{Errors: regs.ERR_SG_DEC})
			return
		}
		ctrl := binary.LittleEndian.Uint32(bd[regs.BD_CONTROL:])
		n := int(ctrl & regs.BD_CTRL_LEN_MASK)
		data, err := e.mem(binary.LittleEndian.Uint32(bd[regs.BD_BUF_ADDR_LSB:]), n)
		if err != nil {
			e.fail(MM2S, ch, Fault{Errors: regs.ERR_DMA_DEC, Status: regs.BD_STS_DEC_ERR})
			return
		}
		pkt = append(pkt, data...)
		binary.LittleEndian.PutUint32(
			bd[regs.MM2S_BD_STATUS:],
			regs.BD_STS_COMPLETED|uint32(n)&regs.BD_STS_BYTES_MASK,
		)
		c.stats.Descriptors++

		if ctrl&regs.BD_CTRL_EOF != 0 {
			c.stats.Packets++
			e.inc(coff + regs.MM2S_CHPKTCOUNT)
			e.deliver(ch, pkt)
			pkt = nil
		}

		next := binary.LittleEndian.Uint32(bd[regs.BD_NEXT_DESC_LSB:])
		if addr == tail || next == addr {
			break
		}
		addr = next
	}

	e.set(coff+regs.CHCURDESC_LSB, addr)
	e.complete(MM2S, ch)
}

func (e *Engine) complete(dir, ch int) {
	b := base(dir)
	e.or(chanOff(dir, ch)+regs.CHSR, regs.CHSR_IOC_IRQ|regs.CHSR_IDLE)
	e.clr(b+regs.CHSER, 1<<ch)
	switch dir {
	case MM2S:
		e.or(b+regs.MM2S_CHANNELS_SERVED, 1<<ch)
	case S2MM:
		e.or(b+regs.S2MM_CHANNELS_SERVED, 1<<ch)
	}
	e.updateIdle(dir)
}

func (e *Engine) deliver(ch int, pkt []byte) {
	if e.Responder != nil {
		pkt = e.Responder(ch, pkt)
	}

	rx := &e.dirs[S2MM].chans[ch]
	if !rx.waiting || !e.running(S2MM, ch) {
		rx.stats.Drops++
		e.inc(regs.S2MM_BASE + regs.S2MM_PKTDROP)
		e.inc(chanOff(S2MM, ch) + regs.S2MM_CHPKTDROP)
		return
	}
	rx.pending = append(rx.pending, pkt)
	e.drain(ch)
}

// drain fills the receive chain of channel ch with pending packets.
func (e *Engine) drain(ch int) {
	rx := &e.dirs[S2MM].chans[ch]
	for rx.waiting && len(rx.pending) > 0 {
		pkt := rx.pending[0]
		rx.pending = rx.pending[1:]
		e.receive(ch, pkt)
	}
}

func (e *Engine) receive(ch int, pkt []byte) {
	var (
		c    = &e.dirs[S2MM].chans[ch]
		coff = chanOff(S2MM, ch)
		addr = e.get(coff + regs.CHCURDESC_LSB)
		tail = e.get(coff + regs.CHTAILDESC_LSB)
		sof  = true
	)
	for i := 0; i < maxChain; i++ {
		bd, err := e.mem(addr, regs.BD_SIZE)
		if err != nil {
			e.fail(S2MM, ch, Fault{Errors: regs.ERR_SG_DEC})
			return
		}
		ctrl := binary.LittleEndian.Uint32(bd[regs.BD_CONTROL:])
		n := int(ctrl & regs.BD_CTRL_LEN_MASK)
		if n > len(pkt) {
			n = len(pkt)
		}
		buf, err := e.mem(binary.LittleEndian.Uint32(bd[regs.BD_BUF_ADDR_LSB:]), n)
		if err != nil {
			e.fail(S2MM, ch, Fault{Errors: regs.ERR_DMA_DEC, Status: regs.BD_STS_DEC_ERR})
			return
		}
		copy(buf, pkt[:n])
		pkt = pkt[n:]

		sts := regs.BD_STS_COMPLETED | uint32(n)&regs.BD_STS_BYTES_MASK
		if sof {
			sts |= regs.S2MM_BD_STS_RXSOF
			sof = false
		}
		if len(pkt) == 0 {
			sts |= regs.S2MM_BD_STS_RXEOF
		}
		binary.LittleEndian.PutUint32(bd[regs.S2MM_BD_STATUS:], sts)
		c.stats.Descriptors++

		next := binary.LittleEndian.Uint32(bd[regs.BD_NEXT_DESC_LSB:])
		switch {
		case addr == tail || next == addr:
			c.stats.Packets++
			c.waiting = false
			e.inc(coff + regs.S2MM_CHPKTCOUNT)
			e.set(coff+regs.CHCURDESC_LSB, addr)
			e.complete(S2MM, ch)
			return
		case len(pkt) == 0:
			c.stats.Packets++
			e.inc(coff + regs.S2MM_CHPKTCOUNT)
			e.set(coff+regs.CHCURDESC_LSB, next)
			return
		}
		addr = next
	}
}
