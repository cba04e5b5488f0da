// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-lpc/haru/internal/regs"
)

func w32(t *testing.T, e *Engine, off int64, v uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := e.WriteAt(buf[:], off)
	if err != nil {
		t.Fatalf("could not write 0x%x: %+v", off, err)
	}
}

func r32(t *testing.T, e *Engine, off int64) uint32 {
	t.Helper()
	var buf [4]byte
	_, err := e.ReadAt(buf[:], off)
	if err != nil {
		t.Fatalf("could not read 0x%x: %+v", off, err)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

type bdesc struct {
	next, buf, ctrl uint32
}

func putBD(mem []byte, off int, d bdesc) {
	binary.LittleEndian.PutUint32(mem[off+regs.BD_NEXT_DESC_LSB:], d.next)
	binary.LittleEndian.PutUint32(mem[off+regs.BD_BUF_ADDR_LSB:], d.buf)
	binary.LittleEndian.PutUint32(mem[off+regs.BD_CONTROL:], d.ctrl)
}

const (
	srcAddr  = 0x1000_0000
	dstAddr  = 0x2000_0000
	txAddr   = 0x3000_0000
	rxAddr   = 0x4000_0000
	memSize  = 0x1000
	frameAll = regs.BD_CTRL_SOF | regs.BD_CTRL_EOF
)

type bench struct {
	e              *Engine
	src, dst       []byte
	txRing, rxRing []byte
}

func newBench() *bench {
	e := New()
	for _, addr := range []uint32{srcAddr, dstAddr, txAddr, rxAddr} {
		e.Map(addr, memSize)
	}
	return &bench{
		e:      e,
		src:    e.wins[0].buf,
		dst:    e.wins[1].buf,
		txRing: e.wins[2].buf,
		rxRing: e.wins[3].buf,
	}
}

func (b *bench) run(t *testing.T, dir int, ch int) {
	t.Helper()
	w32(t, b.e, base(dir)+regs.CHEN, 1<<ch)
	w32(t, b.e, chanOff(dir, ch)+regs.CHCR, regs.CHCR_RS)
	w32(t, b.e, base(dir)+regs.CCR, regs.CCR_RS)
}

func TestReset(t *testing.T) {
	e := New()
	e.ResetLatency = 3

	if got, want := r32(t, e, regs.CSR), uint32(regs.MM2S_HALTED); got != want {
		t.Fatalf("invalid initial status: got=0x%x, want=0x%x", got, want)
	}

	w32(t, e, regs.S2MM_BASE+regs.CHEN, 0x1)
	w32(t, e, regs.MM2S_BASE+regs.CCR, regs.CCR_RESET)

	if got := e.Reg(regs.S2MM_BASE + regs.CHEN); got != 0 {
		t.Fatalf("mm2s reset did not reset s2mm: chen=0x%x", got)
	}

	reads := 0
	for r32(t, e, regs.CCR)&regs.CCR_RESET != 0 {
		reads++
		if reads > 10 {
			t.Fatalf("reset did not complete")
		}
	}
	if got, want := reads, 2; got != want {
		t.Fatalf("invalid number of reads with reset bit set: got=%d, want=%d", got, want)
	}
}

func TestStall(t *testing.T) {
	e := New()
	e.Stall(MM2S, true)

	w32(t, e, regs.CCR, regs.CCR_RS)
	if got := r32(t, e, regs.CSR); got&regs.MM2S_HALTED == 0 {
		t.Fatalf("stalled engine left halted state")
	}
	w32(t, e, regs.CCR, regs.CCR_RESET)
	for i := 0; i < 10; i++ {
		if r32(t, e, regs.CCR)&regs.CCR_RESET == 0 {
			t.Fatalf("stalled engine completed reset")
		}
	}

	e.Stall(MM2S, false)
	w32(t, e, regs.CCR, regs.CCR_RS)
	if got := r32(t, e, regs.CSR); got&regs.MM2S_HALTED != 0 {
		t.Fatalf("engine did not start")
	}
}

func TestLoopback(t *testing.T) {
	b := newBench()
	copy(b.src, "hello world")

	putBD(b.rxRing, 0, bdesc{next: rxAddr, buf: dstAddr, ctrl: frameAll | 64})
	b.run(t, S2MM, 0)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHCURDESC_LSB, rxAddr)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHTAILDESC_LSB, rxAddr)

	if got := r32(t, b.e, regs.S2MM_BASE+regs.CSR); got&regs.S2MM_IDLE != 0 {
		t.Fatalf("listening s2mm reported idle: csr=0x%x", got)
	}

	putBD(b.txRing, 0, bdesc{next: txAddr, buf: srcAddr, ctrl: frameAll | 11})
	b.run(t, MM2S, 0)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHCURDESC_LSB, txAddr)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHTAILDESC_LSB, txAddr)

	for _, dir := range []int{MM2S, S2MM} {
		if got := r32(t, b.e, base(dir)+regs.CSR); got&regs.MM2S_IDLE == 0 {
			t.Fatalf("dir=%d not idle: csr=0x%x", dir, got)
		}
		if got, want := b.e.Stats(dir, 0), (Stats{Descriptors: 1, Packets: 1}); got != want {
			t.Fatalf("dir=%d: invalid stats: got=%+v, want=%+v", dir, got, want)
		}
	}

	if got, want := b.dst[:11], []byte("hello world"); !bytes.Equal(got, want) {
		t.Fatalf("invalid loopback data: got=%q, want=%q", got, want)
	}

	txs := binary.LittleEndian.Uint32(b.txRing[regs.MM2S_BD_STATUS:])
	if got, want := txs, uint32(regs.BD_STS_COMPLETED|11); got != want {
		t.Fatalf("invalid mm2s bd status: got=0x%x, want=0x%x", got, want)
	}
	rxs := binary.LittleEndian.Uint32(b.rxRing[regs.S2MM_BD_STATUS:])
	if got, want := rxs, uint32(regs.BD_STS_COMPLETED|regs.S2MM_BD_STS_RXSOF|regs.S2MM_BD_STS_RXEOF|11); got != want {
		t.Fatalf("invalid s2mm bd status: got=0x%x, want=0x%x", got, want)
	}
	if got, want := r32(t, b.e, chanOff(MM2S, 0)+regs.MM2S_CHPKTCOUNT), uint32(1); got != want {
		t.Fatalf("invalid mm2s packet count: got=%d, want=%d", got, want)
	}
}

func TestResponder(t *testing.T) {
	b := newBench()
	b.e.Responder = func(ch int, pkt []byte) []byte {
		return bytes.ToUpper(pkt)
	}
	copy(b.src, "ping")

	putBD(b.rxRing, 0, bdesc{next: rxAddr, buf: dstAddr, ctrl: frameAll | 16})
	b.run(t, S2MM, 0)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHCURDESC_LSB, rxAddr)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHTAILDESC_LSB, rxAddr)

	putBD(b.txRing, 0, bdesc{next: txAddr, buf: srcAddr, ctrl: frameAll | 4})
	b.run(t, MM2S, 0)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHCURDESC_LSB, txAddr)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHTAILDESC_LSB, txAddr)

	if got, want := b.dst[:4], []byte("PING"); !bytes.Equal(got, want) {
		t.Fatalf("invalid response: got=%q, want=%q", got, want)
	}
}

func TestChain(t *testing.T) {
	b := newBench()
	copy(b.src, "0123456789")

	putBD(b.txRing, 0*regs.BD_SIZE, bdesc{next: txAddr + 1*regs.BD_SIZE, buf: srcAddr + 0, ctrl: regs.BD_CTRL_SOF | 4})
	putBD(b.txRing, 1*regs.BD_SIZE, bdesc{next: txAddr + 2*regs.BD_SIZE, buf: srcAddr + 4, ctrl: 4})
	putBD(b.txRing, 2*regs.BD_SIZE, bdesc{next: txAddr + 2*regs.BD_SIZE, buf: srcAddr + 8, ctrl: regs.BD_CTRL_EOF | 2})
	putBD(b.rxRing, 0, bdesc{next: rxAddr, buf: dstAddr, ctrl: frameAll | 64})

	b.run(t, S2MM, 0)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHCURDESC_LSB, rxAddr)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHTAILDESC_LSB, rxAddr)

	b.run(t, MM2S, 0)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHCURDESC_LSB, txAddr)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHTAILDESC_LSB, txAddr+2*regs.BD_SIZE)

	if got, want := b.e.Stats(MM2S, 0), (Stats{Descriptors: 3, Packets: 1}); got != want {
		t.Fatalf("invalid stats: got=%+v, want=%+v", got, want)
	}
	if got, want := b.dst[:10], []byte("0123456789"); !bytes.Equal(got, want) {
		t.Fatalf("invalid data: got=%q, want=%q", got, want)
	}
	if got, want := r32(t, b.e, chanOff(MM2S, 0)+regs.CHCURDESC_LSB), uint32(txAddr+2*regs.BD_SIZE); got != want {
		t.Fatalf("invalid current descriptor: got=0x%x, want=0x%x", got, want)
	}
}

func TestDrop(t *testing.T) {
	b := newBench()

	putBD(b.txRing, 0, bdesc{next: txAddr, buf: srcAddr, ctrl: frameAll | 8})
	b.run(t, MM2S, 0)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHCURDESC_LSB, txAddr)
	w32(t, b.e, chanOff(MM2S, 0)+regs.CHTAILDESC_LSB, txAddr)

	if got, want := b.e.Stats(S2MM, 0).Drops, 1; got != want {
		t.Fatalf("invalid drops: got=%d, want=%d", got, want)
	}
	if got, want := r32(t, b.e, regs.S2MM_BASE+regs.S2MM_PKTDROP), uint32(1); got != want {
		t.Fatalf("invalid drop register: got=%d, want=%d", got, want)
	}
	if got, want := r32(t, b.e, chanOff(S2MM, 0)+regs.S2MM_CHPKTDROP), uint32(1); got != want {
		t.Fatalf("invalid channel drop register: got=%d, want=%d", got, want)
	}
}

func TestPush(t *testing.T) {
	b := newBench()
	b.e.Push(0, []byte("early"))

	putBD(b.rxRing, 0, bdesc{next: rxAddr, buf: dstAddr, ctrl: frameAll | 64})
	b.run(t, S2MM, 0)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHCURDESC_LSB, rxAddr)
	w32(t, b.e, chanOff(S2MM, 0)+regs.CHTAILDESC_LSB, rxAddr)

	if got := r32(t, b.e, regs.S2MM_BASE+regs.CSR); got&regs.S2MM_IDLE == 0 {
		t.Fatalf("s2mm not idle after pending packet: csr=0x%x", got)
	}
	if got, want := b.dst[:5], []byte("early"); !bytes.Equal(got, want) {
		t.Fatalf("invalid data: got=%q, want=%q", got, want)
	}
}

func TestInject(t *testing.T) {
	b := newBench()
	b.e.Inject(MM2S, 1, Fault{Errors: regs.ERR_DMA_SLV, Status: regs.BD_STS_SLV_ERR})

	putBD(b.txRing, 0, bdesc{next: txAddr, buf: srcAddr, ctrl: frameAll | 8})
	w32(t, b.e, regs.CHEN, 0x3)
	w32(t, b.e, chanOff(MM2S, 1)+regs.CHCR, regs.CHCR_RS)
	w32(t, b.e, regs.CCR, regs.CCR_RS)
	w32(t, b.e, chanOff(MM2S, 1)+regs.CHCURDESC_LSB, txAddr)
	w32(t, b.e, chanOff(MM2S, 1)+regs.CHTAILDESC_LSB, txAddr)

	if got, want := r32(t, b.e, regs.CSR), uint32(regs.MM2S_HALTED); got != want {
		t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
	}
	if got, want := r32(t, b.e, regs.ERR), uint32(regs.ERR_DMA_SLV); got != want {
		t.Fatalf("invalid error register: got=0x%x, want=0x%x", got, want)
	}
	if got := r32(t, b.e, chanOff(MM2S, 1)+regs.CHSR); got&regs.CHSR_ERR_IRQ == 0 {
		t.Fatalf("missing error irq: sr=0x%x", got)
	}
	if got := r32(t, b.e, chanOff(MM2S, 0)+regs.CHSR); got&regs.CHSR_ERR_OTH_CH == 0 {
		t.Fatalf("missing error on other channel: sr=0x%x", got)
	}
	sts := binary.LittleEndian.Uint32(b.txRing[regs.MM2S_BD_STATUS:])
	if got, want := sts, uint32(regs.BD_STS_SLV_ERR); got != want {
		t.Fatalf("invalid bd status: got=0x%x, want=0x%x", got, want)
	}

	w32(t, b.e, chanOff(MM2S, 1)+regs.CHSR, regs.CHSR_IRQ_MASK)
	if got := r32(t, b.e, chanOff(MM2S, 1)+regs.CHSR); got&regs.CHSR_IRQ_MASK != 0 {
		t.Fatalf("irq bits not cleared: sr=0x%x", got)
	}
}

func TestWriteLog(t *testing.T) {
	e := New()
	w32(t, e, regs.S2MM_BASE+regs.CHEN, 0x1)
	w32(t, e, regs.CHEN, 0x1)

	want := []Write{
		{Off: regs.S2MM_BASE + regs.CHEN, Value: 1},
		{Off: regs.CHEN, Value: 1},
	}
	got := e.Writes()
	if len(got) != len(want) {
		t.Fatalf("invalid log: got=%+v, want=%+v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("invalid write %d: got=%+v, want=%+v", i, got[i], want[i])
		}
	}

	_, err := e.WriteAt(make([]byte, 4), regs.CTRL_SIZE)
	if err == nil {
		t.Fatalf("expected an error writing out of the register space")
	}
}
