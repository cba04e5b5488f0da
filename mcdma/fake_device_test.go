// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/go-lpc/haru/internal/mmap"
	"github.com/go-lpc/haru/internal/regs"
	"github.com/go-lpc/haru/internal/sim"
)

const (
	srcAddr = 0x1000_0000
	dstAddr = 0x1100_0000
	txAddr  = 0x1200_0000
	rxAddr  = 0x1300_0000
	bufSize = 0x10000
)

var discard = log.New(io.Discard, "mcdma: ", 0)

// newSimDevice returns a device attached to a simulated engine.
func newSimDevice(t *testing.T, opts ...Option) (*Device, *sim.Engine) {
	t.Helper()

	e := sim.New()
	rs := Regions{
		Ctrl:   Region{Addr: 0x4000_0000, Size: regs.CTRL_SIZE, Mem: e},
		Src:    Region{Addr: srcAddr, Size: bufSize, Mem: e.Map(srcAddr, bufSize)},
		Dst:    Region{Addr: dstAddr, Size: bufSize, Mem: e.Map(dstAddr, bufSize)},
		TxRing: Region{Addr: txAddr, Size: bufSize, Mem: e.Map(txAddr, bufSize)},
		RxRing: Region{Addr: rxAddr, Size: bufSize, Mem: e.Map(rxAddr, bufSize)},
	}

	dev, err := New(rs, append([]Option{WithLogger(discard)}, opts...)...)
	if err != nil {
		t.Fatalf("could not create simulated device: %+v", err)
	}
	return dev, e
}

// fakeBus is a register file that records accesses and can replay
// scripted read values.
// Reset bits written to a common control register clear immediately.
type fakeBus struct {
	mu     sync.Mutex
	regs   map[int64]uint32
	script map[int64][]uint32
	reads  []int64
	writes []sim.Write
	err    error // error returned by every access, when set
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		regs:   make(map[int64]uint32),
		script: make(map[int64][]uint32),
	}
}

func (bus *fakeBus) ReadAt(p []byte, off int64) (int, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.err != nil {
		return 0, bus.err
	}
	if len(p) != 4 {
		return 0, fmt.Errorf("fake: invalid read size %d", len(p))
	}
	bus.reads = append(bus.reads, off)
	v := bus.regs[off]
	if vs := bus.script[off]; len(vs) > 0 {
		v = vs[0]
		bus.script[off] = vs[1:]
	}
	binary.LittleEndian.PutUint32(p, v)
	return 4, nil
}

func (bus *fakeBus) WriteAt(p []byte, off int64) (int, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.err != nil {
		return 0, bus.err
	}
	if len(p) != 4 {
		return 0, fmt.Errorf("fake: invalid write size %d", len(p))
	}
	v := binary.LittleEndian.Uint32(p)
	bus.writes = append(bus.writes, sim.Write{Off: off, Value: v})
	if off == regs.MM2S_BASE+regs.CCR || off == regs.S2MM_BASE+regs.CCR {
		v &^= regs.CCR_RESET
	}
	bus.regs[off] = v
	return 4, nil
}

func (bus *fakeBus) count(off int64) int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	n := 0
	for _, v := range bus.reads {
		if v == off {
			n++
		}
	}
	return n
}

func (bus *fakeBus) clear() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.reads = nil
	bus.writes = nil
}

type fakeMem struct {
	*mmap.Handle
	buf     []byte
	onWrite func(p []byte, off int64)
}

func newFakeMem(size int) *fakeMem {
	buf := make([]byte, size)
	return &fakeMem{Handle: mmap.New(buf), buf: buf}
}

func (m *fakeMem) WriteAt(p []byte, off int64) (int, error) {
	if m.onWrite != nil {
		m.onWrite(p, off)
	}
	return m.Handle.WriteAt(p, off)
}

type fakeDevice struct {
	bus    *fakeBus
	src    *fakeMem
	dst    *fakeMem
	txRing *fakeMem
	rxRing *fakeMem
}

func (fd *fakeDevice) regions() Regions {
	return Regions{
		Ctrl:   Region{Addr: 0x4000_0000, Size: regs.CTRL_SIZE, Mem: fd.bus},
		Src:    Region{Addr: srcAddr, Size: bufSize, Mem: fd.src},
		Dst:    Region{Addr: dstAddr, Size: bufSize, Mem: fd.dst},
		TxRing: Region{Addr: txAddr, Size: bufSize, Mem: fd.txRing},
		RxRing: Region{Addr: rxAddr, Size: bufSize, Mem: fd.rxRing},
	}
}

// newFakeDevice returns a device attached to a scripted register bus.
func newFakeDevice(t *testing.T, opts ...Option) (*Device, *fakeDevice) {
	t.Helper()

	fd := &fakeDevice{
		bus:    newFakeBus(),
		src:    newFakeMem(bufSize),
		dst:    newFakeMem(bufSize),
		txRing: newFakeMem(bufSize),
		rxRing: newFakeMem(bufSize),
	}

	dev, err := New(fd.regions(), append([]Option{WithLogger(discard)}, opts...)...)
	if err != nil {
		t.Fatalf("could not create fake device: %+v", err)
	}
	fd.bus.clear()
	return dev, fd
}
