// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/go-lpc/haru/internal/regs"
)

// CommonStatus is the content of a direction's common status register.
type CommonStatus uint32

func (st CommonStatus) Halted() bool { return st&regs.MM2S_HALTED != 0 }
func (st CommonStatus) Idle() bool   { return st&regs.MM2S_IDLE != 0 }

func (st CommonStatus) String() string {
	return fmt.Sprintf("halted=%d idle=%d", bit(st.Halted()), bit(st.Idle()))
}

// ErrorFlags is the content of a direction's error register.
type ErrorFlags uint32

const (
	DMAInternalError ErrorFlags = regs.ERR_DMA_INTR
	DMASlaveError    ErrorFlags = regs.ERR_DMA_SLV
	DMADecodeError   ErrorFlags = regs.ERR_DMA_DEC
	SGInternalError  ErrorFlags = regs.ERR_SG_INT
	SGSlaveError     ErrorFlags = regs.ERR_SG_SLV
	SGDecodeError    ErrorFlags = regs.ERR_SG_DEC
)

var errorNames = []struct {
	f    ErrorFlags
	name string
}{
	{DMAInternalError, "dma-internal"},
	{DMASlaveError, "dma-slave"},
	{DMADecodeError, "dma-decode"},
	{SGInternalError, "sg-internal"},
	{SGSlaveError, "sg-slave"},
	{SGDecodeError, "sg-decode"},
}

// Has reports whether all the flags of f are set.
func (flags ErrorFlags) Has(f ErrorFlags) bool { return flags&f == f }

func (flags ErrorFlags) String() string {
	var o []string
	for _, v := range errorNames {
		if flags.Has(v.f) {
			o = append(o, v.name)
		}
	}
	return "[" + strings.Join(o, "|") + "]"
}

// ChannelStatus is the content of a channel status register.
type ChannelStatus uint32

const (
	ChanIdle           ChannelStatus = regs.CHSR_IDLE
	ChanErrOtherChan   ChannelStatus = regs.CHSR_ERR_OTH_CH
	ChanCompletionIRQ  ChannelStatus = regs.CHSR_IOC_IRQ
	ChanDelayIRQ       ChannelStatus = regs.CHSR_DLY_IRQ
	ChanErrorIRQ       ChannelStatus = regs.CHSR_ERR_IRQ
	chanIRQMask        ChannelStatus = regs.CHSR_IRQ_MASK
	chanStatusReserved ChannelStatus = ^(ChanIdle | ChanErrOtherChan | chanIRQMask)
)

var chanNames = []struct {
	f    ChannelStatus
	name string
}{
	{ChanIdle, "idle"},
	{ChanErrOtherChan, "err-other-chan"},
	{ChanCompletionIRQ, "ioc-irq"},
	{ChanDelayIRQ, "delay-irq"},
	{ChanErrorIRQ, "err-irq"},
}

// Has reports whether all the bits of f are set.
func (st ChannelStatus) Has(f ChannelStatus) bool { return st&f == f }

func (st ChannelStatus) String() string {
	var o []string
	for _, v := range chanNames {
		if st.Has(v.f) {
			o = append(o, v.name)
		}
	}
	if v := st & chanStatusReserved; v != 0 {
		o = append(o, fmt.Sprintf("0x%x", uint32(v)))
	}
	return "[" + strings.Join(o, "|") + "]"
}

// BDStatus is the completion status the hardware writes back into a
// buffer descriptor.
type BDStatus struct {
	Bytes         int // bytes transferred
	Completed     bool
	InternalError bool
	SlaveError    bool
	DecodeError   bool
	FrameStart    bool // receive only
	FrameEnd      bool // receive only

	// Word is the raw status word.
	// Bit 28 is decoded as FrameEnd on receive descriptors, where the
	// hardware also uses it to flag internal errors.
	Word uint32
}

// Failed reports whether any error bit is set.
func (st BDStatus) Failed() bool {
	return st.InternalError || st.SlaveError || st.DecodeError
}

func (st BDStatus) String() string {
	return fmt.Sprintf(
		"bytes=%d completed=%d internal=%d slave=%d decode=%d sof=%d eof=%d",
		st.Bytes, bit(st.Completed),
		bit(st.InternalError), bit(st.SlaveError), bit(st.DecodeError),
		bit(st.FrameStart), bit(st.FrameEnd),
	)
}

// decodeBDStatus decodes a descriptor status word.
// On receive descriptors bit 28 flags the end of frame, so internal errors
// are only reported through the error register.
func decodeBDStatus(dir Direction, v uint32) BDStatus {
	st := BDStatus{
		Word:        v,
		Bytes:       int(v & regs.BD_STS_BYTES_MASK),
		Completed:   v&regs.BD_STS_COMPLETED != 0,
		SlaveError:  v&regs.BD_STS_SLV_ERR != 0,
		DecodeError: v&regs.BD_STS_DEC_ERR != 0,
	}
	switch dir {
	case MM2S:
		st.InternalError = v&regs.BD_STS_INT_ERR != 0
	case S2MM:
		st.FrameStart = v&regs.S2MM_BD_STS_RXSOF != 0
		st.FrameEnd = v&regs.S2MM_BD_STS_RXEOF != 0
	}
	return st
}

// ChannelReport is the state of one enabled channel after a failed transfer.
type ChannelReport struct {
	ID         int
	Status     ChannelStatus
	Descriptor BDStatus // status of the channel's tail descriptor
}

// TransferError describes a transfer the hardware halted with an error.
type TransferError struct {
	Dir        Direction
	Channel    int // first channel with its error interrupt raised
	Errors     ErrorFlags
	Channels   []ChannelReport // every enabled channel
	Descriptor BDStatus        // tail descriptor status of Channel
}

func (e *TransferError) Error() string {
	return fmt.Sprintf(
		"mcdma: %s transfer failed on channel %d: errors=%v bd={%v}",
		e.Dir, e.Channel, e.Errors, e.Descriptor,
	)
}

// transferError samples the error state of direction dir.
func (dev *Device) transferError(dir Direction) error {
	var (
		r    = &dev.regs[dir]
		chen = r.chen.r()
		terr = &TransferError{
			Dir:     dir,
			Channel: -1,
			Errors:  ErrorFlags(r.err.r()),
		}
	)
	for _, ch := range dev.chans {
		if chen&(1<<ch.id) == 0 {
			continue
		}
		rep := ChannelReport{
			ID:         ch.id,
			Status:     ChannelStatus(r.chans[ch.id].sr.r()),
			Descriptor: dev.bdStatus(&ch.rings[dir], ch.tail[dir]),
		}
		terr.Channels = append(terr.Channels, rep)
		if terr.Channel < 0 && rep.Status.Has(ChanErrorIRQ) {
			terr.Channel = rep.ID
			terr.Descriptor = rep.Descriptor
		}
	}
	if terr.Channel < 0 && len(terr.Channels) > 0 {
		terr.Channel = terr.Channels[0].ID
		terr.Descriptor = terr.Channels[0].Descriptor
	}
	if dev.err != nil {
		return fmt.Errorf("mcdma: could not decode %s error state: %w", dir, dev.err)
	}
	return terr
}

// Status returns the common status of direction dir.
func (dev *Device) Status(dir Direction) (CommonStatus, error) {
	if !dir.valid() {
		return 0, fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	st := CommonStatus(dev.regs[dir].csr.r())
	return st, dev.err
}

// Errors returns the error register of direction dir.
func (dev *Device) Errors(dir Direction) (ErrorFlags, error) {
	if !dir.valid() {
		return 0, fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	v := ErrorFlags(dev.regs[dir].err.r())
	return v, dev.err
}

// ChannelStatus returns the status register of channel id.
func (dev *Device) ChannelStatus(dir Direction, id int) (ChannelStatus, error) {
	r, err := dev.chanRegs(dir, id)
	if err != nil {
		return 0, err
	}
	st := ChannelStatus(r.sr.r())
	return st, dev.err
}

// ClearChannelStatus acknowledges the interrupt bits of channel id.
func (dev *Device) ClearChannelStatus(dir Direction, id int) error {
	r, err := dev.chanRegs(dir, id)
	if err != nil {
		return err
	}
	r.sr.w(regs.CHSR_IRQ_MASK)
	return dev.err
}

// DescriptorStatus returns the status of the tail descriptor of channel id.
func (dev *Device) DescriptorStatus(dir Direction, id int) (BDStatus, error) {
	ch, err := dev.channel(id)
	if err != nil {
		return BDStatus{}, err
	}
	if !dir.valid() {
		return BDStatus{}, fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	st := dev.bdStatus(&ch.rings[dir], ch.tail[dir])
	return st, dev.err
}

// SegmentStatus returns the status of slot i of channel id's ring.
func (dev *Device) SegmentStatus(dir Direction, id, i int) (BDStatus, error) {
	ch, err := dev.channel(id)
	if err != nil {
		return BDStatus{}, err
	}
	if !dir.valid() {
		return BDStatus{}, fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	if i < 0 || i >= ch.rings[dir].n {
		return BDStatus{}, fmt.Errorf("mcdma: invalid %s slot %d for channel %d", dir, i, id)
	}
	st := dev.bdStatus(&ch.rings[dir], i)
	return st, dev.err
}

// PacketCount returns the number of packets processed by channel id.
func (dev *Device) PacketCount(dir Direction, id int) (uint32, error) {
	r, err := dev.chanRegs(dir, id)
	if err != nil {
		return 0, err
	}
	v := r.pkts.r()
	return v, dev.err
}

// PacketDrops returns the number of packets channel id dropped while
// receiving.
func (dev *Device) PacketDrops(id int) (uint32, error) {
	r, err := dev.chanRegs(S2MM, id)
	if err != nil {
		return 0, err
	}
	v := r.drops.r()
	return v, dev.err
}

// DumpStatus writes the full status of direction dir to w.
func (dev *Device) DumpStatus(w io.Writer, dir Direction) error {
	if !dir.valid() {
		return fmt.Errorf("mcdma: invalid direction %v", dir)
	}
	var (
		r      = &dev.regs[dir]
		buf    = bufio.NewWriter(w)
		err    error
		printf = func(format string, args ...interface{}) {
			_, e := fmt.Fprintf(buf, format, args...)
			if err == nil {
				err = e
			}
		}
	)
	defer buf.Flush()

	printf("---- %s status -------\n", dir)
	printf("common:\t\t%v\n", CommonStatus(r.csr.r()))
	printf("enabled:\t0x%04x\n", r.chen.r())
	printf("in progress:\t0x%04x\n", r.chser.r())
	printf("errors:\t\t%v\n", ErrorFlags(r.err.r()))
	if dir == S2MM {
		printf("dropped:\t%d\n", r.drops.r())
	}
	for _, ch := range dev.chans {
		cr := &r.chans[ch.id]
		printf("ch%d:\t\t%v pkts=%d", ch.id, ChannelStatus(cr.sr.r()), cr.pkts.r())
		if dir == S2MM {
			printf(" drops=%d", cr.drops.r())
		}
		printf("\n")
		if !ch.configured {
			continue
		}
		printf("ch%d bd:\t\t%v\n", ch.id, dev.bdStatus(&ch.rings[dir], ch.tail[dir]))
	}

	if dev.err != nil {
		return fmt.Errorf("mcdma: could not read %s status: %w", dir, dev.err)
	}
	if err != nil {
		return fmt.Errorf("mcdma: could not write %s status: %w", dir, err)
	}
	return buf.Flush()
}

func bit(v bool) int {
	if v {
		return 1
	}
	return 0
}
