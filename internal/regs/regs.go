// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs describes the register map of the AXI MCDMA IP and the layout
// of its scatter-gather buffer descriptors.
package regs // import "github.com/go-lpc/haru/internal/regs"

// register blocks
const (
	MM2S_BASE = 0x000 // transmit (memory-mapped to stream)
	S2MM_BASE = 0x500 // receive (stream to memory-mapped)
	CH_BASE   = 0x040 // first channel block, relative to a direction base
	CH_STRIDE = 0x040 // distance between two channel blocks

	MaxChannels = 16

	CTRL_SIZE = 0x1000 // size of the control register space
)

// common registers, relative to a direction base
const (
	CCR   = 0x00 // common control
	CSR   = 0x04 // common status
	CHEN  = 0x08 // channel enable/disable
	CHSER = 0x0C // channels in progress
	ERR   = 0x10 // error register

	MM2S_CH_SCHD_TYPE    = 0x14 // channel queue scheduler type
	MM2S_WRR_REG1        = 0x18 // weight of channels 1-8
	MM2S_WRR_REG2        = 0x1C // weight of channels 9-16
	MM2S_CHANNELS_SERVED = 0x20 // channels completed
	MM2S_ARCACHE_ARUSER  = 0x24
	MM2S_INTR_STATUS     = 0x28 // channel interrupt monitor

	S2MM_PKTDROP         = 0x14 // packet drop stat
	S2MM_CHANNELS_SERVED = 0x18 // channels completed
	S2MM_AWCACHE_AWUSER  = 0x1C
	S2MM_INTR_STATUS     = 0x20 // channel interrupt monitor
)

// per-channel registers, relative to a channel block
const (
	CHCR           = 0x00 // channel control
	CHSR           = 0x04 // channel status
	CHCURDESC_LSB  = 0x08 // current descriptor (LSB)
	CHCURDESC_MSB  = 0x0C // current descriptor (MSB)
	CHTAILDESC_LSB = 0x10 // tail descriptor (LSB)
	CHTAILDESC_MSB = 0x14 // tail descriptor (MSB)

	MM2S_CHPKTCOUNT = 0x18 // packets processed
	S2MM_CHPKTDROP  = 0x18 // packets dropped
	S2MM_CHPKTCOUNT = 0x1C // packets processed
)

// common control register
const (
	CCR_RS    = 0x001 // run=1, stop=0
	CCR_RESET = 0x004 // reset in progress
)

// common status register.
// Both directions share the same layout.
const (
	MM2S_HALTED = 0x001
	MM2S_IDLE   = 0x002
	S2MM_HALTED = 0x001
	S2MM_IDLE   = 0x002
)

// channel control register
const (
	CHCR_RS = 0x001 // channel fetch/run
)

// error register
const (
	ERR_DMA_INTR = 0x01
	ERR_DMA_SLV  = 0x02
	ERR_DMA_DEC  = 0x04
	ERR_SG_INT   = 0x10
	ERR_SG_SLV   = 0x20
	ERR_SG_DEC   = 0x40
)

// channel status register
const (
	CHSR_IDLE       = 0x01 // queue empty
	CHSR_ERR_OTH_CH = 0x08 // error on another channel
	CHSR_IOC_IRQ    = 0x20
	CHSR_DLY_IRQ    = 0x40
	CHSR_ERR_IRQ    = 0x80

	CHSR_IRQ_MASK = CHSR_IOC_IRQ | CHSR_DLY_IRQ | CHSR_ERR_IRQ
)

// buffer descriptors
const (
	BD_SIZE  = 0x40 // a descriptor slot, also the required alignment
	BD_ALIGN = BD_SIZE - 1

	BD_NEXT_DESC_LSB = 0x00
	BD_NEXT_DESC_MSB = 0x04
	BD_BUF_ADDR_LSB  = 0x08
	BD_BUF_ADDR_MSB  = 0x0C
	BD_CONTROL       = 0x14

	MM2S_BD_CONTROL_SIDEBAND = 0x18
	MM2S_BD_STATUS           = 0x1C

	S2MM_BD_STATUS          = 0x18
	S2MM_BD_SIDEBAND_STATUS = 0x1C
)

// descriptor control word
const (
	BD_CTRL_SOF      = 1 << 31
	BD_CTRL_EOF      = 1 << 30
	BD_CTRL_LEN_MASK = 0x03ffffff

	MM2S_BD_SIDEBAND_TID_SHIFT = 31
)

// descriptor status word
const (
	BD_STS_BYTES_MASK = 0x01ffffff
	BD_STS_INT_ERR    = 1 << 28
	BD_STS_SLV_ERR    = 1 << 29
	BD_STS_DEC_ERR    = 1 << 30
	BD_STS_COMPLETED  = 1 << 31

	// receive only. RXEOF shares bit 28 with BD_STS_INT_ERR.
	S2MM_BD_STS_RXSOF = 1 << 27
	S2MM_BD_STS_RXEOF = 1 << 28
)
