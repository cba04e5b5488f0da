// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcdma

import (
	"fmt"
)

// Transmit sends the first length bytes of the source buffer of channel id
// and returns the status of its descriptor.
func (dev *Device) Transmit(id, length int) (BDStatus, error) {
	return dev.transfer(MM2S, id, []int{length})
}

// Receive receives up to length bytes into the destination buffer of
// channel id and returns the status of its descriptor.
func (dev *Device) Receive(id, length int) (BDStatus, error) {
	return dev.transfer(S2MM, id, []int{length})
}

// TransmitSegments sends the source buffer of channel id as a chain of
// segments, one descriptor each.
func (dev *Device) TransmitSegments(id int, lengths []int) (BDStatus, error) {
	return dev.transfer(MM2S, id, lengths)
}

func (dev *Device) transfer(dir Direction, id int, lengths []int) (BDStatus, error) {
	ch, err := dev.channel(id)
	if err != nil {
		return BDStatus{}, err
	}

	err = ch.check(dir, lengths)
	if err != nil {
		return BDStatus{}, err
	}

	err = dev.halt()
	if err != nil {
		return BDStatus{}, err
	}

	err = dev.launch(dir, id, lengths)
	if err != nil {
		return BDStatus{}, err
	}

	err = dev.WaitComplete(dir)
	if err != nil {
		return BDStatus{}, err
	}

	st, err := dev.DescriptorStatus(dir, id)
	if err != nil {
		return st, fmt.Errorf("mcdma: could not read %s descriptor status: %w", dir, err)
	}
	return st, nil
}

// Query runs a duplex transfer on channel id: the receive side is fully
// set up and listening before txLen bytes are transmitted, so that the
// response of the stream peer is captured into the destination buffer.
func (dev *Device) Query(id, txLen, rxLen int) (tx, rx BDStatus, err error) {
	ch, err := dev.channel(id)
	if err != nil {
		return tx, rx, err
	}

	for _, v := range []struct {
		dir Direction
		n   int
	}{{S2MM, rxLen}, {MM2S, txLen}} {
		err = ch.check(v.dir, []int{v.n})
		if err != nil {
			return tx, rx, err
		}
	}

	err = dev.halt()
	if err != nil {
		return tx, rx, err
	}

	err = dev.launch(S2MM, id, []int{rxLen})
	if err != nil {
		return tx, rx, err
	}

	err = dev.launch(MM2S, id, []int{txLen})
	if err != nil {
		// do not leave the receive side listening.
		if e := dev.Stop(S2MM); e != nil {
			dev.msg.Printf("could not stop s2mm after failed query: %+v", e)
		}
		return tx, rx, err
	}

	for _, dir := range []Direction{MM2S, S2MM} {
		err = dev.WaitComplete(dir)
		if err != nil {
			return tx, rx, err
		}
	}

	tx, err = dev.DescriptorStatus(MM2S, id)
	if err != nil {
		return tx, rx, fmt.Errorf("mcdma: could not read mm2s descriptor status: %w", err)
	}
	rx, err = dev.DescriptorStatus(S2MM, id)
	if err != nil {
		return tx, rx, fmt.Errorf("mcdma: could not read s2mm descriptor status: %w", err)
	}
	return tx, rx, nil
}

// halt resets the engine and stops both directions.
func (dev *Device) halt() error {
	err := dev.Reset()
	if err != nil {
		return fmt.Errorf("mcdma: could not reset: %w", err)
	}
	for _, dir := range []Direction{S2MM, MM2S} {
		err = dev.Stop(dir)
		if err != nil {
			return fmt.Errorf("mcdma: could not stop %s: %w", dir, err)
		}
	}
	return nil
}

// launch enables, arms and programs channel id, starts direction dir and
// rings its doorbell.
func (dev *Device) launch(dir Direction, id int, lengths []int) error {
	err := dev.EnableChannels(dir, dev.mask)
	if err != nil {
		return fmt.Errorf("mcdma: could not enable %s channels: %w", dir, err)
	}

	err = dev.ArmChannel(dir, id)
	if err != nil {
		return fmt.Errorf("mcdma: could not arm %s channel %d: %w", dir, id, err)
	}

	err = dev.ProgramSegments(dir, id, lengths)
	if err != nil {
		return err
	}

	err = dev.Start(dir)
	if err != nil {
		return fmt.Errorf("mcdma: could not start %s: %w", dir, err)
	}

	err = dev.ProgramTail(dir, id)
	if err != nil {
		return fmt.Errorf("mcdma: could not ring %s doorbell of channel %d: %w", dir, id, err)
	}
	return nil
}
