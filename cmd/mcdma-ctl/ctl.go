// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-lpc/haru/internal/sim"
	"github.com/go-lpc/haru/mcdma"
	"github.com/peterh/liner"
)

const cmdsHelp = `
	write CHAN TEXT           copy TEXT into the source buffer of CHAN
	read  CHAN N              hex-dump N bytes of the destination buffer of CHAN
	tx    CHAN LEN[,LEN...]   transmit LEN bytes (one segment per LEN) on CHAN
	rx    CHAN LEN            receive up to LEN bytes on CHAN
	query CHAN TXLEN RXLEN    transmit TXLEN bytes and receive the response
	desc  DIR CHAN [N]        print the first N descriptors of CHAN
	status [DIR]              print the engine status
	clear DIR CHAN            clear the interrupt bits of CHAN
	reset                     reset the engine
	push  CHAN TEXT           queue TEXT on the receive stream (simulation only)
`

type ctl struct {
	w   io.Writer
	dev *mcdma.Device
	eng *sim.Engine

	cmds map[string]func(args []string) error
}

func newCtl(w io.Writer, dev *mcdma.Device, eng *sim.Engine) *ctl {
	c := &ctl{w: w, dev: dev, eng: eng}
	c.cmds = map[string]func(args []string) error{
		"write":  c.cmdWrite,
		"read":   c.cmdRead,
		"tx":     c.cmdTx,
		"rx":     c.cmdRx,
		"query":  c.cmdQuery,
		"desc":   c.cmdDesc,
		"status": c.cmdStatus,
		"clear":  c.cmdClear,
		"reset":  c.cmdReset,
		"push":   c.cmdPush,
		"help":   c.cmdHelp,
	}
	return c
}

func (c *ctl) exec(args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := c.cmds[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd(args[1:])
}

func (c *ctl) shell() error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	return c.loop(ln.Prompt, ln.AppendHistory)
}

// loop runs commands read from prompt until the input is exhausted or
// aborted. Command errors are reported and do not stop the loop.
func (c *ctl) loop(prompt func(string) (string, error), history func(string)) error {
	for {
		line, err := prompt("mcdma> ")
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintf(c.w, "\n")
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		history(line)

		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}

		err = c.exec(args)
		if err != nil {
			fmt.Fprintf(c.w, "error: %+v\n", err)
		}
	}
}

func (c *ctl) cmdWrite(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("write: missing arguments")
	}
	ch, err := c.channel(args[0])
	if err != nil {
		return err
	}
	_, err = ch.WriteSource([]byte(strings.Join(args[1:], " ")))
	return err
}

func (c *ctl) cmdRead(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("read: invalid number of arguments")
	}
	ch, err := c.channel(args[0])
	if err != nil {
		return err
	}
	n, err := parseInt(args[1])
	if err != nil {
		return err
	}
	if n < 0 || n > ch.Capacity() {
		return fmt.Errorf("read: invalid size %d (capacity=%d)", n, ch.Capacity())
	}
	buf := make([]byte, n)
	_, err = ch.ReadDestination(buf)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.w, hex.Dump(buf))
	return err
}

func (c *ctl) cmdTx(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("tx: invalid number of arguments")
	}
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	var lengths []int
	for _, v := range strings.Split(args[1], ",") {
		n, err := parseInt(v)
		if err != nil {
			return err
		}
		lengths = append(lengths, n)
	}

	st, err := c.dev.TransmitSegments(id, lengths)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.w, "tx ch%d: %v\n", id, st)
	return nil
}

func (c *ctl) cmdRx(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("rx: invalid number of arguments")
	}
	vs, err := parseInts(args)
	if err != nil {
		return err
	}
	st, err := c.dev.Receive(vs[0], vs[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.w, "rx ch%d: %v\n", vs[0], st)
	return nil
}

func (c *ctl) cmdQuery(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("query: invalid number of arguments")
	}
	vs, err := parseInts(args)
	if err != nil {
		return err
	}
	tx, rx, err := c.dev.Query(vs[0], vs[1], vs[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.w, "tx ch%d: %v\n", vs[0], tx)
	fmt.Fprintf(c.w, "rx ch%d: %v\n", vs[0], rx)
	return nil
}

func (c *ctl) cmdDesc(args []string) error {
	if len(args) != 2 && len(args) != 3 {
		return fmt.Errorf("desc: invalid number of arguments")
	}
	dir, err := parseDir(args[0])
	if err != nil {
		return err
	}
	vs, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	n := 1
	if len(vs) == 2 {
		n = vs[1]
	}
	for i := 0; i < n; i++ {
		d, err := c.dev.Descriptor(dir, vs[0], i)
		if err != nil {
			return err
		}
		st, err := c.dev.SegmentStatus(dir, vs[0], i)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.w, "%s ch%d bd%d: %+v {%v}\n", dir, vs[0], i, d, st)
	}
	return nil
}

func (c *ctl) cmdStatus(args []string) error {
	dirs := []mcdma.Direction{mcdma.MM2S, mcdma.S2MM}
	if len(args) > 0 {
		dir, err := parseDir(args[0])
		if err != nil {
			return err
		}
		dirs = []mcdma.Direction{dir}
	}
	for _, dir := range dirs {
		err := c.dev.DumpStatus(c.w, dir)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ctl) cmdClear(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("clear: invalid number of arguments")
	}
	dir, err := parseDir(args[0])
	if err != nil {
		return err
	}
	id, err := parseInt(args[1])
	if err != nil {
		return err
	}
	return c.dev.ClearChannelStatus(dir, id)
}

func (c *ctl) cmdReset(args []string) error {
	return c.dev.Reset()
}

func (c *ctl) cmdPush(args []string) error {
	if c.eng == nil {
		return fmt.Errorf("push: not running a simulated engine")
	}
	if len(args) < 2 {
		return fmt.Errorf("push: missing arguments")
	}
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	if id < 0 || id >= c.dev.NumChannels() {
		return fmt.Errorf("push: invalid channel %d (nchans=%d)", id, c.dev.NumChannels())
	}
	c.eng.Push(id, []byte(strings.Join(args[1:], " ")))
	return nil
}

func (c *ctl) cmdHelp(args []string) error {
	_, err := io.WriteString(c.w, "Commands:"+cmdsHelp)
	return err
}

func (c *ctl) channel(s string) (*mcdma.Channel, error) {
	id, err := parseInt(s)
	if err != nil {
		return nil, err
	}
	return c.dev.Channel(id)
}

func parseDir(s string) (mcdma.Direction, error) {
	switch strings.ToLower(s) {
	case "mm2s", "tx":
		return mcdma.MM2S, nil
	case "s2mm", "rx":
		return mcdma.S2MM, nil
	}
	return 0, fmt.Errorf("invalid direction %q", s)
}

func parseInt(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse %q: %w", s, err)
	}
	return int(v), nil
}

func parseInts(args []string) ([]int, error) {
	vs := make([]int, len(args))
	for i, s := range args {
		v, err := parseInt(s)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}
