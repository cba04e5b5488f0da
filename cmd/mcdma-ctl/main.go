// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mcdma-ctl runs transfers on an AXI MCDMA engine.
//
// Usage: mcdma-ctl [OPTIONS] <command> [ARGS]
//
// Example:
//
//	$> mcdma-ctl -sim write 0 hello
//	$> mcdma-ctl -sim tx 0 5
//	tx ch0: bytes=5 completed=1 internal=0 slave=0 decode=0 sof=0 eof=0
//	$> mcdma-ctl -sim shell
//	mcdma> write 0 ping
//	mcdma> query 0 4 64
//	tx ch0: bytes=4 completed=1 internal=0 slave=0 decode=0 sof=0 eof=0
//	rx ch0: bytes=4 completed=1 internal=0 slave=0 decode=0 sof=1 eof=1
//	mcdma> read 0 4
//	00000000  70 69 6e 67                                       |ping|
package main // import "github.com/go-lpc/haru/cmd/mcdma-ctl"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/haru"
	"github.com/go-lpc/haru/config"
)

func main() {
	log.SetPrefix("mcdma-ctl: ")
	log.SetFlags(0)

	err := run(os.Stdout, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("%+v", err)
	}
}

const usage = `mcdma-ctl runs transfers on an AXI MCDMA engine.

Usage: mcdma-ctl [OPTIONS] <command> [ARGS]

Commands:
	shell    run an interactive session
	mkconf   write the current configuration to the configuration file
	conf     print the current configuration
	version  print the version of mcdma-ctl
%s
Options:
`

func run(w io.Writer, args []string) error {
	fset := flag.NewFlagSet("mcdma-ctl", flag.ContinueOnError)
	var (
		fname   = fset.String("cfg", config.FileName, "path to configuration file")
		sim     = fset.Bool("sim", false, "use a simulated engine")
		verbose = fset.Bool("v", false, "enable verbose mode")
	)
	fset.SetOutput(w)
	fset.Usage = func() {
		fmt.Fprintf(w, usage, cmdsHelp)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load(*fname)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	if *sim {
		cfg.Sim = true
	}
	if *verbose {
		cfg.Verbose = true
	}

	switch fset.Arg(0) {
	case "help":
		fset.Usage()
		return nil
	case "version":
		v, _ := haru.Version()
		if v == "" {
			v = "(devel)"
		}
		fmt.Fprintf(w, "mcdma-ctl version %s\n", v)
		return nil
	case "mkconf":
		return cfg.Create(*fname)
	case "conf":
		return cfg.Write(w)
	}

	dev, eng, err := cfg.NewDevice(log.New(w, "mcdma: ", 0))
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}
	defer dev.Close()

	c := newCtl(w, dev, eng)
	switch fset.Arg(0) {
	case "shell":
		err = c.shell()
	default:
		err = c.exec(fset.Args())
	}
	if err != nil {
		return err
	}

	return dev.Close()
}
