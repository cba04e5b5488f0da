// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mcdma-tdaq starts a TDAQ server polling an AXI MCDMA engine.
//
// Once started, the server runs a query on the configured channel at a
// fixed period and publishes each response on its /data output.
//
// The engine configuration is read from the file named by $MCDMA_CONFIG
// (default: mcdma.yml).
package main // import "github.com/go-lpc/haru/cmd/mcdma-tdaq"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/haru/config"
)

func main() {
	cmd := flags.New()

	fname := os.Getenv("MCDMA_CONFIG")
	if fname == "" {
		fname = config.FileName
	}
	cfg, err := config.Load(fname)
	if err != nil {
		log.Panicf("could not load configuration: %+v", err)
	}

	dev := newNode(cmd.Args[0], cfg)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/data", dev.output)

	srv.RunHandle(dev.run)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
