// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mcdma-srv exposes an AXI MCDMA engine over HTTP.
//
// Endpoints:
//
//	POST /tx      {"channel":0, "data":"<base64>", "lengths":[...]}
//	POST /rx      {"channel":0, "lengths":[4096]}
//	POST /query   {"channel":0, "data":"<base64>", "lengths":[txlen, rxlen]}
//	POST /push    {"channel":0, "data":"<base64>"} (simulation only)
//	GET  /status
//	GET  /metrics
//
// Transfers are serialized: a request arriving while another one is being
// served is rejected with 423 (Locked).
//
// Transfers halted by the hardware are reported by mail when the
// MAIL_USERNAME, MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS
// environment variables are set.
package main // import "github.com/go-lpc/haru/cmd/mcdma-srv"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-lpc/haru/config"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	log.SetPrefix("mcdma-srv: ")
	log.SetFlags(0)

	var (
		addr  = flag.String("addr", ":8080", "[ip]:port to listen on")
		fname = flag.String("cfg", config.FileName, "path to configuration file")
		sim   = flag.Bool("sim", false, "use a simulated engine")
		freq  = flag.Float64("rate", 100, "maximum number of transfers per second (0: unlimited)")
	)

	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *sim {
		cfg.Sim = true
	}

	stop := make(chan os.Signal, 1)
	err = run(*addr, cfg, *freq, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr string, cfg config.Config, freq float64, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	dev, eng, err := cfg.NewDevice(log.New(os.Stdout, "mcdma: ", 0))
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}
	defer dev.Close()

	lim := rate.NewLimiter(rate.Inf, 1)
	if freq > 0 {
		lim = rate.NewLimiter(rate.Limit(freq), 1)
	}

	conn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %q: %w", addr, err)
	}

	var (
		grp, ctx = errgroup.WithContext(context.Background())
		hdl      = newServer(dev, eng, lim)
	)
	hdl.alr = newAlerter()
	srv := &http.Server{Handler: hdl.router()}
	log.Printf("listening on %q...", conn.Addr().String())

	grp.Go(func() error {
		err := srv.Serve(conn)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	grp.Go(func() error {
		select {
		case <-stop:
		case <-ctx.Done():
		}
		log.Printf("shutting down...")
		return srv.Shutdown(context.Background())
	})

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not serve: %w", err)
	}

	return dev.Close()
}
