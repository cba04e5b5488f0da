// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-lpc/haru/internal/sim"
	"github.com/go-lpc/haru/mcdma"
	"golang.org/x/time/rate"
)

// Request is the body of a transfer request.
type Request struct {
	Channel int    `json:"channel"`
	Data    []byte `json:"data,omitempty"`    // copied into the source buffer before transmitting
	Lengths []int  `json:"lengths,omitempty"` // transmit segments, or receive length
}

// Reply is the body of a transfer reply.
type Reply struct {
	Tx   *mcdma.BDStatus `json:"tx,omitempty"`
	Rx   *mcdma.BDStatus `json:"rx,omitempty"`
	Data []byte          `json:"data,omitempty"` // received bytes
}

type server struct {
	mu  sync.Mutex // serializes accesses to the device
	dev *mcdma.Device
	eng *sim.Engine
	lim *rate.Limiter
	met *metrics
	alr *alerter // nil when mail alerts are disabled
}

func newServer(dev *mcdma.Device, eng *sim.Engine, lim *rate.Limiter) *server {
	return &server{dev: dev, eng: eng, lim: lim, met: newMetrics(dev)}
}

func (srv *server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/status", srv.locked(srv.handleStatus))
	r.Method(http.MethodGet, "/metrics", srv.met.handler())
	r.Group(func(r chi.Router) {
		r.Use(srv.throttle)
		r.Post("/tx", srv.locked(srv.handleTx))
		r.Post("/rx", srv.locked(srv.handleRx))
		r.Post("/query", srv.locked(srv.handleQuery))
		r.Post("/push", srv.locked(srv.handlePush))
	})
	return r
}

// locked rejects requests while the device is in use.
func (srv *server) locked(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !srv.mu.TryLock() {
			http.Error(w, "device busy", http.StatusLocked)
			return
		}
		defer srv.mu.Unlock()
		h(w, r)
	}
}

func (srv *server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := srv.lim.Wait(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (srv *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	o := bufio.NewWriter(w)
	for _, dir := range []mcdma.Direction{mcdma.MM2S, mcdma.S2MM} {
		err := srv.dev.DumpStatus(o, dir)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	_ = o.Flush()
}

func (srv *server) handleTx(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	err := srv.fill(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	beg := time.Now()
	st, err := srv.dev.TransmitSegments(req.Channel, req.Lengths)
	srv.met.observe("tx", beg, err, map[mcdma.Direction]mcdma.BDStatus{mcdma.MM2S: st})
	if err != nil {
		srv.report(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encode(w, Reply{Tx: &st})
}

func (srv *server) handleRx(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	if len(req.Lengths) != 1 {
		http.Error(w, "rx: expected one receive length", http.StatusBadRequest)
		return
	}

	beg := time.Now()
	st, err := srv.dev.Receive(req.Channel, req.Lengths[0])
	srv.met.observe("rx", beg, err, map[mcdma.Direction]mcdma.BDStatus{mcdma.S2MM: st})
	if err != nil {
		srv.report(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := srv.read(req.Channel, st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encode(w, Reply{Rx: &st, Data: data})
}

func (srv *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	switch len(req.Lengths) {
	case 1:
		if req.Data == nil {
			http.Error(w, "query: missing transmit data or length", http.StatusBadRequest)
			return
		}
		req.Lengths = []int{len(req.Data), req.Lengths[0]}
	case 2:
	default:
		http.Error(w, "query: expected transmit and receive lengths", http.StatusBadRequest)
		return
	}
	if req.Data != nil {
		ch, err := srv.dev.Channel(req.Channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, err = ch.WriteSource(req.Data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	beg := time.Now()
	tx, rx, err := srv.dev.Query(req.Channel, req.Lengths[0], req.Lengths[1])
	srv.met.observe("query", beg, err, map[mcdma.Direction]mcdma.BDStatus{mcdma.MM2S: tx, mcdma.S2MM: rx})
	if err != nil {
		srv.report(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := srv.read(req.Channel, rx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encode(w, Reply{Tx: &tx, Rx: &rx, Data: data})
}

func (srv *server) handlePush(w http.ResponseWriter, r *http.Request) {
	if srv.eng == nil {
		http.Error(w, "push: not running a simulated engine", http.StatusNotImplemented)
		return
	}
	req, ok := decode(w, r)
	if !ok {
		return
	}
	if req.Channel < 0 || req.Channel >= srv.dev.NumChannels() {
		http.Error(w, fmt.Sprintf("push: invalid channel %d", req.Channel), http.StatusBadRequest)
		return
	}
	srv.eng.Push(req.Channel, req.Data)
	w.WriteHeader(http.StatusNoContent)
}

// report sends an alert when the hardware halted a transfer.
func (srv *server) report(err error) {
	var terr *mcdma.TransferError
	if srv.alr == nil || !errors.As(err, &terr) {
		return
	}
	srv.alr.alert(terr)
}

// fill copies the request payload into the source buffer of the channel.
// Without explicit lengths, the payload is sent as a single segment.
func (srv *server) fill(req *Request) error {
	if req.Data != nil {
		ch, err := srv.dev.Channel(req.Channel)
		if err != nil {
			return err
		}
		_, err = ch.WriteSource(req.Data)
		if err != nil {
			return err
		}
	}
	if len(req.Lengths) == 0 {
		if req.Data == nil {
			return fmt.Errorf("tx: missing data or lengths")
		}
		req.Lengths = []int{len(req.Data)}
	}
	return nil
}

func (srv *server) read(id int, st mcdma.BDStatus) ([]byte, error) {
	ch, err := srv.dev.Channel(id)
	if err != nil {
		return nil, err
	}
	n := st.Bytes
	if n > ch.Capacity() {
		n = ch.Capacity()
	}
	buf := make([]byte, n)
	_, err = ch.ReadDestination(buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var req Request
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, fmt.Sprintf("could not decode request: %+v", err), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func encode(w http.ResponseWriter, rep Reply) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
