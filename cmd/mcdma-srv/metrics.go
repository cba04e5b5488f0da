// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"net/http"
	"time"

	"github.com/go-lpc/haru/mcdma"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	reg *prometheus.Registry

	transfers *prometheus.CounterVec   // by operation and result
	bytes     *prometheus.CounterVec   // by direction
	latency   *prometheus.HistogramVec // by operation
}

func newMetrics(dev *mcdma.Device) *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcdma",
			Name:      "transfers_total",
			Help:      "Number of transfers run, by operation and result.",
		}, []string{"op", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcdma",
			Name:      "bytes_total",
			Help:      "Number of bytes reported by completed descriptors, by direction.",
		}, []string{"dir"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcdma",
			Name:      "transfer_duration_seconds",
			Help:      "Duration of transfers, from reset to completion.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"op"}),
	}
	m.reg.MustRegister(m.transfers, m.bytes, m.latency)
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "mcdma",
		Name:      "channels_enabled",
		Help:      "Number of configured channels.",
	}, func() float64 {
		n := 0
		for mask := dev.EnableMask(); mask != 0; mask &= mask - 1 {
			n++
		}
		return float64(n)
	}))
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// observe records the outcome of a transfer started at beg.
func (m *metrics) observe(op string, beg time.Time, err error, sts map[mcdma.Direction]mcdma.BDStatus) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transfers.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(beg).Seconds())
	for dir, st := range sts {
		if !st.Completed {
			continue
		}
		m.bytes.WithLabelValues(dir.String()).Add(float64(st.Bytes))
	}
}
