// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package haru drives AXI multichannel scatter-gather DMA engines from
// userspace.
//
// The driver itself lives in package mcdma.
// Commands under cmd/ expose it as a CLI, an HTTP server and a tdaq node.
package haru // import "github.com/go-lpc/haru"

import (
	"fmt"
	"runtime/debug"
)

const modpath = "github.com/go-lpc/haru"

// Version returns the version of haru and its checksum, as recorded in the
// running binary.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	if b.Main.Path == modpath && b.Main.Version != "" {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != modpath {
			continue
		}
		return modVersion(m)
	}
	return "", ""
}

func modVersion(m *debug.Module) (version, sum string) {
	r := m.Replace
	if r == nil {
		return m.Version, m.Sum
	}
	switch {
	case r.Path != "" && r.Version != "":
		return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
	case r.Version != "":
		return r.Version, r.Sum
	case r.Path != "":
		return r.Path, r.Sum
	}
	return m.Version + "*", ""
}
