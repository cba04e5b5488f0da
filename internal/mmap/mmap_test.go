// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap // import "github.com/go-lpc/haru/internal/mmap"

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestNew(t *testing.T) {
	h := New([]byte{0, 1, 2, 3})

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	_, err := h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.WriteAt([]byte{1, 2, 3}, 2)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short-write error: %+v", err)
	}

	buf := make([]byte, 3)
	_, err = h.ReadAt(buf, 2)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid short-read error: %+v", err)
	}
	if got, want := buf[:2], []byte{1, 2}; !bytes.Equal(got, want) {
		t.Fatalf("invalid read: got=%v, want=%v", got, want)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close handle: %+v", err)
	}
	_, err = h.ReadAt(buf, 0)
	if !errors.Is(err, errClosed) {
		t.Fatalf("invalid read-after-close error: %+v", err)
	}
}

func TestMap(t *testing.T) {
	tmp, err := os.MkdirTemp("", "haru-mmap-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	const size = 4096
	fname := filepath.Join(tmp, "dev.mem")
	err = os.WriteFile(fname, make([]byte, 2*size), 0644)
	if err != nil {
		t.Fatalf("could not create fake dev-mem: %+v", err)
	}

	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		t.Fatalf("could not open fake dev-mem: %+v", err)
	}
	defer f.Close()

	h, err := Map(f, size, size)
	if err != nil {
		t.Fatalf("could not map fake dev-mem: %+v", err)
	}

	if got, want := h.Len(), size; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	_, err = h.WriteAt([]byte{0xca, 0xfe}, 2)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not unmap: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back fake dev-mem: %+v", err)
	}
	if got, want := raw[size+2:size+4], []byte{0xca, 0xfe}; !bytes.Equal(got, want) {
		t.Fatalf("invalid mapped write: got=%x, want=%x", got, want)
	}
}
