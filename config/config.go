// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the configuration shared by the mcdma commands.
//
// Configuration files are YAML documents. Missing keys take their value
// from Default.
package config // import "github.com/go-lpc/haru/config"

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/haru/internal/regs"
	"github.com/go-lpc/haru/internal/sim"
	"github.com/go-lpc/haru/mcdma"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)

// FileName is the default name of the configuration file.
const FileName = "mcdma.yml"

// Region is a physical memory range.
type Region struct {
	Addr uint32 `koanf:"addr" yaml:"addr"`
	Size int    `koanf:"size" yaml:"size"`
}

// Layout holds the physical ranges of the engine.
type Layout struct {
	Ctrl   Region `koanf:"ctrl" yaml:"ctrl"`
	Src    Region `koanf:"src" yaml:"src"`
	Dst    Region `koanf:"dst" yaml:"dst"`
	TxRing Region `koanf:"txring" yaml:"txring"`
	RxRing Region `koanf:"rxring" yaml:"rxring"`
}

// Channels describes how the buffers are split among channels.
//
// Channel i owns Capacity bytes at offset i*Stride of the source and
// destination regions.
type Channels struct {
	N        int   `koanf:"n" yaml:"n"`
	Slots    int   `koanf:"slots" yaml:"slots"`
	Capacity int   `koanf:"capacity" yaml:"capacity"`
	Stride   int64 `koanf:"stride" yaml:"stride"`
}

// Config is the configuration of an mcdma command.
type Config struct {
	DevMem   string        `koanf:"devmem" yaml:"devmem"`
	Sim      bool          `koanf:"sim" yaml:"sim"` // use a simulated engine
	Layout   Layout        `koanf:"layout" yaml:"layout"`
	Channels Channels      `koanf:"channels" yaml:"channels"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout"`
	Legacy   bool          `koanf:"legacy" yaml:"legacy"`
	Verbose  bool          `koanf:"verbose" yaml:"verbose"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DevMem: "/dev/mem",
		Layout: Layout{
			Ctrl:   Region{Addr: 0x4040_0000, Size: regs.CTRL_SIZE},
			Src:    Region{Addr: 0x0e00_0000, Size: 0x10000},
			Dst:    Region{Addr: 0x0f00_0000, Size: 0x10000},
			TxRing: Region{Addr: 0x0e80_0000, Size: 0x1000},
			RxRing: Region{Addr: 0x0f80_0000, Size: 0x1000},
		},
		Channels: Channels{
			N:        1,
			Slots:    1,
			Capacity: 0x1000,
			Stride:   0x1000,
		},
		Timeout: 1 * time.Second,
	}
}

// Load reads the configuration from fname on top of the defaults.
// A missing file is not an error.
func Load(fname string) (Config, error) {
	var (
		k   = koanf.New(".")
		cfg Config
	)
	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return cfg, fmt.Errorf("config: could not load defaults: %w", err)
	}

	if fname != "" {
		err = k.Load(file.Provider(fname), yaml.Parser())
		if err != nil && !strings.Contains(err.Error(), "no such") {
			return cfg, fmt.Errorf("config: could not load %q: %w", fname, err)
		}
	}

	err = k.Unmarshal("", &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode configuration: %w", err)
	}
	return cfg, nil
}

// Write encodes cfg as YAML to w.
func (cfg Config) Write(w io.Writer) error {
	err := yml.NewEncoder(w).Encode(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}
	return nil
}

// Create writes cfg to a new file fname.
func (cfg Config) Create(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("config: could not create %q: %w", fname, err)
	}
	defer f.Close()

	err = cfg.Write(f)
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("config: could not close %q: %w", fname, err)
	}
	return nil
}

// Options returns the device options described by cfg.
func (cfg Config) Options(msg *log.Logger) []mcdma.Option {
	opts := []mcdma.Option{
		mcdma.WithChannels(cfg.Channels.N),
		mcdma.WithRingSize(cfg.Channels.Slots),
		mcdma.WithTimeout(cfg.Timeout),
	}
	if msg != nil {
		opts = append(opts, mcdma.WithLogger(msg))
	}
	if cfg.Legacy {
		opts = append(opts, mcdma.WithLegacyLength())
	}
	if cfg.Verbose {
		opts = append(opts, mcdma.WithVerbose())
	}
	return opts
}

// NewDevice attaches to the engine described by cfg and configures all of
// its channels.
// When cfg.Sim is set, the engine is simulated and returned as well.
func (cfg Config) NewDevice(msg *log.Logger) (*mcdma.Device, *sim.Engine, error) {
	var (
		dev  *mcdma.Device
		eng  *sim.Engine
		err  error
		lay  = cfg.Layout
		opts = cfg.Options(msg)
	)

	switch {
	case cfg.Sim:
		eng = sim.New()
		region := func(r Region) mcdma.Region {
			return mcdma.Region{Addr: r.Addr, Size: r.Size, Mem: eng.Map(r.Addr, r.Size)}
		}
		dev, err = mcdma.New(mcdma.Regions{
			Ctrl:   mcdma.Region{Addr: lay.Ctrl.Addr, Size: regs.CTRL_SIZE, Mem: eng},
			Src:    region(lay.Src),
			Dst:    region(lay.Dst),
			TxRing: region(lay.TxRing),
			RxRing: region(lay.RxRing),
		}, opts...)
	default:
		span := func(r Region) mcdma.Span { return mcdma.Span{Addr: r.Addr, Size: r.Size} }
		dev, err = mcdma.Open(cfg.DevMem, mcdma.Layout{
			Ctrl:   span(lay.Ctrl),
			Src:    span(lay.Src),
			Dst:    span(lay.Dst),
			TxRing: span(lay.TxRing),
			RxRing: span(lay.RxRing),
		}, opts...)
	}
	if err != nil {
		return nil, nil, err
	}

	for i := 0; i < cfg.Channels.N; i++ {
		off := int64(i) * cfg.Channels.Stride
		err = dev.Configure(i, off, off, cfg.Channels.Capacity)
		if err != nil {
			_ = dev.Close()
			return nil, nil, fmt.Errorf("config: could not configure channel %d: %w", i, err)
		}
	}

	return dev, eng, nil
}
