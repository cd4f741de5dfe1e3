// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command scrutiny-sim runs a simulated target instrumented with the
// scrutiny agent: a handful of synthetic signals live in a
// slice-backed memory, a fixed-frequency loop samples them, and the
// agent is served to hosts over a mangos pair socket.
package main // import "github.com/scrutiny-go/scrutiny/cmd/scrutiny-sim"

import (
	"context"
	"encoding/binary"
	"flag"
	"math"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/pkg/errors"
	"github.com/scrutiny-go/scrutiny"
	"github.com/scrutiny-go/scrutiny/internal/iomux"
	"github.com/scrutiny-go/scrutiny/loop"
	"github.com/scrutiny-go/scrutiny/target"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pair"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

// Memory map of the simulated target.
const (
	addrSine    = 0  // float32, slow sine wave
	addrCounter = 4  // uint32, tick counter
	addrNoise   = 8  // float32, gaussian noise around the sine
	addrRamp    = 12 // float32, sawtooth ramp 0..1000
)

func main() {
	var (
		addr   = flag.String("addr", "tcp://127.0.0.1:44555", "end-point to serve the agent on")
		web    = flag.String("web", "", "optional [addr]:port of the status web page")
		period = flag.Uint("period", 1000, "sampling loop period in microseconds")
		lvl    = flag.String("lvl", "INFO", "msgstream level")
	)
	flag.Parse()

	// One mutexed sink: the sampling loop and the main handler log
	// from different goroutines.
	stdout := iomux.NewWriter(os.Stdout)
	msg := log.NewMsgStream("scrutiny-sim", level(*lvl), stdout)

	err := run(*addr, *web, uint32(*period), msg)
	if err != nil {
		msg.Errorf("%+v", err)
	}
	_ = stdout.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func level(lvl string) log.Level {
	switch lvl {
	case "DBG", "DEBUG":
		return log.LvlDebug
	case "WARN":
		return log.LvlWarning
	case "ERR", "ERROR":
		return log.LvlError
	default:
		return log.LvlInfo
	}
}

type sim struct {
	mem  target.RAM
	rnd  *rand.Rand
	tick uint32
}

// step advances the synthetic signals by one loop period.
func (s *sim) step() {
	s.tick++
	t := float64(s.tick)

	sine := float32(100 * math.Sin(t/500))
	noise := sine + float32(s.rnd.NormFloat64())
	ramp := float32(math.Mod(t, 1000))

	binary.LittleEndian.PutUint32(s.mem[addrSine:], math.Float32bits(sine))
	binary.LittleEndian.PutUint32(s.mem[addrCounter:], s.tick)
	binary.LittleEndian.PutUint32(s.mem[addrNoise:], math.Float32bits(noise))
	binary.LittleEndian.PutUint32(s.mem[addrRamp:], math.Float32bits(ramp))
}

func run(addr, web string, periodUS uint32, msg log.MsgStream) error {
	s := &sim{
		mem: make(target.RAM, 1024),
		rnd: rand.New(rand.NewSource(1234)),
	}

	fast := loop.NewFixedFreqHandler("fast-loop", periodUS, msg)
	handler := new(scrutiny.MainHandler)

	cfg := &scrutiny.Config{
		Name:   "scrutiny-sim",
		Memory: s.mem,
		// The top of the memory map is off limits, like an MMIO hole.
		ForbiddenRanges: []target.AddressRange{target.MakeAddressRange(1024-64, 64)},
		ReadonlyRanges:  []target.AddressRange{target.MakeAddressRange(0, 16)},
		RPVs: []target.RuntimePublishedValue{
			{ID: 0x1000, Type: target.Uint32},
			{ID: 0x1001, Type: target.Float32},
		},
		ReadRPV: func(rpv target.RuntimePublishedValue) (target.AnyType, bool) {
			switch rpv.ID {
			case 0x1000:
				return target.AnyUint(target.Uint32, uint64(s.tick)), true
			case 0x1001:
				return target.AnyFloat32(float32(s.rnd.Float64())), true
			default:
				return target.AnyType{}, false
			}
		},
		RxBuffer:          make([]byte, 512),
		TxBuffer:          make([]byte, 512),
		DataloggingBuffer: make([]byte, 4096),
		Loops:             []*loop.Handler{fast},
		Msg:               msg,
	}
	if err := handler.Init(cfg); err != nil {
		return errors.Wrap(err, "could not init agent")
	}

	sck, err := pair.NewSocket()
	if err != nil {
		return errors.Wrap(err, "could not create pair socket")
	}
	defer sck.Close()
	if err := sck.Listen(addr); err != nil {
		return errors.Wrapf(err, "could not listen on %q", addr)
	}
	msg.Infof("serving agent on %q", addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grp, ctx := errgroup.WithContext(ctx)

	// Sampling loop: the producer context.
	grp.Go(func() error {
		tick := time.NewTicker(time.Duration(periodUS) * time.Microsecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				s.step()
				fast.Process(0)
			}
		}
	})

	// Link pump: socket reads feed the main handler.
	frames := make(chan []byte, 8)
	grp.Go(func() error {
		defer close(frames)
		for {
			raw, err := sck.Recv()
			if err != nil {
				if errors.Is(err, mangos.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "could not recv frame")
			}
			select {
			case frames <- raw:
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Main handler: the consumer context.
	grp.Go(func() error {
		const dtUS = 1000
		tick := time.NewTicker(dtUS * time.Microsecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case raw, ok := <-frames:
				if !ok {
					return nil
				}
				handler.ReceiveData(raw)
			case <-tick.C:
			}
			handler.Process(dtUS)
			if resp := handler.PopResponse(); resp != nil {
				if err := sck.Send(resp); err != nil {
					msg.Warnf("could not send response: %+v", err)
				}
			}
		}
	})

	if web != "" {
		grp.Go(func() error {
			return serveWeb(ctx, web, handler, msg)
		})
	}

	return grp.Wait()
}
