// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command scrutiny-ctl is an interactive host-side shell driving a
// scrutiny agent: connect, inspect memory, configure and arm the
// datalogger, and pull acquisitions back with summary statistics.
package main // import "github.com/scrutiny-go/scrutiny/cmd/scrutiny-ctl"

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/scrutiny-go/scrutiny"
	"github.com/scrutiny-go/scrutiny/datalogging"
	"github.com/scrutiny-go/scrutiny/protocol"
	"github.com/scrutiny-go/scrutiny/target"
	"go.nanomsg.org/mangos/v3/protocol/pair"
	"gonum.org/v1/gonum/stat"

	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

func main() {
	var (
		addr = flag.String("addr", "tcp://127.0.0.1:44555", "end-point of the scrutiny agent")
	)
	flag.Parse()

	if err := run(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

var connectMagic = []byte{0x82, 0x90, 0x22, 0x66}

type client struct {
	sck interface {
		Send([]byte) error
		Recv() ([]byte, error)
		Close() error
	}
	session uint32
}

// send performs one request/response exchange.
func (c *client) send(cmd protocol.CommandID, subfn uint8, data []byte) (protocol.Response, error) {
	frame := make([]byte, 4+len(data)+4)
	n, err := protocol.EncodeRequest(frame, protocol.Request{
		Command:     cmd,
		Subfunction: subfn,
		Data:        data,
	})
	if err != nil {
		return protocol.Response{}, errors.Wrap(err, "could not encode request")
	}
	if err := c.sck.Send(frame[:n]); err != nil {
		return protocol.Response{}, errors.Wrap(err, "could not send request")
	}
	raw, err := c.sck.Recv()
	if err != nil {
		return protocol.Response{}, errors.Wrap(err, "could not recv response")
	}
	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return protocol.Response{}, errors.Wrap(err, "could not decode response")
	}
	if resp.Code != protocol.CodeOK {
		return resp, errors.Errorf("agent refused %v/%d: %v", cmd, subfn, resp.Code)
	}
	return resp, nil
}

func run(addr string) error {
	sck, err := pair.NewSocket()
	if err != nil {
		return errors.Wrap(err, "could not create pair socket")
	}
	defer sck.Close()
	if err := sck.Dial(addr); err != nil {
		return errors.Wrapf(err, "could not dial %q", addr)
	}

	cli := &client{sck: sck}

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	fmt.Printf("scrutiny-ctl connected to %q\ntype 'help' for the command list\n", addr)
	for {
		line, err := term.Prompt("scrutiny> ")
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Printf("\n")
				return nil
			}
			return errors.Wrap(err, "could not read line")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		args := strings.Fields(line)
		switch args[0] {
		case "quit", "exit":
			return nil
		case "help":
			usage()
		default:
			if err := cli.dispatch(args); err != nil {
				fmt.Printf("error: %+v\n", err)
			}
		}
	}
}

func usage() {
	fmt.Print(`commands:
  connect                          open a session with the agent
  info                             protocol version and buffer sizes
  read <addr> <len>                read target memory
  write <addr> <hex-bytes>         write target memory
  configure <addr> <threshold> [probe] [hold-us]
                                   log a float32, trigger above threshold
  arm | disarm | status | reset    drive the datalogger
  acquire                          pull the acquisition, print statistics
`)
}

func (c *client) dispatch(args []string) error {
	switch args[0] {
	case "connect":
		return c.connect()
	case "info":
		return c.info()
	case "read":
		return c.read(args[1:])
	case "write":
		return c.write(args[1:])
	case "configure":
		return c.configure(args[1:])
	case "arm":
		_, err := c.send(protocol.CmdDataLogControl, protocol.DataLogArmTrigger, nil)
		return err
	case "disarm":
		_, err := c.send(protocol.CmdDataLogControl, protocol.DataLogDisarmTrigger, nil)
		return err
	case "reset":
		_, err := c.send(protocol.CmdDataLogControl, protocol.DataLogReset, nil)
		return err
	case "status":
		return c.status()
	case "acquire":
		return c.acquire()
	default:
		return errors.Errorf("unknown command %q", args[0])
	}
}

func (c *client) connect() error {
	resp, err := c.send(protocol.CmdCommControl, protocol.CommControlConnect, connectMagic)
	if err != nil {
		return err
	}
	dec := protocol.NewDecoder(bytes.NewReader(resp.Data))
	for i := 0; i < len(connectMagic); i++ {
		dec.ReadU8()
	}
	c.session = dec.ReadU32()
	fmt.Printf("session 0x%08x\n", c.session)
	return dec.Err()
}

func (c *client) info() error {
	resp, err := c.send(protocol.CmdGetInfo, protocol.GetInfoProtocolVersion, nil)
	if err != nil {
		return err
	}
	fmt.Printf("protocol v%d.%d\n", resp.Data[0], resp.Data[1])

	resp, err = c.send(protocol.CmdGetInfo, protocol.GetInfoBufferSizes, nil)
	if err != nil {
		return err
	}
	dec := protocol.NewDecoder(bytes.NewReader(resp.Data))
	fmt.Printf("rx=%d tx=%d datalogging=%d bytes\n", dec.ReadU16(), dec.ReadU16(), dec.ReadU32())
	return dec.Err()
}

func (c *client) read(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: read <addr> <len>")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid address %q", args[0])
	}
	size, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return errors.Wrapf(err, "invalid length %q", args[1])
	}

	req := new(bytes.Buffer)
	enc := protocol.NewEncoder(req)
	enc.WriteU64(addr)
	enc.WriteU16(uint16(size))
	resp, err := c.send(protocol.CmdMemoryControl, protocol.MemoryControlRead, req.Bytes())
	if err != nil {
		return err
	}
	dec := protocol.NewDecoder(bytes.NewReader(resp.Data))
	dec.ReadU64()
	n := dec.ReadU16()
	block := make([]byte, n)
	for i := range block {
		block[i] = dec.ReadU8()
	}
	if dec.Err() != nil {
		return dec.Err()
	}
	fmt.Printf("0x%08x: % x\n", addr, block)
	return nil
}

func (c *client) write(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: write <addr> <hex-bytes>")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid address %q", args[0])
	}
	hex := strings.TrimPrefix(args[1], "0x")
	if len(hex)%2 != 0 {
		return errors.New("odd hex string")
	}
	data := make([]byte, len(hex)/2)
	for i := range data {
		v, err := strconv.ParseUint(hex[2*i:2*i+2], 16, 8)
		if err != nil {
			return errors.Wrapf(err, "invalid hex byte %q", hex[2*i:2*i+2])
		}
		data[i] = uint8(v)
	}

	req := new(bytes.Buffer)
	enc := protocol.NewEncoder(req)
	enc.WriteU64(addr)
	enc.WriteU16(uint16(len(data)))
	enc.WriteBytes(data)
	_, err = c.send(protocol.CmdMemoryControl, protocol.MemoryControlWrite, req.Bytes())
	return err
}

func (c *client) configure(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: configure <addr> <threshold> [probe] [hold-us]")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid address %q", args[0])
	}
	threshold, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return errors.Wrapf(err, "invalid threshold %q", args[1])
	}
	probe := uint64(128)
	if len(args) > 2 {
		if probe, err = strconv.ParseUint(args[2], 0, 8); err != nil {
			return errors.Wrapf(err, "invalid probe location %q", args[2])
		}
	}
	hold := uint64(0)
	if len(args) > 3 {
		if hold, err = strconv.ParseUint(args[3], 0, 32); err != nil {
			return errors.Wrapf(err, "invalid hold time %q", args[3])
		}
	}

	cfg := &datalogging.Configuration{
		ItemsCount:    2,
		Decimation:    1,
		ProbeLocation: uint8(probe),
		Trigger: datalogging.TriggerConfig{
			Condition:    datalogging.GreaterThan,
			OperandCount: 2,
			HoldTimeUS:   uint32(hold),
			Operands: [datalogging.MaxOperands]datalogging.Operand{
				datalogging.Var{Addr: addr, Type: target.Float32},
				datalogging.Literal{Val: float32(threshold)},
			},
		},
	}
	cfg.Items[0] = datalogging.MemoryItem{Addr: addr, Size: 4}
	cfg.Items[1] = datalogging.TimeItem{}

	payload := new(bytes.Buffer)
	if err := scrutiny.EncodeDataloggingConfig(protocol.NewEncoder(payload), cfg); err != nil {
		return errors.Wrap(err, "could not encode configuration")
	}
	_, err = c.send(protocol.CmdDataLogControl, protocol.DataLogConfigure, payload.Bytes())
	return err
}

func (c *client) status() error {
	resp, err := c.send(protocol.CmdDataLogControl, protocol.DataLogGetStatus, nil)
	if err != nil {
		return err
	}
	dec := protocol.NewDecoder(bytes.NewReader(resp.Data))
	state := datalogging.State(dec.ReadU8())
	fault := datalogging.Fault(dec.ReadU8())
	post := dec.ReadU32()
	rows := dec.ReadU32()
	if dec.Err() != nil {
		return dec.Err()
	}
	fmt.Printf("state=%v fault=%v post-trigger=%d bytes (%d rows done)\n", state, fault, post, rows)
	return nil
}

// acquire pulls the whole acquisition, validates the CRC trail and
// prints per-signal statistics of the first float32 column.
func (c *client) acquire() error {
	resp, err := c.send(protocol.CmdDataLogControl, protocol.DataLogGetAcqMetadata, nil)
	if err != nil {
		return err
	}
	dec := protocol.NewDecoder(bytes.NewReader(resp.Data))
	entrySize := dec.ReadU32()
	entries := dec.ReadU32()
	total := dec.ReadU32()
	if dec.Err() != nil {
		return dec.Err()
	}
	fmt.Printf("acquisition: %d rows of %d bytes (%d bytes)\n", entries, entrySize, total)

	req := new(bytes.Buffer)
	protocol.NewEncoder(req).WriteU16(256)

	var acquired []byte
	for {
		resp, err := c.send(protocol.CmdDataLogControl, protocol.DataLogReadAcquisition, req.Bytes())
		if err != nil {
			return err
		}
		if len(resp.Data) < 6 {
			return errors.Errorf("short read payload (%d bytes)", len(resp.Data))
		}
		finished := resp.Data[1] == 1
		acquired = append(acquired, resp.Data[2:len(resp.Data)-4]...)
		crc := binary.BigEndian.Uint32(resp.Data[len(resp.Data)-4:])
		if got := crc32.ChecksumIEEE(acquired); got != crc {
			return errors.Errorf("CRC mismatch (got=0x%08x, want=0x%08x)", got, crc)
		}
		if finished {
			break
		}
	}
	if uint32(len(acquired)) != total {
		return errors.Errorf("invalid acquisition size (got=%d, want=%d)", len(acquired), total)
	}

	// First column as float32, native target layout.
	xs := make([]float64, 0, entries)
	for row := uint32(0); row < entries; row++ {
		bits := binary.LittleEndian.Uint32(acquired[row*entrySize:])
		xs = append(xs, float64(math.Float32frombits(bits)))
	}
	if len(xs) == 0 {
		return nil
	}
	mean, std := stat.MeanStdDev(xs, nil)
	min, max := xs[0], xs[0]
	for _, x := range xs {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	fmt.Printf("signal[0]: mean=%g std=%g min=%g max=%g (n=%d)\n", mean, std, min, max, len(xs))
	return nil
}
