// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol // import "github.com/scrutiny-go/scrutiny/protocol"

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/scrutiny-go/scrutiny/target"
)

func newComm() (*CommHandler, *target.Timebase) {
	tb := new(target.Timebase)
	c := new(CommHandler)
	c.Init(make([]byte, 128), make([]byte, 128), tb)
	return c, tb
}

// frame builds a valid request frame by hand.
func frame(cmd, subfn uint8, data []byte) []byte {
	buf := make([]byte, 4+len(data)+4)
	buf[0] = cmd
	buf[1] = subfn
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(data)))
	copy(buf[4:], data)
	crc := crc32.ChecksumIEEE(buf[: 4+len(data) : 4+len(data)])
	binary.BigEndian.PutUint32(buf[4+len(data):], crc)
	return buf
}

func TestRxZeroLen(t *testing.T) {
	for _, tt := range []struct {
		name  string
		chunk int
	}{
		{name: "all-in-one", chunk: 8},
		{name: "byte-per-byte", chunk: 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newComm()
			data := frame(1, 2, nil)
			for i := 0; i < len(data); i += tt.chunk {
				end := i + tt.chunk
				if end > len(data) {
					end = len(data)
				}
				c.ReceiveData(data[i:end])
			}

			if !c.RequestReceived() {
				t.Fatalf("request not received")
			}
			req := c.GetRequest()
			if got, want := req.Command, CommandID(1); got != want {
				t.Fatalf("invalid command.\ngot = %v\nwant= %v\n", got, want)
			}
			if got, want := req.Subfunction, uint8(2); got != want {
				t.Fatalf("invalid subfunction.\ngot = %d\nwant= %d\n", got, want)
			}
			if len(req.Data) != 0 {
				t.Fatalf("unexpected data: %v", req.Data)
			}
			if got := c.GetRxError(); got != RxErrorNone {
				t.Fatalf("unexpected rx error: %v", got)
			}
		})
	}
}

func TestRxNonZeroLen(t *testing.T) {
	for _, tt := range []struct {
		name  string
		chunk int
	}{
		{name: "all-in-one", chunk: 16},
		{name: "byte-per-byte", chunk: 1},
		{name: "odd-chunks", chunk: 3},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newComm()
			data := frame(1, 2, []byte{0x11, 0x22, 0x33})
			for i := 0; i < len(data); i += tt.chunk {
				end := i + tt.chunk
				if end > len(data) {
					end = len(data)
				}
				c.ReceiveData(data[i:end])
			}

			if !c.RequestReceived() {
				t.Fatalf("request not received")
			}
			req := c.GetRequest()
			if diff := cmp.Diff([]byte{0x11, 0x22, 0x33}, req.Data); diff != "" {
				t.Fatalf("invalid data: (-want +got)\n%s", diff)
			}
		})
	}
}

func TestRxBadCRC(t *testing.T) {
	c, tb := newComm()
	data := frame(1, 2, []byte{0x11})
	data[len(data)-1] ^= 0xff
	c.ReceiveData(data)

	if c.RequestReceived() {
		t.Fatalf("corrupted frame accepted")
	}
	if got := c.GetRxError(); got != RxErrorCRC {
		t.Fatalf("invalid rx error.\ngot = %v\nwant= %v\n", got, RxErrorCRC)
	}

	// A clean frame goes through once the RX timeout rearmed
	// reception.
	tb.Step(RxTimeoutUS)
	c.Process()
	c.ReceiveData(frame(1, 2, []byte{0x11}))
	if !c.RequestReceived() {
		t.Fatalf("request not received after error recovery")
	}
}

func TestRxOverflow(t *testing.T) {
	tb := new(target.Timebase)
	c := new(CommHandler)
	c.Init(make([]byte, 4), make([]byte, 128), tb)

	c.ReceiveData(frame(1, 2, []byte{1, 2, 3, 4, 5, 6}))
	if c.RequestReceived() {
		t.Fatalf("oversized frame accepted")
	}
	if got := c.GetRxError(); got != RxErrorOverflow {
		t.Fatalf("invalid rx error.\ngot = %v\nwant= %v\n", got, RxErrorOverflow)
	}
}

func TestRxOverflowRestoreAfterDelay(t *testing.T) {
	tb := new(target.Timebase)
	c := new(CommHandler)
	c.Init(make([]byte, 4), make([]byte, 128), tb)

	c.ReceiveData(frame(1, 2, []byte{1, 2, 3, 4, 5, 6}))
	if got := c.GetRxError(); got != RxErrorOverflow {
		t.Fatalf("invalid rx error.\ngot = %v\nwant= %v\n", got, RxErrorOverflow)
	}

	// Recovery comes from elapsed link silence alone: no process
	// tick, no explicit clear.
	tb.Step(RxTimeoutUS)

	c.ReceiveData(frame(3, 4, []byte{0x55}))
	if !c.RequestReceived() {
		t.Fatalf("request not received after overflow recovery")
	}
	req := c.GetRequest()
	if got, want := req.Command, CommandID(3); got != want {
		t.Fatalf("invalid command.\ngot = %v\nwant= %v\n", got, want)
	}
	if got := c.GetRxError(); got != RxErrorNone {
		t.Fatalf("rx error survived recovery: %v", got)
	}
}

func TestRxUseAllBuffer(t *testing.T) {
	c, _ := newComm()

	// A payload exactly the size of the RX buffer must go through.
	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i)
	}
	c.ReceiveData(frame(1, 2, data))

	if !c.RequestReceived() {
		t.Fatalf("full-buffer frame rejected")
	}
	req := c.GetRequest()
	if got, want := len(req.Data), len(data); got != want {
		t.Fatalf("invalid data length.\ngot = %d\nwant= %d\n", got, want)
	}
	if diff := cmp.Diff(data, req.Data); diff != "" {
		t.Fatalf("invalid data: (-want +got)\n%s", diff)
	}
	if got := c.GetRxError(); got != RxErrorNone {
		t.Fatalf("unexpected rx error: %v", got)
	}
}

func TestRxTimeout(t *testing.T) {
	c, tb := newComm()
	c.ReceiveData([]byte{1, 2}) // half a header
	tb.Step(RxTimeoutUS)
	c.Process()

	// The stalled frame is gone; a fresh one parses from scratch.
	c.ReceiveData(frame(3, 4, nil))
	if !c.RequestReceived() {
		t.Fatalf("request not received after rx timeout")
	}
	if got := c.GetRequest().Command; got != CommandID(3) {
		t.Fatalf("invalid command.\ngot = %v\nwant= %v\n", got, CommandID(3))
	}
}

func TestHeartbeatSession(t *testing.T) {
	c, tb := newComm()
	c.Connect(0xdeadbeef)
	if !c.Connected() {
		t.Fatalf("session not open")
	}

	if c.Heartbeat(0x12345678, 0) {
		t.Fatalf("heartbeat accepted a wrong session id")
	}
	if !c.Heartbeat(0xdeadbeef, 0x55aa) {
		t.Fatalf("heartbeat rejected")
	}
	if got, want := c.HeartbeatResponse(), uint16(0xaa55); got != want {
		t.Fatalf("invalid challenge response.\ngot = %#x\nwant= %#x\n", got, want)
	}

	tb.Step(HeartbeatTimeoutUS - 1)
	c.Process()
	if !c.Connected() {
		t.Fatalf("session dropped before heartbeat timeout")
	}
	tb.Step(1)
	c.Process()
	if c.Connected() {
		t.Fatalf("session survived heartbeat timeout")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	n, err := EncodeResponse(buf, Response{
		Command:     CmdDataLogControl,
		Subfunction: DataLogGetStatus,
		Code:        CodeOK,
		Data:        []byte{0xde, 0xad},
	})
	if err != nil {
		t.Fatalf("could not encode response: %+v", err)
	}

	resp, err := DecodeResponse(buf[:n])
	if err != nil {
		t.Fatalf("could not decode response: %+v", err)
	}
	if resp.Command != CmdDataLogControl || resp.Subfunction != DataLogGetStatus || resp.Code != CodeOK {
		t.Fatalf("invalid response header: %+v", resp)
	}
	if diff := cmp.Diff([]byte{0xde, 0xad}, resp.Data); diff != "" {
		t.Fatalf("invalid response data: (-want +got)\n%s", diff)
	}

	buf[5] ^= 0xff // corrupt the payload
	if _, err := DecodeResponse(buf[:n]); err == nil {
		t.Fatalf("corrupted response accepted")
	}
}
