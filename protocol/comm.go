// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol // import "github.com/scrutiny-go/scrutiny/protocol"

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/scrutiny-go/scrutiny/target"
)

// RxError reports why the reception state machine dropped a frame.
type RxError uint8

const (
	RxErrorNone RxError = iota
	RxErrorOverflow
	RxErrorCRC
)

type rxState uint8

const (
	rxCommand rxState = iota
	rxSubfunction
	rxLengthMSB
	rxLengthLSB
	rxData
	rxCRC
	rxDone
)

// CommHandler owns the reception and emission buffers of the link.
// It reassembles request frames from arbitrarily chunked input; bytes
// may arrive one at a time.
type CommHandler struct {
	rx []byte
	tx []byte
	tb *target.Timebase

	state    rxState
	request  Request
	received bool
	rxError  RxError

	dataLength uint16
	dataRead   uint16
	crcBytes   [4]byte
	crcRead    uint8
	lastRxTS   uint32

	connected   bool
	sessionID   uint32
	heartbeatTS uint32
	hbChallenge uint16
}

// Init attaches the handler to its caller-provided buffers.
func (c *CommHandler) Init(rx, tx []byte, tb *target.Timebase) {
	c.rx = rx
	c.tx = tx
	c.tb = tb
	c.resetRx()
}

func (c *CommHandler) resetRx() {
	c.state = rxCommand
	c.received = false
	c.rxError = RxErrorNone
	c.dataLength = 0
	c.dataRead = 0
	c.crcRead = 0
}

// Connect opens a session. The session id tags every heartbeat until
// Disconnect.
func (c *CommHandler) Connect(sessionID uint32) {
	c.connected = true
	c.sessionID = sessionID
	c.heartbeatTS = c.tb.Timestamp()
}

func (c *CommHandler) Disconnect() {
	c.connected = false
	c.resetRx()
}

// Connected reports whether a host session is open.
func (c *CommHandler) Connected() bool { return c.connected }

// SessionID returns the id of the open session.
func (c *CommHandler) SessionID() uint32 { return c.sessionID }

// Heartbeat refreshes the session with the host challenge and returns
// true when the session id matches.
func (c *CommHandler) Heartbeat(sessionID uint32, challenge uint16) bool {
	if !c.connected || sessionID != c.sessionID {
		return false
	}
	c.heartbeatTS = c.tb.Timestamp()
	c.hbChallenge = ^challenge
	return true
}

// HeartbeatResponse returns the complemented challenge of the last
// accepted heartbeat.
func (c *CommHandler) HeartbeatResponse() uint16 { return c.hbChallenge }

// Process expires the session and the RX machine against their
// timeouts. It must run once per main-handler tick.
func (c *CommHandler) Process() {
	if c.connected && c.tb.Expired(c.heartbeatTS, HeartbeatTimeoutUS) {
		c.Disconnect()
	}
	// A stalled frame, or one dropped on overflow or CRC mismatch,
	// rearms reception once the link has been silent for the RX
	// timeout. Trailing bytes of the dropped frame keep refreshing
	// lastRxTS while they drain, so they are never reinterpreted as
	// the header of a fresh frame.
	if c.state != rxCommand && !c.received && c.tb.Expired(c.lastRxTS, RxTimeoutUS) {
		c.resetRx()
	}
}

// RequestReceived reports whether a full valid frame is pending.
func (c *CommHandler) RequestReceived() bool { return c.received }

// GetRequest returns the pending request. The data aliases the RX
// buffer and is only valid until the next ReceiveData.
func (c *CommHandler) GetRequest() *Request { return &c.request }

// GetRxError returns the error of the last dropped frame.
func (c *CommHandler) GetRxError() RxError { return c.rxError }

// PopRequest consumes the pending request, rearming reception.
func (c *CommHandler) PopRequest() Request {
	req := c.request
	c.resetRx()
	return req
}

// TxBuffer returns the emission buffer responses are framed into.
func (c *CommHandler) TxBuffer() []byte { return c.tx }

// ReceiveData feeds link bytes into the reception state machine.
// Any chunking is accepted; a pending unconsumed request pauses
// reception until popped.
func (c *CommHandler) ReceiveData(data []byte) {
	if c.received {
		return
	}
	// Same timeout as in Process: a frame that stalled or was dropped
	// a while ago rearms reception as soon as fresh bytes arrive.
	if c.state != rxCommand && c.tb.Expired(c.lastRxTS, RxTimeoutUS) {
		c.resetRx()
	}
	c.lastRxTS = c.tb.Timestamp()

	for _, b := range data {
		switch c.state {
		case rxCommand:
			c.request.Command = CommandID(b)
			c.state = rxSubfunction

		case rxSubfunction:
			c.request.Subfunction = b
			c.state = rxLengthMSB

		case rxLengthMSB:
			c.dataLength = uint16(b) << 8
			c.state = rxLengthLSB

		case rxLengthLSB:
			c.dataLength |= uint16(b)
			c.dataRead = 0
			switch {
			case int(c.dataLength) > len(c.rx):
				c.rxError = RxErrorOverflow
				c.state = rxDone
			case c.dataLength == 0:
				c.state = rxCRC
			default:
				c.state = rxData
			}

		case rxData:
			c.rx[c.dataRead] = b
			c.dataRead++
			if c.dataRead == c.dataLength {
				c.state = rxCRC
			}

		case rxCRC:
			c.crcBytes[c.crcRead] = b
			c.crcRead++
			if c.crcRead == 4 {
				c.finishFrame()
			}

		case rxDone:
			// Drain bytes of a dropped frame until the RX timeout
			// rearms reception.
		}

		if c.received {
			return
		}
	}
}

// finishFrame validates the CRC of the reassembled frame.
func (c *CommHandler) finishFrame() {
	crc := crc32.NewIEEE()
	var hdr [4]byte
	hdr[0] = uint8(c.request.Command)
	hdr[1] = c.request.Subfunction
	binary.BigEndian.PutUint16(hdr[2:4], c.dataLength)
	crc.Write(hdr[:])
	crc.Write(c.rx[:c.dataLength])

	want := binary.BigEndian.Uint32(c.crcBytes[:])
	if crc.Sum32() != want {
		c.rxError = RxErrorCRC
		c.state = rxDone
		return
	}

	c.request.Data = c.rx[:c.dataLength]
	c.received = true
	c.state = rxDone
}
