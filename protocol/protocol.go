// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protocol implements the framed request/response protocol
// the agent speaks with the host over a byte-oriented link.
//
// A request is framed as:
//
//	[command u8] [subfunction u8] [length u16] [data] [crc32 u32]
//
// and a response as:
//
//	[command|0x80 u8] [subfunction u8] [code u8] [length u16] [data] [crc32 u32]
//
// with every multi-byte field big-endian and the CRC computed over
// every byte before it.
package protocol // import "github.com/scrutiny-go/scrutiny/protocol"

import (
	"fmt"
)

// Protocol version spoken by this agent.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// Reception and session timeouts, in microseconds.
const (
	RxTimeoutUS        = 50000   // reset the RX state machine when a frame stalls
	HeartbeatTimeoutUS = 5000000 // drop the session without a heartbeat
)

// responseFlag marks a command id as a response.
const responseFlag = 0x80

// CommandID identifies a command family.
type CommandID uint8

const (
	CmdGetInfo        CommandID = 0x01
	CmdCommControl    CommandID = 0x02
	CmdMemoryControl  CommandID = 0x03
	CmdUserCommand    CommandID = 0x04
	CmdDataLogControl CommandID = 0x05
)

func (c CommandID) String() string {
	switch c {
	case CmdGetInfo:
		return "get-info"
	case CmdCommControl:
		return "comm-control"
	case CmdMemoryControl:
		return "memory-control"
	case CmdUserCommand:
		return "user-command"
	case CmdDataLogControl:
		return "datalog-control"
	default:
		return fmt.Sprintf("command-0x%02x", uint8(c))
	}
}

// GetInfo subfunctions.
const (
	GetInfoProtocolVersion uint8 = 0x01
	GetInfoBufferSizes     uint8 = 0x02
	GetInfoLoops           uint8 = 0x03
)

// CommControl subfunctions.
const (
	CommControlConnect    uint8 = 0x01
	CommControlHeartbeat  uint8 = 0x02
	CommControlDisconnect uint8 = 0x03
)

// MemoryControl subfunctions.
const (
	MemoryControlRead  uint8 = 0x01
	MemoryControlWrite uint8 = 0x02
)

// DataLogControl subfunctions.
const (
	DataLogGetSetup        uint8 = 0x01
	DataLogConfigure       uint8 = 0x02
	DataLogArmTrigger      uint8 = 0x03
	DataLogDisarmTrigger   uint8 = 0x04
	DataLogGetStatus       uint8 = 0x05
	DataLogGetAcqMetadata  uint8 = 0x06
	DataLogReadAcquisition uint8 = 0x07
	DataLogReset           uint8 = 0x08
)

// ResponseCode reports the outcome of a request.
type ResponseCode uint8

const (
	CodeOK ResponseCode = iota
	CodeInvalidRequest
	CodeUnsupportedFeature
	CodeOverflow
	CodeBusy
	CodeFailureToProceed
)

func (c ResponseCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidRequest:
		return "invalid-request"
	case CodeUnsupportedFeature:
		return "unsupported-feature"
	case CodeOverflow:
		return "overflow"
	case CodeBusy:
		return "busy"
	case CodeFailureToProceed:
		return "failure-to-proceed"
	default:
		panic(fmt.Errorf("invalid response code %d", uint8(c)))
	}
}

// Request is one framed command from the host. Data aliases the
// reception buffer and is only valid until the next frame.
type Request struct {
	Command     CommandID
	Subfunction uint8
	Data        []byte
}

// Response is the reply to one request.
type Response struct {
	Command     CommandID
	Subfunction uint8
	Code        ResponseCode
	Data        []byte
}
