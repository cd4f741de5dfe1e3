// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scrutiny // import "github.com/scrutiny-go/scrutiny"

import (
	"bytes"

	"github.com/go-daq/tdaq/log"
	"github.com/scrutiny-go/scrutiny/datalogging"
	"github.com/scrutiny-go/scrutiny/loop"
	"github.com/scrutiny-go/scrutiny/protocol"
	"github.com/scrutiny-go/scrutiny/target"
	"golang.org/x/xerrors"
)

// connection magic exchanged on CommControl/Connect.
var connectMagic = [4]byte{0x82, 0x90, 0x22, 0x66}

// MainHandler is the consumer context of the agent: it parses framed
// host requests, answers them, and steers the sampling loops through
// their message channels.
type MainHandler struct {
	cfg *Config
	msg log.MsgStream

	tb   target.Timebase
	acc  *target.Accessor
	comm protocol.CommHandler
	dl   datalogging.DataLogger

	loops []*loop.Handler
	owner int // index of the loop owning the datalogger, -1 when main-driven

	txLen     int
	txPending bool

	session       *datalogging.ReadSession
	nextSessionID uint32
}

// Init assembles the agent from its configuration.
func (h *MainHandler) Init(cfg *Config) error {
	if cfg.Memory == nil {
		return xerrors.Errorf("scrutiny: missing target memory")
	}
	if len(cfg.RxBuffer) == 0 || len(cfg.TxBuffer) == 0 {
		return xerrors.Errorf("scrutiny: missing comm buffers")
	}
	if cfg.DataloggerOwner < 0 || (len(cfg.Loops) > 0 && cfg.DataloggerOwner >= len(cfg.Loops)) {
		return xerrors.Errorf("scrutiny: invalid datalogger owner %d", cfg.DataloggerOwner)
	}

	h.cfg = cfg
	h.msg = cfg.Msg
	if h.msg == nil {
		h.msg = log.NewMsgStream(cfg.Name, cfg.Level, nil)
	}

	h.acc = target.NewAccessor(cfg.Memory)
	h.acc.SetForbiddenRanges(cfg.ForbiddenRanges)
	h.acc.SetReadonlyRanges(cfg.ReadonlyRanges)
	h.acc.SetPublishedValues(cfg.RPVs, cfg.ReadRPV)

	h.comm.Init(cfg.RxBuffer, cfg.TxBuffer, &h.tb)

	h.loops = cfg.Loops
	h.owner = -1
	tb := &h.tb
	if len(h.loops) > 0 {
		h.owner = cfg.DataloggerOwner
		tb = h.loops[h.owner].Timebase()
	}
	h.dl.Init(h.acc, tb, cfg.DataloggingBuffer)
	for i, l := range h.loops {
		l.AttachDatalogger(&h.dl, i == h.owner)
	}

	h.nextSessionID = 0x73637200
	return nil
}

// Accessor returns the policy-checked target accessor.
func (h *MainHandler) Accessor() *target.Accessor { return h.acc }

// Datalogger returns the embedded datalogger.
func (h *MainHandler) Datalogger() *datalogging.DataLogger { return &h.dl }

// Timebase returns the main-context timebase.
func (h *MainHandler) Timebase() *target.Timebase { return &h.tb }

// ReceiveData feeds bytes received from the link into the agent.
func (h *MainHandler) ReceiveData(p []byte) {
	h.comm.ReceiveData(p)
}

// PopResponse returns the framed response pending emission, nil when
// there is none. The bytes alias the TX buffer and must be consumed
// before the next Process.
func (h *MainHandler) PopResponse() []byte {
	if !h.txPending {
		return nil
	}
	h.txPending = false
	return h.cfg.TxBuffer[:h.txLen]
}

// Process runs one main-handler tick: advance time, expire comm
// timeouts, drain loop messages and serve at most one host request.
func (h *MainHandler) Process(dtUS uint32) {
	h.tb.Step(dtUS)
	h.comm.Process()

	for _, l := range h.loops {
		for {
			m, ok := l.Poll()
			if !ok {
				break
			}
			if m.Type == loop.MsgError {
				h.msg.Errorf("loop %q reported datalogging fault: %v", l.Name(), m.Fault)
			}
		}
	}

	// Dropped frames (overflow, CRC mismatch) recover through the
	// comm handler's RX timeout; nothing to do here.
	if !h.comm.RequestReceived() || h.txPending {
		return
	}

	req := h.comm.PopRequest()
	resp := h.processRequest(req)
	n, err := protocol.EncodeResponse(h.cfg.TxBuffer, resp)
	if err != nil {
		h.msg.Errorf("could not encode response: %+v", err)
		resp = protocol.Response{Command: req.Command, Subfunction: req.Subfunction, Code: protocol.CodeOverflow}
		n, _ = protocol.EncodeResponse(h.cfg.TxBuffer, resp)
	}
	h.txLen = n
	h.txPending = true
}

// processRequest dispatches one request to its command family.
func (h *MainHandler) processRequest(req protocol.Request) protocol.Response {
	resp := protocol.Response{
		Command:     req.Command,
		Subfunction: req.Subfunction,
		Code:        protocol.CodeOK,
	}

	switch req.Command {
	case protocol.CmdGetInfo:
		resp.Code, resp.Data = h.processGetInfo(req)
	case protocol.CmdCommControl:
		resp.Code, resp.Data = h.processCommControl(req)
	case protocol.CmdMemoryControl:
		resp.Code, resp.Data = h.processMemoryControl(req)
	case protocol.CmdDataLogControl:
		resp.Code, resp.Data = h.processDataLogControl(req)
	default:
		resp.Code = protocol.CodeUnsupportedFeature
	}
	return resp
}

func (h *MainHandler) processGetInfo(req protocol.Request) (protocol.ResponseCode, []byte) {
	buf := new(bytes.Buffer)
	enc := protocol.NewEncoder(buf)

	switch req.Subfunction {
	case protocol.GetInfoProtocolVersion:
		enc.WriteU8(protocol.VersionMajor)
		enc.WriteU8(protocol.VersionMinor)

	case protocol.GetInfoBufferSizes:
		enc.WriteU16(uint16(len(h.cfg.RxBuffer)))
		enc.WriteU16(uint16(len(h.cfg.TxBuffer)))
		enc.WriteU32(uint32(len(h.cfg.DataloggingBuffer)))

	case protocol.GetInfoLoops:
		enc.WriteU8(uint8(len(h.loops)))
		for i, l := range h.loops {
			enc.WriteU32(l.PeriodUS()) // 0 for variable-frequency loops
			if i == h.owner {
				enc.WriteU8(1)
			} else {
				enc.WriteU8(0)
			}
		}

	default:
		return protocol.CodeUnsupportedFeature, nil
	}

	if enc.Err() != nil {
		return protocol.CodeFailureToProceed, nil
	}
	return protocol.CodeOK, buf.Bytes()
}

func (h *MainHandler) processCommControl(req protocol.Request) (protocol.ResponseCode, []byte) {
	buf := new(bytes.Buffer)
	enc := protocol.NewEncoder(buf)
	dec := protocol.NewDecoder(bytes.NewReader(req.Data))

	switch req.Subfunction {
	case protocol.CommControlConnect:
		var magic [4]byte
		magic[0] = dec.ReadU8()
		magic[1] = dec.ReadU8()
		magic[2] = dec.ReadU8()
		magic[3] = dec.ReadU8()
		if dec.Err() != nil || magic != connectMagic {
			return protocol.CodeInvalidRequest, nil
		}
		h.nextSessionID++
		h.comm.Connect(h.nextSessionID)
		enc.WriteBytes(connectMagic[:])
		enc.WriteU32(h.comm.SessionID())

	case protocol.CommControlHeartbeat:
		session := dec.ReadU32()
		challenge := dec.ReadU16()
		if dec.Err() != nil {
			return protocol.CodeInvalidRequest, nil
		}
		if !h.comm.Heartbeat(session, challenge) {
			return protocol.CodeFailureToProceed, nil
		}
		enc.WriteU32(session)
		enc.WriteU16(h.comm.HeartbeatResponse())

	case protocol.CommControlDisconnect:
		h.comm.Disconnect()

	default:
		return protocol.CodeUnsupportedFeature, nil
	}

	if enc.Err() != nil {
		return protocol.CodeFailureToProceed, nil
	}
	return protocol.CodeOK, buf.Bytes()
}

func (h *MainHandler) processMemoryControl(req protocol.Request) (protocol.ResponseCode, []byte) {
	buf := new(bytes.Buffer)
	enc := protocol.NewEncoder(buf)
	rd := bytes.NewReader(req.Data)
	dec := protocol.NewDecoder(rd)

	switch req.Subfunction {
	case protocol.MemoryControlRead:
		if rd.Len() == 0 {
			return protocol.CodeInvalidRequest, nil
		}
		for rd.Len() > 0 {
			addr := dec.ReadU64()
			size := dec.ReadU16()
			if dec.Err() != nil {
				return protocol.CodeInvalidRequest, nil
			}
			block := make([]byte, size)
			if !h.acc.ReadMemory(block, addr) {
				return protocol.CodeFailureToProceed, nil
			}
			enc.WriteU64(addr)
			enc.WriteU16(size)
			enc.WriteBytes(block)
		}

	case protocol.MemoryControlWrite:
		if rd.Len() == 0 {
			return protocol.CodeInvalidRequest, nil
		}
		for rd.Len() > 0 {
			addr := dec.ReadU64()
			size := dec.ReadU16()
			if dec.Err() != nil {
				return protocol.CodeInvalidRequest, nil
			}
			block := make([]byte, size)
			for i := range block {
				block[i] = dec.ReadU8()
			}
			if dec.Err() != nil {
				return protocol.CodeInvalidRequest, nil
			}
			if !h.acc.WriteMemory(block, addr) {
				return protocol.CodeFailureToProceed, nil
			}
			enc.WriteU64(addr)
			enc.WriteU16(size)
		}

	default:
		return protocol.CodeUnsupportedFeature, nil
	}

	if enc.Err() != nil {
		return protocol.CodeFailureToProceed, nil
	}
	return protocol.CodeOK, buf.Bytes()
}
