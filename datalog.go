// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scrutiny // import "github.com/scrutiny-go/scrutiny"

import (
	"bytes"

	"github.com/scrutiny-go/scrutiny/datalogging"
	"github.com/scrutiny-go/scrutiny/loop"
	"github.com/scrutiny-go/scrutiny/protocol"
	"github.com/scrutiny-go/scrutiny/target"
	"golang.org/x/xerrors"
)

// wire tags of loggable items.
const (
	itemMemory uint8 = 0x01
	itemRPV    uint8 = 0x02
	itemTime   uint8 = 0x03
)

// wire tags of trigger operands.
const (
	opLiteral uint8 = 0x00
	opVar     uint8 = 0x01
	opVarBit  uint8 = 0x02
	opRPV     uint8 = 0x03
)

// EncodeDataloggingConfig serializes a datalogging configuration into
// the payload of a DataLogControl/Configure request. It is the
// host-side counterpart of the agent's configure parser.
func EncodeDataloggingConfig(enc *protocol.Encoder, cfg *datalogging.Configuration) error {
	enc.WriteU16(cfg.Decimation)
	enc.WriteU8(cfg.ProbeLocation)
	enc.WriteU32(cfg.TimeoutUS)

	enc.WriteU8(cfg.ItemsCount)
	for i := uint8(0); i < cfg.ItemsCount; i++ {
		switch item := cfg.Items[i].(type) {
		case datalogging.MemoryItem:
			enc.WriteU8(itemMemory)
			enc.WriteU64(item.Addr)
			enc.WriteU8(item.Size)
		case datalogging.RPVItem:
			enc.WriteU8(itemRPV)
			enc.WriteU16(item.ID)
		case datalogging.TimeItem:
			enc.WriteU8(itemTime)
		default:
			return xerrors.Errorf("scrutiny: invalid loggable item %d", i)
		}
	}

	trig := &cfg.Trigger
	enc.WriteU8(uint8(trig.Condition))
	enc.WriteU8(trig.OperandCount)
	enc.WriteU32(trig.HoldTimeUS)
	for i := uint8(0); i < trig.OperandCount; i++ {
		switch op := trig.Operands[i].(type) {
		case datalogging.Literal:
			enc.WriteU8(opLiteral)
			enc.WriteF32(op.Val)
		case datalogging.Var:
			enc.WriteU8(opVar)
			enc.WriteU64(op.Addr)
			enc.WriteU8(uint8(op.Type))
		case datalogging.VarBit:
			enc.WriteU8(opVarBit)
			enc.WriteU64(op.Addr)
			enc.WriteU8(uint8(op.Type))
			enc.WriteU8(op.BitOffset)
			enc.WriteU8(op.BitSize)
		case datalogging.RPV:
			enc.WriteU8(opRPV)
			enc.WriteU16(op.ID)
		default:
			return xerrors.Errorf("scrutiny: invalid trigger operand %d", i)
		}
	}
	return enc.Err()
}

// decodeDataloggingConfig parses a DataLogControl/Configure payload.
func decodeDataloggingConfig(dec *protocol.Decoder) (*datalogging.Configuration, error) {
	cfg := new(datalogging.Configuration)
	cfg.Decimation = dec.ReadU16()
	cfg.ProbeLocation = dec.ReadU8()
	cfg.TimeoutUS = dec.ReadU32()

	cfg.ItemsCount = dec.ReadU8()
	if dec.Err() != nil {
		return nil, dec.Err()
	}
	if cfg.ItemsCount > datalogging.MaxSignals {
		return nil, xerrors.Errorf("scrutiny: too many items (%d)", cfg.ItemsCount)
	}
	for i := uint8(0); i < cfg.ItemsCount; i++ {
		switch tag := dec.ReadU8(); tag {
		case itemMemory:
			cfg.Items[i] = datalogging.MemoryItem{
				Addr: dec.ReadU64(),
				Size: dec.ReadU8(),
			}
		case itemRPV:
			cfg.Items[i] = datalogging.RPVItem{ID: dec.ReadU16()}
		case itemTime:
			cfg.Items[i] = datalogging.TimeItem{}
		default:
			return nil, xerrors.Errorf("scrutiny: invalid item tag 0x%02x", tag)
		}
	}

	trig := &cfg.Trigger
	trig.Condition = datalogging.Condition(dec.ReadU8())
	trig.OperandCount = dec.ReadU8()
	trig.HoldTimeUS = dec.ReadU32()
	if dec.Err() != nil {
		return nil, dec.Err()
	}
	if trig.OperandCount > datalogging.MaxOperands {
		return nil, xerrors.Errorf("scrutiny: too many operands (%d)", trig.OperandCount)
	}
	for i := uint8(0); i < trig.OperandCount; i++ {
		switch tag := dec.ReadU8(); tag {
		case opLiteral:
			trig.Operands[i] = datalogging.Literal{Val: dec.ReadF32()}
		case opVar:
			trig.Operands[i] = datalogging.Var{
				Addr: dec.ReadU64(),
				Type: target.VariableType(dec.ReadU8()),
			}
		case opVarBit:
			trig.Operands[i] = datalogging.VarBit{
				Addr:      dec.ReadU64(),
				Type:      target.VariableType(dec.ReadU8()),
				BitOffset: dec.ReadU8(),
				BitSize:   dec.ReadU8(),
			}
		case opRPV:
			trig.Operands[i] = datalogging.RPV{ID: dec.ReadU16()}
		default:
			return nil, xerrors.Errorf("scrutiny: invalid operand tag 0x%02x", tag)
		}
	}

	if dec.Err() != nil {
		return nil, dec.Err()
	}
	return cfg, nil
}

// ownerLoop returns the loop owning the datalogger, nil in a
// loop-less (main-driven) assembly.
func (h *MainHandler) ownerLoop() *loop.Handler {
	if h.owner < 0 || h.owner >= len(h.loops) {
		return nil
	}
	return h.loops[h.owner]
}

// forward posts a datalogging control message to the owning loop, or
// applies fn directly in a loop-less assembly.
func (h *MainHandler) forward(m loop.Message, fn func() error) protocol.ResponseCode {
	if l := h.ownerLoop(); l != nil {
		if !l.Send(m) {
			return protocol.CodeBusy
		}
		return protocol.CodeOK
	}
	if err := fn(); err != nil {
		h.msg.Warnf("datalogging command rejected: %+v", err)
		return protocol.CodeInvalidRequest
	}
	return protocol.CodeOK
}

func (h *MainHandler) processDataLogControl(req protocol.Request) (protocol.ResponseCode, []byte) {
	buf := new(bytes.Buffer)
	enc := protocol.NewEncoder(buf)
	dec := protocol.NewDecoder(bytes.NewReader(req.Data))

	switch req.Subfunction {
	case protocol.DataLogGetSetup:
		enc.WriteU32(uint32(len(h.cfg.DataloggingBuffer)))
		enc.WriteU8(uint8(datalogging.EncodingRaw))
		enc.WriteU8(datalogging.MaxSignals)

	case protocol.DataLogConfigure:
		cfg, err := decodeDataloggingConfig(dec)
		if err != nil {
			h.msg.Warnf("invalid datalogging configuration: %+v", err)
			return protocol.CodeInvalidRequest, nil
		}
		h.session = nil
		code := h.forward(
			loop.Message{Type: loop.MsgConfigure, Config: cfg},
			func() error { return h.dl.Configure(cfg) },
		)
		if code != protocol.CodeOK {
			return code, nil
		}

	case protocol.DataLogArmTrigger:
		h.session = nil
		if code := h.forward(loop.Message{Type: loop.MsgArm}, h.dl.ArmTrigger); code != protocol.CodeOK {
			return code, nil
		}

	case protocol.DataLogDisarmTrigger:
		if code := h.forward(loop.Message{Type: loop.MsgDisarm}, h.dl.DisarmTrigger); code != protocol.CodeOK {
			return code, nil
		}

	case protocol.DataLogGetStatus:
		tsd := h.dl.PublishedData()
		enc.WriteU8(uint8(tsd.State))
		enc.WriteU8(uint8(tsd.Fault))
		enc.WriteU32(tsd.BytesToAcquireAfterTrigger)
		enc.WriteU32(tsd.WriteCounterSinceTrigger)

	case protocol.DataLogGetAcqMetadata:
		// Gate on the published snapshot: the producer has logically
		// stopped writing once it published the completed state.
		if h.dl.PublishedData().State != datalogging.StateAcquisitionCompleted {
			return protocol.CodeFailureToProceed, nil
		}
		e := h.dl.Encoder()
		enc.WriteU32(e.EntrySize())
		enc.WriteU32(e.EntriesCount())
		enc.WriteU32(e.Reader().TotalSize())

	case protocol.DataLogReadAcquisition:
		max := dec.ReadU16()
		if dec.Err() != nil {
			return protocol.CodeInvalidRequest, nil
		}
		if h.session == nil {
			if h.dl.PublishedData().State != datalogging.StateAcquisitionCompleted {
				return protocol.CodeFailureToProceed, nil
			}
			ses, err := h.dl.StartReadSession()
			if err != nil {
				return protocol.CodeFailureToProceed, nil
			}
			h.session = ses
		}
		// Response payload: rolling counter, finished flag, chunk,
		// CRC over every byte delivered so far.
		limit := len(h.cfg.TxBuffer) - 15
		if limit <= 0 {
			return protocol.CodeOverflow, nil
		}
		if int(max) < limit {
			limit = int(max)
		}
		chunk := make([]byte, limit)
		n := h.session.Next(chunk)
		enc.WriteU8(h.session.RollingCounter())
		if h.session.Finished() {
			enc.WriteU8(1)
		} else {
			enc.WriteU8(0)
		}
		enc.WriteBytes(chunk[:n])
		enc.WriteU32(h.session.CRC())

	case protocol.DataLogReset:
		switch h.dl.PublishedData().State {
		case datalogging.StateArmed, datalogging.StateTriggered:
			return protocol.CodeBusy, nil
		}
		h.session = nil
		h.dl.Reset()

	default:
		return protocol.CodeUnsupportedFeature, nil
	}

	if enc.Err() != nil {
		return protocol.CodeFailureToProceed, nil
	}
	return protocol.CodeOK, buf.Bytes()
}
