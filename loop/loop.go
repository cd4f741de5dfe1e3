// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loop implements the sampling-loop handlers of the agent.
// Each handler runs in its own execution context (typically a timer
// interrupt or a dedicated task), owns its own timebase and talks to
// the main handler over a pair of one-to-one bounded non-blocking
// message channels. The datalogger is owned by exactly one handler at
// a time; ownership moves through an explicit release/claim
// handshake.
package loop // import "github.com/scrutiny-go/scrutiny/loop"

import (
	"fmt"

	"github.com/go-daq/tdaq/log"
	"github.com/scrutiny-go/scrutiny/datalogging"
	"github.com/scrutiny-go/scrutiny/target"
)

// MsgType identifies a message exchanged between main and loop.
type MsgType uint8

const (
	// main -> loop
	MsgConfigure MsgType = iota
	MsgArm
	MsgDisarm
	MsgReleaseOwnership
	MsgClaimOwnership

	// loop -> main
	MsgStateUpdate
	MsgOwnershipReleased
	MsgError
)

func (mt MsgType) String() string {
	switch mt {
	case MsgConfigure:
		return "configure"
	case MsgArm:
		return "arm"
	case MsgDisarm:
		return "disarm"
	case MsgReleaseOwnership:
		return "release-ownership"
	case MsgClaimOwnership:
		return "claim-ownership"
	case MsgStateUpdate:
		return "state-update"
	case MsgOwnershipReleased:
		return "ownership-released"
	case MsgError:
		return "error"
	default:
		panic(fmt.Errorf("invalid message type %d", uint8(mt)))
	}
}

// Message is one datalogging control or status message.
type Message struct {
	Type   MsgType
	Config *datalogging.Configuration // MsgConfigure
	Data   datalogging.ThreadSafeData // MsgStateUpdate
	Fault  datalogging.Fault          // MsgError
}

// msgDepth bounds the channels; rather than block either context, a
// full loop-to-main channel drops the message being posted and a full
// main-to-loop channel rejects it.
const msgDepth = 4

// Handler is one sampling loop. A zero period makes it a variable
// frequency loop, stepped by whatever dt its caller measures.
type Handler struct {
	name     string
	periodUS uint32
	tb       target.Timebase
	msg      log.MsgStream

	dl   *datalogging.DataLogger
	owns bool

	toLoop chan Message
	toMain chan Message
}

// NewFixedFreqHandler builds a loop ticking every periodUS.
func NewFixedFreqHandler(name string, periodUS uint32, msg log.MsgStream) *Handler {
	h := newHandler(name, msg)
	h.periodUS = periodUS
	return h
}

// NewVariableFreqHandler builds a loop stepped by measured time.
func NewVariableFreqHandler(name string, msg log.MsgStream) *Handler {
	return newHandler(name, msg)
}

func newHandler(name string, msg log.MsgStream) *Handler {
	if msg == nil {
		msg = log.NewMsgStream(name, log.LvlInfo, nil)
	}
	return &Handler{
		name:   name,
		msg:    msg,
		toLoop: make(chan Message, msgDepth),
		toMain: make(chan Message, msgDepth),
	}
}

// Name returns the loop name.
func (h *Handler) Name() string { return h.name }

// PeriodUS returns the tick period, 0 for variable frequency loops.
func (h *Handler) PeriodUS() uint32 { return h.periodUS }

// Timebase returns the loop-local timebase.
func (h *Handler) Timebase() *target.Timebase { return &h.tb }

// AttachDatalogger hands the datalogger to this loop. The initial
// owner is designated once at init time, before any loop runs.
func (h *Handler) AttachDatalogger(dl *datalogging.DataLogger, owner bool) {
	h.dl = dl
	h.owns = owner
	if owner {
		dl.SetTimebase(&h.tb)
	}
}

// OwnsDatalogger reports whether this loop currently samples.
func (h *Handler) OwnsDatalogger() bool { return h.owns }

// Send posts a control message to the loop. It reports false, and
// the message is not queued, when the channel is full.
func (h *Handler) Send(m Message) bool {
	select {
	case h.toLoop <- m:
		return true
	default:
		return false
	}
}

// Poll retrieves one pending loop-to-main message.
func (h *Handler) Poll() (Message, bool) {
	select {
	case m := <-h.toMain:
		return m, true
	default:
		return Message{}, false
	}
}

// post sends a loop-to-main message, dropping it when the channel is
// full. Every message type is dropped alike, error reports and
// ownership acknowledgements included; the main handler drains the
// channel once per main-handler tick.
func (h *Handler) post(m Message) {
	select {
	case h.toMain <- m:
	default:
	}
}

// Process runs one loop tick: advance the loop timebase, act on
// pending control messages, then sample. dtUS is ignored by fixed
// frequency loops.
func (h *Handler) Process(dtUS uint32) {
	if h.periodUS > 0 {
		h.tb.Step(h.periodUS)
	} else {
		h.tb.Step(dtUS)
	}

	for {
		m, ok := h.pop()
		if !ok {
			break
		}
		h.handle(m)
	}

	if h.owns && h.dl != nil {
		h.dl.Process()
		h.post(Message{Type: MsgStateUpdate, Data: h.dl.PublishedData()})
	}
}

func (h *Handler) pop() (Message, bool) {
	select {
	case m := <-h.toLoop:
		return m, true
	default:
		return Message{}, false
	}
}

func (h *Handler) handle(m Message) {
	if h.dl == nil {
		return
	}
	switch m.Type {
	case MsgConfigure:
		if !h.requireOwnership(datalogging.FaultUnexpectedClaim) {
			return
		}
		if err := h.dl.Configure(m.Config); err != nil {
			h.msg.Warnf("datalogging configure rejected: %+v", err)
			h.post(Message{Type: MsgError, Fault: h.dl.Fault()})
		}

	case MsgArm:
		if !h.requireOwnership(datalogging.FaultUnexpectedClaim) {
			return
		}
		if err := h.dl.ArmTrigger(); err != nil {
			h.msg.Warnf("could not arm trigger: %+v", err)
			h.post(Message{Type: MsgError, Fault: h.dl.Fault()})
		}

	case MsgDisarm:
		if !h.requireOwnership(datalogging.FaultUnexpectedClaim) {
			return
		}
		if err := h.dl.DisarmTrigger(); err != nil {
			h.msg.Warnf("could not disarm trigger: %+v", err)
		}

	case MsgReleaseOwnership:
		if !h.owns {
			h.msg.Errorf("release requested but %q does not own the datalogger", h.name)
			h.dl.LatchFault(datalogging.FaultUnexpectedRelease)
			h.post(Message{Type: MsgError, Fault: datalogging.FaultUnexpectedRelease})
			return
		}
		// Any in-flight sample completed before this message was
		// popped; the datalogger is quiescent.
		h.owns = false
		h.post(Message{Type: MsgOwnershipReleased})

	case MsgClaimOwnership:
		if h.owns {
			h.msg.Errorf("claim requested but %q already owns the datalogger", h.name)
			h.dl.LatchFault(datalogging.FaultUnexpectedClaim)
			h.post(Message{Type: MsgError, Fault: datalogging.FaultUnexpectedClaim})
			return
		}
		h.owns = true
		h.dl.SetTimebase(&h.tb)
		h.post(Message{Type: MsgStateUpdate, Data: h.dl.PublishedData()})
	}
}

// requireOwnership latches a fault when a datalogging control message
// reaches a loop that does not own the datalogger.
func (h *Handler) requireOwnership(f datalogging.Fault) bool {
	if h.owns {
		return true
	}
	h.msg.Errorf("%q received a datalogging command without ownership", h.name)
	h.dl.LatchFault(f)
	h.post(Message{Type: MsgError, Fault: f})
	return false
}
