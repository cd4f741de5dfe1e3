// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"sync/atomic"

	"github.com/scrutiny-go/scrutiny/target"
	"golang.org/x/xerrors"
)

// DataLogger coordinates configuration, arming, acquisition and
// read-back of one datalogging campaign. The sampling loop drives
// Process; the protocol handler observes state through the published
// snapshot and reads data back once the acquisition completed.
type DataLogger struct {
	acc *target.Accessor
	tb  *target.Timebase
	buf []byte

	state State
	fault Fault

	cfg     Configuration
	encoder RawEncoder
	trigger triggerController

	decimCounter          uint16
	armTimestamp          uint32
	writeCounterAtTrigger uint32
	bytesAfterTrigger     uint32

	published atomic.Value // ThreadSafeData
}

// ThreadSafeData is the snapshot the sampling loop publishes once per
// tick for the protocol handler to read.
type ThreadSafeData struct {
	State                      State
	Fault                      Fault
	BytesToAcquireAfterTrigger uint32
	WriteCounterSinceTrigger   uint32
}

// Init attaches the datalogger to the target accessor, the timebase
// of its sampling loop and its caller-provided sample buffer.
func (dl *DataLogger) Init(acc *target.Accessor, tb *target.Timebase, buf []byte) {
	dl.acc = acc
	dl.tb = tb
	dl.buf = buf
	dl.state = StateIdle
	dl.fault = FaultNone
	dl.publish()
}

// SetTimebase rebinds the datalogger to the timebase of its owning
// sampling loop. Only valid between acquisitions.
func (dl *DataLogger) SetTimebase(tb *target.Timebase) {
	dl.tb = tb
	dl.encoder.tb = tb
}

// State returns the current state of the datalogger.
func (dl *DataLogger) State() State { return dl.state }

// Fault returns the latched error reason, FaultNone when healthy.
func (dl *DataLogger) Fault() Fault { return dl.fault }

// InError reports whether the datalogger latched an error.
func (dl *DataLogger) InError() bool { return dl.state == StateError }

// DataAcquired reports whether an acquisition completed and is ready
// for read-back.
func (dl *DataLogger) DataAcquired() bool {
	return dl.state == StateAcquisitionCompleted
}

// Encoder exposes the ring encoder, mainly for metadata queries.
func (dl *DataLogger) Encoder() *RawEncoder { return &dl.encoder }

// Config returns the active configuration.
func (dl *DataLogger) Config() *Configuration { return &dl.cfg }

// latch moves the datalogger to the error state with the given fault.
func (dl *DataLogger) latch(f Fault) {
	dl.state = StateError
	dl.fault = f
	dl.publish()
}

// LatchFault records an externally detected fault, such as an
// ownership handshake violation.
func (dl *DataLogger) LatchFault(f Fault) { dl.latch(f) }

// validate checks a configuration against the compile-time limits
// and the RPV registry.
func (dl *DataLogger) validate(cfg *Configuration) error {
	if cfg.ItemsCount == 0 || cfg.ItemsCount > MaxSignals {
		return xerrors.Errorf("invalid items count %d", cfg.ItemsCount)
	}
	if cfg.Decimation == 0 {
		return xerrors.Errorf("decimation must be >= 1")
	}

	var blocks int
	for i := uint8(0); i < cfg.ItemsCount; i++ {
		switch item := cfg.Items[i].(type) {
		case MemoryItem:
			blocks++
			if item.Size == 0 {
				return xerrors.Errorf("memory item %d has zero size", i)
			}
		case RPVItem:
			if _, ok := dl.acc.GetRPV(item.ID); !ok {
				return xerrors.Errorf("unknown RPV 0x%04x", item.ID)
			}
			if !dl.acc.HasRPVReadCallback() {
				return xerrors.Errorf("no RPV read callback registered")
			}
		case TimeItem:
			// always loggable
		default:
			return xerrors.Errorf("invalid loggable item %d", i)
		}
	}
	if blocks > MaxBlocks {
		return xerrors.Errorf("too many memory blocks (%d > %d)", blocks, MaxBlocks)
	}

	trig := &cfg.Trigger
	if trig.Condition > ChangeMoreThan {
		return xerrors.Errorf("invalid trigger condition %d", uint8(trig.Condition))
	}
	if trig.OperandCount == 0 || trig.OperandCount > MaxOperands {
		return xerrors.Errorf("invalid operand count %d", trig.OperandCount)
	}
	if trig.OperandCount != trig.Condition.operandCount() {
		return xerrors.Errorf("condition %v needs %d operands, got %d",
			trig.Condition, trig.Condition.operandCount(), trig.OperandCount)
	}
	for i := uint8(0); i < trig.OperandCount; i++ {
		switch op := trig.Operands[i].(type) {
		case Literal, Var, VarBit:
			// no registry lookup needed
		case RPV:
			if _, ok := dl.acc.GetRPV(op.ID); !ok {
				return xerrors.Errorf("unknown RPV operand 0x%04x", op.ID)
			}
			if !dl.acc.HasRPVReadCallback() {
				return xerrors.Errorf("no RPV read callback registered")
			}
		default:
			return xerrors.Errorf("invalid operand %d", i)
		}
	}

	return nil
}

// Configure installs a new acquisition configuration. It is rejected
// while an acquisition is in flight; any validation failure latches
// the error state until the next successful Configure.
func (dl *DataLogger) Configure(cfg *Configuration) error {
	switch dl.state {
	case StateArmed, StateTriggered:
		return xerrors.Errorf("cannot configure while %v", dl.state)
	}

	if err := dl.validate(cfg); err != nil {
		dl.latch(FaultConfigInvalid)
		return xerrors.Errorf("invalid datalogging configuration: %w", err)
	}

	dl.cfg = *cfg
	dl.encoder.Init(dl.acc, dl.tb, &dl.cfg, dl.buf)
	if dl.encoder.Error() {
		if dl.encoder.EntrySize() > 0 && dl.encoder.MaxEntries() == 0 {
			dl.latch(FaultBufferOverflow)
			return xerrors.Errorf("buffer too small for one entry of %d bytes", dl.encoder.EntrySize())
		}
		dl.latch(FaultConfigInvalid)
		return xerrors.Errorf("invalid datalogging configuration")
	}

	dl.trigger.disarm()
	dl.state = StateConfigured
	dl.fault = FaultNone
	dl.publish()
	return nil
}

// ArmTrigger starts a new acquisition: the ring and the stateful
// trigger evaluators are reset and sampling begins on the next tick.
func (dl *DataLogger) ArmTrigger() error {
	switch dl.state {
	case StateConfigured, StateAcquisitionCompleted:
	default:
		return xerrors.Errorf("cannot arm while %v", dl.state)
	}

	dl.encoder.Reset()
	if dl.encoder.Error() {
		dl.latch(FaultConfigInvalid)
		return xerrors.Errorf("encoder rejected configuration")
	}

	dl.trigger.arm()
	dl.decimCounter = 0
	dl.writeCounterAtTrigger = 0
	dl.armTimestamp = dl.tb.Timestamp()

	// Entry-exact share of the ring kept for post-trigger samples.
	end := uint64(dl.encoder.EffectiveEnd())
	dl.bytesAfterTrigger = uint32(end * uint64(255-dl.cfg.ProbeLocation) / 255)

	dl.state = StateArmed
	dl.publish()
	return nil
}

// DisarmTrigger cancels the acquisition in flight. The ring keeps its
// contents; re-arming resets them.
func (dl *DataLogger) DisarmTrigger() error {
	switch dl.state {
	case StateConfigured, StateArmed, StateTriggered:
	default:
		return xerrors.Errorf("cannot disarm while %v", dl.state)
	}
	dl.trigger.disarm()
	dl.state = StateConfigured
	dl.publish()
	return nil
}

// CheckTrigger evaluates the trigger condition with its hold-time
// debounce. It reports false when the trigger is not armed.
func (dl *DataLogger) CheckTrigger() bool {
	return dl.trigger.check(dl.acc, dl.tb, &dl.cfg.Trigger)
}

// Process runs one sampling tick. While armed it appends one row per
// decimated tick and watches the trigger; after firing it keeps
// sampling until the post-trigger share of the ring is captured.
func (dl *DataLogger) Process() {
	switch dl.state {
	case StateArmed, StateTriggered:
	default:
		dl.publish()
		return
	}

	if dl.cfg.TimeoutUS > 0 && dl.tb.Expired(dl.armTimestamp, dl.cfg.TimeoutUS) {
		// Best-effort capture of what was recorded so far.
		dl.state = StateAcquisitionCompleted
		dl.publish()
		return
	}

	dl.decimCounter++
	if dl.decimCounter >= dl.cfg.Decimation {
		dl.encoder.EncodeNextEntry()
		dl.decimCounter = 0
	}

	if dl.state == StateArmed && dl.CheckTrigger() {
		dl.state = StateTriggered
		dl.writeCounterAtTrigger = dl.encoder.WriteCounter()
	}

	if dl.state == StateTriggered {
		written := dl.encoder.WriteCounter() - dl.writeCounterAtTrigger
		if written*dl.encoder.EntrySize() >= dl.bytesAfterTrigger {
			dl.state = StateAcquisitionCompleted
		}
	}

	dl.publish()
}

// Reset drops the configuration and any acquired data.
func (dl *DataLogger) Reset() {
	dl.trigger.disarm()
	dl.state = StateIdle
	dl.fault = FaultNone
	dl.publish()
}

// publish stores the snapshot for the consumer context. Single
// writer, single reader; no lock.
func (dl *DataLogger) publish() {
	tsd := ThreadSafeData{
		State:                      dl.state,
		Fault:                      dl.fault,
		BytesToAcquireAfterTrigger: dl.bytesAfterTrigger,
	}
	if dl.state == StateTriggered || dl.state == StateAcquisitionCompleted {
		tsd.WriteCounterSinceTrigger = dl.encoder.WriteCounter() - dl.writeCounterAtTrigger
	}
	dl.published.Store(tsd)
}

// PublishedData returns the last snapshot published by the sampling
// loop.
func (dl *DataLogger) PublishedData() ThreadSafeData {
	v := dl.published.Load()
	if v == nil {
		return ThreadSafeData{}
	}
	return v.(ThreadSafeData)
}
