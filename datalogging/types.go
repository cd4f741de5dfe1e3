// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"fmt"

	"github.com/scrutiny-go/scrutiny/target"
)

// Operand is one input of a trigger condition.
type Operand interface {
	operand()
}

// Literal is a constant float operand.
type Literal struct {
	Val float32
}

// Var is a typed variable read from target memory.
type Var struct {
	Addr uint64
	Type target.VariableType
}

// VarBit is a bitfield read out of a typed variable.
type VarBit struct {
	Addr      uint64
	Type      target.VariableType
	BitOffset uint8
	BitSize   uint8
}

// RPV is a runtime published value read through the user callback.
type RPV struct {
	ID uint16
}

func (Literal) operand() {}
func (Var) operand()     {}
func (VarBit) operand()  {}
func (RPV) operand()     {}

// Condition enumerates the supported trigger conditions.
type Condition uint8

const (
	Equal Condition = iota
	NotEqual
	LessThan
	LessOrEqualThan
	GreaterThan
	GreaterOrEqualThan
	ChangeMoreThan
)

func (c Condition) String() string {
	switch c {
	case Equal:
		return "eq"
	case NotEqual:
		return "neq"
	case LessThan:
		return "lt"
	case LessOrEqualThan:
		return "let"
	case GreaterThan:
		return "gt"
	case GreaterOrEqualThan:
		return "get"
	case ChangeMoreThan:
		return "cmt"
	default:
		panic(fmt.Errorf("invalid condition value %d", uint8(c)))
	}
}

// operandCount returns the number of operands the condition consumes.
func (c Condition) operandCount() uint8 {
	switch c {
	case Equal, NotEqual, LessThan, LessOrEqualThan, GreaterThan, GreaterOrEqualThan, ChangeMoreThan:
		return 2
	default:
		return 0
	}
}

// TriggerConfig describes the trigger of an acquisition.
type TriggerConfig struct {
	Condition    Condition
	OperandCount uint8
	HoldTimeUS   uint32
	Operands     [MaxOperands]Operand
}

// Loggable is one signal recorded in every sample row.
type Loggable interface {
	loggable()
}

// MemoryItem logs a raw chunk of target memory, in native layout.
type MemoryItem struct {
	Addr uint64
	Size uint8
}

// RPVItem logs a runtime published value, big-endian.
type RPVItem struct {
	ID uint16
}

// TimeItem logs the agent timestamp, big-endian.
type TimeItem struct{}

func (MemoryItem) loggable() {}
func (RPVItem) loggable()    {}
func (TimeItem) loggable()   {}

// Configuration is the static description of an acquisition. It is
// copied into the datalogger on Configure and stays valid until the
// next Configure or reset.
type Configuration struct {
	Items      [MaxSignals]Loggable
	ItemsCount uint8

	// Decimation subsamples the sampling loop: one row is recorded
	// every Decimation ticks.
	Decimation uint16

	// ProbeLocation places the trigger inside the acquisition window:
	// ProbeLocation/255 of the buffer holds pre-trigger samples.
	ProbeLocation uint8

	// TimeoutUS bounds the time between arm and completion. Zero
	// disables the timeout.
	TimeoutUS uint32

	Trigger TriggerConfig
}
