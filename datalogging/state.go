// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"fmt"
)

// State describes the current state of the datalogger.
type State uint8

const (
	StateIdle State = iota
	StateConfigured
	StateArmed
	StateTriggered
	StateAcquisitionCompleted
	StateError
)

func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateArmed:
		return "armed"
	case StateTriggered:
		return "triggered"
	case StateAcquisitionCompleted:
		return "acquisition-completed"
	case StateError:
		return "error"
	default:
		panic(fmt.Errorf("invalid state value %d", uint8(st)))
	}
}

// Fault identifies the reason the datalogger latched an error.
type Fault uint8

const (
	FaultNone Fault = iota
	FaultConfigInvalid
	FaultBufferOverflow
	FaultUnexpectedRelease
	FaultUnexpectedClaim
	FaultReadMemory
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultConfigInvalid:
		return "config-invalid"
	case FaultBufferOverflow:
		return "buffer-overflow"
	case FaultUnexpectedRelease:
		return "unexpected-release"
	case FaultUnexpectedClaim:
		return "unexpected-claim"
	case FaultReadMemory:
		return "read-memory-failed"
	default:
		panic(fmt.Errorf("invalid fault value %d", uint8(f)))
	}
}
