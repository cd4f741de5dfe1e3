// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scrutiny // import "github.com/scrutiny-go/scrutiny"

import (
	"github.com/go-daq/tdaq/log"
	"github.com/scrutiny-go/scrutiny/loop"
	"github.com/scrutiny-go/scrutiny/target"
)

// Config describes how an agent should be assembled. All buffers are
// caller-provided; the agent allocates nothing on the sampling path.
type Config struct {
	Name  string    // name of the agent, used in log messages
	Level log.Level // verbosity level of the agent

	Memory          target.Memory
	ForbiddenRanges []target.AddressRange // no access at all
	ReadonlyRanges  []target.AddressRange // no writes

	RPVs    []target.RuntimePublishedValue
	ReadRPV target.RPVReadFunc

	RxBuffer []byte // protocol reception buffer
	TxBuffer []byte // protocol emission buffer

	DataloggingBuffer []byte // sample ring buffer

	Loops           []*loop.Handler // sampling loops, producer contexts
	DataloggerOwner int             // index into Loops of the initial owner

	Msg log.MsgStream // optional; derived from Name and Level when nil
}
