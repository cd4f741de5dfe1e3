// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package datalogging implements the on-target software logic
// analyzer: a configurable set of signals is sampled into a ring
// buffer on every tick of a sampling loop, gated by a programmable
// trigger condition, and streamed back to the host once the
// acquisition completes.
package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

// Compile-time limits of the datalogging feature.
const (
	MaxOperands = 2  // operands per trigger condition
	MaxSignals  = 32 // loggable items per configuration
	MaxBlocks   = 16 // memory blocks per configuration
)

// Encoding selects the layout of the samples inside the buffer.
type Encoding uint8

// EncodingRaw stores sample rows back to back with no compression.
const EncodingRaw Encoding = 0
