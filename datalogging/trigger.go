// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datalogging // import "github.com/scrutiny-go/scrutiny/datalogging"

import (
	"github.com/scrutiny-go/scrutiny/target"
)

// changeMoreThan is the one stateful condition: operand 0 is the
// observed signal, operand 1 the delta threshold. The first
// evaluation after arm records the baseline and never fires; later
// evaluations fire once the signal has moved by more than the delta
// away from that baseline.
type changeMoreThan struct {
	initialized bool
	baseline    float32
}

func (c *changeMoreThan) reset() {
	c.initialized = false
	c.baseline = 0
}

func (c *changeMoreThan) evaluate(kinds *[MaxOperands]compareKind, vals *[MaxOperands]compareValue) bool {
	signal, ok := asFloat(kinds[0], vals[0])
	if !ok {
		return false
	}

	if !c.initialized {
		c.initialized = true
		c.baseline = signal
		return false
	}

	delta, ok := asFloat(kinds[1], vals[1])
	if !ok {
		return false
	}

	if delta >= 0 {
		return signal > c.baseline+delta
	}
	return signal < c.baseline+delta
}

// triggerController arms, debounces and edge-detects the raw
// condition result. The trigger fires on the first tick at or after
// risingEdge + holdTime, provided the raw condition stayed true the
// whole time.
type triggerController struct {
	armed       bool
	fired       bool
	edgeLatched bool
	risingEdge  uint32

	cmt changeMoreThan
}

func (tc *triggerController) arm() {
	tc.armed = true
	tc.fired = false
	tc.edgeLatched = false
	tc.cmt.reset()
}

func (tc *triggerController) disarm() {
	tc.armed = false
	tc.fired = false
	tc.edgeLatched = false
}

// check evaluates the configured condition and applies the hold-time
// debounce. It reports true once the trigger has fired.
func (tc *triggerController) check(acc *target.Accessor, tb *target.Timebase, cfg *TriggerConfig) bool {
	if !tc.armed {
		return false
	}
	if tc.fired {
		return true
	}

	var (
		kinds [MaxOperands]compareKind
		vals  [MaxOperands]compareValue
	)
	for i := uint8(0); i < cfg.OperandCount; i++ {
		kinds[i], vals[i] = fetchOperand(acc, cfg.Operands[i])
	}

	var raw bool
	switch cfg.Condition {
	case ChangeMoreThan:
		raw = tc.cmt.evaluate(&kinds, &vals)
	default:
		raw = relationalCompare(cfg.Condition, &kinds, &vals)
	}

	if !raw {
		tc.edgeLatched = false
		return false
	}

	if !tc.edgeLatched {
		tc.edgeLatched = true
		tc.risingEdge = tb.Timestamp()
	}

	if tb.Elapsed(tc.risingEdge) >= cfg.HoldTimeUS {
		tc.fired = true
	}
	return tc.fired
}
